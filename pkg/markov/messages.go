package markov

import "fmt"

// MessageSet holds ordered word sequences, one per input message,
// before dictionary interning. Message order is irrelevant to model
// construction but is preserved so artifacts stay reproducible.
type MessageSet struct {
	Messages [][]string
}

// ParseLines turns raw input lines into a MessageSet using the given
// normalizer (nil means NewDefaultNormalizer()). Each line becomes one
// message; lines that normalize to nothing are dropped.
func ParseLines(lines []string, norm Normalizer) MessageSet {
	if norm == nil {
		norm = NewDefaultNormalizer()
	}
	ms := MessageSet{Messages: make([][]string, 0, len(lines))}
	for _, line := range lines {
		words := norm.Normalize(line)
		if len(words) > 0 {
			ms.Messages = append(ms.Messages, words)
		}
	}
	return ms
}

// Merge returns a new MessageSet with other's messages appended after
// this set's messages. Neither input is modified.
func (ms MessageSet) Merge(other MessageSet) MessageSet {
	merged := make([][]string, 0, len(ms.Messages)+len(other.Messages))
	merged = append(merged, ms.Messages...)
	merged = append(merged, other.Messages...)
	return MessageSet{Messages: merged}
}

// Len returns the number of messages.
func (ms MessageSet) Len() int {
	return len(ms.Messages)
}

// Tokenize maps every word through dict.Intern, extending the
// dictionary with unseen words, and returns the tokenized messages in
// the same order.
func (ms MessageSet) Tokenize(dict *Dictionary) TokenizedSet {
	ts := TokenizedSet{Messages: make([][]Token, len(ms.Messages))}
	for i, msg := range ms.Messages {
		tokens := make([]Token, len(msg))
		for j, word := range msg {
			tokens[j] = dict.Intern(word)
		}
		ts.Messages[i] = tokens
	}
	return ts
}

// TokenizedSet holds ordered token sequences, one per message.
type TokenizedSet struct {
	Messages [][]Token
}

// Merge returns a new TokenizedSet with other's messages appended
// after this set's messages.
func (ts TokenizedSet) Merge(other TokenizedSet) TokenizedSet {
	merged := make([][]Token, 0, len(ts.Messages)+len(other.Messages))
	merged = append(merged, ts.Messages...)
	merged = append(merged, other.Messages...)
	return TokenizedSet{Messages: merged}
}

// Len returns the number of messages.
func (ts TokenizedSet) Len() int {
	return len(ts.Messages)
}

// Validate checks that every token resolves through dict. A failure
// means the set was built against a different dictionary and the remap
// from a Merge was not applied.
func (ts TokenizedSet) Validate(dict *Dictionary) error {
	for i, msg := range ts.Messages {
		for _, tok := range msg {
			if _, ok := dict.Resolve(tok); !ok {
				return fmt.Errorf("%w: message %d references id %d outside dictionary", ErrUnknownToken, i, tok)
			}
		}
	}
	return nil
}

// Detokenize resolves every token back to its word through dict,
// reproducing the normalized word sequences exactly. It fails with
// ErrUnknownToken if a token is outside the dictionary.
func (ts TokenizedSet) Detokenize(dict *Dictionary) (MessageSet, error) {
	ms := MessageSet{Messages: make([][]string, len(ts.Messages))}
	for i, msg := range ts.Messages {
		words := make([]string, len(msg))
		for j, tok := range msg {
			word, err := dict.word(tok)
			if err != nil {
				return MessageSet{}, fmt.Errorf("detokenize message %d: %w", i, err)
			}
			words[j] = word
		}
		ms.Messages[i] = words
	}
	return ms, nil
}

// Remap returns a new TokenizedSet with every token translated through
// remap, as produced by Dictionary.Merge. Tokens absent from the remap
// table are kept as-is, which covers the identity remap of the
// receiver dictionary's own IDs.
func (ts TokenizedSet) Remap(remap map[Token]Token) TokenizedSet {
	out := TokenizedSet{Messages: make([][]Token, len(ts.Messages))}
	for i, msg := range ts.Messages {
		tokens := make([]Token, len(msg))
		for j, tok := range msg {
			if mapped, ok := remap[tok]; ok {
				tokens[j] = mapped
			} else {
				tokens[j] = tok
			}
		}
		out.Messages[i] = tokens
	}
	return out
}
