package markov

import "fmt"

// Token is a compact integer identifier for a word in a Dictionary.
// The zero and one values are reserved for the start and end sentinels.
type Token uint32

const (
	// StartTokenID is the reserved ID for the start-of-message sentinel,
	// used to pad contexts before any real token has been seen.
	StartTokenID Token = 0
	// EndTokenID is the reserved ID for the end-of-message sentinel.
	EndTokenID Token = 1
	// StartTokenText is the reserved text for the start sentinel.
	StartTokenText = "<START>"
	// EndTokenText is the reserved text for the end sentinel.
	EndTokenText = "<END>"

	// firstRegularID is the first ID handed out to a real word.
	firstRegularID Token = 2
)

// Dictionary is a bijective mapping between word strings and Tokens.
// Regular IDs are dense and assigned in first-seen order; an ID is
// never reused once assigned. The zero value is not usable; call
// NewDictionary.
type Dictionary struct {
	wordToken map[string]Token
	tokenWord map[Token]string
	next      Token
}

// NewDictionary returns a Dictionary pre-seeded with the start and end
// sentinels.
func NewDictionary() *Dictionary {
	d := &Dictionary{
		wordToken: make(map[string]Token),
		tokenWord: make(map[Token]string),
		next:      firstRegularID,
	}
	d.wordToken[StartTokenText] = StartTokenID
	d.tokenWord[StartTokenID] = StartTokenText
	d.wordToken[EndTokenText] = EndTokenID
	d.tokenWord[EndTokenID] = EndTokenText
	return d
}

// Intern returns the existing ID for word, or assigns the next unused
// ID and inserts it. It never fails.
func (d *Dictionary) Intern(word string) Token {
	if tok, ok := d.wordToken[word]; ok {
		return tok
	}
	tok := d.next
	d.next++
	d.wordToken[word] = tok
	d.tokenWord[tok] = word
	return tok
}

// Lookup returns the ID for word if it is known.
func (d *Dictionary) Lookup(word string) (Token, bool) {
	tok, ok := d.wordToken[word]
	return tok, ok
}

// Resolve returns the word for tok if it is known.
func (d *Dictionary) Resolve(tok Token) (string, bool) {
	word, ok := d.tokenWord[tok]
	return word, ok
}

// Len returns the number of entries, sentinels included.
func (d *Dictionary) Len() int {
	return len(d.tokenWord)
}

// Clone returns an independent copy of the dictionary.
func (d *Dictionary) Clone() *Dictionary {
	c := &Dictionary{
		wordToken: make(map[string]Token, len(d.wordToken)),
		tokenWord: make(map[Token]string, len(d.tokenWord)),
		next:      d.next,
	}
	for w, t := range d.wordToken {
		c.wordToken[w] = t
		c.tokenWord[t] = w
	}
	return c
}

// Merge unions the vocabularies of d and other into a new dictionary,
// leaving both inputs untouched. It returns the merged dictionary and
// a remap table from other's IDs to the merged IDs. Any TokenizedSet,
// Dataset or Model built against other must have the remap applied
// (see their Remap methods) before it is valid against the merged
// dictionary; skipping that step is the one place ID stability can
// silently break.
func (d *Dictionary) Merge(other *Dictionary) (*Dictionary, map[Token]Token) {
	merged := d.Clone()
	remap := make(map[Token]Token, len(other.tokenWord))
	// Walk other's IDs in ascending order so newly assigned IDs are
	// deterministic regardless of map iteration order.
	for id := Token(0); id < other.next; id++ {
		word, ok := other.tokenWord[id]
		if !ok {
			continue
		}
		remap[id] = merged.Intern(word)
	}
	return merged, remap
}

// ForEach calls fn for every (word, token) pair, sentinels included,
// in ascending ID order.
func (d *Dictionary) ForEach(fn func(word string, tok Token)) {
	for id := Token(0); id < d.next; id++ {
		if word, ok := d.tokenWord[id]; ok {
			fn(word, id)
		}
	}
}

// DictionaryFromEntries reconstructs a dictionary from a word -> ID
// mapping, validating that it forms a bijection with intact sentinels.
// It fails with ErrCorruptArtifact otherwise. This is the validation
// path shared by the JSON and SQLite artifact loaders.
func DictionaryFromEntries(entries map[string]Token) (*Dictionary, error) {
	d := &Dictionary{
		wordToken: make(map[string]Token, len(entries)),
		tokenWord: make(map[Token]string, len(entries)),
		next:      firstRegularID,
	}
	for word, id := range entries {
		if existing, ok := d.tokenWord[id]; ok {
			return nil, fmt.Errorf("%w: id %d maps to both %q and %q", ErrCorruptArtifact, id, existing, word)
		}
		if id < firstRegularID && word != StartTokenText && word != EndTokenText {
			return nil, fmt.Errorf("%w: word %q uses reserved id %d", ErrCorruptArtifact, word, id)
		}
		d.wordToken[word] = id
		d.tokenWord[id] = word
		if id >= d.next {
			d.next = id + 1
		}
	}
	if d.tokenWord[StartTokenID] != StartTokenText || d.tokenWord[EndTokenID] != EndTokenText {
		return nil, fmt.Errorf("%w: dictionary is missing its sentinel tokens", ErrCorruptArtifact)
	}
	return d, nil
}

// word returns the word for tok or an ErrUnknownToken error.
func (d *Dictionary) word(tok Token) (string, error) {
	word, ok := d.tokenWord[tok]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrUnknownToken, tok)
	}
	return word, nil
}
