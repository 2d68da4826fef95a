package markov

import "testing"

// buildCorpus interns lines into a fresh dictionary and returns it
// along with the tokenized messages.
func buildCorpus(tb testing.TB, lines ...string) (*Dictionary, TokenizedSet) {
	tb.Helper()
	dict := NewDictionary()
	ms := ParseLines(lines, nil)
	if ms.Len() != len(lines) {
		tb.Fatalf("ParseLines() kept %d of %d lines", ms.Len(), len(lines))
	}
	return dict, ms.Tokenize(dict)
}

// buildModel trains a model over lines at weight 1.
func buildModel(tb testing.TB, window int, lines ...string) (*Dictionary, *Model) {
	tb.Helper()
	dict, ts := buildCorpus(tb, lines...)
	dataset, err := Dataset{}.AddMessages(ts, 1)
	if err != nil {
		tb.Fatalf("AddMessages() error = %v", err)
	}
	return dict, Build(dataset, window)
}

// tok resolves a word through the dictionary, failing the test on
// unknown words so fixtures stay honest.
func tok(tb testing.TB, dict *Dictionary, word string) Token {
	tb.Helper()
	id, ok := dict.Lookup(word)
	if !ok {
		tb.Fatalf("word %q is not in the test dictionary", word)
	}
	return id
}
