package markov

import "fmt"

// DatasetEntry pairs one tokenized message with a positive weight
// multiplier. A weight of n makes the message's transitions count n
// times toward a built model.
type DatasetEntry struct {
	Tokens []Token
	Weight uint32
}

// Dataset is a weighted collection of tokenized messages, the input to
// model building. Datasets are value types: Add and Merge return new
// datasets and never mutate existing entries.
type Dataset struct {
	Entries []DatasetEntry
}

// DatasetFromTokenized wraps every message of ts into a dataset entry
// with the default weight of 1.
func DatasetFromTokenized(ts TokenizedSet) Dataset {
	d := Dataset{Entries: make([]DatasetEntry, len(ts.Messages))}
	for i, msg := range ts.Messages {
		d.Entries[i] = DatasetEntry{Tokens: msg, Weight: 1}
	}
	return d
}

// AddMessages returns a new dataset with ts appended at the given
// weight. Existing entries keep their weights. It fails with
// ErrInvalidWeight if weight is below 1.
func (d Dataset) AddMessages(ts TokenizedSet, weight uint32) (Dataset, error) {
	if weight < 1 {
		return Dataset{}, fmt.Errorf("%w: %d", ErrInvalidWeight, weight)
	}
	entries := make([]DatasetEntry, 0, len(d.Entries)+len(ts.Messages))
	entries = append(entries, d.Entries...)
	for _, msg := range ts.Messages {
		entries = append(entries, DatasetEntry{Tokens: msg, Weight: weight})
	}
	return Dataset{Entries: entries}, nil
}

// Merge returns a new dataset holding the entries of d followed by the
// entries of other, weights preserved. Building a model from the
// merged dataset yields counts identical to summing the counts of
// models built on d and other separately.
func (d Dataset) Merge(other Dataset) Dataset {
	entries := make([]DatasetEntry, 0, len(d.Entries)+len(other.Entries))
	entries = append(entries, d.Entries...)
	entries = append(entries, other.Entries...)
	return Dataset{Entries: entries}
}

// Len returns the number of entries.
func (d Dataset) Len() int {
	return len(d.Entries)
}

// Remap returns a new dataset with every token translated through
// remap, as produced by Dictionary.Merge.
func (d Dataset) Remap(remap map[Token]Token) Dataset {
	out := Dataset{Entries: make([]DatasetEntry, len(d.Entries))}
	for i, entry := range d.Entries {
		tokens := make([]Token, len(entry.Tokens))
		for j, tok := range entry.Tokens {
			if mapped, ok := remap[tok]; ok {
				tokens[j] = mapped
			} else {
				tokens[j] = tok
			}
		}
		out.Entries[i] = DatasetEntry{Tokens: tokens, Weight: entry.Weight}
	}
	return out
}

// Validate checks that every entry has a positive weight and that all
// tokens resolve through dict.
func (d Dataset) Validate(dict *Dictionary) error {
	for i, entry := range d.Entries {
		if entry.Weight < 1 {
			return fmt.Errorf("%w: entry %d has weight %d", ErrInvalidWeight, i, entry.Weight)
		}
		for _, tok := range entry.Tokens {
			if _, ok := dict.Resolve(tok); !ok {
				return fmt.Errorf("%w: entry %d references id %d outside dictionary", ErrUnknownToken, i, tok)
			}
		}
	}
	return nil
}
