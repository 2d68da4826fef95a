package markov

import (
	"errors"
	"testing"
)

func TestAddMessagesRejectsZeroWeight(t *testing.T) {
	_, ts := buildCorpus(t, "a b")
	if _, err := (Dataset{}).AddMessages(ts, 0); !errors.Is(err, ErrInvalidWeight) {
		t.Fatalf("AddMessages(0) error = %v, want ErrInvalidWeight", err)
	}
}

func TestAddMessagesPreservesExistingWeights(t *testing.T) {
	_, ts := buildCorpus(t, "a b")

	dataset, err := Dataset{}.AddMessages(ts, 3)
	if err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	dataset, err = dataset.AddMessages(ts, 7)
	if err != nil {
		t.Fatalf("second AddMessages() error = %v", err)
	}

	if dataset.Len() != 2 {
		t.Fatalf("dataset has %d entries, want 2", dataset.Len())
	}
	if dataset.Entries[0].Weight != 3 || dataset.Entries[1].Weight != 7 {
		t.Errorf("weights = (%d, %d), want (3, 7)",
			dataset.Entries[0].Weight, dataset.Entries[1].Weight)
	}
}

func TestDatasetMergeIsConcatenation(t *testing.T) {
	_, ts := buildCorpus(t, "a b", "c d")
	a := DatasetFromTokenized(TokenizedSet{Messages: ts.Messages[:1]})
	b := DatasetFromTokenized(TokenizedSet{Messages: ts.Messages[1:]})

	merged := a.Merge(b)
	if merged.Len() != 2 {
		t.Fatalf("merged dataset has %d entries, want 2", merged.Len())
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Error("Merge() modified its inputs")
	}
}

// A message at weight n and the same message repeated n times at
// weight 1 must build models with identical counts.
func TestWeightedEquivalentToRepeated(t *testing.T) {
	dict, ts := buildCorpus(t, "a b c")

	weighted, err := Dataset{}.AddMessages(ts, 10)
	if err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}

	var repeated Dataset
	for i := 0; i < 10; i++ {
		repeated, err = repeated.AddMessages(ts, 1)
		if err != nil {
			t.Fatalf("AddMessages() error = %v", err)
		}
	}

	modelW := Build(weighted, 2)
	modelR := Build(repeated, 2)

	if modelW.Contexts() != modelR.Contexts() {
		t.Fatalf("context counts differ: %d vs %d", modelW.Contexts(), modelR.Contexts())
	}
	mismatches := 0
	modelW.ForEachTransition(func(context []Token, next Token, count uint64) {
		if got := modelR.Count(context, next); got != count {
			t.Errorf("Count(%v, %d) = %d in repeated model, want %d", context, next, got, count)
			mismatches++
		}
	})
	if mismatches == 0 {
		// Spot-check one known transition for the expected magnitude.
		a, b := tok(t, dict, "a"), tok(t, dict, "b")
		if got := modelW.Count([]Token{a}, b); got != 10 {
			t.Errorf("Count([a], b) = %d, want 10", got)
		}
	}
}

func TestDatasetRemapAndValidate(t *testing.T) {
	dict, ts := buildCorpus(t, "x y")
	dataset := DatasetFromTokenized(ts)

	if err := dataset.Validate(dict); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// Remapping onto IDs outside the dictionary must fail validation.
	x := tok(t, dict, "x")
	bad := dataset.Remap(map[Token]Token{x: 99})
	if err := bad.Validate(dict); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("Validate() after bad remap error = %v, want ErrUnknownToken", err)
	}

	// Zero-weight entries are caught even when constructed directly.
	broken := Dataset{Entries: []DatasetEntry{{Tokens: []Token{x}, Weight: 0}}}
	if err := broken.Validate(dict); !errors.Is(err, ErrInvalidWeight) {
		t.Fatalf("Validate() error = %v, want ErrInvalidWeight", err)
	}
}
