package markov

import (
	"errors"
	"testing"
)

func TestNewDictionarySentinels(t *testing.T) {
	dict := NewDictionary()
	if dict.Len() != 2 {
		t.Fatalf("new dictionary has %d entries, want 2", dict.Len())
	}
	if word, ok := dict.Resolve(StartTokenID); !ok || word != StartTokenText {
		t.Errorf("Resolve(StartTokenID) = (%q, %v), want (%q, true)", word, ok, StartTokenText)
	}
	if word, ok := dict.Resolve(EndTokenID); !ok || word != EndTokenText {
		t.Errorf("Resolve(EndTokenID) = (%q, %v), want (%q, true)", word, ok, EndTokenText)
	}
}

func TestInternAssignsDenseIDs(t *testing.T) {
	dict := NewDictionary()

	b := dict.Intern("b")
	a := dict.Intern("a")
	if b != 2 || a != 3 {
		t.Fatalf("Intern() assigned (%d, %d), want first-seen order (2, 3)", b, a)
	}
	// Interning again returns the existing ID.
	if again := dict.Intern("b"); again != b {
		t.Errorf("second Intern(\"b\") = %d, want %d", again, b)
	}
	if dict.Len() != 4 {
		t.Errorf("dictionary has %d entries, want 4", dict.Len())
	}
}

func TestLookupUnknownWord(t *testing.T) {
	dict := NewDictionary()
	if _, ok := dict.Lookup("missing"); ok {
		t.Error("Lookup() found a word that was never interned")
	}
	if _, ok := dict.Resolve(99); ok {
		t.Error("Resolve() found an ID that was never assigned")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	dict := NewDictionary()
	dict.Intern("a")

	clone := dict.Clone()
	clone.Intern("b")

	if dict.Len() != 3 {
		t.Errorf("original grew to %d entries after cloning, want 3", dict.Len())
	}
	if clone.Len() != 4 {
		t.Errorf("clone has %d entries, want 4", clone.Len())
	}
	// The clone continues the original's ID sequence.
	if id, _ := clone.Lookup("b"); id != 3 {
		t.Errorf("clone assigned ID %d, want 3", id)
	}
}

func TestMergeRemap(t *testing.T) {
	dictA := NewDictionary()
	dictA.Intern("shared")
	dictA.Intern("only-a")

	dictB := NewDictionary()
	dictB.Intern("only-b")
	dictB.Intern("shared")

	merged, remap := dictA.Merge(dictB)

	if merged.Len() != 5 {
		t.Fatalf("merged dictionary has %d entries, want 5", merged.Len())
	}
	// Inputs stay untouched.
	if dictA.Len() != 4 || dictB.Len() != 4 {
		t.Errorf("Merge() modified its inputs: lens %d, %d", dictA.Len(), dictB.Len())
	}

	// Sentinels map to themselves.
	if remap[StartTokenID] != StartTokenID || remap[EndTokenID] != EndTokenID {
		t.Error("sentinel IDs are not stable across a merge")
	}
	// Shared words collapse onto the base dictionary's ID.
	sharedA, _ := dictA.Lookup("shared")
	sharedB, _ := dictB.Lookup("shared")
	if remap[sharedB] != sharedA {
		t.Errorf("remap[%d] = %d, want %d", sharedB, remap[sharedB], sharedA)
	}
	// Words unique to B get fresh IDs past A's range.
	onlyB, _ := dictB.Lookup("only-b")
	if mapped := remap[onlyB]; mapped < 4 {
		t.Errorf("remap[%d] = %d, want a fresh ID", onlyB, mapped)
	}

	// Remap assignment is deterministic across repeated merges.
	_, remap2 := dictA.Merge(dictB)
	for from, to := range remap {
		if remap2[from] != to {
			t.Fatalf("merge remap is not deterministic: %d -> %d vs %d", from, to, remap2[from])
		}
	}
}

func TestForEachAscending(t *testing.T) {
	dict := NewDictionary()
	dict.Intern("x")
	dict.Intern("y")

	var prev Token
	first := true
	count := 0
	dict.ForEach(func(word string, id Token) {
		if !first && id <= prev {
			t.Errorf("ForEach() visited ID %d after %d", id, prev)
		}
		prev, first = id, false
		count++
	})
	if count != dict.Len() {
		t.Errorf("ForEach() visited %d entries, want %d", count, dict.Len())
	}
}

func TestDictionaryFromEntries(t *testing.T) {
	testCases := []struct {
		name    string
		entries map[string]Token
		wantErr bool
	}{
		{
			name: "valid dictionary",
			entries: map[string]Token{
				StartTokenText: StartTokenID,
				EndTokenText:   EndTokenID,
				"hello":        2,
				"world":        5,
			},
		},
		{
			name: "duplicate ID",
			entries: map[string]Token{
				StartTokenText: StartTokenID,
				EndTokenText:   EndTokenID,
				"a":            2,
				"b":            2,
			},
			wantErr: true,
		},
		{
			name: "regular word on reserved ID",
			entries: map[string]Token{
				"hello":      StartTokenID,
				EndTokenText: EndTokenID,
			},
			wantErr: true,
		},
		{
			name: "missing sentinels",
			entries: map[string]Token{
				"a": 2,
				"b": 3,
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dict, err := DictionaryFromEntries(tc.entries)
			if tc.wantErr {
				if !errors.Is(err, ErrCorruptArtifact) {
					t.Fatalf("DictionaryFromEntries() error = %v, want ErrCorruptArtifact", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DictionaryFromEntries() error = %v", err)
			}
			if dict.Len() != len(tc.entries) {
				t.Errorf("dictionary has %d entries, want %d", dict.Len(), len(tc.entries))
			}
			// Sparse IDs are preserved and the sequence continues past
			// the highest one.
			if next := dict.Intern("fresh"); next != 6 {
				t.Errorf("Intern() after load assigned %d, want 6", next)
			}
		})
	}
}
