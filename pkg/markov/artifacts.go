package markov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/natefinch/atomic"
)

// Artifact is any pipeline value with a JSON representation. Saving an
// artifact and loading it back yields a behaviorally identical value:
// same lookups, same generation output under the same random source.
type Artifact interface {
	Save(w io.Writer) error
}

// SaveFile writes an artifact to path atomically, so a crash mid-write
// never leaves a truncated artifact behind.
func SaveFile(path string, a Artifact) error {
	var buf bytes.Buffer
	if err := a.Save(&buf); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}

func encodeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// exportedDictionary is the serializable representation of a
// Dictionary: the word -> ID mapping, sentinels included.
type exportedDictionary struct {
	Words map[string]Token `json:"words"`
}

// Save writes the dictionary as JSON.
func (d *Dictionary) Save(w io.Writer) error {
	return encodeJSON(w, exportedDictionary{Words: d.wordToken})
}

// LoadDictionary reads a dictionary saved with Save and validates that
// it is a bijection with intact sentinels, failing with
// ErrCorruptArtifact otherwise.
func LoadDictionary(r io.Reader) (*Dictionary, error) {
	var exported exportedDictionary
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("%w: decode dictionary: %v", ErrCorruptArtifact, err)
	}
	return DictionaryFromEntries(exported.Words)
}

// exportedMessages is the serializable representation of a MessageSet.
type exportedMessages struct {
	Messages [][]string `json:"messages"`
}

// Save writes the message set as JSON.
func (ms MessageSet) Save(w io.Writer) error {
	return encodeJSON(w, exportedMessages{Messages: ms.Messages})
}

// LoadMessageSet reads a message set saved with Save.
func LoadMessageSet(r io.Reader) (MessageSet, error) {
	var exported exportedMessages
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return MessageSet{}, fmt.Errorf("%w: decode messages: %v", ErrCorruptArtifact, err)
	}
	return MessageSet{Messages: exported.Messages}, nil
}

// exportedTokenized is the serializable representation of a
// TokenizedSet.
type exportedTokenized struct {
	Messages [][]Token `json:"messages"`
}

// Save writes the tokenized set as JSON.
func (ts TokenizedSet) Save(w io.Writer) error {
	return encodeJSON(w, exportedTokenized{Messages: ts.Messages})
}

// LoadTokenizedSet reads a tokenized set saved with Save. Messages may
// not contain sentinel IDs; those only ever exist inside model
// contexts.
func LoadTokenizedSet(r io.Reader) (TokenizedSet, error) {
	var exported exportedTokenized
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return TokenizedSet{}, fmt.Errorf("%w: decode tokenized messages: %v", ErrCorruptArtifact, err)
	}
	for i, msg := range exported.Messages {
		for _, tok := range msg {
			if tok < firstRegularID {
				return TokenizedSet{}, fmt.Errorf("%w: message %d contains sentinel id %d", ErrCorruptArtifact, i, tok)
			}
		}
	}
	return TokenizedSet{Messages: exported.Messages}, nil
}

// exportedDataset is the serializable representation of a Dataset.
type exportedDataset struct {
	Entries []exportedDatasetEntry `json:"entries"`
}

type exportedDatasetEntry struct {
	Tokens []Token `json:"tokens"`
	Weight uint32  `json:"weight"`
}

// Save writes the dataset as JSON.
func (d Dataset) Save(w io.Writer) error {
	exported := exportedDataset{Entries: make([]exportedDatasetEntry, len(d.Entries))}
	for i, entry := range d.Entries {
		exported.Entries[i] = exportedDatasetEntry{Tokens: entry.Tokens, Weight: entry.Weight}
	}
	return encodeJSON(w, exported)
}

// LoadDataset reads a dataset saved with Save, validating weights.
func LoadDataset(r io.Reader) (Dataset, error) {
	var exported exportedDataset
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return Dataset{}, fmt.Errorf("%w: decode dataset: %v", ErrCorruptArtifact, err)
	}
	d := Dataset{Entries: make([]DatasetEntry, len(exported.Entries))}
	for i, entry := range exported.Entries {
		if entry.Weight < 1 {
			return Dataset{}, fmt.Errorf("%w: entry %d has weight %d", ErrCorruptArtifact, i, entry.Weight)
		}
		for _, tok := range entry.Tokens {
			if tok < firstRegularID {
				return Dataset{}, fmt.Errorf("%w: entry %d contains sentinel id %d", ErrCorruptArtifact, i, tok)
			}
		}
		d.Entries[i] = DatasetEntry{Tokens: entry.Tokens, Weight: entry.Weight}
	}
	return d, nil
}

// ExportedModel is the serializable representation of a built model:
// the context window size plus the full transition table.
type ExportedModel struct {
	Window   int               `json:"window"`
	Contexts []ExportedContext `json:"contexts"`
}

// ExportedContext is one context's transitions within an ExportedModel.
type ExportedContext struct {
	Context     []Token              `json:"context"`
	Transitions []ExportedTransition `json:"transitions"`
}

// ExportedTransition is one next-token count within an ExportedContext.
type ExportedTransition struct {
	Token Token  `json:"token"`
	Count uint64 `json:"count"`
}

// Save writes the model as JSON. Contexts are emitted in a stable
// sorted order so re-saving an unchanged model reproduces the file
// byte for byte.
func (m *Model) Save(w io.Writer) error {
	keys := make([]string, 0, len(m.table))
	for key := range m.table {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	exported := ExportedModel{
		Window:   m.window,
		Contexts: make([]ExportedContext, 0, len(keys)),
	}
	for _, key := range keys {
		dist := m.table[key]
		ec := ExportedContext{
			Context:     dist.ctx,
			Transitions: make([]ExportedTransition, len(dist.entries)),
		}
		for i, e := range dist.entries {
			ec.Transitions[i] = ExportedTransition{Token: e.token, Count: e.count}
		}
		exported.Contexts = append(exported.Contexts, ec)
	}
	return encodeJSON(w, exported)
}

// LoadModel reads a model saved with Save and rebuilds its frozen
// distributions, validating the structure on the way: a negative
// window, contexts longer than the window, zero counts or transitions
// into START all fail with ErrCorruptArtifact. Use Model.Validate to
// additionally check the table against a dictionary.
func LoadModel(r io.Reader) (*Model, error) {
	var exported ExportedModel
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("%w: decode model: %v", ErrCorruptArtifact, err)
	}
	if exported.Window < 0 {
		return nil, fmt.Errorf("%w: negative window %d", ErrCorruptArtifact, exported.Window)
	}

	b := NewModelBuilder(exported.Window)
	for _, ec := range exported.Contexts {
		if len(ec.Context) > exported.Window {
			return nil, fmt.Errorf("%w: context of length %d exceeds window %d", ErrCorruptArtifact, len(ec.Context), exported.Window)
		}
		if len(ec.Transitions) == 0 {
			return nil, fmt.Errorf("%w: context with no transitions", ErrCorruptArtifact)
		}
		for _, tr := range ec.Transitions {
			if tr.Count < 1 {
				return nil, fmt.Errorf("%w: transition with count %d", ErrCorruptArtifact, tr.Count)
			}
			if tr.Token == StartTokenID {
				return nil, fmt.Errorf("%w: transition into the START sentinel", ErrCorruptArtifact)
			}
			b.Add(ec.Context, tr.Token, tr.Count)
		}
	}
	return b.Model(), nil
}

// LoadDictionaryFile, LoadMessageSetFile, LoadTokenizedSetFile,
// LoadDatasetFile and LoadModelFile are file-path conveniences over
// the io.Reader loaders.

func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return LoadDictionary(f)
}

func LoadMessageSetFile(path string) (MessageSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return MessageSet{}, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return LoadMessageSet(f)
}

func LoadTokenizedSetFile(path string) (TokenizedSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return TokenizedSet{}, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return LoadTokenizedSet(f)
}

func LoadDatasetFile(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return LoadDataset(f)
}

func LoadModelFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return LoadModel(f)
}
