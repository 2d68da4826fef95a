package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/textchain/textchain/pkg/markov"
)

// setupTestStore creates a new SQLite database and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestStore(t *testing.T) (context.Context, *sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)

	return context.Background(), db, s
}

// buildTestModel trains a small window-1 model over two messages that
// share a prefix, along with the dictionary and dataset behind it.
func buildTestModel(t *testing.T) (*markov.Dictionary, markov.Dataset, *markov.Model) {
	t.Helper()
	dict := markov.NewDictionary()
	ms := markov.ParseLines([]string{"a b c", "a b d"}, nil)
	ts := ms.Tokenize(dict)
	dataset, err := markov.Dataset{}.AddMessages(ts, 1)
	if err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	return dict, dataset, markov.Build(dataset, 1)
}

func TestSetupSchemaIdempotent(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("first SetupSchema() error = %v", err)
	}
	if err := SetupSchema(db); err != nil {
		t.Fatalf("second SetupSchema() error = %v", err)
	}
}

func TestDictionaryRoundTrip(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	dict, _, _ := buildTestModel(t)

	if err := s.SaveDictionary(ctx, "dict", dict); err != nil {
		t.Fatalf("SaveDictionary() error = %v", err)
	}
	loaded, err := s.LoadDictionary(ctx, "dict")
	if err != nil {
		t.Fatalf("LoadDictionary() error = %v", err)
	}

	if loaded.Len() != dict.Len() {
		t.Fatalf("loaded dictionary has %d entries, want %d", loaded.Len(), dict.Len())
	}
	dict.ForEach(func(word string, tok markov.Token) {
		got, ok := loaded.Lookup(word)
		if !ok || got != tok {
			t.Errorf("Lookup(%q) = (%d, %v), want (%d, true)", word, got, ok, tok)
		}
	})
}

func TestDictionaryReplaceOnSave(t *testing.T) {
	ctx, _, s := setupTestStore(t)

	first := markov.NewDictionary()
	first.Intern("alpha")
	if err := s.SaveDictionary(ctx, "dict", first); err != nil {
		t.Fatalf("SaveDictionary() error = %v", err)
	}

	second := markov.NewDictionary()
	second.Intern("beta")
	second.Intern("gamma")
	if err := s.SaveDictionary(ctx, "dict", second); err != nil {
		t.Fatalf("second SaveDictionary() error = %v", err)
	}

	loaded, err := s.LoadDictionary(ctx, "dict")
	if err != nil {
		t.Fatalf("LoadDictionary() error = %v", err)
	}
	if loaded.Len() != second.Len() {
		t.Fatalf("loaded dictionary has %d entries, want %d", loaded.Len(), second.Len())
	}
	if _, ok := loaded.Lookup("alpha"); ok {
		t.Error("replaced dictionary still contains the old word")
	}
}

func TestLoadDictionaryMissing(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	if _, err := s.LoadDictionary(ctx, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("LoadDictionary() error = %v, want sql.ErrNoRows", err)
	}
}

func TestDatasetRoundTrip(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	_, dataset, _ := buildTestModel(t)

	if err := s.SaveDataset(ctx, "data", dataset); err != nil {
		t.Fatalf("SaveDataset() error = %v", err)
	}
	loaded, err := s.LoadDataset(ctx, "data")
	if err != nil {
		t.Fatalf("LoadDataset() error = %v", err)
	}

	if loaded.Len() != dataset.Len() {
		t.Fatalf("loaded dataset has %d entries, want %d", loaded.Len(), dataset.Len())
	}
	for i, entry := range loaded.Entries {
		want := dataset.Entries[i]
		if entry.Weight != want.Weight {
			t.Errorf("entry %d weight = %d, want %d", i, entry.Weight, want.Weight)
		}
		if len(entry.Tokens) != len(want.Tokens) {
			t.Fatalf("entry %d has %d tokens, want %d", i, len(entry.Tokens), len(want.Tokens))
		}
		for j, tok := range entry.Tokens {
			if tok != want.Tokens[j] {
				t.Errorf("entry %d token %d = %d, want %d", i, j, tok, want.Tokens[j])
			}
		}
	}
}

func TestModelRoundTrip(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	_, _, model := buildTestModel(t)

	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	loaded, err := s.LoadModel(ctx, "model")
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}

	if loaded.Window() != model.Window() {
		t.Fatalf("loaded window = %d, want %d", loaded.Window(), model.Window())
	}
	if loaded.Contexts() != model.Contexts() {
		t.Fatalf("loaded model has %d contexts, want %d", loaded.Contexts(), model.Contexts())
	}
	model.ForEachTransition(func(context []markov.Token, next markov.Token, count uint64) {
		if got := loaded.Count(context, next); got != count {
			t.Errorf("Count(%v, %d) = %d, want %d", context, next, got, count)
		}
	})
}

// Rows edited behind the store's back must fail the same structural
// validation as the JSON loaders instead of producing a broken model.
func TestLoadModelRejectsStartTransition(t *testing.T) {
	ctx, db, s := setupTestStore(t)
	_, _, model := buildTestModel(t)

	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO chain_transitions (model_id, context, next_token, count) VALUES (1, ?, ?, 5)`,
		"2", int64(markov.StartTokenID))
	if err != nil {
		t.Fatalf("failed to tamper with transitions: %v", err)
	}

	if _, err := s.LoadModel(ctx, "model"); !errors.Is(err, markov.ErrCorruptArtifact) {
		t.Fatalf("LoadModel() error = %v, want ErrCorruptArtifact", err)
	}
}

func TestLoadModelRejectsZeroCount(t *testing.T) {
	ctx, db, s := setupTestStore(t)
	_, _, model := buildTestModel(t)

	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE chain_transitions SET count = 0 WHERE model_id = 1`)
	if err != nil {
		t.Fatalf("failed to tamper with transitions: %v", err)
	}

	if _, err := s.LoadModel(ctx, "model"); !errors.Is(err, markov.ErrCorruptArtifact) {
		t.Fatalf("LoadModel() error = %v, want ErrCorruptArtifact", err)
	}
}

func TestLoadDatasetRejectsSentinelTokens(t *testing.T) {
	ctx, db, s := setupTestStore(t)
	_, dataset, _ := buildTestModel(t)

	if err := s.SaveDataset(ctx, "data", dataset); err != nil {
		t.Fatalf("SaveDataset() error = %v", err)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE chain_entries SET tokens = ? WHERE dataset_id = 1 AND entry_seq = 0`,
		"2 0 3")
	if err != nil {
		t.Fatalf("failed to tamper with entries: %v", err)
	}

	if _, err := s.LoadDataset(ctx, "data"); !errors.Is(err, markov.ErrCorruptArtifact) {
		t.Fatalf("LoadDataset() error = %v, want ErrCorruptArtifact", err)
	}
}

func TestGetModelInfos(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	_, _, model := buildTestModel(t)

	if err := s.SaveModel(ctx, "first", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	if err := s.SaveModel(ctx, "second", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}

	infos, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("GetModelInfos() returned %d models, want 2", len(infos))
	}
	info, ok := infos["first"]
	if !ok {
		t.Fatal("model 'first' missing from infos")
	}
	if info.Window != model.Window() {
		t.Errorf("info.Window = %d, want %d", info.Window, model.Window())
	}
}

func TestDeleteModel(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	_, _, model := buildTestModel(t)

	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	infos, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos() error = %v", err)
	}

	if err := s.DeleteModel(ctx, infos["model"]); err != nil {
		t.Fatalf("DeleteModel() error = %v", err)
	}
	if _, err := s.LoadModel(ctx, "model"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("LoadModel() after delete error = %v, want sql.ErrNoRows", err)
	}
}

func TestPruneModel(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	dict := markov.NewDictionary()
	// "a b" twice and "a c" once: pruning at 1 keeps only the repeated
	// transitions.
	ms := markov.ParseLines([]string{"a b", "a b", "a c"}, nil)
	dataset, err := markov.Dataset{}.AddMessages(ms.Tokenize(dict), 1)
	if err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	model := markov.Build(dataset, 1)
	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}
	infos, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos() error = %v", err)
	}

	if err := s.PruneModel(ctx, infos["model"], 1); err != nil {
		t.Fatalf("PruneModel() error = %v", err)
	}
	pruned, err := s.LoadModel(ctx, "model")
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}

	remaining := 0
	pruned.ForEachTransition(func(context []markov.Token, next markov.Token, count uint64) {
		remaining++
		if count <= 1 {
			t.Errorf("transition (%v -> %d) with count %d survived pruning", context, next, count)
		}
	})
	if remaining == 0 {
		t.Fatal("pruning removed every transition")
	}
}

func TestGetStats(t *testing.T) {
	ctx, _, s := setupTestStore(t)
	dict, dataset, model := buildTestModel(t)

	if err := s.SaveDictionary(ctx, "dict", dict); err != nil {
		t.Fatalf("SaveDictionary() error = %v", err)
	}
	if err := s.SaveDataset(ctx, "data", dataset); err != nil {
		t.Fatalf("SaveDataset() error = %v", err)
	}
	if err := s.SaveModel(ctx, "model", model); err != nil {
		t.Fatalf("SaveModel() error = %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Dictionaries != 1 {
		t.Errorf("stats.Dictionaries = %d, want 1", stats.Dictionaries)
	}
	if stats.Datasets != 1 {
		t.Errorf("stats.Datasets = %d, want 1", stats.Datasets)
	}
	if len(stats.Models) != 1 {
		t.Fatalf("stats has %d models, want 1", len(stats.Models))
	}
	rowStats := stats.Stats[stats.Models[0].Id]
	if rowStats.Transitions == 0 {
		t.Error("stats reports zero transitions for a trained model")
	}
	if rowStats.TotalCount == 0 {
		t.Error("stats reports zero total count for a trained model")
	}
}

func TestTokenEncoding(t *testing.T) {
	cases := []struct {
		tokens []markov.Token
		text   string
	}{
		{nil, ""},
		{[]markov.Token{markov.StartTokenID}, "0"},
		{[]markov.Token{2, 3, 4}, "2 3 4"},
	}
	for _, tc := range cases {
		if got := encodeTokens(tc.tokens); got != tc.text {
			t.Errorf("encodeTokens(%v) = %q, want %q", tc.tokens, got, tc.text)
		}
		back, err := parseTokens(tc.text)
		if err != nil {
			t.Fatalf("parseTokens(%q) error = %v", tc.text, err)
		}
		if len(back) != len(tc.tokens) {
			t.Fatalf("parseTokens(%q) returned %d tokens, want %d", tc.text, len(back), len(tc.tokens))
		}
		for i, tok := range back {
			if tok != tc.tokens[i] {
				t.Errorf("parseTokens(%q)[%d] = %d, want %d", tc.text, i, tok, tc.tokens[i])
			}
		}
	}

	if _, err := parseTokens("2 x 4"); !errors.Is(err, markov.ErrCorruptArtifact) {
		t.Fatalf("parseTokens() error = %v, want ErrCorruptArtifact", err)
	}
}
