/*
Package store persists markov pipeline artifacts (dictionaries,
datasets and models) in a SQLite database, keyed by name. It works
with both the cgo (mattn/go-sqlite3) and pure-Go (modernc.org/sqlite)
drivers; the caller opens the *sql.DB with whichever driver fits the
build.

Saving an artifact under an existing name replaces it. Loads
reconstruct the in-memory values through the same validation paths as
the JSON artifact loaders, so a tampered database surfaces as
markov.ErrCorruptArtifact rather than as silently wrong counts.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/textchain/textchain/pkg/markov"
)

// SetupSchema initializes the artifact tables in the provided
// database. It is idempotent and safe to call on an already
// initialized database.
func SetupSchema(db *sql.DB) error {
	const (
		schemaDictionaries = `
CREATE TABLE IF NOT EXISTS chain_dictionaries (
    dict_id INTEGER PRIMARY KEY,
    dict_name TEXT NOT NULL UNIQUE
);
`
		schemaWords = `
CREATE TABLE IF NOT EXISTS chain_words (
    dict_id INTEGER NOT NULL,
    token_id INTEGER NOT NULL,
    word TEXT NOT NULL,
    PRIMARY KEY (dict_id, token_id)
);
`
		schemaDatasets = `
CREATE TABLE IF NOT EXISTS chain_datasets (
    dataset_id INTEGER PRIMARY KEY,
    dataset_name TEXT NOT NULL UNIQUE
);
`
		schemaEntries = `
CREATE TABLE IF NOT EXISTS chain_entries (
    dataset_id INTEGER NOT NULL,
    entry_seq INTEGER NOT NULL,
    tokens TEXT NOT NULL,
    weight INTEGER NOT NULL,
    PRIMARY KEY (dataset_id, entry_seq)
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS chain_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_window INTEGER NOT NULL
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS chain_transitions (
    model_id INTEGER NOT NULL,
    context TEXT NOT NULL,
    next_token INTEGER NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (model_id, context, next_token)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{
		schemaDictionaries, schemaWords, schemaDatasets,
		schemaEntries, schemaModels, schemaTransitions,
	} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// ModelInfo holds the metadata of a stored model.
type ModelInfo struct {
	Id     int
	Name   string
	Window int
}

// Store is the entry point for artifact persistence. It holds the
// database connection and prepared SQL statements.
type Store struct {
	db                *sql.DB
	stmtGetDictID     *sql.Stmt
	stmtInsertDict    *sql.Stmt
	stmtInsertWord    *sql.Stmt
	stmtGetWords      *sql.Stmt
	stmtGetDatasetID  *sql.Stmt
	stmtInsertDataset *sql.Stmt
	stmtInsertEntry   *sql.Stmt
	stmtGetEntries    *sql.Stmt
	stmtGetModelInfo  *sql.Stmt
	stmtGetModels     *sql.Stmt
	stmtInsertModel   *sql.Stmt
	stmtInsertLink    *sql.Stmt
	stmtGetLinks      *sql.Stmt
	stmtPruneModel    *sql.Stmt
	stmtModelLinks    *sql.Stmt
	stmtModelTotal    *sql.Stmt
	stmtCountDicts    *sql.Stmt
	stmtCountDatasets *sql.Stmt
	logger            *slog.Logger
}

// New creates a Store over an initialized database (see SetupSchema),
// pre-compiling all necessary SQL statements.
func New(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	prepared := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.stmtGetDictID, `SELECT dict_id FROM chain_dictionaries WHERE dict_name = ?;`},
		{&s.stmtInsertDict, `INSERT INTO chain_dictionaries (dict_name) VALUES (?);`},
		{&s.stmtInsertWord, `INSERT INTO chain_words (dict_id, token_id, word) VALUES (?, ?, ?);`},
		{&s.stmtGetWords, `SELECT token_id, word FROM chain_words WHERE dict_id = ?;`},
		{&s.stmtGetDatasetID, `SELECT dataset_id FROM chain_datasets WHERE dataset_name = ?;`},
		{&s.stmtInsertDataset, `INSERT INTO chain_datasets (dataset_name) VALUES (?);`},
		{&s.stmtInsertEntry, `INSERT INTO chain_entries (dataset_id, entry_seq, tokens, weight) VALUES (?, ?, ?, ?);`},
		{&s.stmtGetEntries, `SELECT tokens, weight FROM chain_entries WHERE dataset_id = ? ORDER BY entry_seq;`},
		{&s.stmtGetModelInfo, `SELECT model_id, model_window FROM chain_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, model_window FROM chain_models;`},
		{&s.stmtInsertModel, `INSERT INTO chain_models (model_name, model_window) VALUES (?, ?);`},
		{&s.stmtInsertLink, `INSERT INTO chain_transitions (model_id, context, next_token, count) VALUES (?, ?, ?, ?);`},
		{&s.stmtGetLinks, `SELECT context, next_token, count FROM chain_transitions WHERE model_id = ?;`},
		{&s.stmtPruneModel, `DELETE FROM chain_transitions WHERE model_id = ? AND count <= ?;`},
		{&s.stmtModelLinks, `SELECT COUNT(*) FROM chain_transitions WHERE model_id = ?;`},
		{&s.stmtModelTotal, `SELECT coalesce(SUM(count), 0) FROM chain_transitions WHERE model_id = ?;`},
		{&s.stmtCountDicts, `SELECT COUNT(*) FROM chain_dictionaries;`},
		{&s.stmtCountDatasets, `SELECT COUNT(*) FROM chain_datasets;`},
	}
	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			return nil, err
		}
		*p.stmt = stmt
	}
	return s, nil
}

// Close releases all prepared SQL statements held by the Store. It
// does not close the underlying database.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetDictID, s.stmtInsertDict, s.stmtInsertWord, s.stmtGetWords,
		s.stmtGetDatasetID, s.stmtInsertDataset, s.stmtInsertEntry, s.stmtGetEntries,
		s.stmtGetModelInfo, s.stmtGetModels, s.stmtInsertModel, s.stmtInsertLink,
		s.stmtGetLinks, s.stmtPruneModel, s.stmtModelLinks, s.stmtModelTotal,
		s.stmtCountDicts, s.stmtCountDatasets,
	} {
		_ = stmt.Close()
	}
}

// SetLogger sets the logger for the Store. By default, all logs are
// discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// encodeTokens joins token IDs into the space-separated decimal form
// used by the context and tokens columns. The empty sequence encodes
// as the empty string.
func encodeTokens(tokens []markov.Token) string {
	var buf []byte
	for i, tok := range tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(tok), 10)
	}
	return string(buf)
}

// parseTokens is the inverse of encodeTokens.
func parseTokens(text string) ([]markov.Token, error) {
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, " ")
	tokens := make([]markov.Token, len(parts))
	for i, part := range parts {
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad token id %q", markov.ErrCorruptArtifact, part)
		}
		tokens[i] = markov.Token(id)
	}
	return tokens, nil
}

// deleteByID removes all rows keyed by id from the named table/column
// pairs, used to clear an artifact before replacing it.
func deleteByID(ctx context.Context, tx *sql.Tx, id int64, pairs ...[2]string) error {
	for _, pair := range pairs {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", pair[0], pair[1])
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	return nil
}

// SaveDictionary stores dict under name, replacing any dictionary
// previously saved under that name. The operation is transactional.
func (s *Store) SaveDictionary(ctx context.Context, name string, dict *markov.Dictionary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var oldID int64
	err = tx.StmtContext(ctx, s.stmtGetDictID).QueryRowContext(ctx, name).Scan(&oldID)
	if err == nil {
		if err = deleteByID(ctx, tx, oldID, [2]string{"chain_words", "dict_id"}, [2]string{"chain_dictionaries", "dict_id"}); err != nil {
			return fmt.Errorf("failed to replace dictionary '%s': %w", name, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := tx.StmtContext(ctx, s.stmtInsertDict).ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to insert dictionary '%s': %w", name, err)
	}
	dictID, _ := res.LastInsertId()

	stmtInsertWord := tx.StmtContext(ctx, s.stmtInsertWord)
	var insertErr error
	dict.ForEach(func(word string, tok markov.Token) {
		if insertErr != nil {
			return
		}
		_, insertErr = stmtInsertWord.ExecContext(ctx, dictID, int64(tok), word)
	})
	if insertErr != nil {
		return fmt.Errorf("failed to insert dictionary words: %w", insertErr)
	}

	s.logger.InfoContext(ctx, "Dictionary saved",
		slog.String("dict_name", name),
		slog.Int("entries", dict.Len()),
	)
	return tx.Commit()
}

// LoadDictionary loads the dictionary stored under name. It returns
// sql.ErrNoRows when no dictionary with that name exists.
func (s *Store) LoadDictionary(ctx context.Context, name string) (*markov.Dictionary, error) {
	var dictID int64
	if err := s.stmtGetDictID.QueryRowContext(ctx, name).Scan(&dictID); err != nil {
		return nil, err
	}

	rows, err := s.stmtGetWords.QueryContext(ctx, dictID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	entries := make(map[string]markov.Token)
	for rows.Next() {
		var id int64
		var word string
		if err = rows.Scan(&id, &word); err != nil {
			return nil, err
		}
		entries[word] = markov.Token(id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return markov.DictionaryFromEntries(entries)
}

// SaveDataset stores dataset under name, replacing any dataset
// previously saved under that name.
func (s *Store) SaveDataset(ctx context.Context, name string, dataset markov.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var oldID int64
	err = tx.StmtContext(ctx, s.stmtGetDatasetID).QueryRowContext(ctx, name).Scan(&oldID)
	if err == nil {
		if err = deleteByID(ctx, tx, oldID, [2]string{"chain_entries", "dataset_id"}, [2]string{"chain_datasets", "dataset_id"}); err != nil {
			return fmt.Errorf("failed to replace dataset '%s': %w", name, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := tx.StmtContext(ctx, s.stmtInsertDataset).ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to insert dataset '%s': %w", name, err)
	}
	datasetID, _ := res.LastInsertId()

	stmtInsertEntry := tx.StmtContext(ctx, s.stmtInsertEntry)
	for seq, entry := range dataset.Entries {
		if _, err = stmtInsertEntry.ExecContext(ctx, datasetID, seq, encodeTokens(entry.Tokens), entry.Weight); err != nil {
			return fmt.Errorf("failed to insert dataset entry %d: %w", seq, err)
		}
	}

	s.logger.InfoContext(ctx, "Dataset saved",
		slog.String("dataset_name", name),
		slog.Int("entries", dataset.Len()),
	)
	return tx.Commit()
}

// LoadDataset loads the dataset stored under name. It returns
// sql.ErrNoRows when no dataset with that name exists.
func (s *Store) LoadDataset(ctx context.Context, name string) (markov.Dataset, error) {
	var datasetID int64
	if err := s.stmtGetDatasetID.QueryRowContext(ctx, name).Scan(&datasetID); err != nil {
		return markov.Dataset{}, err
	}

	rows, err := s.stmtGetEntries.QueryContext(ctx, datasetID)
	if err != nil {
		return markov.Dataset{}, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var dataset markov.Dataset
	for rows.Next() {
		var text string
		var weight uint32
		if err = rows.Scan(&text, &weight); err != nil {
			return markov.Dataset{}, err
		}
		tokens, err := parseTokens(text)
		if err != nil {
			return markov.Dataset{}, err
		}
		for _, tok := range tokens {
			if tok == markov.StartTokenID || tok == markov.EndTokenID {
				return markov.Dataset{}, fmt.Errorf("%w: dataset entry contains sentinel id %d", markov.ErrCorruptArtifact, tok)
			}
		}
		if weight < 1 {
			return markov.Dataset{}, fmt.Errorf("%w: dataset entry with weight %d", markov.ErrCorruptArtifact, weight)
		}
		dataset.Entries = append(dataset.Entries, markov.DatasetEntry{Tokens: tokens, Weight: weight})
	}
	if err = rows.Err(); err != nil {
		return markov.Dataset{}, err
	}
	return dataset, nil
}

// SaveModel stores model under name, replacing any model previously
// saved under that name.
func (s *Store) SaveModel(ctx context.Context, name string, model *markov.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var oldID int64
	var oldWindow int
	err = tx.StmtContext(ctx, s.stmtGetModelInfo).QueryRowContext(ctx, name).Scan(&oldID, &oldWindow)
	if err == nil {
		if err = deleteByID(ctx, tx, oldID, [2]string{"chain_transitions", "model_id"}, [2]string{"chain_models", "model_id"}); err != nil {
			return fmt.Errorf("failed to replace model '%s': %w", name, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := tx.StmtContext(ctx, s.stmtInsertModel).ExecContext(ctx, name, model.Window())
	if err != nil {
		return fmt.Errorf("failed to insert model '%s': %w", name, err)
	}
	modelID, _ := res.LastInsertId()

	stmtInsertLink := tx.StmtContext(ctx, s.stmtInsertLink)
	var insertErr error
	links := 0
	model.ForEachTransition(func(context []markov.Token, next markov.Token, count uint64) {
		if insertErr != nil {
			return
		}
		_, insertErr = stmtInsertLink.ExecContext(ctx, modelID, encodeTokens(context), int64(next), int64(count))
		links++
	})
	if insertErr != nil {
		return fmt.Errorf("failed to insert model transitions: %w", insertErr)
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", name),
		slog.Int("window", model.Window()),
		slog.Int("transitions", links),
	)
	return tx.Commit()
}

// LoadModel loads the model stored under name, rebuilding its frozen
// distributions. It returns sql.ErrNoRows when no model with that name
// exists and markov.ErrCorruptArtifact when the stored table fails
// validation.
func (s *Store) LoadModel(ctx context.Context, name string) (*markov.Model, error) {
	var modelID int64
	var window int
	if err := s.stmtGetModelInfo.QueryRowContext(ctx, name).Scan(&modelID, &window); err != nil {
		return nil, err
	}

	rows, err := s.stmtGetLinks.QueryContext(ctx, modelID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	builder := markov.NewModelBuilder(window)
	for rows.Next() {
		var text string
		var next int64
		var count int64
		if err = rows.Scan(&text, &next, &count); err != nil {
			return nil, err
		}
		tokens, err := parseTokens(text)
		if err != nil {
			return nil, err
		}
		if len(tokens) > window {
			return nil, fmt.Errorf("%w: context of length %d exceeds window %d", markov.ErrCorruptArtifact, len(tokens), window)
		}
		if count < 1 {
			return nil, fmt.Errorf("%w: transition with count %d", markov.ErrCorruptArtifact, count)
		}
		if next < 0 || next > math.MaxUint32 {
			return nil, fmt.Errorf("%w: bad token id %d", markov.ErrCorruptArtifact, next)
		}
		if markov.Token(next) == markov.StartTokenID {
			return nil, fmt.Errorf("%w: transition into the START sentinel", markov.ErrCorruptArtifact)
		}
		builder.Add(tokens, markov.Token(next), uint64(count))
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return builder.Model(), nil
}

// GetModelInfos retrieves metadata for all stored models, keyed by
// model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Window); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// DeleteModel removes a stored model and all of its transitions. The
// operation is performed within a transaction.
func (s *Store) DeleteModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = deleteByID(ctx, tx, int64(model.Id), [2]string{"chain_transitions", "model_id"}, [2]string{"chain_models", "model_id"}); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)
	return tx.Commit()
}

// PruneModel removes all stored transitions of a model with a count
// less than or equal to minCount. This shrinks a stored model by
// dropping rare, often noisy transitions.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minCount uint64) error {
	res, err := s.stmtPruneModel.ExecContext(ctx, model.Id, int64(minCount))
	if err != nil {
		return fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Uint64("min_count", minCount),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return nil
}

// StoreStats holds aggregated statistics for the entire database.
type StoreStats struct {
	Models       []ModelInfo           // All stored models.
	Stats        map[int]ModelRowStats // Per-model stats keyed by model id.
	Dictionaries int                   // Number of stored dictionaries.
	Datasets     int                   // Number of stored datasets.
}

// ModelRowStats holds aggregated statistics for a single stored model.
type ModelRowStats struct {
	Transitions int   // The number of unique context->next links.
	TotalCount  int64 // The sum of all weighted counts.
}

// GetStats returns a snapshot of statistics for the entire database.
func (s *Store) GetStats(ctx context.Context) (*StoreStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	stats := &StoreStats{
		Models: make([]ModelInfo, 0, len(modelInfos)),
		Stats:  make(map[int]ModelRowStats),
	}
	for _, model := range modelInfos {
		stats.Models = append(stats.Models, model)
		var rowStats ModelRowStats
		if err = s.stmtModelLinks.QueryRowContext(ctx, model.Id).Scan(&rowStats.Transitions); err != nil {
			return nil, err
		}
		if err = s.stmtModelTotal.QueryRowContext(ctx, model.Id).Scan(&rowStats.TotalCount); err != nil {
			return nil, err
		}
		stats.Stats[model.Id] = rowStats
	}

	if err = s.stmtCountDicts.QueryRowContext(ctx).Scan(&stats.Dictionaries); err != nil {
		return nil, err
	}
	if err = s.stmtCountDatasets.QueryRowContext(ctx).Scan(&stats.Datasets); err != nil {
		return nil, err
	}
	return stats, nil
}
