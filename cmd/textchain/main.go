// Command textchain is a pipeline tool for building and sampling
// Markov text models: it parses raw message lines, builds token
// dictionaries, assembles weighted datasets, trains transition models
// and generates text from them. Artifacts move between stages as JSON
// files, or through a shared SQLite database via the db subcommands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/textchain/textchain/pkg/markov"
	"github.com/textchain/textchain/pkg/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usageText = `Usage: textchain <command> [arguments]

Commands:
  messages parse    parse raw lines into a message set
  messages merge    concatenate two message sets
  tokens build      tokenize messages, extending a dictionary
  tokens merge      merge two dictionaries, remapping tokenized messages
  dataset create    build a weighted dataset from tokenized messages
  dataset add       add tokenized messages to a dataset
  dataset merge     concatenate two datasets
  model build       train a transition model from a dataset
  model merge       combine two models of the same window
  model prune       drop transitions at or below a count threshold
  model stats       print model statistics
  generate          sample text from a model
  db                store artifacts in the configured SQLite database
  version           print version information

Global flags:
  -config <path>    config file location (default ./textchain.json)
`

func main() {
	configPath := "./textchain.json"
	args := os.Args[1:]
	if len(args) >= 2 && args[0] == "-config" {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "textchain: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(config)

	cmd, args := args[0], args[1:]
	switch cmd {
	case "messages":
		err = cmdMessages(logger, args)
	case "tokens":
		err = cmdTokens(logger, args)
	case "dataset":
		err = cmdDataset(logger, args)
	case "model":
		err = cmdModel(logger, args)
	case "generate":
		err = cmdGenerate(logger, config, args)
	case "db":
		err = cmdDB(logger, config, args)
	case "version":
		fmt.Printf("textchain %s (%s, built %s)\n", Version, Commit, BuildDate)
	default:
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// readLines reads a file into one string per line, preserving empty
// lines for the normalizer to discard.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// parseWeight validates a -weight value against the uint32 range of
// dataset entry weights, rather than letting a conversion wrap.
func parseWeight(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("weight %d exceeds the maximum of %d", v, uint64(math.MaxUint32))
	}
	return uint32(v), nil
}

// loadOrNewDictionary loads a dictionary file, treating a missing file
// as an empty dictionary so the first build doesn't need a seed file.
func loadOrNewDictionary(path string) (*markov.Dictionary, error) {
	dict, err := markov.LoadDictionaryFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return markov.NewDictionary(), nil
		}
		return nil, err
	}
	return dict, nil
}

func cmdMessages(logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: textchain messages <parse|merge> [arguments]")
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "parse":
		fs := flag.NewFlagSet("messages parse", flag.ExitOnError)
		in := fs.String("in", "", "input file with one raw message per line")
		out := fs.String("out", "", "output message set file")
		keepCase := fs.Bool("keep-case", false, "disable case folding")
		pattern := fs.String("pattern", "", "override the word pattern (regexp2 syntax)")
		_ = fs.Parse(args)
		if *in == "" || *out == "" {
			return errors.New("messages parse: -in and -out are required")
		}

		var opts []markov.NormalizerOption
		if *keepCase {
			opts = append(opts, markov.WithCaseFolding(false))
		}
		if *pattern != "" {
			opts = append(opts, markov.WithWordPattern(*pattern))
		}
		norm := markov.NewDefaultNormalizer(opts...)

		lines, err := readLines(*in)
		if err != nil {
			return err
		}
		ms := markov.ParseLines(lines, norm)
		if err = markov.SaveFile(*out, ms); err != nil {
			return err
		}
		logger.Info("Messages parsed",
			"lines", len(lines),
			"messages", ms.Len(),
			"out", *out,
		)
		return nil

	case "merge":
		fs := flag.NewFlagSet("messages merge", flag.ExitOnError)
		a := fs.String("a", "", "first message set file")
		b := fs.String("b", "", "second message set file")
		out := fs.String("out", "", "output message set file")
		_ = fs.Parse(args)
		if *a == "" || *b == "" || *out == "" {
			return errors.New("messages merge: -a, -b and -out are required")
		}

		msA, err := markov.LoadMessageSetFile(*a)
		if err != nil {
			return err
		}
		msB, err := markov.LoadMessageSetFile(*b)
		if err != nil {
			return err
		}
		merged := msA.Merge(msB)
		if err = markov.SaveFile(*out, merged); err != nil {
			return err
		}
		logger.Info("Message sets merged", "messages", merged.Len(), "out", *out)
		return nil

	default:
		return fmt.Errorf("messages: unknown subcommand %q", sub)
	}
}

func cmdTokens(logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: textchain tokens <build|merge> [arguments]")
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "build":
		fs := flag.NewFlagSet("tokens build", flag.ExitOnError)
		in := fs.String("in", "", "input message set file")
		dictPath := fs.String("dict", "", "dictionary file, created or extended in place")
		out := fs.String("out", "", "output tokenized message file")
		_ = fs.Parse(args)
		if *in == "" || *dictPath == "" || *out == "" {
			return errors.New("tokens build: -in, -dict and -out are required")
		}

		ms, err := markov.LoadMessageSetFile(*in)
		if err != nil {
			return err
		}
		dict, err := loadOrNewDictionary(*dictPath)
		if err != nil {
			return err
		}
		before := dict.Len()
		ts := ms.Tokenize(dict)
		if err = markov.SaveFile(*dictPath, dict); err != nil {
			return err
		}
		if err = markov.SaveFile(*out, ts); err != nil {
			return err
		}
		logger.Info("Messages tokenized",
			"messages", ts.Len(),
			"new_words", dict.Len()-before,
			"dictionary_size", dict.Len(),
			"out", *out,
		)
		return nil

	case "merge":
		fs := flag.NewFlagSet("tokens merge", flag.ExitOnError)
		a := fs.String("a", "", "base dictionary file")
		b := fs.String("b", "", "dictionary file to merge in")
		out := fs.String("out", "", "output merged dictionary file")
		bTokenized := fs.String("b-tokenized", "", "tokenized messages built against -b, remapped to the merged IDs")
		outTokenized := fs.String("out-tokenized", "", "output file for the remapped tokenized messages")
		_ = fs.Parse(args)
		if *a == "" || *b == "" || *out == "" {
			return errors.New("tokens merge: -a, -b and -out are required")
		}
		if (*bTokenized == "") != (*outTokenized == "") {
			return errors.New("tokens merge: -b-tokenized and -out-tokenized must be used together")
		}

		dictA, err := markov.LoadDictionaryFile(*a)
		if err != nil {
			return err
		}
		dictB, err := markov.LoadDictionaryFile(*b)
		if err != nil {
			return err
		}
		merged, remap := dictA.Merge(dictB)
		if err = markov.SaveFile(*out, merged); err != nil {
			return err
		}

		if *bTokenized != "" {
			ts, err := markov.LoadTokenizedSetFile(*bTokenized)
			if err != nil {
				return err
			}
			remapped := ts.Remap(remap)
			if err = remapped.Validate(merged); err != nil {
				return err
			}
			if err = markov.SaveFile(*outTokenized, remapped); err != nil {
				return err
			}
		}
		logger.Info("Dictionaries merged",
			"words", merged.Len(),
			"remapped", len(remap),
			"out", *out,
		)
		return nil

	default:
		return fmt.Errorf("tokens: unknown subcommand %q", sub)
	}
}

func cmdDataset(logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: textchain dataset <create|add|merge> [arguments]")
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "create", "add":
		fs := flag.NewFlagSet("dataset "+sub, flag.ExitOnError)
		datasetPath := fs.String("dataset", "", "existing dataset file (add only)")
		tokenized := fs.String("tokenized", "", "tokenized message file")
		weightFlag := fs.Uint64("weight", 1, "weight applied to every added message")
		out := fs.String("out", "", "output dataset file")
		_ = fs.Parse(args)
		if *tokenized == "" || *out == "" {
			return fmt.Errorf("dataset %s: -tokenized and -out are required", sub)
		}
		weight, err := parseWeight(*weightFlag)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", sub, err)
		}

		var dataset markov.Dataset
		if sub == "add" {
			if *datasetPath == "" {
				return errors.New("dataset add: -dataset is required")
			}
			var err error
			dataset, err = markov.LoadDatasetFile(*datasetPath)
			if err != nil {
				return err
			}
		}
		ts, err := markov.LoadTokenizedSetFile(*tokenized)
		if err != nil {
			return err
		}
		dataset, err = dataset.AddMessages(ts, weight)
		if err != nil {
			return err
		}
		if err = markov.SaveFile(*out, dataset); err != nil {
			return err
		}
		logger.Info("Dataset written",
			"entries", dataset.Len(),
			"weight", weight,
			"out", *out,
		)
		return nil

	case "merge":
		fs := flag.NewFlagSet("dataset merge", flag.ExitOnError)
		a := fs.String("a", "", "first dataset file")
		b := fs.String("b", "", "second dataset file")
		out := fs.String("out", "", "output dataset file")
		_ = fs.Parse(args)
		if *a == "" || *b == "" || *out == "" {
			return errors.New("dataset merge: -a, -b and -out are required")
		}

		dsA, err := markov.LoadDatasetFile(*a)
		if err != nil {
			return err
		}
		dsB, err := markov.LoadDatasetFile(*b)
		if err != nil {
			return err
		}
		merged := dsA.Merge(dsB)
		if err = markov.SaveFile(*out, merged); err != nil {
			return err
		}
		logger.Info("Datasets merged", "entries", merged.Len(), "out", *out)
		return nil

	default:
		return fmt.Errorf("dataset: unknown subcommand %q", sub)
	}
}

func cmdModel(logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: textchain model <build|merge|prune|stats> [arguments]")
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "build":
		fs := flag.NewFlagSet("model build", flag.ExitOnError)
		datasetPath := fs.String("dataset", "", "input dataset file")
		window := fs.Int("window", 2, "context window size")
		out := fs.String("out", "", "output model file")
		_ = fs.Parse(args)
		if *datasetPath == "" || *out == "" {
			return errors.New("model build: -dataset and -out are required")
		}

		dataset, err := markov.LoadDatasetFile(*datasetPath)
		if err != nil {
			return err
		}
		model := markov.Build(dataset, *window)
		if err = markov.SaveFile(*out, model); err != nil {
			return err
		}
		stats := model.Stats()
		logger.Info("Model built",
			"window", stats.Window,
			"contexts", stats.Contexts,
			"transitions", stats.Transitions,
			"out", *out,
		)
		return nil

	case "merge":
		fs := flag.NewFlagSet("model merge", flag.ExitOnError)
		a := fs.String("a", "", "first model file")
		b := fs.String("b", "", "second model file")
		out := fs.String("out", "", "output model file")
		_ = fs.Parse(args)
		if *a == "" || *b == "" || *out == "" {
			return errors.New("model merge: -a, -b and -out are required")
		}

		modelA, err := markov.LoadModelFile(*a)
		if err != nil {
			return err
		}
		modelB, err := markov.LoadModelFile(*b)
		if err != nil {
			return err
		}
		merged, err := modelA.Merge(modelB)
		if err != nil {
			return err
		}
		if err = markov.SaveFile(*out, merged); err != nil {
			return err
		}
		logger.Info("Models merged", "contexts", merged.Contexts(), "out", *out)
		return nil

	case "prune":
		fs := flag.NewFlagSet("model prune", flag.ExitOnError)
		modelPath := fs.String("model", "", "input model file")
		minCount := fs.Uint64("min-count", 1, "drop transitions with count <= this value")
		out := fs.String("out", "", "output model file")
		_ = fs.Parse(args)
		if *modelPath == "" || *out == "" {
			return errors.New("model prune: -model and -out are required")
		}

		model, err := markov.LoadModelFile(*modelPath)
		if err != nil {
			return err
		}
		before := model.Stats().Transitions
		pruned := model.Prune(*minCount)
		if err = markov.SaveFile(*out, pruned); err != nil {
			return err
		}
		after := pruned.Stats().Transitions
		logger.Info("Model pruned",
			"min_count", *minCount,
			"transitions_removed", before-after,
			"transitions_left", after,
			"out", *out,
		)
		return nil

	case "stats":
		fs := flag.NewFlagSet("model stats", flag.ExitOnError)
		modelPath := fs.String("model", "", "input model file")
		_ = fs.Parse(args)
		if *modelPath == "" {
			return errors.New("model stats: -model is required")
		}

		model, err := markov.LoadModelFile(*modelPath)
		if err != nil {
			return err
		}
		stats := model.Stats()
		fmt.Printf("window:          %d\n", stats.Window)
		fmt.Printf("contexts:        %s\n", humanize.Comma(int64(stats.Contexts)))
		fmt.Printf("transitions:     %s\n", humanize.Comma(int64(stats.Transitions)))
		fmt.Printf("total count:     %s\n", humanize.Comma(int64(stats.TotalCount)))
		fmt.Printf("starting tokens: %s\n", humanize.Comma(int64(stats.StartingTokens)))
		return nil

	default:
		return fmt.Errorf("model: unknown subcommand %q", sub)
	}
}

func cmdGenerate(logger *slog.Logger, config *Config, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	modelPath := fs.String("model", "", "input model file")
	dictPath := fs.String("dict", "", "dictionary file")
	seedText := fs.String("seed", "", "starting words, space separated")
	count := fs.Int("n", 1, "number of messages to generate")
	minLength := fs.Int("min", config.Generate.MinLength, "minimum message length in tokens")
	maxLength := fs.Int("max", config.Generate.MaxLength, "maximum message length in tokens")
	temperature := fs.Float64("temp", config.Generate.Temperature, "sampling temperature")
	topK := fs.Int("top-k", config.Generate.TopK, "restrict sampling to the k most frequent candidates, 0 disables")
	window := fs.Int("window", -1, "context window override, -1 uses the model's window")
	_ = fs.Parse(args)
	if *modelPath == "" || *dictPath == "" {
		return errors.New("generate: -model and -dict are required")
	}

	model, err := markov.LoadModelFile(*modelPath)
	if err != nil {
		return err
	}
	dict, err := markov.LoadDictionaryFile(*dictPath)
	if err != nil {
		return err
	}
	if err = model.Validate(dict); err != nil {
		return err
	}
	model.SetLogger(logger)

	var seed []markov.Token
	if *seedText != "" {
		norm := markov.NewDefaultNormalizer()
		for _, word := range norm.Normalize(*seedText) {
			tok, ok := dict.Lookup(word)
			if !ok {
				return fmt.Errorf("generate: seed word %q is not in the dictionary", word)
			}
			seed = append(seed, tok)
		}
	}

	opts := []markov.GenerateOption{
		markov.WithMinLength(*minLength),
		markov.WithMaxLength(*maxLength),
		markov.WithTemperature(*temperature),
		markov.WithTopK(*topK),
	}
	if *window >= 0 {
		opts = append(opts, markov.WithWindow(*window))
	}

	for i := 0; i < *count; i++ {
		result, err := model.Generate(dict, seed, opts...)
		if err != nil {
			return err
		}
		if result.Stalled {
			logger.Warn("Generation stalled before reaching the minimum length",
				"length", len(result.Tokens),
				"min_length", *minLength,
			)
		}
		fmt.Println(result.Text)
	}
	return nil
}

func cmdDB(logger *slog.Logger, config *Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: textchain db <save-dict|load-dict|save-dataset|load-dataset|save-model|load-model|list|delete|prune|stats> [arguments]")
	}
	sub, args := args[0], args[1:]

	db, err := initDB(config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err = store.SetupSchema(db); err != nil {
		return err
	}
	s, err := store.New(db)
	if err != nil {
		return err
	}
	defer s.Close()
	s.SetLogger(logger)

	ctx := context.Background()

	// save/load subcommands share the same flag shape.
	nameFileFlags := func(name string) (*flag.FlagSet, *string, *string) {
		fs := flag.NewFlagSet("db "+name, flag.ExitOnError)
		artifactName := fs.String("name", "", "artifact name in the database")
		file := fs.String("file", "", "artifact file")
		return fs, artifactName, file
	}

	switch sub {
	case "save-dict":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db save-dict: -name and -file are required")
		}
		dict, err := markov.LoadDictionaryFile(*file)
		if err != nil {
			return err
		}
		return s.SaveDictionary(ctx, *name, dict)

	case "load-dict":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db load-dict: -name and -file are required")
		}
		dict, err := s.LoadDictionary(ctx, *name)
		if err != nil {
			return err
		}
		return markov.SaveFile(*file, dict)

	case "save-dataset":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db save-dataset: -name and -file are required")
		}
		dataset, err := markov.LoadDatasetFile(*file)
		if err != nil {
			return err
		}
		return s.SaveDataset(ctx, *name, dataset)

	case "load-dataset":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db load-dataset: -name and -file are required")
		}
		dataset, err := s.LoadDataset(ctx, *name)
		if err != nil {
			return err
		}
		return markov.SaveFile(*file, dataset)

	case "save-model":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db save-model: -name and -file are required")
		}
		model, err := markov.LoadModelFile(*file)
		if err != nil {
			return err
		}
		return s.SaveModel(ctx, *name, model)

	case "load-model":
		fs, name, file := nameFileFlags(sub)
		_ = fs.Parse(args)
		if *name == "" || *file == "" {
			return errors.New("db load-model: -name and -file are required")
		}
		model, err := s.LoadModel(ctx, *name)
		if err != nil {
			return err
		}
		return markov.SaveFile(*file, model)

	case "list":
		infos, err := s.GetModelInfos(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(infos))
		for name := range infos {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			info := infos[name]
			fmt.Printf("%s\twindow=%d\tid=%d\n", info.Name, info.Window, info.Id)
		}
		return nil

	case "delete":
		fs := flag.NewFlagSet("db delete", flag.ExitOnError)
		name := fs.String("name", "", "model name in the database")
		_ = fs.Parse(args)
		if *name == "" {
			return errors.New("db delete: -name is required")
		}
		infos, err := s.GetModelInfos(ctx)
		if err != nil {
			return err
		}
		info, ok := infos[*name]
		if !ok {
			return fmt.Errorf("db delete: no model named %q", *name)
		}
		return s.DeleteModel(ctx, info)

	case "prune":
		fs := flag.NewFlagSet("db prune", flag.ExitOnError)
		name := fs.String("name", "", "model name in the database")
		minCount := fs.Uint64("min-count", 1, "drop transitions with count <= this value")
		_ = fs.Parse(args)
		if *name == "" {
			return errors.New("db prune: -name is required")
		}
		infos, err := s.GetModelInfos(ctx)
		if err != nil {
			return err
		}
		info, ok := infos[*name]
		if !ok {
			return fmt.Errorf("db prune: no model named %q", *name)
		}
		return s.PruneModel(ctx, info, *minCount)

	case "stats":
		stats, err := s.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("dictionaries: %d\n", stats.Dictionaries)
		fmt.Printf("datasets:     %d\n", stats.Datasets)
		fmt.Printf("models:       %d\n", len(stats.Models))
		models := stats.Models
		sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
		for _, info := range models {
			rowStats := stats.Stats[info.Id]
			fmt.Printf("  %s: window=%d transitions=%s total=%s\n",
				info.Name, info.Window,
				humanize.Comma(int64(rowStats.Transitions)),
				humanize.Comma(rowStats.TotalCount),
			)
		}
		return nil

	default:
		return fmt.Errorf("db: unknown subcommand %q", sub)
	}
}
