package markov

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
)

// transition is one possible next token for a context, with its
// weighted count and the running cumulative total used for
// binary-search sampling.
type transition struct {
	token Token
	count uint64
	cum   uint64
}

// distribution holds the frozen next-token counts for a single
// context. Entries are sorted by token ID, which puts END first
// whenever it is present (START never occurs as a next token), so
// suppressing END is a matter of skipping the first entry's range.
type distribution struct {
	ctx      []Token
	entries  []transition
	total    uint64
	endCount uint64
}

// Model is an immutable table mapping contexts (the up-to-W preceding
// tokens) to weighted next-token counts, built once from a Dataset.
// Every context length from 0 to W is indexed at each position, so
// generation can always fall back from the full window to shorter
// contexts, down to the global next-token distribution.
type Model struct {
	window int
	table  map[string]*distribution
	logger *slog.Logger
}

// SetLogger sets the logger used by generation. By default, all logs
// are discarded.
func (m *Model) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// contextKey encodes a token sequence as a space-joined decimal string
// for cheap table lookups. The empty context encodes as "".
func contextKey(buf []byte, context []Token) []byte {
	buf = buf[:0]
	for i, tok := range context {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(tok), 10)
	}
	return buf
}

// ModelBuilder accumulates transition counts before freezing them into
// an immutable Model. It is the shared construction path for Build,
// Merge, Remap, Prune and artifact loading.
type ModelBuilder struct {
	window   int
	counts   map[string]map[Token]uint64
	contexts map[string][]Token
	keyBuf   []byte
}

// NewModelBuilder creates a builder for the given context window size.
// A negative window is treated as 0 (the unigram model keyed on the
// empty context only).
func NewModelBuilder(window int) *ModelBuilder {
	if window < 0 {
		window = 0
	}
	return &ModelBuilder{
		window:   window,
		counts:   make(map[string]map[Token]uint64),
		contexts: make(map[string][]Token),
	}
}

// Add increments the count for (context -> next) by count. Contexts
// longer than the window are truncated to their last window tokens.
// A zero count is a no-op.
func (b *ModelBuilder) Add(context []Token, next Token, count uint64) {
	if count == 0 {
		return
	}
	if len(context) > b.window {
		context = context[len(context)-b.window:]
	}
	b.keyBuf = contextKey(b.keyBuf, context)
	key := string(b.keyBuf)

	dist, ok := b.counts[key]
	if !ok {
		dist = make(map[Token]uint64)
		b.counts[key] = dist
		ctx := make([]Token, len(context))
		copy(ctx, context)
		b.contexts[key] = ctx
	}
	dist[next] += count
}

// AddMessage slides the context window over one message, including the
// implicit leading START padding and the trailing END, and records
// every context length from 0 up to the window at each position with
// the given weight.
func (b *ModelBuilder) AddMessage(tokens []Token, weight uint32) {
	if weight == 0 {
		return
	}
	padded := make([]Token, 0, b.window+len(tokens)+1)
	for i := 0; i < b.window; i++ {
		padded = append(padded, StartTokenID)
	}
	padded = append(padded, tokens...)
	padded = append(padded, EndTokenID)

	// One position per real token plus one for the final END.
	for i := 0; i <= len(tokens); i++ {
		next := padded[i+b.window]
		for k := 0; k <= b.window; k++ {
			b.Add(padded[i+b.window-k:i+b.window], next, uint64(weight))
		}
	}
}

// Model freezes the accumulated counts into an immutable Model. Each
// context's entries are sorted by token ID and carry cumulative sums
// so generation can sample with a binary search.
func (b *ModelBuilder) Model() *Model {
	m := &Model{
		window: b.window,
		table:  make(map[string]*distribution, len(b.counts)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for key, counts := range b.counts {
		dist := &distribution{
			ctx:     b.contexts[key],
			entries: make([]transition, 0, len(counts)),
		}
		for tok, count := range counts {
			dist.entries = append(dist.entries, transition{token: tok, count: count})
		}
		sort.Slice(dist.entries, func(i, j int) bool {
			return dist.entries[i].token < dist.entries[j].token
		})
		var cum uint64
		for i := range dist.entries {
			cum += dist.entries[i].count
			dist.entries[i].cum = cum
		}
		dist.total = cum
		if dist.entries[0].token == EndTokenID {
			dist.endCount = dist.entries[0].count
		}
		m.table[key] = dist
	}
	return m
}

// Build constructs a model from every weighted message of the dataset
// with the given context window size. Counts are fully deterministic
// for a given dataset and window.
func Build(dataset Dataset, window int) *Model {
	b := NewModelBuilder(window)
	for _, entry := range dataset.Entries {
		b.AddMessage(entry.Tokens, entry.Weight)
	}
	return b.Model()
}

// Window returns the context window size the model was built with.
func (m *Model) Window() int {
	return m.window
}

// Contexts returns the number of distinct contexts in the table.
func (m *Model) Contexts() int {
	return len(m.table)
}

// lookup returns the frozen distribution for a context, or nil.
func (m *Model) lookup(buf []byte, context []Token) (*distribution, []byte) {
	buf = contextKey(buf, context)
	return m.table[string(buf)], buf
}

// Count returns the weighted count recorded for (context -> next), or
// 0 if the pair was never observed. Contexts longer than the window
// are truncated to their last window tokens.
func (m *Model) Count(context []Token, next Token) uint64 {
	if len(context) > m.window {
		context = context[len(context)-m.window:]
	}
	dist, _ := m.lookup(nil, context)
	if dist == nil {
		return 0
	}
	i := sort.Search(len(dist.entries), func(i int) bool {
		return dist.entries[i].token >= next
	})
	if i < len(dist.entries) && dist.entries[i].token == next {
		return dist.entries[i].count
	}
	return 0
}

// TransitionCount is one (next token, count) pair of a context's
// distribution.
type TransitionCount struct {
	Token Token
	Count uint64
}

// Distribution returns a copy of the next-token counts for a context,
// ordered by token ID, or nil if the context was never observed.
func (m *Model) Distribution(context []Token) []TransitionCount {
	if len(context) > m.window {
		context = context[len(context)-m.window:]
	}
	dist, _ := m.lookup(nil, context)
	if dist == nil {
		return nil
	}
	out := make([]TransitionCount, len(dist.entries))
	for i, e := range dist.entries {
		out[i] = TransitionCount{Token: e.token, Count: e.count}
	}
	return out
}

// ForEachTransition calls fn for every (context, next, count) triple in
// the table. Iteration order is unspecified; counts themselves are
// deterministic.
func (m *Model) ForEachTransition(fn func(context []Token, next Token, count uint64)) {
	for _, dist := range m.table {
		for _, e := range dist.entries {
			fn(dist.ctx, e.token, e.count)
		}
	}
}

// Merge returns a new model whose counts are the count-wise sum of m
// and other. Both models must have been built with the same window
// size and against the same dictionary.
func (m *Model) Merge(other *Model) (*Model, error) {
	if m.window != other.window {
		return nil, fmt.Errorf("markov: cannot merge models with windows %d and %d", m.window, other.window)
	}
	b := NewModelBuilder(m.window)
	m.ForEachTransition(b.Add)
	other.ForEachTransition(b.Add)
	return b.Model(), nil
}

// Remap returns a new model with every context and next token
// translated through remap, as produced by Dictionary.Merge. Tokens
// absent from the table are kept as-is.
func (m *Model) Remap(remap map[Token]Token) *Model {
	mapTok := func(tok Token) Token {
		if mapped, ok := remap[tok]; ok {
			return mapped
		}
		return tok
	}
	b := NewModelBuilder(m.window)
	ctxBuf := make([]Token, 0, m.window)
	m.ForEachTransition(func(context []Token, next Token, count uint64) {
		ctxBuf = ctxBuf[:0]
		for _, tok := range context {
			ctxBuf = append(ctxBuf, mapTok(tok))
		}
		b.Add(ctxBuf, mapTok(next), count)
	})
	return b.Model()
}

// Validate checks that every context token and next token in the table
// resolves through dict. It reports ErrCorruptArtifact when the model
// references IDs the accompanying dictionary does not contain.
func (m *Model) Validate(dict *Dictionary) error {
	for _, dist := range m.table {
		for _, tok := range dist.ctx {
			if _, ok := dict.Resolve(tok); !ok {
				return fmt.Errorf("%w: context references id %d outside dictionary", ErrCorruptArtifact, tok)
			}
		}
		for _, e := range dist.entries {
			if _, ok := dict.Resolve(e.token); !ok {
				return fmt.Errorf("%w: transition references id %d outside dictionary", ErrCorruptArtifact, e.token)
			}
		}
	}
	return nil
}
