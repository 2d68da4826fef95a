package markov

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// generateOptions is used by the generate functions to configure
// default options.
type generateOptions struct {
	minLength   int
	maxLength   int
	window      int
	temperature float64
	topK        int
	rng         *rand.Rand
	norm        Normalizer
}

// GenerateOption is a function that configures generation parameters.
// It's used as a variadic argument in Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithMinLength sets the minimum number of tokens to generate. Until
// the minimum is reached, END is suppressed as a candidate and the
// distribution is re-normalized without it, forcing generation to
// continue. Seed tokens count toward the minimum.
func WithMinLength(n int) GenerateOption {
	return func(o *generateOptions) { o.minLength = n }
}

// WithMaxLength sets the maximum number of tokens to generate. The cap
// guarantees termination even when the model's contexts form a cycle
// with no END continuation.
func WithMaxLength(n int) GenerateOption {
	return func(o *generateOptions) { o.maxLength = n }
}

// WithWindow overrides the context window used while sampling. Values
// larger than the model's build window are truncated to it, since the
// model only indexes contexts up to that length.
func WithWindow(w int) GenerateOption {
	return func(o *generateOptions) {
		if w < 0 {
			w = 0
		}
		o.window = w
	}
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the most frequent token).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most
// frequent tokens at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// WithRand sets the random source used for sampling, making a
// generation run fully reproducible. By default the shared global
// source is used.
func WithRand(rng *rand.Rand) GenerateOption {
	return func(o *generateOptions) { o.rng = rng }
}

// WithNormalizer sets the normalizer whose Join method builds the
// final text. By default words are joined with single spaces.
func WithNormalizer(norm Normalizer) GenerateOption {
	return func(o *generateOptions) { o.norm = norm }
}

// Result is the outcome of one generation run.
type Result struct {
	// Tokens is the generated sequence, seed included, END excluded.
	Tokens []Token
	// Text is the token sequence decoded through the dictionary and
	// joined into text.
	Text string
	// Stalled reports that the run stopped because no continuation
	// exists for any reachable context, possibly before minimum length.
	// This is a normal terminal state, distinguishable from reaching
	// END or the maximum length; callers that need the minimum length
	// may resample from the seed.
	Stalled bool
}

func newGenerateOptions(window int, opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		minLength:   0,
		maxLength:   100,
		window:      window,
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.window > window {
		options.window = window
	}
	if options.maxLength < 0 {
		options.maxLength = 0
	}
	return options
}

// Generate produces text from the model by repeated weighted sampling.
// The seed is a prefix of real tokens used as the initial context; it
// is included in the result and counts toward the length limits. A nil
// seed starts from the all-START context. Generation stops at END once
// the minimum length is reached, at the maximum length, or when no
// continuation exists (a stalled run, reported in the Result).
func (m *Model) Generate(dict *Dictionary, seed []Token, opts ...GenerateOption) (*Result, error) {
	if len(m.table) == 0 {
		return nil, ErrEmptyModel
	}
	options := newGenerateOptions(m.window, opts)

	for _, tok := range seed {
		if _, ok := dict.Resolve(tok); !ok {
			return nil, fmt.Errorf("seed: %w: id %d", ErrUnknownToken, tok)
		}
	}
	if len(seed) > options.maxLength {
		seed = seed[:options.maxLength]
	}

	// Sliding FIFO context window, START-padded until enough real
	// tokens have been seen.
	ctx := make([]Token, options.window)
	for i := range ctx {
		ctx[i] = StartTokenID
	}
	out := make([]Token, 0, options.maxLength)
	for _, tok := range seed {
		out = append(out, tok)
		ctx = shiftContext(ctx, tok)
	}

	result := &Result{}
	var keyBuf []byte
	for len(out) < options.maxLength {
		suppressEnd := len(out) < options.minLength

		next, found := m.step(ctx, suppressEnd, options, &keyBuf)
		if !found {
			result.Stalled = true
			m.logger.Debug("generation stalled",
				slog.Int("generated_length", len(out)),
				slog.Int("min_length", options.minLength),
			)
			break
		}
		if next == EndTokenID {
			m.logger.Debug("generation terminated by END token",
				slog.Int("generated_length", len(out)),
			)
			break
		}
		out = append(out, next)
		ctx = shiftContext(ctx, next)
	}

	text, err := decodeTokens(dict, out, options.norm)
	if err != nil {
		return nil, err
	}
	result.Tokens = out
	result.Text = text
	return result, nil
}

// step samples the next token for the current context, falling back to
// progressively shorter contexts (dropping the oldest token) until one
// with a usable distribution is found. It reports false when even the
// empty context offers no candidate, i.e. the run has stalled.
func (m *Model) step(ctx []Token, suppressEnd bool, options *generateOptions, keyBuf *[]byte) (Token, bool) {
	for l := len(ctx); l >= 0; l-- {
		var dist *distribution
		dist, *keyBuf = m.lookup(*keyBuf, ctx[len(ctx)-l:])
		if dist == nil {
			continue
		}
		if next, ok := sampleDistribution(dist, suppressEnd, options); ok {
			return next, true
		}
		// Every candidate was suppressed; retry with a shorter context.
	}
	return 0, false
}

// shiftContext appends tok and drops the oldest token once the window
// is full.
func shiftContext(ctx []Token, tok Token) []Token {
	if len(ctx) == 0 {
		return ctx
	}
	return append(ctx[1:], tok)
}

// decodeTokens resolves tokens back to words and joins them into text.
func decodeTokens(dict *Dictionary, tokens []Token, norm Normalizer) (string, error) {
	words := make([]string, len(tokens))
	for i, tok := range tokens {
		word, err := dict.word(tok)
		if err != nil {
			return "", fmt.Errorf("decode generated token: %w", err)
		}
		words[i] = word
	}
	if norm != nil {
		return norm.Join(words), nil
	}
	return strings.Join(words, " "), nil
}

// sampleDistribution draws one token from a frozen distribution.
// When suppressEnd is set, the END entry is excluded and the
// distribution re-normalized without it; false is reported when
// nothing remains to draw from.
func sampleDistribution(dist *distribution, suppressEnd bool, options *generateOptions) (Token, bool) {
	if options.temperature == 1.0 && options.topK == 0 {
		// Fast path: one draw over the cumulative sums. END always
		// occupies the range [0, endCount), so suppressing it shifts
		// the draw's lower bound past that range.
		var lo uint64
		if suppressEnd {
			lo = dist.endCount
		}
		span := dist.total - lo
		if span == 0 {
			return 0, false
		}
		r := lo + randUint64N(options.rng, span)
		i := sort.Search(len(dist.entries), func(i int) bool {
			return dist.entries[i].cum > r
		})
		return dist.entries[i].token, true
	}
	return chooseNextToken(dist, suppressEnd, options)
}

// chooseNextToken handles the temperature / top-K selection paths over
// a candidate copy of the distribution.
func chooseNextToken(dist *distribution, suppressEnd bool, options *generateOptions) (Token, bool) {
	choices := make([]transition, 0, len(dist.entries))
	totalCount := dist.total
	for _, e := range dist.entries {
		if suppressEnd && e.token == EndTokenID {
			totalCount -= e.count
			continue
		}
		choices = append(choices, e)
	}
	if len(choices) == 0 {
		return 0, false
	}

	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		sort.Slice(choices, func(i, j int) bool {
			return choices[i].count > choices[j].count
		})
		choices = choices[:options.topK]
		totalCount = 0
		for _, choice := range choices {
			totalCount += choice.count
		}
	}

	var nextToken Token
	if options.temperature <= 0 { // Deterministic
		var maxCount uint64
		for _, choice := range choices {
			if choice.count > maxCount {
				maxCount = choice.count
				nextToken = choice.token
			}
		}
	} else if options.temperature == 1.0 { // Standard weighted random
		randChoice := randUint64N(options.rng, totalCount)
		for _, choice := range choices {
			if randChoice < choice.count {
				nextToken = choice.token
				break
			}
			randChoice -= choice.count
		}
	} else { // Temperature-based sampling
		logProbabilities := make([]float64, len(choices))
		epsilon := -1e9
		for i, choice := range choices {
			lp := math.Log(float64(choice.count)) / options.temperature
			logProbabilities[i] = lp
			if lp > epsilon {
				epsilon = lp
			}
		}
		var totalWeight float64
		weights := make([]float64, len(choices))
		for i, lp := range logProbabilities {
			w := math.Exp(lp - epsilon)
			weights[i] = w
			totalWeight += w
		}
		randChoice := randFloat64(options.rng) * totalWeight
		nextToken = choices[len(choices)-1].token
		for i, choice := range choices {
			randChoice -= weights[i]
			if randChoice < 0 {
				nextToken = choice.token
				break
			}
		}
	}
	return nextToken, true
}

func randUint64N(rng *rand.Rand, n uint64) uint64 {
	if rng != nil {
		return rng.Uint64N(n)
	}
	return rand.Uint64N(n)
}

func randFloat64(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}
