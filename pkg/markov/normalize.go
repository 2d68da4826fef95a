package markov

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Normalizer is the contract for turning a raw input line into a
// sequence of word strings, and for joining generated words back into
// text. The split must be deterministic so that tokenize/detokenize
// round trips reproduce the same word sequence.
type Normalizer interface {
	// Normalize splits one raw line into normalized words. An empty
	// result means the line carries no message.
	Normalize(line string) []string
	// Join builds the final output text from a generated word sequence.
	Join(words []string) string
}

// DefaultNormalizer is the default Normalizer implementation. It case
// folds input and extracts words with a regular expression. The
// pattern uses regexp2 syntax, so lookarounds and atomic groups are
// available for patterns that, for example, strip wrapping punctuation
// while keeping word-internal apostrophes.
type DefaultNormalizer struct {
	caseFold  bool
	separator string
	wordRegex *regexp2.Regexp
}

// NormalizerOption configures a DefaultNormalizer.
type NormalizerOption func(*DefaultNormalizer)

// WithCaseFolding controls whether input is lowercased. Default: true.
func WithCaseFolding(fold bool) NormalizerOption {
	return func(n *DefaultNormalizer) {
		n.caseFold = fold
	}
}

// WithSeparator sets the string used to join generated words.
// Default: " "
func WithSeparator(sep string) NormalizerOption {
	return func(n *DefaultNormalizer) {
		n.separator = sep
	}
}

// WithWordPattern sets the regexp2 pattern used to extract words from
// a line. Default: `\S+` (whitespace splitting, punctuation kept
// attached so generated output looks like input text). A stricter
// pattern such as `[\p{L}\p{N}]\S*(?<=[\p{L}\p{N}.!?])` trims trailing
// quote characters while keeping sentence punctuation.
func WithWordPattern(pattern string) NormalizerOption {
	return func(n *DefaultNormalizer) {
		n.wordRegex = regexp2.MustCompile(pattern, regexp2.None)
	}
}

// NewDefaultNormalizer creates a normalizer with default settings,
// which can be overridden with NormalizerOption functions.
func NewDefaultNormalizer(opts ...NormalizerOption) *DefaultNormalizer {
	n := &DefaultNormalizer{
		caseFold:  true,
		separator: " ",
		wordRegex: regexp2.MustCompile(`\S+`, regexp2.None),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize lowercases the line (unless case folding is disabled) and
// returns all word matches in order.
func (n *DefaultNormalizer) Normalize(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if n.caseFold {
		line = strings.ToLower(line)
	}

	var words []string
	m, err := n.wordRegex.FindStringMatch(line)
	for err == nil && m != nil {
		words = append(words, m.String())
		m, err = n.wordRegex.FindNextMatch(m)
	}
	return words
}

// Join concatenates words with the configured separator.
func (n *DefaultNormalizer) Join(words []string) string {
	return strings.Join(words, n.separator)
}
