package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// GeneratedToken is one element of a generation stream.
type GeneratedToken struct {
	// ID is the sampled token.
	ID Token
	// Text is the token decoded through the dictionary.
	Text string
	// End marks the terminal element of a run that reached END.
	End bool
	// Stalled marks the terminal element of a run with no known
	// continuation. Like Result.Stalled this is a normal outcome, not
	// an error.
	Stalled bool
}

// GenerateStream runs a generation and returns a read-only channel of
// tokens, which allows processing the output token-by-token instead of
// waiting for the full text. The channel is closed after a terminal
// element (End or Stalled) is sent, when the maximum length is
// reached, or when ctx is cancelled. The same options as Generate
// apply; seed tokens are re-emitted at the start of the stream.
func (m *Model) GenerateStream(ctx context.Context, dict *Dictionary, seed []Token, opts ...GenerateOption) (<-chan GeneratedToken, error) {
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

	tokenChan := make(chan GeneratedToken)

	go func() {
		defer close(tokenChan)

		window := make([]Token, options.window)
		for i := range window {
			window[i] = StartTokenID
		}
		generated := 0

		emit := func(gt GeneratedToken) bool {
			select {
			case <-ctx.Done():
				m.logger.Debug("generation stream cancelled by context")
				return false
			case tokenChan <- gt:
				return true
			}
		}

		for _, tok := range seed {
			text, _ := dict.Resolve(tok) // validated above
			if !emit(GeneratedToken{ID: tok, Text: text}) {
				return
			}
			window = shiftContext(window, tok)
			generated++
		}

		var keyBuf []byte
		for generated < options.maxLength {
			select {
			case <-ctx.Done():
				m.logger.Debug("generation stream cancelled by context")
				return
			default:
			}

			suppressEnd := generated < options.minLength
			next, found := m.step(window, suppressEnd, options, &keyBuf)
			if !found {
				emit(GeneratedToken{Stalled: true})
				return
			}
			if next == EndTokenID {
				emit(GeneratedToken{ID: EndTokenID, Text: EndTokenText, End: true})
				return
			}

			text, ok := dict.Resolve(next)
			if !ok {
				m.logger.Error("failed to decode generated token",
					slog.Int("token_id", int(next)),
				)
				return
			}
			if !emit(GeneratedToken{ID: next, Text: text}) {
				return
			}
			window = shiftContext(window, next)
			generated++
		}
	}()

	return tokenChan, nil
}
