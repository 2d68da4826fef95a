package markov

import "errors"

var (
	// ErrUnknownToken is returned when a token ID cannot be resolved
	// through the dictionary it is used with. Since tokens only ever
	// originate from a dictionary, hitting this indicates a caller bug
	// (usually a skipped remap after a dictionary merge) or corrupt data.
	ErrUnknownToken = errors.New("markov: unknown token")

	// ErrEmptyModel is returned when generating from a model with no
	// contexts, e.g. one built from a dataset with zero messages.
	ErrEmptyModel = errors.New("markov: empty model")

	// ErrInvalidWeight is returned when a dataset operation is given a
	// weight below 1.
	ErrInvalidWeight = errors.New("markov: invalid weight")

	// ErrCorruptArtifact is returned when a deserialized artifact fails
	// structural validation. Corrupt values are never coerced to
	// defaults.
	ErrCorruptArtifact = errors.New("markov: corrupt artifact")
)
