/*
Package markov implements a Markov-chain language model pipeline:
raw text lines are normalized into message word sequences, interned
through a token dictionary, collected into weighted datasets, and
compiled into an n-gram transition model that can generate new text.

Every pipeline value (Dictionary, MessageSet, TokenizedSet, Dataset,
Model) is a self-contained artifact with a JSON representation, so
stages can run independently and be recombined later, e.g. merging
two datasets before building a single model. Merge and Add operations
return new values rather than mutating shared state in place.

Generation seeds are ordinary output: seed tokens appear in the
result and count toward the minimum and maximum length limits, and a
seed longer than the maximum is truncated to it.

For persistent storage of artifacts in SQLite, see the store package.
*/
package markov
