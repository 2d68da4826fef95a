package markov

// Prune returns a new model without the transitions whose count is
// less than or equal to minCount. Contexts left with no transitions
// are dropped entirely. Pruning removes rare, often noisy transitions
// and shrinks the model; note that a pruned model no longer satisfies
// the count-additivity contract with the dataset it was built from.
func (m *Model) Prune(minCount uint64) *Model {
	b := NewModelBuilder(m.window)
	m.ForEachTransition(func(context []Token, next Token, count uint64) {
		if count > minCount {
			b.Add(context, next, count)
		}
	})
	return b.Model()
}
