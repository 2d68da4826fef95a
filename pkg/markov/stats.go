package markov

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	Window         int    // The context window size used at build time.
	Contexts       int    // The number of distinct contexts in the table.
	Transitions    int    // The number of unique context->next links.
	TotalCount     uint64 // The sum of all weighted counts.
	StartingTokens int    // Unique continuations of the all-START context.
}

// Stats returns a snapshot of the model's table statistics.
func (m *Model) Stats() ModelStats {
	stats := ModelStats{Window: m.window, Contexts: len(m.table)}
	for _, dist := range m.table {
		stats.Transitions += len(dist.entries)
		stats.TotalCount += dist.total
	}

	start := make([]Token, m.window)
	for i := range start {
		start[i] = StartTokenID
	}
	if dist, _ := m.lookup(nil, start); dist != nil {
		stats.StartingTokens = len(dist.entries)
	}
	return stats
}
