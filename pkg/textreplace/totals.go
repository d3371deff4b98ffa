package textreplace

// Tally counts the outcome of rewriting one or more documents.
type Tally struct {
	MatchCount    int `json:"matchCount"`
	ReplacedCount int `json:"replacedCount"`
	ArticleCount  int `json:"articleCount"`
	ErrorCount    int `json:"errorCount"`
}

// Add returns the field-wise sum of t and o.
func (t Tally) Add(o Tally) Tally {
	return Tally{
		MatchCount:    t.MatchCount + o.MatchCount,
		ReplacedCount: t.ReplacedCount + o.ReplacedCount,
		ArticleCount:  t.ArticleCount + o.ArticleCount,
		ErrorCount:    t.ErrorCount + o.ErrorCount,
	}
}

// IsZero reports whether nothing was matched, replaced or attempted.
func (t Tally) IsZero() bool {
	return t == Tally{}
}

// Summary is the batch-level report attached to a completed job.
type Summary struct {
	Tally

	// UnreplacedCount is MatchCount - ReplacedCount, never negative.
	UnreplacedCount int `json:"unreplacedCount"`

	// Discrepancy is set when some matches could not be replaced.
	Discrepancy bool `json:"discrepancy"`
}

// Summarize derives the batch summary from an aggregated tally.
func (t Tally) Summarize() Summary {
	unreplaced := t.MatchCount - t.ReplacedCount
	if unreplaced < 0 {
		unreplaced = 0
	}
	return Summary{
		Tally:           t,
		UnreplacedCount: unreplaced,
		Discrepancy:     unreplaced > 0,
	}
}
