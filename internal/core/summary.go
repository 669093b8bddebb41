package core

// SummaryPolicy decides when the rolling story summary is refreshed.
type SummaryPolicy interface {
	ShouldSummarize(transcriptLen int) bool
}

// EveryN summarizes whenever the transcript length is a positive multiple of N.
type EveryN struct {
	N int
}

func (p EveryN) ShouldSummarize(transcriptLen int) bool {
	return p.N > 0 && transcriptLen > 0 && transcriptLen%p.N == 0
}

// Never disables summarization.
type Never struct{}

func (Never) ShouldSummarize(int) bool { return false }
