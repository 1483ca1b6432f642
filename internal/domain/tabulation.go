package domain

// TieBreak names the rule that ordered a contestant below the contestant
// ranked immediately above it.
type TieBreak string

// Tie-break rules, applied in this order after the total.
const (
	// TieBreakNone means the totals differed.
	TieBreakNone TieBreak = ""
	// TieBreakAverage means the higher average per-criterion score won.
	TieBreakAverage TieBreak = "average_per_criterion"
	// TieBreakBelowMedian means fewer scores below the scope median won.
	TieBreakBelowMedian TieBreak = "scores_below_median"
	// TieBreakContestantID means ascending contestant id decided.
	TieBreakContestantID TieBreak = "contestant_id"
)

// TabulationResult is the derived standing of one contestant in a scope.
// It is a projection recomputed from scores and never stored.
type TabulationResult struct {
	ContestantID string `json:"contestant_id"`
	CategoryID   string `json:"category_id"`

	// RawTotal is the aggregate before the score cap is applied.
	RawTotal float64 `json:"raw_total"`
	// Total is the reported aggregate, equal to the cap when Clamped.
	Total   float64 `json:"total"`
	Clamped bool    `json:"clamped"`

	AveragePerJudge     float64 `json:"average_per_judge"`
	AveragePerCriterion float64 `json:"average_per_criterion"`
	JudgeCount          int     `json:"judge_count"`
	ScoreCount          int     `json:"score_count"`
	ScoresBelowMedian   int     `json:"scores_below_median"`

	// JudgeSubtotals maps judge id to that judge's rounded subtotal.
	JudgeSubtotals map[string]float64 `json:"judge_subtotals,omitempty"`

	Rank     int      `json:"rank"`
	TieBreak TieBreak `json:"tie_break,omitempty"`
}
