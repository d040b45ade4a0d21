package bot

// Field length caps enforced when storing draft input.
const (
	maxSummaryLen     = 255
	maxDescriptionLen = 4000
)

// StandupRecord holds what the user reported during one standup session.
// Blockers is append-only: revisiting the blockers phase adds entries, it
// never overwrites earlier ones.
type StandupRecord struct {
	Yesterday string
	Today     string
	Blockers  []string
}

// reset clears the record for the next standup.
func (r *StandupRecord) reset() {
	*r = StandupRecord{}
}

// IssueDraft is the in-progress data for an issue being created through the
// conversational sub-flow. An empty Assignee means unassigned. The draft is
// discarded after submission.
type IssueDraft struct {
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Assignee    string
}

// reset clears the draft.
func (d *IssueDraft) reset() {
	*d = IssueDraft{}
}

// truncateRunes caps s at n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
