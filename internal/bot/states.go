package bot

// State identifies a position in the standup conversation. Dispatch in
// Advance goes through the handler table keyed by State; any value without
// a handler takes the recovery path back to StateGreeting.
type State int

const (
	// StateGreeting is the initial state. The greeting prompt already asks
	// about yesterday's work, so input received here is yesterday's answer.
	StateGreeting State = iota
	StateToday
	StateBlockers
	StateBlockerDetails
	StateMoreBlockers
	StateAskCreateIssue
	StateIssueCreation
)

// Stage returns the wire name for the state, used by the transport layer.
func (s State) Stage() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateToday:
		return "today"
	case StateBlockers:
		return "blockers"
	case StateBlockerDetails:
		return "blocker_details"
	case StateMoreBlockers:
		return "more_blockers"
	case StateAskCreateIssue:
		return "ask_create_issue"
	case StateIssueCreation:
		return "issue_creation"
	default:
		return "unknown"
	}
}

// DraftField is the field cursor for the issue-creation sub-flow.
type DraftField int

const (
	FieldSummary DraftField = iota
	FieldDescription
	FieldIssueType
	FieldPriority
	FieldAssignee
)
