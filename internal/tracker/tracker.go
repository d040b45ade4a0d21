// Package tracker defines the narrow capability interface the conversation
// engine uses to talk to an external issue tracker. Implementations wrap a
// concrete system (Jira today); the engine never sees anything wider than
// this interface.
package tracker

import "context"

// Status names the standup-relevant tracker statuses. These are status
// *names* as the tracker reports them, not internal identifiers.
type Status string

const (
	StatusTodo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
	StatusBlocked    Status = "Blocked"
)

// IssueRef is a read-only reference to a tracker issue, as returned by
// list queries. The engine never mutates these directly.
type IssueRef struct {
	Key        string `json:"key"`
	Summary    string `json:"summary"`
	StatusName string `json:"status"`
}

// IssueDetails carries the fields of a single fetched issue.
type IssueDetails struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	StatusName  string `json:"status"`
	IssueType   string `json:"issue_type,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

// CreateRequest holds the fields for creating a new issue.
// Assignee is the literal account identifier; empty means unassigned.
type CreateRequest struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Assignee    string
}

// Client is the capability interface consumed by the conversation engine.
// Implementations are stateless per call; all session state lives in the
// engine. Every method may fail with a network or API error - callers in
// the engine absorb those failures and continue the conversation.
type Client interface {
	// GetIssue fetches a single issue by key. Returns nil, nil when the
	// issue does not exist.
	GetIssue(ctx context.Context, key string) (*IssueDetails, error)

	// IssueExists reports whether an issue with the given key exists.
	IssueExists(ctx context.Context, key string) (bool, error)

	// ListTodoIssues returns the "To Do" issues assigned to the given
	// assignee identifier, in tracker order.
	ListTodoIssues(ctx context.Context, assignee string) ([]IssueRef, error)

	// TransitionIssue moves an issue to the named target status. The
	// transition is resolved by case-insensitive name match against the
	// issue's currently available transitions. Already being in the
	// target status is a successful no-op; no matching transition is an
	// error.
	TransitionIssue(ctx context.Context, key string, target Status) error

	// CreateIssue creates a new issue and returns its key.
	CreateIssue(ctx context.Context, req CreateRequest) (string, error)

	// CreateLinkedBlocker creates a new issue in the same project as
	// targetKey, links it to targetKey with a "Blocks" relation, posts an
	// explanatory comment on targetKey, and returns the blocker's key.
	CreateLinkedBlocker(ctx context.Context, targetKey, description string) (string, error)
}
