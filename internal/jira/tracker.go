// Package jira implements the tracker capability interface against the
// Jira REST v3 API.
package jira

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

func init() {
	tracker.Register("jira", func(baseURL, username, apiToken, projectKey string) (tracker.Client, error) {
		return NewTracker(baseURL, username, apiToken, projectKey)
	})
}

// Tracker implements tracker.Client for Jira.
type Tracker struct {
	client     *Client
	projectKey string
}

// NewTracker creates a Jira-backed tracker client.
func NewTracker(baseURL, username, apiToken, projectKey string) (*Tracker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if apiToken == "" {
		return nil, fmt.Errorf("jira API token is required")
	}
	if projectKey == "" {
		return nil, fmt.Errorf("jira project key is required")
	}
	return &Tracker{
		client:     NewClient(baseURL, username, apiToken),
		projectKey: projectKey,
	}, nil
}

// ProjectKey returns the configured project key.
func (t *Tracker) ProjectKey() string { return t.projectKey }

// Validate checks that the configured credentials can authenticate.
func (t *Tracker) Validate(ctx context.Context) error {
	return t.client.Myself(ctx)
}

// SetCredentials swaps the API endpoint and credentials. Used by the config
// watcher for hot reload; safe to call while requests are in flight.
func (t *Tracker) SetCredentials(baseURL, username, apiToken string) {
	t.client.SetCredentials(baseURL, username, apiToken)
}

// GetIssue fetches a single issue by key. Returns nil, nil when the issue
// does not exist.
func (t *Tracker) GetIssue(ctx context.Context, key string) (*tracker.IssueDetails, error) {
	issue, err := t.client.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, nil
	}
	details := issueToDetails(issue)
	return &details, nil
}

// IssueExists reports whether an issue with the given key exists.
func (t *Tracker) IssueExists(ctx context.Context, key string) (bool, error) {
	issue, err := t.client.GetIssue(ctx, key)
	if err != nil {
		return false, err
	}
	return issue != nil, nil
}

// ListTodoIssues returns the "To Do" issues assigned to the given assignee,
// resolving the assignee to an account id first. An unknown assignee yields
// an empty list, not an error.
func (t *Tracker) ListTodoIssues(ctx context.Context, assignee string) ([]tracker.IssueRef, error) {
	accountID, err := t.client.FindAccountID(ctx, assignee)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		log.Printf("jira: no account found for assignee %q", assignee)
		return nil, nil
	}

	jql := fmt.Sprintf("project = %q AND status = \"To Do\" AND assignee = %q", t.projectKey, accountID)
	issues, err := t.client.SearchIssues(ctx, jql)
	if err != nil {
		return nil, err
	}

	refs := make([]tracker.IssueRef, 0, len(issues))
	for i := range issues {
		refs = append(refs, tracker.IssueRef{
			Key:        issues[i].Key,
			Summary:    issues[i].Fields.Summary,
			StatusName: statusName(&issues[i]),
		})
	}
	return refs, nil
}

// TransitionIssue moves an issue to the named target status. The transition
// is matched case-insensitively against the transition name and its target
// status name. Already being in the target status is a no-op.
func (t *Tracker) TransitionIssue(ctx context.Context, key string, target tracker.Status) error {
	issue, err := t.client.GetIssue(ctx, key)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %s not found", key)
	}

	want := string(target)
	if strings.EqualFold(statusName(issue), want) {
		return nil
	}

	transitions, err := t.client.GetTransitions(ctx, key)
	if err != nil {
		return err
	}

	var transitionID string
	for _, tr := range transitions {
		if strings.EqualFold(tr.Name, want) || strings.EqualFold(tr.To.Name, want) {
			transitionID = tr.ID
			break
		}
	}
	if transitionID == "" {
		return fmt.Errorf("no transition to %q available for %s", want, key)
	}

	return t.client.DoTransition(ctx, key, transitionID)
}

// CreateIssue creates a new issue and returns its key. The assignee is
// resolved to an account id; if resolution fails the issue is created
// unassigned.
func (t *Tracker) CreateIssue(ctx context.Context, req tracker.CreateRequest) (string, error) {
	projectKey := req.ProjectKey
	if projectKey == "" {
		projectKey = t.projectKey
	}

	fields := map[string]interface{}{
		"project":   map[string]string{"key": projectKey},
		"summary":   req.Summary,
		"issuetype": map[string]string{"name": req.IssueType},
	}
	if req.Description != "" {
		fields["description"] = PlainTextToADF(req.Description)
	}
	if req.Priority != "" {
		fields["priority"] = map[string]string{"name": req.Priority}
	}
	if req.Assignee != "" {
		accountID, err := t.client.FindAccountID(ctx, req.Assignee)
		if err != nil || accountID == "" {
			log.Printf("jira: could not resolve assignee %q, creating unassigned: %v", req.Assignee, err)
		} else {
			fields["assignee"] = map[string]string{"id": accountID}
		}
	}

	return t.client.CreateIssue(ctx, fields)
}

// CreateLinkedBlocker creates a blocker issue for targetKey, links it with a
// "Blocks" relation, and posts an explanatory comment on targetKey. Link and
// comment failures are logged but don't fail the operation once the blocker
// issue exists.
func (t *Tracker) CreateLinkedBlocker(ctx context.Context, targetKey, description string) (string, error) {
	target, err := t.client.GetIssue(ctx, targetKey)
	if err != nil {
		return "", err
	}
	if target == nil {
		return "", fmt.Errorf("issue %s not found", targetKey)
	}

	assigneeName := "Unassigned"
	if target.Fields.Assignee != nil && target.Fields.Assignee.DisplayName != "" {
		assigneeName = target.Fields.Assignee.DisplayName
	}

	projectKey := targetKey
	if idx := strings.Index(targetKey, "-"); idx > 0 {
		projectKey = targetKey[:idx]
	}

	today := time.Now().Format("2006-01-02")
	blockerDescription := fmt.Sprintf(
		"Blocker created for %s\nIssue: %s\nImpact: blocking progress on %s\nAssigned to: %s\nCreated on: %s\n\nPlease update this ticket with:\n1. Root cause analysis\n2. Proposed solution\n3. Estimated time to resolution",
		targetKey, description, targetKey, assigneeName, today)

	fields := map[string]interface{}{
		"project":     map[string]string{"key": projectKey},
		"summary":     blockerSummary(targetKey, description),
		"description": PlainTextToADF(blockerDescription),
		"issuetype":   map[string]string{"name": "Task"},
		"labels":      []string{"blocked", "blocker"},
	}
	if target.Fields.Assignee != nil && target.Fields.Assignee.AccountID != "" {
		fields["assignee"] = map[string]string{"id": target.Fields.Assignee.AccountID}
	}

	blockerKey, err := t.client.CreateIssue(ctx, fields)
	if err != nil {
		return "", err
	}

	if err := t.client.CreateLink(ctx, "Blocks", targetKey, blockerKey); err != nil {
		log.Printf("jira: failed to link blocker %s to %s: %v", blockerKey, targetKey, err)
	}

	comment := fmt.Sprintf(
		"Blocker created: %s/browse/%s\nIssue: %s\nCreated on: %s\nStatus: Blocked\n\nThis issue is blocked. Progress will resume once the blocker is resolved.",
		t.client.BaseURL(), blockerKey, description, today)
	if err := t.client.AddComment(ctx, targetKey, comment); err != nil {
		log.Printf("jira: failed to comment on %s: %v", targetKey, err)
	}

	return blockerKey, nil
}

// blockerSummary builds the blocker issue title. The description is
// truncated at 50 runes, not bytes, so multibyte input stays valid UTF-8.
func blockerSummary(targetKey, description string) string {
	desc := description
	if runes := []rune(desc); len(runes) > 50 {
		desc = string(runes[:50]) + "..."
	}
	return fmt.Sprintf("Blocker for %s: %s", targetKey, desc)
}

// issueToDetails converts a Jira API issue to the tracker-neutral form.
func issueToDetails(issue *Issue) tracker.IssueDetails {
	details := tracker.IssueDetails{
		Key:         issue.Key,
		Summary:     issue.Fields.Summary,
		Description: DescriptionToPlainText(issue.Fields.Description),
		StatusName:  statusName(issue),
	}
	if issue.Fields.IssueType != nil {
		details.IssueType = issue.Fields.IssueType.Name
	}
	if issue.Fields.Priority != nil {
		details.Priority = issue.Fields.Priority.Name
	}
	if issue.Fields.Assignee != nil {
		details.Assignee = issue.Fields.Assignee.DisplayName
	}
	return details
}

func statusName(issue *Issue) string {
	if issue.Fields.Status != nil {
		return issue.Fields.Status.Name
	}
	return ""
}
