package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

// fakeTracker implements tracker.Client with canned issues and a call log.
type fakeTracker struct {
	issues map[string]tracker.Status
	todo   []tracker.IssueRef
	calls  []string

	failTransitions bool
	failCreate      bool
	failList        bool
	failExists      bool
	nextKey         string
}

func newFakeTracker(keys ...string) *fakeTracker {
	ft := &fakeTracker{issues: map[string]tracker.Status{}, nextKey: "SCRUM-100"}
	for _, k := range keys {
		ft.issues[k] = tracker.StatusTodo
	}
	return ft
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (*tracker.IssueDetails, error) {
	status, ok := f.issues[key]
	if !ok {
		return nil, nil
	}
	return &tracker.IssueDetails{Key: key, StatusName: string(status)}, nil
}

func (f *fakeTracker) IssueExists(_ context.Context, key string) (bool, error) {
	if f.failExists {
		return false, errors.New("tracker down")
	}
	_, ok := f.issues[key]
	return ok, nil
}

func (f *fakeTracker) ListTodoIssues(_ context.Context, assignee string) ([]tracker.IssueRef, error) {
	f.calls = append(f.calls, "list:"+assignee)
	if f.failList {
		return nil, errors.New("tracker down")
	}
	return f.todo, nil
}

func (f *fakeTracker) TransitionIssue(_ context.Context, key string, target tracker.Status) error {
	f.calls = append(f.calls, fmt.Sprintf("transition:%s:%s", key, target))
	if f.failTransitions {
		return errors.New("tracker down")
	}
	f.issues[key] = target
	return nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, req tracker.CreateRequest) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("create:%s:%s:%s:%s", req.Summary, req.IssueType, req.Priority, req.Assignee))
	if f.failCreate {
		return "", errors.New("tracker down")
	}
	f.issues[f.nextKey] = tracker.StatusTodo
	return f.nextKey, nil
}

func (f *fakeTracker) CreateLinkedBlocker(_ context.Context, targetKey, description string) (string, error) {
	f.calls = append(f.calls, "blocker:"+targetKey)
	if f.failCreate {
		return "", errors.New("tracker down")
	}
	return "SCRUM-999", nil
}

func newTestEngine(ft *fakeTracker) *Engine {
	return New(Config{Tracker: ft, ProjectKey: "SCRUM", User: "dev@example.com"})
}

func TestStartResetsAndGreets(t *testing.T) {
	ft := newFakeTracker()
	ft.todo = []tracker.IssueRef{{Key: "SCRUM-1", Summary: "Fix login"}}
	e := newTestEngine(ft)
	e.record.Yesterday = "stale"
	e.state = StateBlockers

	reply := e.Start(context.Background())
	if reply.Stage != "greeting" {
		t.Errorf("stage = %q, want greeting", reply.Stage)
	}
	if e.Record().Yesterday != "" {
		t.Error("Start should reset the standup record")
	}
	for _, want := range []string{"SCRUM-1", "Fix login", promptYesterday} {
		if !strings.Contains(reply.Message, want) {
			t.Errorf("greeting missing %q:\n%s", want, reply.Message)
		}
	}
}

func TestHappyPathNoBlockers(t *testing.T) {
	ft := newFakeTracker("SCRUM-7")
	e := newTestEngine(ft)
	ctx := context.Background()

	steps := []struct {
		input     string
		wantStage string
	}{
		{"I finished SCRUM-7 yesterday", "today"},
		{"today I'm writing docs", "blockers"},
		{"no", "ask_create_issue"},
		{"no", "greeting"},
	}
	for i, step := range steps {
		reply := e.Advance(ctx, step.input)
		if reply.Stage != step.wantStage {
			t.Fatalf("step %d: stage = %q, want %q (message %q)", i, reply.Stage, step.wantStage, reply.Message)
		}
	}
	if got := ft.issues["SCRUM-7"]; got != tracker.StatusDone {
		t.Errorf("SCRUM-7 status = %q, want Done", got)
	}
}

func TestStatusSyncExactlyOncePerMention(t *testing.T) {
	ft := newFakeTracker("SCRUM-1", "SCRUM-2")
	e := newTestEngine(ft)
	ctx := context.Background()

	e.Advance(ctx, "Completed SCRUM-1")
	e.Advance(ctx, "Working on SCRUM-2")
	e.Advance(ctx, "no")
	reply := e.Advance(ctx, "no")
	if reply.Stage != "greeting" {
		t.Fatalf("stage = %q, want greeting after wrap-up", reply.Stage)
	}

	counts := map[string]int{}
	for _, call := range ft.calls {
		counts[call]++
	}
	if counts["transition:SCRUM-1:Done"] != 1 {
		t.Errorf("calls = %v, want exactly one SCRUM-1 -> Done transition", ft.calls)
	}
	if counts["transition:SCRUM-2:In Progress"] != 1 {
		t.Errorf("calls = %v, want exactly one SCRUM-2 -> In Progress transition", ft.calls)
	}
}

func TestBlockerFlowTransitionsAndFilesBlocker(t *testing.T) {
	ft := newFakeTracker("SCRUM-3")
	e := newTestEngine(ft)
	ctx := context.Background()

	e.Advance(ctx, "nothing much yesterday")
	e.Advance(ctx, "more of the same today")
	reply := e.Advance(ctx, "yes")
	if reply.Stage != "blocker_details" {
		t.Fatalf("stage = %q, want blocker_details", reply.Stage)
	}
	reply = e.Advance(ctx, "I'm stuck on scrum three waiting for a review")
	if reply.Stage != "more_blockers" {
		t.Fatalf("stage = %q, want more_blockers", reply.Stage)
	}

	var transitions, blockers int
	for _, call := range ft.calls {
		switch {
		case strings.HasPrefix(call, "transition:SCRUM-3:"):
			transitions++
		case call == "blocker:SCRUM-3":
			blockers++
		}
	}
	if transitions != 1 || blockers != 1 {
		t.Errorf("calls = %v, want exactly one transition and one linked blocker for SCRUM-3", ft.calls)
	}
	if got := ft.issues["SCRUM-3"]; got != tracker.StatusBlocked {
		t.Errorf("SCRUM-3 status = %q, want Blocked", got)
	}
	if rec := e.Record(); len(rec.Blockers) != 1 {
		t.Errorf("blockers = %v, want one entry", rec.Blockers)
	}
}

func TestMoreBlockersAppends(t *testing.T) {
	e := newTestEngine(newFakeTracker())
	ctx := context.Background()

	e.Advance(ctx, "yesterday stuff")
	e.Advance(ctx, "today stuff")
	e.Advance(ctx, "yes")
	e.Advance(ctx, "first blocker")
	e.Advance(ctx, "yes")
	reply := e.Advance(ctx, "second blocker")
	if reply.Stage != "more_blockers" {
		t.Fatalf("stage = %q, want more_blockers", reply.Stage)
	}
	if rec := e.Record(); len(rec.Blockers) != 2 || rec.Blockers[1] != "second blocker" {
		t.Errorf("blockers = %v, want two entries in order", rec.Blockers)
	}
}

func TestIssueCreationFlow(t *testing.T) {
	ft := newFakeTracker()
	e := newTestEngine(ft)
	ctx := context.Background()

	e.Advance(ctx, "yesterday stuff")
	e.Advance(ctx, "today stuff")
	e.Advance(ctx, "no")
	reply := e.Advance(ctx, "yes")
	if reply.Stage != "issue_creation" {
		t.Fatalf("stage = %q, want issue_creation", reply.Stage)
	}

	e.Advance(ctx, "Fix the flaky deploy")
	e.Advance(ctx, "Deploys fail intermittently on the staging cluster")

	reply = e.Advance(ctx, "epic")
	if !strings.Contains(reply.Message, "Task, Bug, or Story") {
		t.Errorf("invalid type should re-prompt, got %q", reply.Message)
	}
	e.Advance(ctx, "bug")

	reply = e.Advance(ctx, "urgent")
	if !strings.Contains(reply.Message, "Highest") {
		t.Errorf("invalid priority should re-prompt, got %q", reply.Message)
	}
	e.Advance(ctx, "high")

	reply = e.Advance(ctx, "dev@example.com")
	if reply.Stage != "ask_create_issue" {
		t.Fatalf("stage = %q, want ask_create_issue after creation", reply.Stage)
	}
	if !strings.Contains(reply.Message, "SCRUM-100") {
		t.Errorf("reply should name the created issue, got %q", reply.Message)
	}

	want := "create:Fix the flaky deploy:Bug:High:dev@example.com"
	found := false
	for _, call := range ft.calls {
		if call == want {
			found = true
		}
	}
	if !found {
		t.Errorf("calls = %v, want %q", ft.calls, want)
	}
}

func TestIssueCreationUnassigned(t *testing.T) {
	ft := newFakeTracker()
	e := newTestEngine(ft)
	ctx := context.Background()

	e.state = StateIssueCreation
	e.draftField = FieldSummary
	e.Advance(ctx, "A summary")
	e.Advance(ctx, "A description")
	e.Advance(ctx, "task")
	e.Advance(ctx, "medium")
	e.Advance(ctx, "Unassigned")

	want := "create:A summary:Task:Medium:"
	found := false
	for _, call := range ft.calls {
		if call == want {
			found = true
		}
	}
	if !found {
		t.Errorf("calls = %v, want %q (empty assignee)", ft.calls, want)
	}
}

func TestIssueCreationTruncatesLongFields(t *testing.T) {
	ft := newFakeTracker()
	e := newTestEngine(ft)
	ctx := context.Background()

	e.state = StateIssueCreation
	e.draftField = FieldSummary
	e.Advance(ctx, strings.Repeat("s", 300))
	if got := len(e.draft.Summary); got != maxSummaryLen {
		t.Errorf("summary length = %d, want %d", got, maxSummaryLen)
	}
	e.Advance(ctx, strings.Repeat("d", 5000))
	if got := len(e.draft.Description); got != maxDescriptionLen {
		t.Errorf("description length = %d, want %d", got, maxDescriptionLen)
	}
}

func TestIssueCreationFailureReturnsToAsk(t *testing.T) {
	ft := newFakeTracker()
	ft.failCreate = true
	e := newTestEngine(ft)
	ctx := context.Background()

	e.state = StateIssueCreation
	e.draftField = FieldSummary
	e.Advance(ctx, "A summary")
	e.Advance(ctx, "A description")
	e.Advance(ctx, "story")
	e.Advance(ctx, "low")
	reply := e.Advance(ctx, "unassigned")

	if reply.Stage != "ask_create_issue" {
		t.Errorf("stage = %q, want ask_create_issue even on failure", reply.Stage)
	}
	if !strings.Contains(reply.Message, "couldn't create") {
		t.Errorf("reply should report the failure, got %q", reply.Message)
	}
}

func TestTrackerFailuresDoNotStallConversation(t *testing.T) {
	ft := newFakeTracker("SCRUM-5")
	ft.failTransitions = true
	ft.failCreate = true
	ft.failList = true
	e := newTestEngine(ft)
	ctx := context.Background()

	reply := e.Start(ctx)
	if !strings.Contains(reply.Message, "couldn't reach the tracker") {
		t.Errorf("greeting should degrade on list failure, got %q", reply.Message)
	}

	steps := []struct {
		input     string
		wantStage string
	}{
		{"finished SCRUM-5", "today"},
		{"starting SCRUM-5 again", "blockers"},
		{"yes", "blocker_details"},
		{"SCRUM-5 is stuck", "more_blockers"},
		{"no", "ask_create_issue"},
	}
	for i, step := range steps {
		reply := e.Advance(ctx, step.input)
		if reply.Stage != step.wantStage {
			t.Fatalf("step %d: stage = %q, want %q", i, reply.Stage, step.wantStage)
		}
	}
}

func TestYesNoSynonymsAndOtherInput(t *testing.T) {
	e := newTestEngine(newFakeTracker())
	ctx := context.Background()

	e.Advance(ctx, "yesterday stuff")
	e.Advance(ctx, "today stuff")

	reply := e.Advance(ctx, "maybe")
	if reply.Stage != "blockers" || reply.Message != msgYesNo {
		t.Errorf("unrecognized answer should re-prompt in place, got %q at %q", reply.Message, reply.Stage)
	}
	reply = e.Advance(ctx, "No Blockers")
	if reply.Stage != "ask_create_issue" {
		t.Errorf("stage = %q, want ask_create_issue after no-synonym", reply.Stage)
	}
	reply = e.Advance(ctx, "hmm")
	if reply.Stage != "ask_create_issue" || reply.Message != msgYesNo {
		t.Errorf("unrecognized answer should re-prompt in place, got %q at %q", reply.Message, reply.Stage)
	}
}

func TestEmptyInputRepromptsWithoutTransition(t *testing.T) {
	e := newTestEngine(newFakeTracker())
	reply := e.Advance(context.Background(), "   ")
	if reply.Stage != "greeting" || reply.Message != msgDidNotCatch {
		t.Errorf("empty input: got %q at %q, want reprompt at greeting", reply.Message, reply.Stage)
	}
}

func TestUnrecognizedStateRecovers(t *testing.T) {
	e := newTestEngine(newFakeTracker())
	e.state = State(42)
	e.record.Yesterday = "stale"

	reply := e.Advance(context.Background(), "hello")
	if reply.Stage != "greeting" {
		t.Errorf("stage = %q, want greeting after recovery", reply.Stage)
	}
	if e.Record().Yesterday != "" {
		t.Error("recovery should reset the standup record")
	}
}

func TestWrapUpListsTodoAndResets(t *testing.T) {
	ft := newFakeTracker()
	ft.todo = []tracker.IssueRef{{Key: "SCRUM-2", Summary: "Write tests"}}
	e := newTestEngine(ft)
	ctx := context.Background()

	e.Advance(ctx, "yesterday stuff")
	e.Advance(ctx, "today stuff")
	e.Advance(ctx, "no")
	reply := e.Advance(ctx, "nope")

	if reply.Stage != "greeting" {
		t.Errorf("stage = %q, want greeting after wrap-up", reply.Stage)
	}
	if !strings.Contains(reply.Message, "SCRUM-2") {
		t.Errorf("wrap-up should list To Do tasks, got %q", reply.Message)
	}
	if e.Record().Yesterday != "" {
		t.Error("wrap-up should reset the standup record")
	}
}

func TestGenerateSummary(t *testing.T) {
	ft := newFakeTracker()
	e := newTestEngine(ft)
	ctx := context.Background()

	e.Advance(ctx, "shipped the importer")
	e.Advance(ctx, "reviewing PRs")
	e.Advance(ctx, "yes")
	e.Advance(ctx, "waiting on infra")

	summary := e.GenerateSummary(ctx)
	for _, want := range []string{"shipped the importer", "reviewing PRs", "waiting on infra"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if e.State() != StateMoreBlockers {
		t.Error("GenerateSummary should not change conversation state")
	}
}
