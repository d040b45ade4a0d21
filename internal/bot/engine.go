package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

var meter = otel.Meter("github.com/scrumvoice/scrumvoice/internal/bot")

var (
	conversationsStarted, _ = meter.Int64Counter("scrumvoice.conversations.started",
		metric.WithDescription("Standup conversations started"))
	conversationsCompleted, _ = meter.Int64Counter("scrumvoice.conversations.completed",
		metric.WithDescription("Standup conversations that reached wrap-up"))
	trackerCalls, _ = meter.Int64Counter("scrumvoice.tracker.calls",
		metric.WithDescription("Tracker operations attempted from the conversation engine"))
	trackerFailures, _ = meter.Int64Counter("scrumvoice.tracker.failures",
		metric.WithDescription("Tracker operations that failed and were absorbed"))
)

// Conversation prompts. The greeting already contains the first question, so
// the engine has no separate "yesterday" state.
const (
	promptYesterday   = "What did you work on yesterday?"
	promptToday       = "What will you be working on today?"
	promptBlockers    = "Do you have any blockers or impediments? (yes/no)"
	promptDetails     = "Please describe your blockers or impediments:"
	promptMoreDetails = "Please describe your additional blockers:"
	promptMore        = "Do you have any other blockers? (yes/no)"
	promptCreate      = "Would you like to create any new issues or tickets? (yes/no)"
	msgDidNotCatch    = "I didn't catch that. Could you please repeat?"
	msgYesNo          = "Please answer yes or no."
)

// yesWords and noWords are matched against the whole normalized input, not
// substrings, so "I don't know" is neither.
var (
	yesWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "i do": true}
	noWords  = map[string]bool{"no": true, "nope": true, "none": true, "no blockers": true}
)

// Reply is one bot utterance plus the stage the conversation is now in.
type Reply struct {
	Message string
	Stage   string
}

// Engine runs one user's standup conversation. It is not safe for concurrent
// use; callers serialize access per session.
type Engine struct {
	tracker    tracker.Client
	projectKey string
	user       string
	extractor  *KeyExtractor

	state      State
	draftField DraftField
	record     StandupRecord
	draft      IssueDraft
}

// Config carries the dependencies for a conversation engine.
type Config struct {
	Tracker    tracker.Client
	ProjectKey string
	// User is the tracker identity whose To Do list the bot reads, usually
	// an email address.
	User string
}

// New builds an engine positioned at the greeting.
func New(cfg Config) *Engine {
	return &Engine{
		tracker:    cfg.Tracker,
		projectKey: cfg.ProjectKey,
		user:       cfg.User,
		extractor:  NewKeyExtractor(cfg.Tracker, cfg.ProjectKey),
		state:      StateGreeting,
	}
}

// handlers is the transition table. Every reachable state must have an
// entry; Advance routes anything else through the recovery path.
var handlers = map[State]func(*Engine, context.Context, string) string{
	StateGreeting:       (*Engine).handleGreeting,
	StateToday:          (*Engine).handleToday,
	StateBlockers:       (*Engine).handleBlockers,
	StateBlockerDetails: (*Engine).handleBlockerDetails,
	StateMoreBlockers:   (*Engine).handleMoreBlockers,
	StateAskCreateIssue: (*Engine).handleAskCreateIssue,
	StateIssueCreation:  (*Engine).handleIssueCreation,
}

// State reports the engine's current conversation state.
func (e *Engine) State() State { return e.state }

// Record returns a copy of the standup data collected so far.
func (e *Engine) Record() StandupRecord {
	rec := e.record
	rec.Blockers = append([]string(nil), e.record.Blockers...)
	return rec
}

// Start resets the conversation and returns the greeting, which includes the
// user's current To Do list and the first standup question.
func (e *Engine) Start(ctx context.Context) Reply {
	conversationsStarted.Add(ctx, 1)
	e.state = StateGreeting
	e.record.reset()
	e.draft.reset()

	var b strings.Builder
	b.WriteString("Hi! I'm your Scrum assistant, here to run your daily standup.\n")
	b.WriteString(e.todoListMessage(ctx))
	b.WriteString("\n")
	b.WriteString(promptYesterday)
	return Reply{Message: b.String(), Stage: e.state.Stage()}
}

// Advance feeds one user utterance into the conversation and returns the
// bot's reply. Input is trimmed first; comparisons are case-insensitive.
// Tracker failures are logged and absorbed, never surfaced as errors, so the
// conversation always moves forward.
func (e *Engine) Advance(ctx context.Context, input string) Reply {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Reply{Message: msgDidNotCatch, Stage: e.state.Stage()}
	}

	handle, ok := handlers[e.state]
	if !ok {
		log.Printf("bot: unrecognized state %d, restarting conversation", e.state)
		e.state = StateGreeting
		e.record.reset()
		return Reply{Message: "Let's start over. " + promptYesterday, Stage: e.state.Stage()}
	}
	msg := handle(e, ctx, trimmed)
	return Reply{Message: msg, Stage: e.state.Stage()}
}

// handleGreeting records yesterday's work. A mentioned issue gets moved to
// the status inferred from the same sentence.
func (e *Engine) handleGreeting(ctx context.Context, text string) string {
	e.syncMentionedIssue(ctx, text, DetermineStatus(text))
	e.record.Yesterday = text
	e.state = StateToday
	return promptToday
}

// handleToday records today's plan. With no status keyword in the sentence
// the mentioned issue is assumed to be starting, so it moves to In Progress.
func (e *Engine) handleToday(ctx context.Context, text string) string {
	status, matched := statusFromKeywords(text)
	if !matched {
		status = tracker.StatusInProgress
	}
	e.syncMentionedIssue(ctx, text, status)
	e.record.Today = text
	e.state = StateBlockers
	return promptBlockers
}

func (e *Engine) handleBlockers(ctx context.Context, text string) string {
	switch {
	case yesWords[strings.ToLower(text)]:
		e.state = StateBlockerDetails
		return promptDetails
	case noWords[strings.ToLower(text)]:
		e.state = StateAskCreateIssue
		return "Great, no blockers!\n" + promptCreate
	default:
		return msgYesNo
	}
}

// handleBlockerDetails records the blocker. If the user named an issue, that
// issue is transitioned to Blocked and a linked blocker issue is filed; both
// calls are independently fault-tolerant.
func (e *Engine) handleBlockerDetails(ctx context.Context, text string) string {
	if key := e.extractor.Extract(ctx, text); key != "" {
		e.try(ctx, "transition", key, func() error {
			return e.tracker.TransitionIssue(ctx, key, tracker.StatusBlocked)
		})
		e.try(ctx, "create_blocker", key, func() error {
			_, err := e.tracker.CreateLinkedBlocker(ctx, key, text)
			return err
		})
	}
	e.record.Blockers = append(e.record.Blockers, text)
	e.state = StateMoreBlockers
	return promptMore
}

func (e *Engine) handleMoreBlockers(ctx context.Context, text string) string {
	switch {
	case yesWords[strings.ToLower(text)]:
		e.state = StateBlockerDetails
		return promptMoreDetails
	case noWords[strings.ToLower(text)]:
		e.state = StateAskCreateIssue
		return promptCreate
	default:
		return msgYesNo
	}
}

// handleAskCreateIssue either enters the issue-creation sub-flow or wraps up
// the standup.
func (e *Engine) handleAskCreateIssue(ctx context.Context, text string) string {
	switch {
	case yesWords[strings.ToLower(text)]:
		e.draft.reset()
		e.draftField = FieldSummary
		e.state = StateIssueCreation
		return "Let's create a new issue. What should be the summary (title) of the issue?"
	case noWords[strings.ToLower(text)]:
		conversationsCompleted.Add(ctx, 1)
		msg := "Alright, that's a wrap for today's standup.\n" + e.todoListMessage(ctx)
		e.record.reset()
		e.state = StateGreeting
		return msg
	default:
		return msgYesNo
	}
}

// handleIssueCreation walks the draft field cursor. Summary and description
// are capped, type and priority validated against fixed vocabularies, and
// the assignee step submits the issue.
func (e *Engine) handleIssueCreation(ctx context.Context, text string) string {
	switch e.draftField {
	case FieldSummary:
		e.draft.Summary = truncateRunes(text, maxSummaryLen)
		e.draftField = FieldDescription
		return "Got it. Now, please provide a description for the issue:"

	case FieldDescription:
		e.draft.Description = truncateRunes(text, maxDescriptionLen)
		e.draftField = FieldIssueType
		return "What type of issue is this? (Task, Bug, or Story)"

	case FieldIssueType:
		issueType, ok := canonicalize(text, "Task", "Bug", "Story")
		if !ok {
			return "Please choose one of: Task, Bug, or Story."
		}
		e.draft.IssueType = issueType
		e.draftField = FieldPriority
		return "What priority should this issue have? (Highest, High, Medium, Low, or Lowest)"

	case FieldPriority:
		priority, ok := canonicalize(text, "Highest", "High", "Medium", "Low", "Lowest")
		if !ok {
			return "Please choose one of: Highest, High, Medium, Low, or Lowest."
		}
		e.draft.Priority = priority
		e.draftField = FieldAssignee
		return "Who should this issue be assigned to? (say \"unassigned\" to leave it open)"

	case FieldAssignee:
		if !strings.EqualFold(text, "unassigned") {
			e.draft.Assignee = text
		}
		msg := e.submitDraft(ctx)
		e.draft.reset()
		e.state = StateAskCreateIssue
		return msg + "\nWould you like to create another issue? (yes/no)"

	default:
		log.Printf("bot: unrecognized draft field %d, restarting sub-flow", e.draftField)
		e.draft.reset()
		e.draftField = FieldSummary
		return "Let's start the issue over. What should be the summary (title) of the issue?"
	}
}

// submitDraft creates the drafted issue and returns the user-facing result.
func (e *Engine) submitDraft(ctx context.Context) string {
	var key string
	ok := e.try(ctx, "create_issue", e.draft.Summary, func() error {
		var err error
		key, err = e.tracker.CreateIssue(ctx, tracker.CreateRequest{
			ProjectKey:  e.projectKey,
			Summary:     e.draft.Summary,
			Description: e.draft.Description,
			IssueType:   e.draft.IssueType,
			Priority:    e.draft.Priority,
			Assignee:    e.draft.Assignee,
		})
		return err
	})
	if !ok {
		return "Sorry, I couldn't create the issue right now."
	}
	return fmt.Sprintf("Created issue %s.", key)
}

// GenerateSummary composes a recap of the standup so far without mutating
// conversation state.
func (e *Engine) GenerateSummary(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("Here's your standup summary.\n")
	if e.record.Yesterday != "" {
		b.WriteString("Yesterday: " + e.record.Yesterday + "\n")
	}
	if e.record.Today != "" {
		b.WriteString("Today: " + e.record.Today + "\n")
	}
	switch n := len(e.record.Blockers); n {
	case 0:
		b.WriteString("No blockers reported.\n")
	default:
		fmt.Fprintf(&b, "Blockers reported (%d):\n", n)
		for _, blocker := range e.record.Blockers {
			b.WriteString("  - " + blocker + "\n")
		}
	}
	b.WriteString(e.todoListMessage(ctx))
	return b.String()
}

// syncMentionedIssue extracts an issue reference from text and, if found,
// transitions that issue to status. Failures are absorbed.
func (e *Engine) syncMentionedIssue(ctx context.Context, text string, status tracker.Status) {
	key := e.extractor.Extract(ctx, text)
	if key == "" {
		return
	}
	e.try(ctx, "transition", key, func() error {
		return e.tracker.TransitionIssue(ctx, key, status)
	})
}

// todoListMessage fetches the user's To Do issues. A tracker failure
// degrades to a generic line rather than breaking the reply.
func (e *Engine) todoListMessage(ctx context.Context) string {
	var issues []tracker.IssueRef
	ok := e.try(ctx, "list_todo", e.user, func() error {
		var err error
		issues, err = e.tracker.ListTodoIssues(ctx, e.user)
		return err
	})
	if !ok {
		return "I couldn't reach the tracker to fetch your tasks."
	}
	if len(issues) == 0 {
		return "You don't have any tasks in To Do."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d task(s) in To Do:\n", len(issues))
	for _, issue := range issues {
		fmt.Fprintf(&b, "  - %s: %s\n", issue.Key, issue.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// try runs one tracker operation, counting it and absorbing any failure.
func (e *Engine) try(ctx context.Context, op, subject string, fn func() error) bool {
	trackerCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	if err := fn(); err != nil {
		trackerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		log.Printf("bot: tracker %s for %q failed: %v", op, subject, err)
		return false
	}
	return true
}

// canonicalize matches text case-insensitively against allowed values and
// returns the canonical spelling.
func canonicalize(text string, allowed ...string) (string, bool) {
	for _, a := range allowed {
		if strings.EqualFold(text, a) {
			return a, true
		}
	}
	return "", false
}
