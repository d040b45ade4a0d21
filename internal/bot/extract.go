package bot

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

// numberWords maps spelled-out numbers to digits so "scrum forty" never
// matches but "scrum seven" becomes "scrum 7" before pattern matching.
var numberWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
	"eleven": "11", "twelve": "12", "thirteen": "13", "fourteen": "14",
	"fifteen": "15", "sixteen": "16", "seventeen": "17", "eighteen": "18",
	"nineteen": "19", "twenty": "20",
}

// numberWordRe matches whole spelled-out number words. Longer words come
// first in the alternation so "seventeen" is not consumed as "seven".
var numberWordRe = func() *regexp.Regexp {
	words := make([]string, 0, len(numberWords))
	for w := range numberWords {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	return regexp.MustCompile(`\b(` + strings.Join(words, "|") + `)\b`)
}()

// rewriteNumberWords replaces spelled-out numbers one through twenty with
// their digit forms.
func rewriteNumberWords(text string) string {
	return numberWordRe.ReplaceAllStringFunc(text, func(w string) string {
		return numberWords[w]
	})
}

// KeyExtractor finds issue-key references in free-form speech transcripts.
// Transcripts rarely contain a clean "SCRUM-7": speech-to-text produces
// "scrum seven", "scrum 7", "ticket 7" and similar, so extraction works on
// lowercased text with spelled-out numbers rewritten to digits first.
type KeyExtractor struct {
	tracker    tracker.Client
	projectKey string
	patterns   []*regexp.Regexp
}

// NewKeyExtractor builds an extractor for the given project key. Patterns
// are tried in order; more specific forms come before the generic
// "ticket N" fallbacks.
func NewKeyExtractor(tc tracker.Client, projectKey string) *KeyExtractor {
	prefix := regexp.QuoteMeta(strings.ToLower(projectKey))
	return &KeyExtractor{
		tracker:    tc,
		projectKey: strings.ToUpper(projectKey),
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b` + prefix + `[-\s]?(\d+)\b`),
			regexp.MustCompile(`\b[a-z0-9]+_` + prefix + `[-\s]?(\d+)\b`),
			regexp.MustCompile(`\b` + prefix + ` issue (\d+)\b`),
			regexp.MustCompile(`\bticket (\d+)\b`),
			regexp.MustCompile(`\bissue (\d+)\b`),
		},
	}
}

// Extract returns the key of the first referenced issue that actually exists
// in the tracker, or "" if no pattern yields a live issue. Matches that fail
// the existence check fall through to later patterns. Existence-check errors
// are treated as "does not exist" so a tracker outage never stalls the
// conversation.
func (x *KeyExtractor) Extract(ctx context.Context, text string) string {
	text = rewriteNumberWords(strings.ToLower(text))
	for _, re := range x.patterns {
		matches := re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 1 {
			extra := make([]string, 0, len(matches)-1)
			for _, m := range matches[1:] {
				extra = append(extra, x.keyFor(m[1]))
			}
			log.Printf("bot: multiple issue references, using first and ignoring %v", extra)
		}
		key := x.keyFor(matches[0][1])
		exists, err := x.tracker.IssueExists(ctx, key)
		if err != nil {
			log.Printf("bot: existence check for %s failed: %v", key, err)
			continue
		}
		if exists {
			return key
		}
		log.Printf("bot: mentioned issue %s does not exist, trying next pattern", key)
	}
	return ""
}

func (x *KeyExtractor) keyFor(number string) string {
	return fmt.Sprintf("%s-%s", x.projectKey, number)
}

// Keyword lists for status inference, checked in precedence order by
// DetermineStatus. "Blocked but finally done" must resolve to Done.
var (
	doneWords       = []string{"completed", "finished", "done", "complete"}
	inProgressWords = []string{"working", "started", "progress", "continuing", "doing"}
	blockedWords    = []string{"blocked", "blocking", "blocker"}
)

// statusFromKeywords scans lowercased text for status keywords and reports
// whether any matched. Precedence: done beats in-progress beats blocked.
func statusFromKeywords(text string) (tracker.Status, bool) {
	text = strings.ToLower(text)
	for _, set := range []struct {
		words  []string
		status tracker.Status
	}{
		{doneWords, tracker.StatusDone},
		{inProgressWords, tracker.StatusInProgress},
		{blockedWords, tracker.StatusBlocked},
	} {
		for _, w := range set.words {
			if strings.Contains(text, w) {
				return set.status, true
			}
		}
	}
	return tracker.StatusTodo, false
}

// DetermineStatus infers a tracker status from free-form text, defaulting to
// To Do when no keyword matches.
func DetermineStatus(text string) tracker.Status {
	status, _ := statusFromKeywords(text)
	return status
}
