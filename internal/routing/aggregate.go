// Package routing decides which skill handles a user message and which
// model tier to run it on.
package routing

import (
	"strings"
	"time"
	"unicode"

	"github.com/relaybot/relay/pkg/models"
)

const (
	// aggregationWindow is how many recent user messages the aggregator
	// considers.
	aggregationWindow = 5

	// fragmentMaxGap is the largest gap between two user messages that
	// still counts as a continuation signal.
	fragmentMaxGap = 60 * time.Second

	// fragmentSignalThreshold is how many signals must hold before the
	// latest message is treated as a fragment.
	fragmentSignalThreshold = 2
)

// backReferences are pronouns that usually point at something said earlier.
var backReferences = map[string]bool{
	"it": true, "that": true, "this": true, "those": true, "these": true,
	"them": true, "they": true, "he": true, "she": true, "him": true, "her": true,
}

// continuationMarkers begin a message that extends the previous one.
var continuationMarkers = []string{
	"and ", "also ", "then ", "but ", "or ", "plus ", "so ",
	"what about", "how about", "same for",
}

// trailingContinuations end a message that expects more input.
var trailingContinuations = []string{"...", "…", ":", "-", "—"}

// Aggregation is the aggregator's output: the query to route plus an
// analysis record for logs.
type Aggregation struct {
	Query      string
	Fragment   bool
	Signals    []string
	UsedWindow int
}

// Aggregate inspects the most recent user messages and decides whether the
// latest is standalone or a fragment of a larger request. If fragmented,
// the query concatenates the contiguous in-window user messages with
// single spaces.
func Aggregate(history []*models.Message) Aggregation {
	window := lastUserMessages(history, aggregationWindow)
	if len(window) == 0 {
		return Aggregation{}
	}
	latest := window[len(window)-1]
	if len(window) == 1 {
		return Aggregation{Query: latest.Content, UsedWindow: 1}
	}
	previous := window[len(window)-2]

	signals := fragmentSignals(latest, previous)
	if len(signals) < fragmentSignalThreshold {
		return Aggregation{Query: latest.Content, UsedWindow: 1}
	}

	run := contiguousUserTail(history, aggregationWindow)
	parts := make([]string, 0, len(run))
	for _, msg := range run {
		if text := strings.TrimSpace(msg.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return Aggregation{
		Query:      strings.Join(parts, " "),
		Fragment:   true,
		Signals:    signals,
		UsedWindow: len(run),
	}
}

// contiguousUserTail returns the trailing run of user messages that are
// uninterrupted by other roles, capped at n, oldest first.
func contiguousUserTail(history []*models.Message, n int) []*models.Message {
	var out []*models.Message
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Role != models.RoleUser {
			break
		}
		out = append(out, history[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func fragmentSignals(latest, previous *models.Message) []string {
	var signals []string
	text := strings.TrimSpace(latest.Content)

	if len(strings.Fields(text)) < 4 {
		signals = append(signals, "short")
	}
	if containsBackReference(text) {
		signals = append(signals, "back_reference")
	}
	lower := strings.ToLower(text)
	for _, marker := range continuationMarkers {
		if strings.HasPrefix(lower, marker) {
			signals = append(signals, "continuation_marker")
			break
		}
	}
	if startsLowercase(text) {
		signals = append(signals, "lowercase_start")
	}
	prev := strings.TrimSpace(previous.Content)
	for _, suffix := range trailingContinuations {
		if strings.HasSuffix(prev, suffix) {
			signals = append(signals, "previous_trailing")
			break
		}
	}
	if !latest.CreatedAt.IsZero() && !previous.CreatedAt.IsZero() {
		if gap := latest.CreatedAt.Sub(previous.CreatedAt); gap >= 0 && gap <= fragmentMaxGap {
			signals = append(signals, "recent")
		}
	}
	return signals
}

func containsBackReference(text string) bool {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if backReferences[word] {
			return true
		}
	}
	return false
}

func startsLowercase(text string) bool {
	for _, r := range text {
		return unicode.IsLower(r)
	}
	return false
}

// lastUserMessages returns up to n trailing user messages, oldest first.
func lastUserMessages(history []*models.Message, n int) []*models.Message {
	var out []*models.Message
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Role == models.RoleUser {
			out = append(out, history[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
