// ABOUTME: Passive customer memory: known-customer context for the prompt and
// ABOUTME: name/preference extraction from each exchange

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

// CustomerStore is the slice of the durable store the memory hook needs.
type CustomerStore interface {
	GetCustomer(ctx context.Context, sessionID string) (*store.Customer, error)
	SaveCustomer(ctx context.Context, c *store.Customer) error
	RecordVisit(ctx context.Context, sessionID string) error
}

// visitGap separates conversation bursts. A message arriving after this much
// silence counts as a new visit; messages inside a burst do not.
const visitGap = 6 * time.Hour

const (
	maxPreferences   = 20
	maxPreferenceLen = 80
)

// customerContext renders the known-customer block appended to the system
// prompt, or "" when the store has no record for this session.
func (o *Orchestrator) customerContext(ctx context.Context, sessionID string) string {
	if o.customers == nil {
		return ""
	}
	c, err := o.customers.GetCustomer(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("customer lookup failed", "session_id", sessionID, "error", err)
		}
		return ""
	}

	var b strings.Builder
	b.WriteString("Known customer")
	if c.Name != "" {
		b.WriteString(": " + c.Name)
	}
	b.WriteString(".")
	if c.VisitCount > 0 {
		fmt.Fprintf(&b, " Visits: %d.", c.VisitCount)
	}
	if len(c.Preferences) > 0 {
		fmt.Fprintf(&b, " Preferences: %s.", strings.Join(c.Preferences, "; "))
	}
	return b.String()
}

// learnFromTurn is the passive memory hook run at finalize. It bumps the
// visit counter on a new burst and harvests name and preference cues from the
// customer's message. Best effort: failures log and never fail the turn.
func (o *Orchestrator) learnFromTurn(ctx context.Context, sessionID string, userMsg session.Message) {
	if o.customers == nil || userMsg.Role != session.RoleUser {
		return
	}

	existing, err := o.customers.GetCustomer(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("customer lookup failed", "session_id", sessionID, "error", err)
		return
	}

	if existing == nil || time.Since(existing.LastSeen) > visitGap {
		if verr := o.customers.RecordVisit(ctx, sessionID); verr != nil {
			o.logger.Warn("recording visit failed", "session_id", sessionID, "error", verr)
		}
	}

	name := extractName(userMsg.Content)
	prefs := extractPreferences(userMsg.Content)
	if name == "" && len(prefs) == 0 {
		return
	}

	// Re-read so the visit bump above is not lost by the replace below.
	c, err := o.customers.GetCustomer(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("customer lookup failed", "session_id", sessionID, "error", err)
			return
		}
		now := time.Now()
		c = &store.Customer{SessionID: sessionID, FirstSeen: now, LastSeen: now}
	}

	changed := false
	if name != "" && c.Name == "" {
		c.Name = name
		changed = true
	}
	for _, p := range prefs {
		if addPreference(c, p) {
			changed = true
		}
	}
	if !changed {
		return
	}

	c.LastSeen = time.Now()
	if err := o.customers.SaveCustomer(ctx, c); err != nil {
		o.logger.Warn("saving customer memory failed", "session_id", sessionID, "error", err)
		return
	}
	o.logger.Info("customer memory updated",
		"session_id", sessionID,
		"name_learned", name != "",
		"preferences", len(c.Preferences))
}

// addPreference appends a note unless an equal one (case insensitive) is
// already stored or the list is at capacity.
func addPreference(c *store.Customer, pref string) bool {
	if len(c.Preferences) >= maxPreferences {
		return false
	}
	for _, have := range c.Preferences {
		if strings.EqualFold(have, pref) {
			return false
		}
	}
	c.Preferences = append(c.Preferences, pref)
	return true
}

// preferenceCues mark a sentence as a durable taste note worth remembering.
// Allergy cues come first; they matter most.
var preferenceCues = []string{
	"i'm allergic to",
	"i am allergic to",
	"allergic to",
	"i can't eat",
	"i cannot eat",
	"i don't eat",
	"i don't like",
	"i do not like",
	"i prefer",
	"i love",
	"i like",
	"i hate",
}

// extractPreferences scans each sentence for its earliest preference cue and
// keeps the sentence from the cue onward, trimmed and capped.
func extractPreferences(text string) []string {
	var out []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		best := -1
		for _, cue := range preferenceCues {
			if idx := strings.Index(lower, cue); idx >= 0 && (best == -1 || idx < best) {
				best = idx
			}
		}
		if best == -1 {
			continue
		}
		note := strings.TrimSpace(sentence[best:])
		if note == "" {
			continue
		}
		if len(note) > maxPreferenceLen {
			note = strings.TrimSpace(note[:maxPreferenceLen])
		}
		out = append(out, note)
	}
	return out
}

// splitSentences breaks text on sentence punctuation and newlines.
func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n':
			return true
		}
		return false
	})
}

// nameCues precede a self-introduction.
var nameCues = []string{"my name is ", "i'm ", "i am ", "this is "}

// extractName pulls a self-introduced name: up to three capitalized words
// right after a cue. The capitalization requirement keeps "I'm allergic to
// shellfish" from becoming a name.
func extractName(text string) string {
	lower := strings.ToLower(text)
	for _, cue := range nameCues {
		idx := strings.Index(lower, cue)
		if idx == -1 {
			continue
		}
		if name := leadingName(text[idx+len(cue):]); name != "" {
			return name
		}
	}
	return ""
}

// leadingName takes the run of capitalized words (at most three) at the start
// of s, stopping at the first punctuation mark.
func leadingName(s string) string {
	var words []string
	for _, w := range strings.Fields(s) {
		trimmed := strings.TrimRight(w, ".,!?;:")
		if trimmed == "" {
			break
		}
		r := []rune(trimmed)
		if !unicode.IsUpper(r[0]) {
			break
		}
		words = append(words, trimmed)
		if len(words) == 3 || len(trimmed) != len(w) {
			break
		}
	}
	return strings.Join(words, " ")
}
