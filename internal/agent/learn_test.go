// ABOUTME: Customer memory tests: cue extraction and the persistence hook

package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

func TestExtractName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hi, my name is Priya Sharma", "Priya Sharma"},
		{"i'm Jane.", "Jane"},
		{"Hello, this is Ravi from next door", "Ravi"},
		{"I am Kofi Mensah and I'd like a table", "Kofi Mensah"},
		{"I'm allergic to peanuts", ""},
		{"What time do you open?", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractName(tc.in), "input %q", tc.in)
	}
}

func TestExtractPreferences(t *testing.T) {
	prefs := extractPreferences("I love the butter chicken. My name is Jo.")
	require.Len(t, prefs, 1)
	assert.Equal(t, "I love the butter chicken", prefs[0])

	prefs = extractPreferences("I'm allergic to peanuts! Also I don't like okra.")
	require.Len(t, prefs, 2)
	assert.Equal(t, "I'm allergic to peanuts", prefs[0])
	assert.Equal(t, "I don't like okra", prefs[1])

	assert.Empty(t, extractPreferences("Table for two at 7 please"))
}

func TestAddPreference_DedupAndCap(t *testing.T) {
	c := &store.Customer{}
	assert.True(t, addPreference(c, "I love naan"))
	assert.False(t, addPreference(c, "i love NAAN"))

	for i := 0; len(c.Preferences) < maxPreferences; i++ {
		addPreference(c, fmt.Sprintf("note %d", i))
	}
	assert.False(t, addPreference(c, "one more"))
	assert.Len(t, c.Preferences, maxPreferences)
}

func TestLearnFromTurn_PersistsNameAndPreferences(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	ctx := context.Background()

	f.orch.learnFromTurn(ctx, "wa-20", session.Message{
		ID:      "m1",
		Role:    session.RoleUser,
		Content: "Hi, my name is Priya. I'm allergic to peanuts.",
	})

	c, err := f.store.GetCustomer(ctx, "wa-20")
	require.NoError(t, err)
	assert.Equal(t, "Priya", c.Name)
	assert.Equal(t, int64(1), c.VisitCount)
	require.Len(t, c.Preferences, 1)
	assert.Equal(t, "I'm allergic to peanuts", c.Preferences[0])
}

func TestLearnFromTurn_VisitGapSeparatesBursts(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	ctx := context.Background()

	require.NoError(t, f.store.SaveCustomer(ctx, &store.Customer{
		SessionID:  "wa-21",
		VisitCount: 1,
		FirstSeen:  time.Now().Add(-48 * time.Hour),
		LastSeen:   time.Now().Add(-24 * time.Hour),
	}))

	f.orch.learnFromTurn(ctx, "wa-21", session.Message{
		ID: "m1", Role: session.RoleUser, Content: "Hello again",
	})
	c, err := f.store.GetCustomer(ctx, "wa-21")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.VisitCount)

	// A quick follow-up inside the same burst is not a new visit.
	f.orch.learnFromTurn(ctx, "wa-21", session.Message{
		ID: "m2", Role: session.RoleUser, Content: "One more thing",
	})
	c, err = f.store.GetCustomer(ctx, "wa-21")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.VisitCount)
}

func TestLearnFromTurn_NameNeverOverwritten(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	ctx := context.Background()

	require.NoError(t, f.store.SaveCustomer(ctx, &store.Customer{
		SessionID:  "wa-22",
		Name:       "Asha",
		VisitCount: 2,
		FirstSeen:  time.Now().Add(-time.Hour),
		LastSeen:   time.Now(),
	}))

	f.orch.learnFromTurn(ctx, "wa-22", session.Message{
		ID: "m1", Role: session.RoleUser, Content: "Actually my name is Bo",
	})

	c, err := f.store.GetCustomer(ctx, "wa-22")
	require.NoError(t, err)
	assert.Equal(t, "Asha", c.Name)
}

func TestCustomerContext(t *testing.T) {
	f := newFixture(t, &scriptedModel{})
	ctx := context.Background()

	assert.Empty(t, f.orch.customerContext(ctx, "wa-23"))

	require.NoError(t, f.store.SaveCustomer(ctx, &store.Customer{
		SessionID:   "wa-23",
		Name:        "Priya",
		Preferences: []string{"no peanuts", "loves lassi"},
		VisitCount:  4,
		FirstSeen:   time.Now().Add(-time.Hour),
		LastSeen:    time.Now(),
	}))

	got := f.orch.customerContext(ctx, "wa-23")
	assert.Contains(t, got, "Known customer: Priya.")
	assert.Contains(t, got, "Visits: 4.")
	assert.Contains(t, got, "no peanuts; loves lassi")
}
