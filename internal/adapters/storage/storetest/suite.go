// Package storetest is the conformance suite every domain.Store backend runs.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// Factory returns a fresh, empty store. It should register its own cleanup.
type Factory func(t *testing.T) domain.Store

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"AppendThenGet", testAppendThenGet},
		{"AppendKeepsOwnerAndCreation", testAppendKeepsOwner},
		{"AppendKeepsEqualMessages", testAppendKeepsEqualMessages},
		{"InvalidInput", testInvalidInput},
		{"GetMissing", testGetMissing},
		{"Delete", testDelete},
		{"DeleteMissing", testDeleteMissing},
		{"Search", testSearch},
		{"SearchCaseSensitive", testSearchCaseSensitive},
		{"SearchFoldsNonASCII", testSearchFoldsNonASCII},
		{"SearchScopedAndLimited", testSearchScopedAndLimited},
		{"ListByUser", testListByUser},
		{"ConcurrentAppends", testConcurrentAppends},
		{"Summaries", testSummaries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Msg builds a message with a fresh id.
func Msg(role domain.Role, text string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:             domain.MessageID(uuid.NewString()),
		ConversationID: "c1",
		Role:           role,
		Text:           text,
		TokenCount:     len(text) / 4,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

// tick keeps consecutive writes apart on stores with millisecond timestamps.
func tick() { time.Sleep(5 * time.Millisecond) }

func texts(s *domain.ChatSession) []string {
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Text)
	}
	return out
}

func ids(sessions []*domain.ChatSession) []domain.SessionID {
	out := make([]domain.SessionID, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func testAppendThenGet(t *testing.T, s domain.Store) {
	ctx := context.Background()

	first := []domain.ChatMessage{Msg(domain.RoleUser, "hi"), Msg(domain.RoleAssistant, "hello")}
	sess, err := s.CreateOrAppend(ctx, "s1", "u1", first)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, texts(sess))

	tick()
	second := []domain.ChatMessage{Msg(domain.RoleUser, "how are you?")}
	sess, err = s.CreateOrAppend(ctx, "s1", "u1", second)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello", "how are you?"}, texts(sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, []string{"hi", "hello", "how are you?"}, texts(got))
	assert.Equal(t, first[0].ID, got.Messages[0].ID)
	assert.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, domain.ConversationID("c1"), got.Messages[2].ConversationID)
	assert.Equal(t, first[1].TokenCount, got.Messages[1].TokenCount)
	assert.WithinDuration(t, first[0].CreatedAt, got.Messages[0].CreatedAt, time.Millisecond)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt), "updated_at must advance on append")
}

func testAppendKeepsOwner(t *testing.T, s domain.Store) {
	ctx := context.Background()

	created, err := s.CreateOrAppend(ctx, "s1", "owner", []domain.ChatMessage{Msg(domain.RoleUser, "a")})
	require.NoError(t, err)

	tick()
	updated, err := s.CreateOrAppend(ctx, "s1", "someone-else", []domain.ChatMessage{Msg(domain.RoleUser, "b")})
	require.NoError(t, err)

	assert.Equal(t, domain.UserID("owner"), updated.UserID)
	assert.WithinDuration(t, created.CreatedAt, updated.CreatedAt, time.Millisecond)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func testAppendKeepsEqualMessages(t *testing.T, s domain.Store) {
	ctx := context.Background()

	ok := domain.ChatMessage{ConversationID: "c1", Role: domain.RoleUser, Text: "ok"}
	_, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{ok})
	require.NoError(t, err)

	tick()
	sess, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{ok, ok})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "ok", "ok"}, texts(sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, texts(sess), texts(got))
}

func testInvalidInput(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "a")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.CreateOrAppend(ctx, "s1", "u1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected appends must not create the session")

	_, err = s.Search(ctx, domain.SearchQuery{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testGetMissing(t *testing.T, s domain.Store) {
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDelete(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "a")})
	require.NoError(t, err)
	require.NoError(t, s.AppendSummary(ctx, &domain.Summary{
		ID: "sum1", SessionID: "s1", Text: "a summary", MessageCount: 1, GeneratedAt: time.Now().UTC(),
	}))

	removed, err := s.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	latest, err := s.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, latest, "summaries are removed with the session")

	// recreating starts from an empty log
	sess, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, texts(sess))
}

func testDeleteMissing(t *testing.T, s domain.Store) {
	removed, err := s.Delete(context.Background(), "nope")
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}

func testSearch(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "well, Hello there")})
	require.NoError(t, err)
	tick()
	_, err = s.CreateOrAppend(ctx, "s2", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "nothing to see")})
	require.NoError(t, err)
	tick()
	_, err = s.CreateOrAppend(ctx, "s3", "u2", []domain.ChatMessage{
		Msg(domain.RoleUser, "first"),
		Msg(domain.RoleAssistant, "hello again (with [regex] chars.*)"),
	})
	require.NoError(t, err)

	got, err := s.Search(ctx, domain.SearchQuery{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"s3", "s1"}, ids(got), "most recently updated first")
	for _, sess := range got {
		require.NotEmpty(t, sess.Messages, "search results carry the full transcript")
	}

	got, err = s.Search(ctx, domain.SearchQuery{Text: "[regex] chars.*"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"s3"}, ids(got), "queries are literal substrings")

	got, err = s.Search(ctx, domain.SearchQuery{Text: "absent"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSearchCaseSensitive(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "upper", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "Hello")})
	require.NoError(t, err)
	tick()
	_, err = s.CreateOrAppend(ctx, "lower", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "hello")})
	require.NoError(t, err)

	got, err := s.Search(ctx, domain.SearchQuery{Text: "Hello", CaseSensitive: true})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"upper"}, ids(got))

	got, err = s.Search(ctx, domain.SearchQuery{Text: "HELLO"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"lower", "upper"}, ids(got))
}

func testSearchFoldsNonASCII(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "accented", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "Ça va à l'ÉCOLE")})
	require.NoError(t, err)

	got, err := s.Search(ctx, domain.SearchQuery{Text: "école"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"accented"}, ids(got))

	got, err = s.Search(ctx, domain.SearchQuery{Text: "ça VA"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"accented"}, ids(got))

	got, err = s.Search(ctx, domain.SearchQuery{Text: "école", CaseSensitive: true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSearchScopedAndLimited(t *testing.T, s domain.Store) {
	ctx := context.Background()

	for i := range 4 {
		user := domain.UserID("u1")
		if i%2 == 1 {
			user = "u2"
		}
		_, err := s.CreateOrAppend(ctx, domain.SessionID(fmt.Sprintf("s%d", i)), user,
			[]domain.ChatMessage{Msg(domain.RoleUser, "topic: budget")})
		require.NoError(t, err)
		tick()
	}

	got, err := s.Search(ctx, domain.SearchQuery{Text: "budget", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"s2", "s0"}, ids(got))

	got, err = s.Search(ctx, domain.SearchQuery{Text: "budget", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"s3", "s2", "s1"}, ids(got))
}

func testListByUser(t *testing.T, s domain.Store) {
	ctx := context.Background()

	long := "this is a fairly long opening message that goes past fifty characters"
	_, err := s.CreateOrAppend(ctx, "old", "u1", []domain.ChatMessage{Msg(domain.RoleUser, long), Msg(domain.RoleAssistant, "ok")})
	require.NoError(t, err)
	tick()
	_, err = s.CreateOrAppend(ctx, "other", "u2", []domain.ChatMessage{Msg(domain.RoleUser, "x")})
	require.NoError(t, err)
	tick()
	_, err = s.CreateOrAppend(ctx, "new", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "y")})
	require.NoError(t, err)
	tick()
	// appending moves "old" to the front
	_, err = s.CreateOrAppend(ctx, "old", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "bump")})
	require.NoError(t, err)

	infos, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, domain.SessionID("old"), infos[0].ID)
	assert.Equal(t, domain.SessionID("new"), infos[1].ID)
	assert.Equal(t, 3, infos[0].MessageCount)
	assert.Equal(t, domain.Preview(long), infos[0].FirstMessage)
	assert.Equal(t, "bump", infos[0].LastMessage)
	assert.Equal(t, domain.UserID("u1"), infos[0].UserID)

	infos, err = s.ListByUser(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, domain.SessionID("old"), infos[0].ID)

	infos, err = s.ListByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func testConcurrentAppends(t *testing.T, s domain.Store) {
	ctx := context.Background()
	const writers, perWriter = 2, 10

	var g errgroup.Group
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				msg := Msg(domain.RoleUser, fmt.Sprintf("writer-%d-msg-%d", w, i))
				if _, err := s.CreateOrAppend(ctx, "shared", "u1", []domain.ChatMessage{msg}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sess, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, sess.Messages, writers*perWriter)

	seen := make(map[string]bool)
	for _, txt := range texts(sess) {
		seen[txt] = true
	}
	for w := range writers {
		last := -1
		for i := range perWriter {
			assert.True(t, seen[fmt.Sprintf("writer-%d-msg-%d", w, i)])
			// each writer's own messages keep their relative order
			for pos, txt := range texts(sess) {
				if txt == fmt.Sprintf("writer-%d-msg-%d", w, i) {
					assert.Greater(t, pos, last)
					last = pos
				}
			}
		}
	}
}

func testSummaries(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.CreateOrAppend(ctx, "s1", "u1", []domain.ChatMessage{Msg(domain.RoleUser, "a")})
	require.NoError(t, err)

	latest, err := s.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := range 3 {
		require.NoError(t, s.AppendSummary(ctx, &domain.Summary{
			ID:           domain.SummaryID(fmt.Sprintf("sum%d", i)),
			SessionID:    "s1",
			Text:         fmt.Sprintf("summary %d", i),
			MessageCount: i + 1,
			Model:        "mock",
			GeneratedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err = s.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "summary 2", latest.Text)
	assert.Equal(t, 3, latest.MessageCount)
	assert.Equal(t, "mock", latest.Model)
	assert.Equal(t, domain.SessionID("s1"), latest.SessionID)

	list, err := s.ListSummaries(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "summary 2", list[0].Text)
	assert.Equal(t, "summary 1", list[1].Text)

	list, err = s.ListSummaries(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = s.ListSummaries(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}
