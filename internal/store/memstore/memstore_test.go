package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/store/memstore"
)

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Apply(ctx, store.Set("quizzes/q1", map[string]any{
		"title": "Trivia",
		"status": map[string]any{
			"state": "waiting",
		},
	}))
	require.NoError(t, err)

	var title string
	require.NoError(t, s.Get(ctx, "quizzes/q1/title", &title))
	require.Equal(t, "Trivia", title)

	var status struct {
		State string `json:"state"`
	}
	require.NoError(t, s.Get(ctx, "quizzes/q1/status", &status))
	require.Equal(t, "waiting", status.State)

	var missing any
	err = s.Get(ctx, "quizzes/q2", &missing)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Merge(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Apply(ctx, store.Set("quizzes/q1/status", map[string]any{
		"state":           "active",
		"currentQuestion": 0,
	}))
	require.NoError(t, err)

	_, err = s.Apply(ctx, store.Merge("quizzes/q1/status", map[string]any{
		"currentQuestion": 1,
	}))
	require.NoError(t, err)

	var status struct {
		State           string `json:"state"`
		CurrentQuestion int    `json:"currentQuestion"`
	}
	require.NoError(t, s.Get(ctx, "quizzes/q1/status", &status))
	require.Equal(t, "active", status.State, "merge should leave sibling fields alone")
	require.Equal(t, 1, status.CurrentQuestion)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Apply(ctx,
		store.Set("quizzes/q1/registrations/r1/score", 10),
		store.Set("quizzes/q1/registrations/r1/answers/0", map[string]any{"selectedAnswer": 1}),
	)
	require.NoError(t, err)

	_, err = s.Apply(ctx, store.Delete("quizzes/q1/registrations/r1/answers"))
	require.NoError(t, err)

	var score int
	require.NoError(t, s.Get(ctx, "quizzes/q1/registrations/r1/score", &score))
	require.Equal(t, 10, score)

	var answers map[string]any
	err = s.Get(ctx, "quizzes/q1/registrations/r1/answers", &answers)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ServerTimestamp(t *testing.T) {
	ctx := context.Background()
	at := time.UnixMilli(1726000000000)
	s := memstore.New(memstore.WithClock(func() time.Time { return at }))

	ms, err := s.Apply(ctx, store.Set("quizzes/q1/status", map[string]any{
		"state":             "active",
		"questionStartTime": store.ServerTimestamp(),
		"startTime":         store.ServerTimestamp(),
	}))
	require.NoError(t, err)
	require.Equal(t, at.UnixMilli(), ms)

	var status struct {
		QuestionStartTime int64 `json:"questionStartTime"`
		StartTime         int64 `json:"startTime"`
	}
	require.NoError(t, s.Get(ctx, "quizzes/q1/status", &status))
	require.Equal(t, ms, status.QuestionStartTime)
	require.Equal(t, ms, status.StartTime)
}

func TestStore_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Apply(ctx,
		store.Set("quizzes/q1/registrations/r1/score", 0),
		store.Set("quizzes/q1/registrations/r1/answers/0", map[string]any{"isCorrect": true}),
	)
	require.NoError(t, err)

	// A batch with an unmarshalable value must leave nothing behind.
	_, err = s.Apply(ctx,
		store.Set("quizzes/q1/registrations/r1/score", 10),
		store.Set("quizzes/q1/broken", func() {}),
	)
	require.Error(t, err)

	var score int
	require.NoError(t, s.Get(ctx, "quizzes/q1/registrations/r1/score", &score))
	require.Zero(t, score, "failed batch should not apply partially")
}

func TestStore_Watch(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	events, cancel, err := s.Watch(ctx, "quizzes/q1")
	require.NoError(t, err)
	defer cancel()

	_, err = s.Apply(ctx, store.Set("quizzes/q1/status", map[string]any{"state": "active"}))
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, "quizzes/q1/status", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("expected a watch event")
	}

	// A change outside the watched subtree does not fire.
	_, err = s.Apply(ctx, store.Set("quizzes/q2/status", map[string]any{"state": "waiting"}))
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	cancel() // safe to call twice

	_, ok := <-events
	require.False(t, ok, "channel should be closed after cancel")
}

func TestStore_WatchDropsStaleEvents(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	events, cancel, err := s.Watch(ctx, "quizzes/q1")
	require.NoError(t, err)
	defer cancel()

	// More writes than the watcher buffer; a slow consumer must still get the
	// latest change without blocking the writer.
	for i := 0; i < 50; i++ {
		_, err := s.Apply(ctx, store.Set("quizzes/q1/status/currentQuestion", i))
		require.NoError(t, err)
	}

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected at least one watch event")
	}
}
