package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/session"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/store/memstore"
)

func TestTransition(t *testing.T) {
	active := func(q int) domain.Status {
		return domain.Status{State: domain.StateActive, CurrentQuestion: q}
	}

	tests := map[string]struct {
		cur       domain.Status
		action    session.Action
		questions int
		want      domain.Status
		wantErr   error
	}{
		"start from waiting": {
			cur:       domain.Status{State: domain.StateWaiting},
			action:    session.ActionStart,
			questions: 3,
			want:      active(0),
		},
		"start restarts a finished quiz": {
			cur:       domain.Status{State: domain.StateFinished, CurrentQuestion: 2},
			action:    session.ActionStart,
			questions: 3,
			want:      active(0),
		},
		"start while active is rejected": {
			cur:       active(1),
			action:    session.ActionStart,
			questions: 3,
			wantErr:   domain.ErrAlreadyActive,
		},
		"start without questions is rejected": {
			cur:       domain.Status{State: domain.StateWaiting},
			action:    session.ActionStart,
			questions: 0,
			wantErr:   domain.ErrNoQuestions,
		},
		"advance moves to the next question": {
			cur:       active(0),
			action:    session.ActionAdvance,
			questions: 3,
			want:      active(1),
		},
		"advance on the last question finishes": {
			cur:       active(2),
			action:    session.ActionAdvance,
			questions: 3,
			want:      domain.Status{State: domain.StateFinished, CurrentQuestion: 2},
		},
		"advance while waiting is rejected": {
			cur:       domain.Status{State: domain.StateWaiting},
			action:    session.ActionAdvance,
			questions: 3,
			wantErr:   domain.ErrNotActive,
		},
		"advance while finished is rejected": {
			cur:       domain.Status{State: domain.StateFinished, CurrentQuestion: 2},
			action:    session.ActionAdvance,
			questions: 3,
			wantErr:   domain.ErrNotActive,
		},
		"reset from any state": {
			cur:       active(2),
			action:    session.ActionReset,
			questions: 3,
			want:      domain.Status{State: domain.StateWaiting},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := session.Transition(tt.cur, tt.action, tt.questions)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()
	st, svc := makeService(t, nil)
	seedQuiz(t, st, 2)

	status, err := svc.Start(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, status.State)
	require.Zero(t, status.CurrentQuestion)
	require.NotNil(t, status.StartTime)
	require.NotNil(t, status.QuestionStartTime)

	// The stored status carries the same stamped instants.
	var stored domain.Status
	require.NoError(t, st.Get(ctx, "quizzes/q1/status", &stored))
	require.Equal(t, status, stored)

	_, err = svc.Start(ctx, "q1")
	require.ErrorIs(t, err, domain.ErrAlreadyActive)

	_, err = svc.Start(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestService_Start_NoQuestions(t *testing.T) {
	ctx := context.Background()
	st, svc := makeService(t, nil)
	seedQuiz(t, st, 0)

	_, err := svc.Start(ctx, "q1")
	require.ErrorIs(t, err, domain.ErrNoQuestions)
}

func TestService_Advance(t *testing.T) {
	ctx := context.Background()
	st, svc := makeService(t, nil)
	seedQuiz(t, st, 2)

	_, err := svc.Advance(ctx, "q1")
	require.ErrorIs(t, err, domain.ErrNotActive)

	first, err := svc.Start(ctx, "q1")
	require.NoError(t, err)

	second, err := svc.Advance(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, second.State)
	require.Equal(t, 1, second.CurrentQuestion)
	require.NotNil(t, second.QuestionStartTime)
	require.Equal(t, first.StartTime, second.StartTime, "advance must not restamp the session start")

	final, err := svc.Advance(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, domain.StateFinished, final.State)
	require.Equal(t, 1, final.CurrentQuestion)

	var stored domain.Status
	require.NoError(t, st.Get(ctx, "quizzes/q1/status", &stored))
	require.Equal(t, domain.StateFinished, stored.State)
	require.Equal(t, second.QuestionStartTime, stored.QuestionStartTime,
		"finishing must not restamp the question start")
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	st, svc := makeService(t, nil)
	seedQuiz(t, st, 2)

	_, err := st.Apply(ctx,
		store.Set("quizzes/q1/registrations/r1/score", 20),
		store.Set("quizzes/q1/registrations/r1/answers/0", map[string]any{"isCorrect": true}),
		store.Set("quizzes/q1/registrations/r2/score", 10),
	)
	require.NoError(t, err)

	_, err = svc.Start(ctx, "q1")
	require.NoError(t, err)

	status, err := svc.Reset(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, domain.StateWaiting, status.State)

	var quiz domain.Quiz
	require.NoError(t, st.Get(ctx, "quizzes/q1", &quiz))
	require.Equal(t, domain.StateWaiting, quiz.Status.State)
	require.Nil(t, quiz.Status.StartTime)
	require.Nil(t, quiz.Status.QuestionStartTime)
	for id, reg := range quiz.Registrations {
		require.Zero(t, reg.Score, "registration %s", id)
		require.Empty(t, reg.Answers, "registration %s", id)
	}
}

func TestService_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu    sync.Mutex
		names []string
	)
	record := func(name string) {
		eb.Subscribe(name, func(ctx context.Context, e event.Event) error {
			mu.Lock()
			names = append(names, e.Name())
			mu.Unlock()
			return nil
		})
	}
	record(domain.EventNameSessionStarted)
	record(domain.EventNameQuestionAdvanced)
	record(domain.EventNameSessionFinished)
	record(domain.EventNameSessionReset)

	st, svc := makeService(t, eb)
	seedQuiz(t, st, 2)

	_, err := svc.Start(ctx, "q1")
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "q1")
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "q1")
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "q1")
	require.NoError(t, err)

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{
		domain.EventNameSessionStarted,
		domain.EventNameQuestionAdvanced,
		domain.EventNameSessionFinished,
		domain.EventNameSessionReset,
	}, names)
}

func makeService(t *testing.T, eb *event.Bus) (store.Client, *session.Service) {
	t.Helper()

	st := memstore.New(memstore.WithClock(func() time.Time {
		return time.UnixMilli(1726000000000)
	}))
	return st, session.NewService(session.Config{Store: st, EventBus: eb})
}

func seedQuiz(t *testing.T, st store.Client, questions int) {
	t.Helper()

	qs := make([]map[string]any, 0, questions)
	for i := 0; i < questions; i++ {
		qs = append(qs, map[string]any{
			"question":      "Question?",
			"options":       []string{"a", "b"},
			"correctAnswer": 0,
		})
	}

	_, err := st.Apply(context.Background(), store.Set("quizzes/q1", map[string]any{
		"title":     "Trivia",
		"questions": qs,
		"status": map[string]any{
			"state":           domain.StateWaiting,
			"currentQuestion": 0,
		},
		"registrations": map[string]any{
			"r1": map[string]any{"name": "Alice", "email": "alice@example.com", "score": 0},
			"r2": map[string]any{"name": "Bob", "email": "bob@example.com", "score": 0},
		},
	}))
	require.NoError(t, err)
}
