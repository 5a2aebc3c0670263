// Package demo runs the whole quiz protocol in one process over the memory
// store: create a quiz, register participants, run a session from start to
// finish, then reset it. It doubles as living documentation of the flow.
package demo

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/leaderboard"
	"github.com/musudik/iquiz/internal/participant"
	"github.com/musudik/iquiz/internal/quizdef"
	"github.com/musudik/iquiz/internal/registration"
	"github.com/musudik/iquiz/internal/session"
	"github.com/musudik/iquiz/internal/store/memstore"
)

func TestQuizProtocol(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := memstore.New()
	eb := event.NewBus()
	defer eb.Stop()

	var (
		mu       sync.Mutex
		finished []string
	)
	eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		finished = append(finished, e.(domain.EventSessionFinished).QuizID)
		mu.Unlock()
		return nil
	})

	qd := quizdef.NewService(quizdef.Config{Store: st})
	ss := session.NewService(session.Config{Store: st, EventBus: eb})
	rs := registration.NewService(registration.Config{
		Store:    st,
		EventBus: eb,
		BaseURL:  "https://quiz.example.com",
	})

	// Organizer sets up the quiz.
	quiz, err := qd.Create(ctx, quizdef.QuizRequest{
		Title:            "Friday Trivia",
		Date:             "2026-08-28",
		MaxParticipants:  10,
		EntryFee:         decimal.NewFromInt(5),
		QuestionDuration: 20,
	})
	require.NoError(t, err)

	require.NoError(t, qd.SetQuestions(ctx, quiz.ID, []domain.Question{
		{Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: 1},
		{Text: "Capital of France?", Options: []string{"Paris", "Rome", "Oslo"}, CorrectAnswer: 0},
		{Text: "Largest planet?", Options: []string{"Mars", "Venus", "Jupiter"}, CorrectAnswer: 2},
	}))

	// Participants register and join through their links.
	people := []struct {
		name  string
		email string
	}{
		{"Alice", "alice@example.com"},
		{"Bob", "bob@example.com"},
		{"Carol", "carol@example.com"},
	}

	clients := make(map[string]*participant.Client, len(people))
	for _, p := range people {
		resp, err := rs.Register(ctx, quiz.ID, registration.RegisterRequest{
			Name:          p.name,
			Email:         p.email,
			Mobile:        "+49 171 000 0000",
			PaymentMethod: "paypal",
		})
		require.NoError(t, err)

		_, linkToken, ok := strings.Cut(resp.JoinLink, "participant=")
		require.True(t, ok, "join link should carry the participant token")

		client, err := participant.Join(ctx, participant.Config{Store: st, EventBus: eb}, quiz.ID, linkToken)
		require.NoError(t, err)
		clients[p.name] = client
	}

	// Before the start every participant sees the waiting screen.
	for name, client := range clients {
		view := client.View(ctx)
		require.Equal(t, participant.PhaseWaiting, view.Phase, "participant %s", name)
	}

	status, err := ss.Start(ctx, quiz.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, status.State)
	require.NotNil(t, status.QuestionStartTime)

	// Three questions; everyone answers concurrently. Alice always picks the
	// correct option, Bob picks option 0, Carol answers question 1 twice and
	// only her last answer counts.
	answers := map[string][]int{
		"Alice": {1, 0, 2},
		"Bob":   {0, 0, 0},
		"Carol": {0, 0, 1},
	}

	for q := 0; q < 3; q++ {
		var eg errgroup.Group
		for name, client := range clients {
			name, client := name, client
			eg.Go(func() error {
				_, err := client.Submit(ctx, answers[name][q])
				return err
			})
		}
		require.NoError(t, eg.Wait())

		if q == 1 {
			// Resubmission overwrites.
			ans, err := clients["Carol"].Submit(ctx, 0)
			require.NoError(t, err)
			require.True(t, ans.IsCorrect)
		}

		status, err = ss.Advance(ctx, quiz.ID)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StateFinished, status.State)

	for name, client := range clients {
		view := client.View(ctx)
		require.Equal(t, participant.PhaseFinished, view.Phase, "participant %s", name)
	}

	// Alice: 3 correct. Bob: 1 (question 1, option 0). Carol: 1 after the
	// overwrite.
	final, err := qd.Get(ctx, quiz.ID)
	require.NoError(t, err)
	lb := leaderboard.Rank(quiz.ID, final.Registrations, time.Now())
	require.Len(t, lb.Entries, 3)
	require.Equal(t, "Alice", lb.Entries[0].Name)
	require.Equal(t, 3*participant.PointsPerCorrect, lb.Entries[0].Score)
	require.Equal(t, participant.PointsPerCorrect, lb.Entries[1].Score)
	require.Equal(t, participant.PointsPerCorrect, lb.Entries[2].Score)

	// Reset wipes scores and answers and returns the quiz to waiting.
	status, err = ss.Reset(ctx, quiz.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateWaiting, status.State)

	reset, err := qd.Get(ctx, quiz.ID)
	require.NoError(t, err)
	for id, reg := range reset.Registrations {
		require.Zero(t, reg.Score, "registration %s", id)
		require.Empty(t, reg.Answers, "registration %s", id)
	}

	eb.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{quiz.ID}, finished)
}
