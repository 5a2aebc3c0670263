package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/notify"
)

func TestMailer_SendConfirmation(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		seen = append(seen, body)
		mu.Unlock()
	}))
	defer srv.Close()

	m := notify.NewMailer(notify.Config{Endpoint: srv.URL})

	err := m.SendConfirmation(context.Background(), domain.EventRegistrationCreated{
		QuizID:    "q1",
		QuizTitle: "Trivia",
		QuizDate:  "2026-08-28",
		EntryFee:  "5",
		Registration: domain.Registration{
			Name:  "Alice",
			Email: "alice@example.com",
		},
		JoinLink: "https://quiz.example.com/quiz/q1?participant=abc",
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Equal(t, "alice@example.com", seen[0]["to"])
	require.Equal(t, "Trivia", seen[0]["quizTitle"])
	require.Equal(t, "registration-confirmation", seen[0]["emailType"])
}

func TestMailer_SendConfirmation_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := notify.NewMailer(notify.Config{Endpoint: srv.URL})
	err := m.SendConfirmation(context.Background(), domain.EventRegistrationCreated{})
	require.Error(t, err)
}

func TestMailer_SubscribesOnlyWithEndpoint(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	eb := event.NewBus()
	notify.NewMailer(notify.Config{EventBus: eb, Endpoint: srv.URL})

	// A mailer without an endpoint stays off the bus.
	notify.NewMailer(notify.Config{EventBus: eb})

	eb.Publish(context.Background(), domain.EventRegistrationCreated{
		QuizID:       "q1",
		Registration: domain.Registration{Email: "alice@example.com"},
	})
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}
