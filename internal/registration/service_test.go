package registration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/registration"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/store/memstore"
	"github.com/musudik/iquiz/internal/token"
)

func makeService(t *testing.T, eb *event.Bus) (store.Client, *registration.Service) {
	t.Helper()

	st := memstore.New()
	_, err := st.Apply(context.Background(), store.Set("quizzes/q1", map[string]any{
		"title":           "Trivia",
		"date":            "2026-08-28",
		"maxParticipants": 2,
		"entryFee":        "5",
		"status":          map[string]any{"state": domain.StateWaiting},
	}))
	require.NoError(t, err)

	return st, registration.NewService(registration.Config{
		Store:    st,
		EventBus: eb,
		BaseURL:  "https://quiz.example.com/",
	})
}

func validRequest() registration.RegisterRequest {
	return registration.RegisterRequest{
		Name:          "Alice",
		Email:         "alice@example.com",
		Mobile:        "+49 171 123 4567",
		PaymentMethod: "paypal",
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	st, svc := makeService(t, nil)

	resp, err := svc.Register(ctx, "q1", validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Registration.ID)
	require.Equal(t, "completed", resp.Registration.PaymentStatus)
	require.NotNil(t, resp.Registration.RegisteredAt)

	wantLink := "https://quiz.example.com/quiz/q1?participant=" + token.Encode("alice@example.com", "Alice")
	require.Equal(t, wantLink, resp.JoinLink)

	var reg domain.Registration
	require.NoError(t, st.Get(ctx, "quizzes/q1/registrations/"+resp.Registration.ID, &reg))
	require.Equal(t, "Alice", reg.Name)
	require.Zero(t, reg.Score)

	_, err = svc.Register(ctx, "missing", validRequest())
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestService_Register_Validation(t *testing.T) {
	tests := map[string]func(r *registration.RegisterRequest){
		"empty name":      func(r *registration.RegisterRequest) { r.Name = "  " },
		"invalid email":   func(r *registration.RegisterRequest) { r.Email = "not-an-email" },
		"email no domain": func(r *registration.RegisterRequest) { r.Email = "alice@nodot" },
		"short mobile":    func(r *registration.RegisterRequest) { r.Mobile = "12345" },
		"mobile letters":  func(r *registration.RegisterRequest) { r.Mobile = "call me maybe" },
	}

	for name, mutate := range tests {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, svc := makeService(t, nil)

			req := validRequest()
			mutate(&req)

			_, err := svc.Register(context.Background(), "q1", req)
			require.Error(t, err)
			require.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
		})
	}
}

func TestService_Register_CapEnforced(t *testing.T) {
	ctx := context.Background()
	_, svc := makeService(t, nil)

	_, err := svc.Register(ctx, "q1", validRequest())
	require.NoError(t, err)

	second := validRequest()
	second.Name = "Bob"
	second.Email = "bob@example.com"
	_, err = svc.Register(ctx, "q1", second)
	require.NoError(t, err)

	third := validRequest()
	third.Name = "Carol"
	third.Email = "carol@example.com"
	_, err = svc.Register(ctx, "q1", third)
	require.ErrorIs(t, err, domain.ErrQuizFull)
}

func TestService_Register_PublishesEvent(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventRegistrationCreated
	)
	eb.Subscribe(domain.EventNameRegistrationCreated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventRegistrationCreated))
		mu.Unlock()
		return nil
	})

	_, svc := makeService(t, eb)
	resp, err := svc.Register(context.Background(), "q1", validRequest())
	require.NoError(t, err)

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, "q1", events[0].QuizID)
	require.Equal(t, "Trivia", events[0].QuizTitle)
	require.Equal(t, "5", events[0].EntryFee)
	require.Equal(t, resp.JoinLink, events[0].JoinLink)
}

func TestService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	clock := time.UnixMilli(1726000000000)
	_, err := st.Apply(ctx, store.Set("quizzes/q1", map[string]any{
		"title": "Trivia",
		"registrations": map[string]any{
			"r1": map[string]any{"name": "Alice", "email": "alice@example.com", "registeredAt": clock.UnixMilli()},
			"r2": map[string]any{"name": "Bob", "email": "bob@example.com", "registeredAt": clock.Add(time.Minute).UnixMilli()},
		},
	}))
	require.NoError(t, err)

	svc := registration.NewService(registration.Config{Store: st, BaseURL: "https://quiz.example.com"})

	regs, err := svc.List(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, "Bob", regs[0].Name, "most recent first")
	require.Equal(t, "Alice", regs[1].Name)

	require.NoError(t, svc.Delete(ctx, "q1", "r1"))
	require.ErrorIs(t, svc.Delete(ctx, "q1", "r1"), domain.ErrRegistrationNotFound)

	regs, err = svc.List(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, regs, 1)
}
