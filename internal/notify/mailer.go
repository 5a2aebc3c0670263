// Package notify posts registration confirmations to the external mailer.
// The call is fire-and-forget: it runs off an event after the registration
// write already succeeded, and a mailer failure is logged, never surfaced to
// the participant flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
)

const requestTimeout = 10 * time.Second

type Config struct {
	EventBus *event.Bus
	// Endpoint is the mailer's send-email URL. Empty disables the mailer.
	Endpoint string
	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

type Mailer struct {
	endpoint string
	client   *http.Client
}

func NewMailer(c Config) *Mailer {
	m := &Mailer{
		endpoint: c.Endpoint,
		client:   c.HTTPClient,
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: requestTimeout}
	}

	if c.EventBus != nil && m.endpoint != "" {
		c.EventBus.Subscribe(domain.EventNameRegistrationCreated, func(ctx context.Context, e event.Event) error {
			return m.SendConfirmation(ctx, e.(domain.EventRegistrationCreated))
		})
	}
	return m
}

type emailRequest struct {
	To        string `json:"to"`
	Name      string `json:"name"`
	QuizTitle string `json:"quizTitle"`
	QuizDate  string `json:"quizDate"`
	Fees      string `json:"fees"`
	QuizLink  string `json:"quizLink"`
	EmailType string `json:"emailType"`
}

// SendConfirmation posts the registration-confirmation request to the mailer.
func (m *Mailer) SendConfirmation(ctx context.Context, e domain.EventRegistrationCreated) error {
	body, err := json.Marshal(emailRequest{
		To:        e.Registration.Email,
		Name:      e.Registration.Name,
		QuizTitle: e.QuizTitle,
		QuizDate:  e.QuizDate,
		Fees:      e.EntryFee,
		QuizLink:  e.JoinLink,
		EmailType: "registration-confirmation",
	})
	if err != nil {
		return fmt.Errorf("notify: encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: mailer responded %d", resp.StatusCode)
	}

	slog.InfoContext(ctx, "notify: confirmation sent", "quiz", e.QuizID, "to", e.Registration.Email)
	return nil
}
