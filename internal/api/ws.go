package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/leaderboard"
	"github.com/musudik/iquiz/internal/participant"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/telemetry"
)

const monitorRefresh = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

type answerPayload struct {
	Option int `json:"option"`
}

type answerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	TotalScore    int  `json:"totalScore"`
}

// monitorFrame is the organizer console's snapshot: session status plus the
// current standings, refreshed on every store change and every second.
type monitorFrame struct {
	QuizID           string             `json:"quizId"`
	Status           domain.Status      `json:"status"`
	RemainingSeconds int                `json:"remainingSeconds"`
	TotalQuestions   int                `json:"totalQuestions"`
	Participants     int                `json:"participants"`
	Answered         int                `json:"answered"`
	Leaderboard      domain.Leaderboard `json:"leaderboard"`
}

// serveWS upgrades a quiz websocket. With a participant token the socket is a
// participant session: a view stream out, answer submissions in. Without one
// it is the organizer's monitor stream.
func (a *API) serveWS(c *gin.Context) {
	quizID := c.Param("id")
	linkToken := c.Query("participant")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: ws upgrade failed", "quiz", quizID, "error", err)
		return
	}
	defer conn.Close()

	if linkToken != "" {
		a.serveParticipant(c, conn, quizID, linkToken)
		return
	}
	a.serveMonitor(c, conn, quizID)
}

func (a *API) serveParticipant(c *gin.Context, conn *websocket.Conn, quizID, linkToken string) {
	ctx := c.Request.Context()

	client, err := participant.Join(ctx, participant.Config{Store: a.store, EventBus: a.eb}, quizID, linkToken)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: toErrorPayload(err)})
		return
	}

	views, err := client.Run(ctx)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: toErrorPayload(err)})
		return
	}

	telemetry.ParticipantConnections.Inc()
	defer telemetry.ParticipantConnections.Dec()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	viewsDone := make(chan struct{})

	// Single writer goroutine; gorilla connections do not allow concurrent
	// writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(viewsDone)
		for {
			select {
			case view, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "view", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "joined", Payload: gin.H{
		"quizId":       quizID,
		"registration": client.Registration().ID,
		"name":         client.Registration().Name,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage{Type: "error", Payload: errorPayload{
					Code:    errors.CodeInvalidArgument,
					Message: "invalid answer payload",
				}}
				continue
			}
			answer, err := client.Submit(ctx, payload.Option)
			if err != nil {
				telemetry.AnswersSubmitted.WithLabelValues(telemetry.OutcomeRejected).Inc()
				send <- outboundMessage{Type: "error", Payload: toErrorPayload(err)}
				continue
			}
			outcome := telemetry.OutcomeWrong
			if answer.IsCorrect {
				outcome = telemetry.OutcomeCorrect
			}
			telemetry.AnswersSubmitted.WithLabelValues(outcome).Inc()

			view := client.View(ctx)
			send <- outboundMessage{Type: "answerResult", Payload: answerResult{
				QuestionIndex: view.QuestionIndex,
				Correct:       answer.IsCorrect,
				TotalScore:    view.Score,
			}}
		default:
			send <- outboundMessage{Type: "error", Payload: errorPayload{
				Code:    errors.CodeInvalidArgument,
				Message: "unsupported message type",
			}}
		}
	}

	close(closeSignals)
	<-viewsDone
	close(send)
	<-writerDone
}

func (a *API) serveMonitor(c *gin.Context, conn *websocket.Conn, quizID string) {
	ctx := c.Request.Context()

	events, cancel, err := a.store.Watch(ctx, store.Join("quizzes", quizID))
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer cancel()

	// Reader goroutine only detects the peer going away; the monitor stream is
	// one-directional.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(monitorRefresh)
	defer ticker.Stop()

	emit := func() bool {
		frame, err := a.monitorSnapshot(ctx, quizID)
		if err != nil {
			_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: toErrorPayload(err)})
			return !stderrors.Is(err, domain.ErrQuizNotFound)
		}
		return conn.WriteJSON(outboundMessage{Type: "monitor", Payload: frame}) == nil
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if !emit() {
				return
			}
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}

func (a *API) monitorSnapshot(ctx context.Context, quizID string) (monitorFrame, error) {
	quiz, err := a.qd.Get(ctx, quizID)
	if err != nil {
		return monitorFrame{}, err
	}

	frame := monitorFrame{
		QuizID:         quizID,
		Status:         quiz.Status,
		TotalQuestions: len(quiz.Questions),
		Participants:   len(quiz.Registrations),
		Leaderboard:    leaderboard.Rank(quizID, quiz.Registrations, time.Now()),
	}

	if quiz.Status.State == domain.StateActive {
		idx := quiz.Status.CurrentQuestion
		if start, ok := quiz.Status.QuestionStart(); ok {
			frame.RemainingSeconds = participant.RemainingSeconds(start, participant.QuestionDuration(quiz, idx), time.Now())
		}
		key := strconv.Itoa(idx)
		for _, reg := range quiz.Registrations {
			if _, ok := reg.Answers[key]; ok {
				frame.Answered++
			}
		}
	}
	return frame, nil
}

func toErrorPayload(err error) errorPayload {
	e := errors.Convert(err)
	return errorPayload{Code: e.Code, Message: e.Message}
}
