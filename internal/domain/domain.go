package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the session state machine tag stored at quizzes/{id}/status/state.
type State string

const (
	StateWaiting  State = "waiting"
	StateActive   State = "active"
	StateFinished State = "finished"
)

// Status is the per-quiz singleton session record. It is written only by the
// session controller and read by every participant client.
//
// QuestionStartTime and StartTime are unix-millisecond timestamps assigned by
// the store at commit time, nil while the quiz is waiting.
type Status struct {
	State             State  `json:"state"`
	CurrentQuestion   int    `json:"currentQuestion"`
	QuestionStartTime *int64 `json:"questionStartTime"`
	StartTime         *int64 `json:"startTime"`
}

// QuestionStart returns the current question's start instant.
func (s Status) QuestionStart() (time.Time, bool) {
	if s.QuestionStartTime == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.QuestionStartTime), true
}

// Question is a multiple-choice question. Its position in the quiz's question
// list is its identity for scoring and timing.
type Question struct {
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	// TimeLimit overrides the quiz-level question duration, in seconds.
	TimeLimit int `json:"timeLimit,omitempty"`
}

// Quiz is the full document stored at quizzes/{id}.
type Quiz struct {
	ID               string                  `json:"-"`
	Title            string                  `json:"title"`
	Date             string                  `json:"date,omitempty"`
	MaxParticipants  int                     `json:"maxParticipants,omitempty"`
	EntryFee         decimal.Decimal         `json:"entryFee"`
	QuestionDuration int                     `json:"questionDuration,omitempty"`
	CreatedAt        *int64                  `json:"createdAt,omitempty"`
	UpdatedAt        *int64                  `json:"updatedAt,omitempty"`
	Questions        []Question              `json:"questions,omitempty"`
	Status           Status                  `json:"status"`
	Registrations    map[string]Registration `json:"registrations,omitempty"`
}

// Answer records a participant's submission for one question index. At most
// one exists per (registration, index); resubmission overwrites.
type Answer struct {
	SelectedAnswer int  `json:"selectedAnswer"`
	IsCorrect      bool `json:"isCorrect"`
	// TimeToAnswer is the elapsed time from question start to submission, ms.
	TimeToAnswer int64 `json:"timeToAnswer"`
	// AnsweredAt is the store-assigned commit timestamp, unix ms.
	AnsweredAt int64 `json:"answeredAt"`
}

// Registration is a participant's per-quiz record, keyed under
// quizzes/{id}/registrations/{regId}. Answers are keyed by the decimal string
// form of the question index.
type Registration struct {
	ID            string            `json:"-"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Mobile        string            `json:"mobile"`
	RegisteredAt  *int64            `json:"registeredAt,omitempty"`
	PaymentMethod string            `json:"paymentMethod,omitempty"`
	PaymentStatus string            `json:"paymentStatus,omitempty"`
	Score         int               `json:"score"`
	Answers       map[string]Answer `json:"answers,omitempty"`
}

// Standing is one ranked leaderboard row.
type Standing struct {
	Rank             int    `json:"rank"`
	RegistrationID   string `json:"registrationId"`
	Name             string `json:"name"`
	Score            int    `json:"score"`
	CorrectAnswers   int    `json:"correctAnswers"`
	AvgAnswerSeconds int64  `json:"avgAnswerSeconds"`
}

// Leaderboard is the ranked standings for a quiz, score descending with
// average answer time as the tie-break.
type Leaderboard struct {
	QuizID    string     `json:"quizId"`
	Entries   []Standing `json:"entries"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
