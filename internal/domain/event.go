package domain

import "time"

const (
	EventNameSessionStarted      = "session.started"
	EventNameQuestionAdvanced    = "session.question_advanced"
	EventNameSessionFinished     = "session.finished"
	EventNameSessionReset        = "session.reset"
	EventNameScoreUpdated        = "score.updated"
	EventNameLeaderboardUpdated  = "leaderboard.updated"
	EventNameRegistrationCreated = "registration.created"
)

type EventSessionStarted struct {
	QuizID string
	Status Status
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventQuestionAdvanced struct {
	QuizID string
	Status Status
}

func (EventQuestionAdvanced) Name() string { return EventNameQuestionAdvanced }

type EventSessionFinished struct {
	QuizID string
	Status Status
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventSessionReset struct {
	QuizID string
}

func (EventSessionReset) Name() string { return EventNameSessionReset }

type EventScoreUpdated struct {
	QuizID         string
	RegistrationID string
	ParticipantName string
	Score          int
	UpdateTime     time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventRegistrationCreated struct {
	QuizID       string
	QuizTitle    string
	QuizDate     string
	EntryFee     string
	Registration Registration
	JoinLink     string
}

func (EventRegistrationCreated) Name() string { return EventNameRegistrationCreated }
