package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol-level counters. Labels stay low-cardinality on purpose: per-quiz
// labels would leak unbounded series.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iquiz_sessions_started_total",
		Help: "Quiz sessions moved to active.",
	})

	QuestionsAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iquiz_questions_advanced_total",
		Help: "Organizer-initiated question advances, including the finishing one.",
	})

	SessionsReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iquiz_sessions_reset_total",
		Help: "Quiz sessions reset to waiting.",
	})

	AnswersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iquiz_answers_submitted_total",
		Help: "Answer submissions by outcome.",
	}, []string{"outcome"})

	RegistrationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iquiz_registrations_created_total",
		Help: "Participant registrations created.",
	})

	ParticipantConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iquiz_participant_connections",
		Help: "Open participant/monitor websocket connections.",
	})
)

// Answer outcome label values.
const (
	OutcomeCorrect  = "correct"
	OutcomeWrong    = "wrong"
	OutcomeRejected = "rejected"
)
