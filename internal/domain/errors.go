package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz document does not exist.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidLink is returned when a participant link token cannot be decoded.
	ErrInvalidLink = errors.New("invalid quiz link")
	// ErrInvalidRegistration is returned when a decoded identity matches no registration.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrRegistrationNotFound indicates a registration key does not exist.
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrNoQuestions is returned when starting a quiz with an empty question bank.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrAlreadyActive is returned when starting a quiz that is already running.
	ErrAlreadyActive = errors.New("quiz is already active")
	// ErrNotActive is returned when advancing or answering a quiz that is not running.
	ErrNotActive = errors.New("quiz is not active")
	// ErrQuestionNotFound indicates the current question index has no question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrTimeExpired rejects answers submitted after the question timer reached zero.
	ErrTimeExpired = errors.New("time for this question has expired")
	// ErrInvalidOption is returned when a selected option index is out of range.
	ErrInvalidOption = errors.New("selected option out of range")
	// ErrQuizFull is returned when a quiz reached its participant cap.
	ErrQuizFull = errors.New("quiz is full")
)
