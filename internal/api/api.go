// Package api is the HTTP surface: REST for the organizer console and the
// registration flow, websockets for the realtime participant and monitor
// screens, and the per-user pub/sub notification fan-out.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/musudik/iquiz/internal/analytics"
	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/leaderboard"
	"github.com/musudik/iquiz/internal/quizdef"
	"github.com/musudik/iquiz/internal/registration"
	"github.com/musudik/iquiz/internal/session"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/telemetry"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Store        store.Client
	QuizDef      *quizdef.Service
	Session      *session.Service
	Registration *registration.Service
	Leaderboard  *leaderboard.Service
	// Analytics is nil when no Postgres is configured; the results endpoint
	// then reports the feature as unavailable.
	Analytics    *analytics.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	store store.Client
	eb    *event.Bus
	qd    *quizdef.Service
	ss    *session.Service
	rs    *registration.Service
	ls    *leaderboard.Service
	as    *analytics.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		store:  c.Store,
		eb:     c.EventBus,
		qd:     c.QuizDef,
		ss:     c.Session,
		rs:     c.Registration,
		ls:     c.Leaderboard,
		as:     c.Analytics,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.registerRoutes(c.Engine)

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

func (a *API) registerRoutes(e *gin.Engine) {
	g := e.Group("/api")

	g.POST("/quizzes", a.createQuiz)
	g.GET("/quizzes", a.listQuizzes)
	g.GET("/quizzes/:id", a.getQuiz)
	g.PUT("/quizzes/:id", a.updateQuiz)
	g.DELETE("/quizzes/:id", a.deleteQuiz)
	g.PUT("/quizzes/:id/questions", a.setQuestions)

	g.POST("/quizzes/:id/registrations", a.register)
	g.GET("/quizzes/:id/registrations", a.listRegistrations)
	g.DELETE("/quizzes/:id/registrations/:regID", a.deleteRegistration)
	g.GET("/quizzes/:id/registrations/:regID/qr", a.registrationQR)

	g.POST("/quizzes/:id/start", a.startQuiz)
	g.POST("/quizzes/:id/advance", a.advanceQuiz)
	g.POST("/quizzes/:id/reset", a.resetQuiz)

	g.GET("/quizzes/:id/leaderboard", a.getLeaderboard)
	g.GET("/quizzes/:id/results", a.getResults)

	e.GET("/ws/quizzes/:id", a.serveWS)
}

// quizView is the organizer-facing quiz representation; registrations stay on
// their own endpoint and the correct answers stay off the participant wire.
type quizView struct {
	ID string `json:"id"`
	domain.Quiz
	Participants  int `json:"registeredParticipants"`
	QuestionCount int `json:"questionCount"`
}

func toQuizView(q domain.Quiz) quizView {
	v := quizView{
		ID:            q.ID,
		Quiz:          q,
		Participants:  len(q.Registrations),
		QuestionCount: len(q.Questions),
	}
	v.Quiz.Registrations = nil
	return v
}

func (a *API) createQuiz(c *gin.Context) {
	var req quizdef.QuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid quiz payload: %v", err)))
		return
	}

	quiz, err := a.qd.Create(c.Request.Context(), req)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toQuizView(quiz))
}

func (a *API) listQuizzes(c *gin.Context) {
	quizzes, err := a.qd.List(c.Request.Context())
	if err != nil {
		a.abort(c, err)
		return
	}

	views := make([]quizView, 0, len(quizzes))
	for _, q := range quizzes {
		views = append(views, toQuizView(q))
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) getQuiz(c *gin.Context) {
	quiz, err := a.qd.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuizView(quiz))
}

func (a *API) updateQuiz(c *gin.Context) {
	var req quizdef.QuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid quiz payload: %v", err)))
		return
	}

	quiz, err := a.qd.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuizView(quiz))
}

func (a *API) deleteQuiz(c *gin.Context) {
	if err := a.qd.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) setQuestions(c *gin.Context) {
	var questions []domain.Question
	if err := c.ShouldBindJSON(&questions); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid questions payload: %v", err)))
		return
	}

	if err := a.qd.SetQuestions(c.Request.Context(), c.Param("id"), questions); err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": len(questions)})
}

func (a *API) register(c *gin.Context) {
	var req registration.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid registration payload: %v", err)))
		return
	}

	resp, err := a.rs.Register(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.abort(c, err)
		return
	}
	telemetry.RegistrationsCreated.Inc()

	reg := resp.Registration
	c.JSON(http.StatusCreated, gin.H{
		"id":       reg.ID,
		"name":     reg.Name,
		"email":    reg.Email,
		"joinLink": resp.JoinLink,
	})
}

func (a *API) listRegistrations(c *gin.Context) {
	regs, err := a.rs.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}

	type regView struct {
		ID string `json:"id"`
		domain.Registration
	}
	views := make([]regView, 0, len(regs))
	for _, reg := range regs {
		views = append(views, regView{ID: reg.ID, Registration: reg})
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) deleteRegistration(c *gin.Context) {
	if err := a.rs.Delete(c.Request.Context(), c.Param("id"), c.Param("regID")); err != nil {
		a.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) registrationQR(c *gin.Context) {
	quizID := c.Param("id")
	var reg domain.Registration
	err := a.store.Get(c.Request.Context(), store.Join("quizzes", quizID, "registrations", c.Param("regID")), &reg)
	if store.IsNotFound(err) {
		a.abort(c, domain.ErrRegistrationNotFound)
		return
	}
	if err != nil {
		a.abort(c, err)
		return
	}

	png, err := registration.QRCode(a.rs.JoinLink(quizID, reg.Email, reg.Name), 0)
	if err != nil {
		a.abort(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) startQuiz(c *gin.Context) {
	status, err := a.ss.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}
	telemetry.SessionsStarted.Inc()
	c.JSON(http.StatusOK, status)
}

func (a *API) advanceQuiz(c *gin.Context) {
	status, err := a.ss.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}
	telemetry.QuestionsAdvanced.Inc()
	c.JSON(http.StatusOK, status)
}

func (a *API) resetQuiz(c *gin.Context) {
	status, err := a.ss.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}
	telemetry.SessionsReset.Inc()
	c.JSON(http.StatusOK, status)
}

func (a *API) getLeaderboard(c *gin.Context) {
	if c.Query("live") != "" {
		entries, err := a.ls.Live(c.Request.Context(), c.Param("id"))
		if err != nil {
			a.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"quizId": c.Param("id"), "entries": entries})
		return
	}

	lb, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{QuizID: c.Param("id")})
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (a *API) getResults(c *gin.Context) {
	if a.as == nil {
		a.abort(c, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("results storage is not configured")))
		return
	}

	results, err := a.as.ListResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *API) abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
