package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/stage"
	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/internal/verdict"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

type joinRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type advanceRequest struct {
	RequestedBy string `json:"requested_by"`
}

type appealRequest struct {
	ParticipantID string `json:"participant_id"`
}

type messageRequest struct {
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
	Type     string `json:"type"`
}

type verdictRequest struct {
	Intensity string `json:"intensity"`
	Persona   string `json:"persona"`
}

type sessionResponse struct {
	State    *trial.SessionState `json:"state"`
	Messages []trial.Message     `json:"messages"`
	Verdict  *trial.Verdict      `json:"verdict,omitempty"`
}

func (s *Server) handleJoin(c echo.Context) error {
	sessionID := c.Param("id")

	var req joinRequest
	if err := c.Bind(&req); err != nil || req.ID == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and name are required")
	}

	state, err := s.machine.Join(c.Request().Context(), sessionID, trial.Participant{
		ID:       req.ID,
		Name:     req.Name,
		JoinedAt: time.Now(),
	})
	if err != nil {
		return s.mapError(err)
	}

	s.ensureTimerLoop(sessionID)

	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleLeave(c echo.Context) error {
	sessionID := c.Param("id")

	err := s.machine.Leave(c.Request().Context(), sessionID, c.Param("pid"))
	if err != nil {
		return s.mapError(err)
	}

	// The departed participant may have been the last not-ready vote;
	// consensus has to be re-evaluated without waiting for the next
	// readiness write.
	s.checkConsensus(sessionID)

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSetReady(c echo.Context) error {
	sessionID := c.Param("id")
	participantID := c.Param("pid")

	var req readyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := s.machine.SetReady(c.Request().Context(), sessionID, participantID, req.Ready); err != nil {
		return s.mapError(err)
	}

	s.checkConsensus(sessionID)

	return c.NoContent(http.StatusNoContent)
}

// checkConsensus evaluates consensus off the request path: the grace
// delay is cosmetic and must not stall the triggering response.
func (s *Server) checkConsensus(sessionID string) {
	go func() {
		if _, err := s.machine.CheckConsensusAndAdvance(s.baseCtx, sessionID); err != nil {
			s.logger.Warn("consensus check failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

func (s *Server) handleAdvance(c echo.Context) error {
	sessionID := c.Param("id")

	var req advanceRequest
	if err := c.Bind(&req); err != nil || req.RequestedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requested_by is required")
	}

	state, err := s.machine.State(c.Request().Context(), sessionID)
	if err != nil {
		return s.mapError(err)
	}

	err = s.machine.Advance(c.Request().Context(), sessionID, stage.AdvanceRequest{
		From:        state.Stage,
		RequestedBy: req.RequestedBy,
		Reason:      stage.ReasonHost,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAppeal(c echo.Context) error {
	var req appealRequest
	if err := c.Bind(&req); err != nil || req.ParticipantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "participant_id is required")
	}

	err := s.machine.RequestAppeal(c.Request().Context(), c.Param("id"), req.ParticipantID)
	if err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePostMessage(c echo.Context) error {
	sessionID := c.Param("id")

	var req messageRequest
	if err := c.Bind(&req); err != nil || req.AuthorID == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "author_id and text are required")
	}

	ctx := c.Request().Context()
	state, err := s.machine.State(ctx, sessionID)
	if err != nil {
		return s.mapError(err)
	}
	if !state.Present(req.AuthorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not a session participant")
	}

	msgType := trial.MessageType(req.Type)
	if req.Type == "" {
		msgType = trial.MessageNormal
	}

	msg := trial.Message{
		ID:       uuid.New().String(),
		AuthorID: req.AuthorID,
		Stage:    state.Stage,
		Round:    state.Round,
		Text:     req.Text,
		Type:     msgType,
		SentAt:   time.Now(),
	}

	if err := trial.AppendMessage(ctx, s.store, sessionID, msg); err != nil {
		return s.mapError(err)
	}

	if err := s.guard.OnNewMessage(ctx, sessionID, msg); err != nil {
		s.logger.Warn("moderation check failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleVerdict(c echo.Context) error {
	var req verdictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	v, err := s.verdicts.Judge(c.Request().Context(), c.Param("id"), verdict.Options{
		Intensity: req.Intensity,
		Persona:   req.Persona,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sessionID := c.Param("id")
	ctx := c.Request().Context()

	state, err := s.machine.State(ctx, sessionID)
	if err != nil {
		return s.mapError(err)
	}

	// Sessions that predate this process (replicated store, daemon
	// restart) get their countdown loop back on first read.
	s.ensureTimerLoop(sessionID)

	messages, err := trial.LoadMessages(ctx, s.store, sessionID)
	if err != nil {
		return s.mapError(err)
	}

	resp := sessionResponse{State: state, Messages: messages}
	v, err := s.verdicts.Verdict(ctx, sessionID)
	switch {
	case err == nil:
		resp.Verdict = v
	case errors.Is(err, store.ErrNotFound):
		// No verdict yet.
	default:
		return s.mapError(err)
	}

	return c.JSON(http.StatusOK, resp)
}

// ensureTimerLoop keeps an authoritative countdown running for the
// session. The daemon acts on behalf of whichever participant is host;
// when the host changes, the inner run returns and the loop re-elects.
func (s *Server) ensureTimerLoop(sessionID string) {
	if s.timer == nil {
		return
	}

	s.mu.Lock()
	if s.timers[sessionID] {
		s.mu.Unlock()
		return
	}
	s.timers[sessionID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.timers, sessionID)
			s.mu.Unlock()
		}()

		for {
			state, err := s.machine.State(s.baseCtx, sessionID)
			if err != nil {
				return
			}
			host, ok := state.Host()
			if !ok {
				return
			}
			if err := s.timer.Run(s.baseCtx, sessionID, host.ID); err != nil {
				return
			}
		}
	}()
}

// mapError translates core failures into HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, stage.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, stage.ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, stage.ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, stage.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, verdict.ErrStaleResponse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, verdict.ErrMalformedVerdict):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, verdict.ErrServiceUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return err
}
