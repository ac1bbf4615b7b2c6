package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/analysis"
	"github.com/fyrsmithlabs/courtroomd/internal/config"
	"github.com/fyrsmithlabs/courtroomd/internal/moderation"
	"github.com/fyrsmithlabs/courtroomd/internal/stage"
	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/internal/verdict"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

// cannedJudge returns a fixed judgment response.
type cannedJudge struct {
	response string
	err      error
}

func (c *cannedJudge) Complete(ctx context.Context, system, user string) (string, error) {
	return c.response, c.err
}

func newTestServer(t *testing.T, judge verdict.Completer) *Server {
	t.Helper()
	if judge == nil {
		judge = &cannedJudge{response: "{}"}
	}

	st := store.NewMemoryStore()
	logger := zap.NewNop()
	analyzer := analysis.New(nil)

	stageCfg := stage.DefaultConfig()
	stageCfg.GraceDelay = 20 * time.Millisecond

	machine, err := stage.NewService(stageCfg, st, logger)
	require.NoError(t, err)
	guard, err := moderation.NewGuard(nil, st, analyzer, logger)
	require.NoError(t, err)
	verdicts, err := verdict.NewService(nil, st, analyzer, judge, logger)
	require.NoError(t, err)

	srv, err := NewServer(config.Default(), Deps{
		Store:    st,
		Machine:  machine,
		Guard:    guard,
		Verdicts: verdicts,
		Logger:   logger,
	})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func join(t *testing.T, srv *Server, sessionID, pid, name string) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/sessions/"+sessionID+"/participants",
		`{"id":"`+pid+`","name":"`+name+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewServer(config.Default(), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "courtroomd", resp.Service)
}

func TestJoinAndGetSession(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")
	join(t, srv, "room1", "p2", "B")

	rec := do(t, srv, http.MethodGet, "/sessions/room1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, trial.StageWaiting, resp.State.Stage)
	assert.Len(t, resp.State.Participants, 2)
	assert.Nil(t, resp.Verdict)
}

func TestJoin_RejectsIncompleteBody(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/sessions/room1/participants", `{"id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_UnknownIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvance_HostAuthority(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")
	join(t, srv, "room1", "p2", "B")

	rec := do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/sessions/room1", "")
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, trial.StageIntro, resp.State.Stage)
}

func TestPostMessage_RequiresMembership(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")

	rec := do(t, srv, http.MethodPost, "/sessions/room1/messages",
		`{"author_id":"ghost","text":"hello"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessage_AppendsAndModerates(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")

	rec := do(t, srv, http.MethodPost, "/sessions/room1/messages",
		`{"author_id":"p1","text":"아 씨발"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var posted trial.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	assert.NotEmpty(t, posted.ID)
	assert.Equal(t, trial.StageWaiting, posted.Stage)

	rec = do(t, srv, http.MethodGet, "/sessions/room1", "")
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2, "offending message plus one intervention")
	assert.Equal(t, trial.JudgeID, resp.Messages[1].AuthorID)
	assert.Equal(t, trial.MessageModeration, resp.Messages[1].Type)
}

func TestSetReady_DrivesConsensus(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")

	rec := do(t, srv, http.MethodPut, "/sessions/room1/participants/p1/ready", `{"ready":true}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPut, "/sessions/room1/participants/ghost/ready", `{"ready":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeave_LastNotReadyVoteTriggersConsensus(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")
	join(t, srv, "room1", "p2", "B")

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p1"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := do(t, srv, http.MethodPut, "/sessions/room1/participants/p1/ready", `{"ready":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// p2 was the only not-ready vote; their departure must advance the
	// session without waiting for another readiness write.
	rec = do(t, srv, http.MethodDelete, "/sessions/room1/participants/p2", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/sessions/room1", "")
		var resp sessionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.State.Stage == trial.StageIssues
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGetSession_ResumesTimerLoop(t *testing.T) {
	st := store.NewMemoryStore()
	logger := zap.NewNop()
	analyzer := analysis.New(nil)

	machine, err := stage.NewService(nil, st, logger)
	require.NoError(t, err)
	timer, err := stage.NewTimer(nil, st, machine, logger)
	require.NoError(t, err)
	guard, err := moderation.NewGuard(nil, st, analyzer, logger)
	require.NoError(t, err)
	verdicts, err := verdict.NewService(nil, st, analyzer, &cannedJudge{response: "{}"}, logger)
	require.NoError(t, err)

	srv, err := NewServer(config.Default(), Deps{
		Store:    st,
		Machine:  machine,
		Timer:    timer,
		Guard:    guard,
		Verdicts: verdicts,
		Logger:   logger,
	})
	require.NoError(t, err)

	// A session written by a previous process: no join ever went through
	// this server, so no countdown loop is running for it.
	_, err = machine.Join(context.Background(), "old", trial.Participant{ID: "p1", Name: "A"})
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/sessions/old", "")
	require.Equal(t, http.StatusOK, rec.Code)

	srv.mu.Lock()
	running := srv.timers["old"]
	srv.mu.Unlock()
	assert.True(t, running, "reading a live session must restart its countdown loop")
}

func TestGetSession_CorruptVerdictIsAnError(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")

	require.NoError(t, srv.store.Write(context.Background(),
		trial.VerdictPath("room1"), []byte("not json")))

	rec := do(t, srv, http.MethodGet, "/sessions/room1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code,
		"a verdict record that exists but cannot be decoded must not read as absent")
}

func TestLeave(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")
	join(t, srv, "room1", "p2", "B")

	rec := do(t, srv, http.MethodDelete, "/sessions/room1/participants/p1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/sessions/room1", "")
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.State.Participants, 1)
	assert.Equal(t, "p2", resp.State.Participants[0].ID)
}

func TestVerdict_OutsideClosingIsConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	join(t, srv, "room1", "p1", "A")

	rec := do(t, srv, http.MethodPost, "/sessions/room1/verdict", `{"intensity":"normal"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerdict_FullFlow(t *testing.T) {
	judged := `{
	  "participants": [
	    {"participant_id": "p1", "responsibility": 70, "reasons": ["started it"], "remedy": "apologize"},
	    {"participant_id": "p2", "responsibility": 30, "reasons": ["escalated"], "remedy": "listen first"}
	  ],
	  "summary": "s", "root_cause": "c", "recommendation": "r"
	}`
	srv := newTestServer(t, &cannedJudge{response: judged})
	join(t, srv, "room1", "p1", "A")
	join(t, srv, "room1", "p2", "B")

	// Host drives the session to closing.
	for i := 0; i < 6; i++ {
		rec := do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p1"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := do(t, srv, http.MethodPost, "/sessions/room1/verdict", `{"intensity":"normal","persona":"formal"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var v trial.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Len(t, v.Participants, 2)

	rec = do(t, srv, http.MethodGet, "/sessions/room1", "")
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, trial.StageVerdict, resp.State.Stage)
	require.NotNil(t, resp.Verdict)
	assert.Equal(t, "s", resp.Verdict.Summary)
}

func TestVerdict_BackendFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, &cannedJudge{err: verdict.ErrServiceUnavailable})
	join(t, srv, "room1", "p1", "A")

	for i := 0; i < 6; i++ {
		rec := do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p1"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := do(t, srv, http.MethodPost, "/sessions/room1/verdict", `{}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAppealFlow(t *testing.T) {
	judged := `{
	  "participants": [
	    {"participant_id": "p1", "responsibility": 50, "reasons": ["r"], "remedy": "m"}
	  ],
	  "summary": "s", "root_cause": "c", "recommendation": "r"
	}`
	srv := newTestServer(t, &cannedJudge{response: judged})
	join(t, srv, "room1", "p1", "A")

	for i := 0; i < 6; i++ {
		rec := do(t, srv, http.MethodPost, "/sessions/room1/advance", `{"requested_by":"p1"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := do(t, srv, http.MethodPost, "/sessions/room1/verdict", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/sessions/room1/appeal", `{"participant_id":"p1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/sessions/room1", "")
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, trial.StageOpening, resp.State.Stage)
	assert.Equal(t, 2, resp.State.Round)

	// The branch is one-shot.
	rec = do(t, srv, http.MethodPost, "/sessions/room1/appeal", `{"participant_id":"p1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
