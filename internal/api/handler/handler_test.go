package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

type stubRunner struct {
	organize    *domain.OrganizeResult
	organizeErr error
	execute     *domain.ExecuteResult
	executeErr  error

	executed []string
}

func (s *stubRunner) OrganizeNotes(context.Context) (*domain.OrganizeResult, error) {
	return s.organize, s.organizeErr
}

func (s *stubRunner) Execute(_ context.Context, message string) (*domain.ExecuteResult, error) {
	s.executed = append(s.executed, message)
	return s.execute, s.executeErr
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := &HealthHandler{now: func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "obsidian-remote-cli", body["service"])
	assert.Equal(t, "2026-10-17T12:00:00Z", body["timestamp"])
}

func TestOrganize_Empty(t *testing.T) {
	h := NewNotesHandler(&stubRunner{organize: &domain.OrganizeResult{Notes: []string{}}}, 0, zap.NewNop())
	rec := httptest.NewRecorder()
	h.OrganizeNotes(rec, httptest.NewRequest(http.MethodPost, "/organize-notes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(0), body["notes_organized"])
	assert.NotContains(t, body, "notes")
}

func TestOrganize_Success(t *testing.T) {
	runner := &stubRunner{organize: &domain.OrganizeResult{Notes: []string{"a.md", "b.md"}, Output: "done"}}
	h := NewNotesHandler(runner, 0, zap.NewNop())
	rec := httptest.NewRecorder()
	h.OrganizeNotes(rec, httptest.NewRequest(http.MethodPost, "/organize-notes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{"a.md", "b.md"}, body["notes"])
	assert.Equal(t, "done", body["output"])
	assert.Contains(t, body["message"], "2 note(s) organized")
}

func TestOrganize_ErrorMapping(t *testing.T) {
	longStderr := strings.Repeat("stack frame\n", 500)
	cases := []struct {
		name     string
		err      error
		status   int
		hasError bool
	}{
		{"config pending", domain.ErrVaultNotConfigured, http.StatusServiceUnavailable, true},
		{"scan", &domain.ScanError{Path: "/v", Err: errors.New("permission denied")}, http.StatusInternalServerError, true},
		{"launch", &domain.LaunchError{Executable: "claude", Err: errors.New("not found")}, http.StatusInternalServerError, true},
		{"app", &domain.ApplicationError{ExitCode: 1, Stderr: longStderr}, http.StatusInternalServerError, true},
		{"timeout", &domain.TimeoutError{After: 300 * time.Second}, http.StatusGatewayTimeout, false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewNotesHandler(&stubRunner{organizeErr: tc.err}, 0, zap.NewNop())
			rec := httptest.NewRecorder()
			h.OrganizeNotes(rec, httptest.NewRequest(http.MethodPost, "/organize-notes", nil))

			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
			if tc.hasError {
				assert.NotEmpty(t, body["error"])
			} else {
				assert.NotContains(t, body, "error")
			}
		})
	}
}

func TestApplicationErrorStderrIsNotTruncated(t *testing.T) {
	stderr := strings.Repeat("e", 10_000)
	status, body := ErrorBody(&domain.ApplicationError{ExitCode: 3, Stderr: stderr})
	assert.Equal(t, http.StatusInternalServerError, status)
	require.IsType(t, domain.FailureResponse{}, body)
	assert.Equal(t, stderr, body.(domain.FailureResponse).Error)
}

func TestApplicationErrorWithEmptyStderrKeepsErrorField(t *testing.T) {
	runner := &stubRunner{executeErr: &domain.ApplicationError{ExitCode: 1, Stderr: ""}}
	h := NewNotesHandler(runner, 1<<20, zap.NewNop())
	rec := httptest.NewRecorder()
	h.ExecuteClaude(rec, httptest.NewRequest(http.MethodPost, "/execute-claude", strings.NewReader(`{"message":"hi"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	require.Contains(t, body, "error")
	assert.Equal(t, "", body["error"])
	assert.Equal(t, "Error while running Claude Code", body["message"])
}

func TestExecute_RejectsMissingMessage(t *testing.T) {
	for _, body := range []string{"", "{}", `{"message":""}`, `{"message":42}`, "not json"} {
		t.Run(body, func(t *testing.T) {
			runner := &stubRunner{execute: &domain.ExecuteResult{}}
			h := NewNotesHandler(runner, 1<<20, zap.NewNop())
			rec := httptest.NewRecorder()
			h.ExecuteClaude(rec, httptest.NewRequest(http.MethodPost, "/execute-claude", strings.NewReader(body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "error", body["status"])
			assert.NotContains(t, body, "error")
			assert.Empty(t, runner.executed)
		})
	}
}

func TestExecute_BodyTooLarge(t *testing.T) {
	runner := &stubRunner{execute: &domain.ExecuteResult{}}
	h := NewNotesHandler(runner, 16, zap.NewNop())
	rec := httptest.NewRecorder()
	body := `{"message":"` + strings.Repeat("a", 64) + `"}`
	h.ExecuteClaude(rec, httptest.NewRequest(http.MethodPost, "/execute-claude", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.executed)
}

func TestExecute_Success(t *testing.T) {
	runner := &stubRunner{execute: &domain.ExecuteResult{Output: "hi there"}}
	h := NewNotesHandler(runner, 1<<20, zap.NewNop())
	rec := httptest.NewRecorder()
	h.ExecuteClaude(rec, httptest.NewRequest(http.MethodPost, "/execute-claude", strings.NewReader(`{"message":"say hi"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "hi there", body["output"])
	assert.Equal(t, []string{"say hi"}, runner.executed)
}

func TestExecute_Timeout(t *testing.T) {
	runner := &stubRunner{executeErr: &domain.TimeoutError{After: time.Second}}
	h := NewNotesHandler(runner, 1<<20, zap.NewNop())
	rec := httptest.NewRecorder()
	h.ExecuteClaude(rec, httptest.NewRequest(http.MethodPost, "/execute-claude", strings.NewReader(`{"message":"slow"}`)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
