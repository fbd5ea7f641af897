//go:build !windows

package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/handler"
	"github.com/xela07ax/obsidian-remote-cli/internal/audit"
	"github.com/xela07ax/obsidian-remote-cli/internal/command"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
	"github.com/xela07ax/obsidian-remote-cli/internal/infra/auth"
	"github.com/xela07ax/obsidian-remote-cli/internal/service"
	"github.com/xela07ax/obsidian-remote-cli/internal/vault"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type env struct {
	srv     *Server
	agent   string
	vault   string
	log     *lockedBuffer
	journal *audit.Journal
	metrics *engine.Metrics
}

// newEnv поднимает сервер целиком: настоящий сканер, настоящий процесс (sh-скрипт вместо агента).
func newEnv(t *testing.T, agentScript string, timeout time.Duration, opts ...Option) *env {
	t.Helper()
	dir := t.TempDir()
	agent := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(agent, []byte("#!/bin/sh\n"+agentScript+"\n"), 0o755))

	vaultRoot := filepath.Join(dir, "vault")
	workspace := filepath.Join(dir, "workspace")
	require.NoError(t, os.MkdirAll(vaultRoot, 0o755))
	require.NoError(t, os.MkdirAll(workspace, 0o755))

	logger := zap.NewNop()
	metrics := engine.NewMetrics(prometheus.NewRegistry())
	out := &lockedBuffer{}
	journal := audit.NewJournal(out, 100, logger)
	journal.Start()
	t.Cleanup(journal.Stop)

	svc := service.NewAgentService(
		&vault.Scanner{
			Root:           vaultRoot,
			Extension:      ".md",
			Reserved:       []string{"START HERE.md", "INDEX.md", "README.md"},
			MarkerPrefixes: []string{"📊", "📝", "📺"},
		},
		&command.Builder{
			Executable:    agent,
			Flags:         []string{"--yes"},
			DirectoryFlag: "--directory",
			MessageFlag:   "--message",
		},
		engine.NewProcessExecutor(0, 200*time.Millisecond, logger),
		journal,
		metrics,
		service.Options{
			Workspace:            workspace,
			Timeout:              timeout,
			OrganizeOutputWindow: 500,
			ExecuteOutputWindow:  1000,
		},
		logger,
	)

	srv := New(logger, metrics,
		handler.NewHealthHandler(),
		handler.NewNotesHandler(svc, 1<<20, logger),
		opts...)

	return &env{srv: srv, agent: agent, vault: vaultRoot, log: out, journal: journal, metrics: metrics}
}

// journalLines останавливает журнал и возвращает записанные строки.
func (e *env) journalLines() []string {
	e.journal.Stop()
	s := strings.TrimSuffix(e.log.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, "exit 0", time.Second)
	rec, body := do(t, e.srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	assert.Empty(t, e.journalLines())
}

func TestExecute_SayHi(t *testing.T) {
	e := newEnv(t, `echo "$@"`, 10*time.Second)
	rec, body := do(t, e.srv, http.MethodPost, "/execute-claude", `{"message":"say hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["output"], "say hi")

	lines := e.journalLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "execute-claude - STARTED - Prompt: say hi...")
	assert.Contains(t, lines[1], "execute-claude - SUCCESS")
}

func TestExecute_EmptyBodyHasNoSideEffects(t *testing.T) {
	e := newEnv(t, `touch "$0.ran"`, 10*time.Second)
	for _, b := range []string{"{}", `{"message":""}`} {
		rec, body := do(t, e.srv, http.MethodPost, "/execute-claude", b)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "error", body["status"])
	}
	assert.Empty(t, e.journalLines())
	assert.NoFileExists(t, e.agent+".ran")
}

func TestOrganize_EmptyVaultSkipsAgent(t *testing.T) {
	e := newEnv(t, "exit 1", 10*time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(e.vault, "README.md"), []byte("#"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.vault, "📊 Dashboard.md"), []byte("#"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(e.vault, "Projects"), 0o755))

	rec, body := do(t, e.srv, http.MethodPost, "/organize-notes", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["notes_organized"])

	lines := e.journalLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "organize-notes - COMPLETED")
}

func TestOrganize_Success(t *testing.T) {
	e := newEnv(t, `echo "$@"`, 10*time.Second)
	for _, n := range []string{"idea.md", "todo.md", "INDEX.md", "image.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(e.vault, n), []byte("#"), 0o644))
	}

	rec, body := do(t, e.srv, http.MethodPost, "/organize-notes", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"idea.md", "todo.md"}, body["notes"])
	assert.Contains(t, body["output"], "idea.md, todo.md")

	lines := e.journalLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "organize-notes - SUCCESS - 2 notes organized")
}

func TestOrganize_ApplicationError(t *testing.T) {
	e := newEnv(t, "echo 'skill obsidian-organizer not found' >&2\nexit 2", 10*time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(e.vault, "idea.md"), []byte("#"), 0o644))

	rec, body := do(t, e.srv, http.MethodPost, "/organize-notes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "skill obsidian-organizer not found\n", body["error"])
}

func TestExecute_TimeoutReturns504(t *testing.T) {
	e := newEnv(t, "sleep 30", 300*time.Millisecond)

	start := time.Now()
	rec, body := do(t, e.srv, http.MethodPost, "/execute-claude", `{"message":"slow"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Less(t, time.Since(start), 10*time.Second)

	lines := e.journalLines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "execute-claude - TIMEOUT")
	assert.Equal(t, float64(1),
		testutil.ToFloat64(e.metrics.HTTPRequests.WithLabelValues("/execute-claude", http.MethodPost, "504")))
}

func TestOrganize_VaultMissing(t *testing.T) {
	e := newEnv(t, "exit 0", time.Second)
	require.NoError(t, os.RemoveAll(e.vault))

	rec, body := do(t, e.srv, http.MethodPost, "/organize-notes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestNotFoundAndMethodNotAllowedAreJSON(t *testing.T) {
	e := newEnv(t, "exit 0", time.Second)

	rec, body := do(t, e.srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, body = do(t, e.srv, http.MethodGet, "/execute-claude", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestRecovererRespondsWithJSON(t *testing.T) {
	h := Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	rec, body := do(t, h, http.MethodPost, "/organize-notes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Unexpected error: nil map write", body["message"])
}

func TestAuthGuardsPostRoutes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	e := newEnv(t, `echo "$@"`, 10*time.Second,
		WithAuth(auth.NewVerifier(&key.PublicKey, 0), "agent:run"))

	// health остаётся публичным
	rec, _ := do(t, e.srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e.srv, http.MethodPost, "/execute-claude", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := func(scopes map[string]bool) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &domain.CustomClaims{
			UserID: "ios-shortcut",
			Scopes: scopes,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString(key)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	rec, _ = do(t, e.srv, http.MethodPost, "/execute-claude", `{"message":"hi"}`,
		"Authorization", token(map[string]bool{"vault:read": true}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := do(t, e.srv, http.MethodPost, "/execute-claude", `{"message":"hi"}`,
		"Authorization", token(map[string]bool{"agent:run": true}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["output"], "hi")
}
