package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/respond"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
)

// AgentRunner - то, что хендлерам нужно от сервиса.
type AgentRunner interface {
	OrganizeNotes(ctx context.Context) (*domain.OrganizeResult, error)
	Execute(ctx context.Context, message string) (*domain.ExecuteResult, error)
}

type NotesHandler struct {
	service      AgentRunner
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewNotesHandler(s AgentRunner, maxBodyBytes int64, logger *zap.Logger) *NotesHandler {
	return &NotesHandler{
		service:      s,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.Named("notes-handler"),
	}
}

// OrganizeNotes - POST /organize-notes, тело не читается.
func (h *NotesHandler) OrganizeNotes(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.OrganizeNotes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if len(res.Notes) == 0 {
		respond.JSON(w, http.StatusOK, domain.OrganizeEmptyResponse{
			Status:         domain.StatusSuccess,
			Message:        "No loose notes to organize",
			NotesOrganized: 0,
		})
		return
	}

	respond.JSON(w, http.StatusOK, domain.OrganizeResponse{
		Status:  domain.StatusSuccess,
		Message: fmt.Sprintf("✅ %d note(s) organized", len(res.Notes)),
		Notes:   res.Notes,
		Output:  res.Output,
	})
}

// ExecuteClaude - POST /execute-claude с телом {"message": "..."}.
func (h *NotesHandler) ExecuteClaude(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := domain.ParseExecuteRequest(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.service.Execute(r.Context(), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, domain.ExecuteResponse{
		Status: domain.StatusSuccess,
		Output: res.Output,
	})
}

func (h *NotesHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	src := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		src = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &domain.ValidationError{
				Field:  "message",
				Reason: fmt.Sprintf("exceeds request limit of %d bytes", tooLarge.Limit),
			}
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func (h *NotesHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ErrorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", engine.ExtractTraceID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}
	respond.JSON(w, status, body)
}
