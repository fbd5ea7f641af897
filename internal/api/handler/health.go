package handler

import (
	"net/http"
	"time"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/respond"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

type HealthHandler struct {
	now func() time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{now: time.Now}
}

// Health не трогает ни vault, ни агента.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, domain.HealthResponse{
		Status:    domain.StatusHealthy,
		Service:   domain.ServiceName,
		Timestamp: h.now().Format(time.RFC3339),
	})
}
