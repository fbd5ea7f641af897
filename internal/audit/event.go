package audit

import (
	"strings"
	"time"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// Status - терминальное или промежуточное состояние действия в журнале.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED" // холостой проход, агент не запускался
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
	StatusTimeout   Status = "TIMEOUT"
)

const (
	// TimestampLayout - формат времени в строке журнала: 17/10/2026 09:30:00
	TimestampLayout = "02/01/2006 15:04:05"

	// MaxDetail - сколько символов detail попадает в строку журнала
	MaxDetail = 500
)

type Event struct {
	ID        string    `json:"id"`       // UUID события
	TraceID   string    `json:"trace_id"` // Сквозной ID запроса
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"` // "organize-notes", "execute-claude"
	Status    Status    `json:"status"`
	Detail    string    `json:"detail"`
}

// Line форматирует событие ровно в одну строку с завершающим \n.
func (e Event) Line() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.Timestamp.Format(TimestampLayout))
	b.WriteString("] ")
	b.WriteString(e.Action)
	b.WriteString(" - ")
	b.WriteString(string(e.Status))
	b.WriteString(" - ")
	b.WriteString(flatten(domain.Head(e.Detail, MaxDetail)))
	b.WriteByte('\n')
	return b.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " | ", "\n", " | ", "\r", " | ")

// flatten не даёт stderr агента разорвать строку журнала
func flatten(s string) string {
	return lineBreaks.Replace(s)
}
