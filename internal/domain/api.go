package domain

import (
	"bytes"
	"encoding/json"
)

const (
	StatusHealthy = "healthy"
	StatusSuccess = "success"
	StatusError   = "error"

	ServiceName = "obsidian-remote-cli"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// OrganizeEmptyResponse - в корне vault нечего раскладывать, агент не запускался.
type OrganizeEmptyResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	NotesOrganized int    `json:"notes_organized"`
}

type OrganizeResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Notes   []string `json:"notes"`
	Output  string   `json:"output"`
}

type ExecuteRequest struct {
	Message string `json:"message"`
}

type ExecuteResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

// ErrorResponse - отказ без подробностей (400, 401, 403, 404, 405, 504).
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FailureResponse - отказ сервера (500, 503). Поле error присутствует всегда,
// даже если агент упал с пустым stderr.
type FailureResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// OrganizeResult - итог organize-notes на уровне сервиса.
// Пустой Notes означает холостой проход без запуска агента.
type OrganizeResult struct {
	Notes  []string
	Output string
	RunID  string
}

type ExecuteResult struct {
	Output string
	RunID  string
}

// ParseExecuteRequest разбирает тело POST /execute-claude.
// Не зависит от HTTP-фреймворка: на входе байты, на выходе запрос или *ValidationError.
func ParseExecuteRequest(body []byte) (ExecuteRequest, error) {
	var req ExecuteRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return req, &ValidationError{Field: "message", Reason: "is required"}
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, &ValidationError{Field: "message", Reason: "must be a string in a JSON object"}
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func (r ExecuteRequest) Validate() error {
	if r.Message == "" {
		return &ValidationError{Field: "message", Reason: "is required"}
	}
	return nil
}
