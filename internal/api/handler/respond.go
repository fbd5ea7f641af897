package handler

import (
	"errors"
	"net/http"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// ErrorBody - таблица соответствия типов ошибок, HTTP статусов и тел ответа.
// 500 и 503 всегда несут поле error, 400 и 504 - только status и message.
func ErrorBody(err error) (int, any) {
	var (
		validationErr *domain.ValidationError
		timeoutErr    *domain.TimeoutError
		appErr        *domain.ApplicationError
		launchErr     *domain.LaunchError
		scanErr       *domain.ScanError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, domain.ErrorResponse{
			Status:  domain.StatusError,
			Message: "Field '" + validationErr.Field + "' " + validationErr.Reason,
		}

	case domain.IsConfigurationPending(err):
		return http.StatusServiceUnavailable, domain.FailureResponse{
			Status:  domain.StatusError,
			Message: "Service is waiting for configuration",
			Error:   err.Error(),
		}

	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, domain.ErrorResponse{
			Status:  domain.StatusError,
			Message: "Timeout while running Claude Code",
		}

	case errors.As(err, &appErr):
		// stderr целиком, без обрезки; пустой stderr - пустая строка, но поле есть
		return http.StatusInternalServerError, domain.FailureResponse{
			Status:  domain.StatusError,
			Message: "Error while running Claude Code",
			Error:   appErr.Stderr,
		}

	case errors.As(err, &launchErr):
		return http.StatusInternalServerError, domain.FailureResponse{
			Status:  domain.StatusError,
			Message: "Failed to launch Claude Code",
			Error:   err.Error(),
		}

	case errors.As(err, &scanErr):
		return http.StatusInternalServerError, domain.FailureResponse{
			Status:  domain.StatusError,
			Message: "Failed to read vault",
			Error:   err.Error(),
		}
	}

	return http.StatusInternalServerError, domain.FailureResponse{
		Status:  domain.StatusError,
		Message: "Unexpected error: " + err.Error(),
		Error:   err.Error(),
	}
}
