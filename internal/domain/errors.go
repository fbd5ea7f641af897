package domain

import (
	"errors"
	"fmt"
	"time"
)

// Конфигурация ещё не готова (путь не задан) - 503, а не попытка сканировать.
var (
	ErrVaultNotConfigured     = errors.New("vault root is not configured")
	ErrWorkspaceNotConfigured = errors.New("agent workspace is not configured")
)

// ValidationError - входные данные запроса не прошли проверку (400).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field '%s' %s", e.Field, e.Reason)
}

// ScanError - каталог vault недоступен для чтения (отсутствует, нет прав).
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan vault %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// LaunchError - процесс агента не удалось даже запустить.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ApplicationError - агент завершился с ненулевым кодом. Stderr хранится целиком.
type ApplicationError struct {
	ExitCode int
	Stderr   string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("agent exited with code %d", e.ExitCode)
}

// TimeoutError - агент не уложился в отведённое время и был убит.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %v", e.After)
}

// IsConfigurationPending сообщает, что ошибка вызвана незаданным путём в конфиге.
func IsConfigurationPending(err error) bool {
	return errors.Is(err, ErrVaultNotConfigured) || errors.Is(err, ErrWorkspaceNotConfigured)
}
