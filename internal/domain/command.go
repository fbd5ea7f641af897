package domain

import (
	"time"
	"unicode/utf8"
)

// CommandSpec - готовый к запуску вызов внешнего агента.
// Args[0] - имя исполняемого файла, остальное - аргументы в точном порядке.
type CommandSpec struct {
	Args []string
	Dir  string // рабочий каталог процесса
}

// Executable возвращает имя исполняемого файла или пустую строку.
func (c CommandSpec) Executable() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Outcome - результат одного запуска агента.
type Outcome struct {
	RunID    string
	ExitCode int
	Stdout   string // хвост stdout (ограничен max_output байт)
	Stderr   string // stderr целиком
	TimedOut bool
	Duration time.Duration
}

// Succeeded - процесс завершился сам и с кодом 0.
func (o *Outcome) Succeeded() bool {
	return o != nil && !o.TimedOut && o.ExitCode == 0
}

// Tail возвращает последние n символов (рун) строки.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}

// Head возвращает первые n символов (рун) строки.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
