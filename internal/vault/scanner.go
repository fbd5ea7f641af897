// Package vault ищет «свободные» заметки в корне синхронизируемого Obsidian vault.
package vault

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// Scanner перечисляет заметки в корне vault, которые ещё не разложены по папкам.
// Наполнение каталога (Syncthing) - внешняя забота, сканер только читает.
type Scanner struct {
	Root           string
	Extension      string   // ".md"
	Reserved       []string // служебные файлы: "START HERE.md", "INDEX.md", ...
	MarkerPrefixes []string // префиксы дашбордов: "📊", "📝", "📺"
}

// LooseNotes возвращает отсортированный список имён подходящих файлов.
// Пустой список без ошибки - нормальный случай «нечего раскладывать».
func (s *Scanner) LooseNotes(ctx context.Context) ([]string, error) {
	if s.Root == "" {
		return nil, domain.ErrVaultNotConfigured
	}

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, &domain.ScanError{Path: s.Root, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	notes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if s.IsLoose(e.Name()) {
			notes = append(notes, e.Name())
		}
	}

	// порядок не должен зависеть от файловой системы
	sort.Strings(notes)
	return notes, nil
}

// IsLoose проверяет имя файла по правилам отбора.
func (s *Scanner) IsLoose(name string) bool {
	if !strings.HasSuffix(name, s.Extension) {
		return false
	}
	for _, r := range s.Reserved {
		if name == r {
			return false
		}
	}
	for _, p := range s.MarkerPrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return false
		}
	}
	return true
}
