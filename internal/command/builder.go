// Package command собирает argv для запуска внешнего агента.
package command

import (
	"fmt"
	"strings"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

const DefaultPromptTemplate = "Organize the following loose Obsidian notes: %s. Use the obsidian-organizer skill."

// Builder ничего не запускает: только превращает (каталог, сообщение) в CommandSpec.
type Builder struct {
	Executable     string   // "claude"
	Flags          []string // фиксированные флаги, например "--yes"
	DirectoryFlag  string   // "--directory"
	MessageFlag    string   // "--message"
	PromptTemplate string   // шаблон с одним %s для списка заметок
}

// Build детерминирован: одинаковые входы дают одинаковый argv.
// Проверка message на пустоту - забота вызывающего.
func (b *Builder) Build(workdir, message string) domain.CommandSpec {
	args := make([]string, 0, len(b.Flags)+4)
	args = append(args, b.Executable)
	args = append(args, b.Flags...)
	if b.DirectoryFlag != "" {
		args = append(args, b.DirectoryFlag+"="+workdir)
	}
	if b.MessageFlag != "" {
		args = append(args, b.MessageFlag)
	}
	args = append(args, message)

	return domain.CommandSpec{Args: args, Dir: workdir}
}

// OrganizePrompt синтезирует сообщение агенту со списком найденных заметок.
func (b *Builder) OrganizePrompt(notes []string) string {
	tmpl := b.PromptTemplate
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}
	return fmt.Sprintf(tmpl, strings.Join(notes, ", "))
}
