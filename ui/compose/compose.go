package compose

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui/common"
	"github.com/moapub/moa/util"
)

const MaxLetters = 500

type Model struct {
	Textarea    textarea.Model
	engine      *activitypub.Engine
	base        string
	lettersLeft int
	width       int
}

func InitialModel(engine *activitypub.Engine, base string, contentWidth int) Model {
	width := common.DefaultComposeWidth(contentWidth)
	ti := textarea.New()
	ti.Placeholder = "enter your message"
	ti.CharLimit = MaxLetters
	ti.ShowLineNumbers = false
	ti.SetWidth(30)

	return Model{
		Textarea:    ti,
		engine:      engine,
		base:        base,
		lettersLeft: MaxLetters,
		width:       width,
	}
}

// publishNoteCmd pushes the note through the engine; delivery to
// followers is queued there, not awaited here.
func publishNoteCmd(engine *activitypub.Engine, base, content string) tea.Cmd {
	return func() tea.Msg {
		act, err := activitypub.NewNote(base, content, "", nil)
		if err != nil {
			log.Printf("Console: could not build note: %v", err)
			return common.ReloadNotes
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := engine.Apply(ctx, act, domain.OriginOutbox); err != nil {
			log.Printf("Console: note could not be published: %v", err)
		}
		return common.ReloadNotes
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlA:
			if m.Textarea.Focused() {
				m.Textarea.Blur()
			}
		case tea.KeyCtrlS:
			content := util.NormalizeInput(m.Textarea.Value())
			if strings.TrimSpace(content) == "" {
				return m, nil
			}
			m.Textarea.SetValue("")
			return m, publishNoteCmd(m.engine, m.base, content)
		case tea.KeyCtrlC:
			return m, tea.Quit
		default:
			if !m.Textarea.Focused() {
				cmd = m.Textarea.Focus()
				cmds = append(cmds, cmd)
			}
		}
	}

	m.Textarea, cmd = m.Textarea.Update(msg)
	m.lettersLeft = m.charCount()
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) charCount() int {
	return m.Textarea.CharLimit - m.Textarea.Length() + m.Textarea.LineCount() - 1
}

func (m Model) View() string {
	styledTextarea := lipgloss.NewStyle().PaddingLeft(5).PaddingRight(5).Margin(2).Render(m.Textarea.View())
	charsLeft := common.HelpStyle.PaddingLeft(7).Render(fmt.Sprintf("characters left: %d\n\npost message: ctrl+s",
		m.lettersLeft))
	caption := common.CaptionStyle.PaddingLeft(7).Render("new note")

	return fmt.Sprintf("%s\n\n%s\n\n%s", caption, styledTextarea, charsLeft)
}
