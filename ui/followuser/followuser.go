package followuser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui/common"
)

type Model struct {
	TextInput textinput.Model
	store     *db.DB
	engine    *activitypub.Engine
	base      string
	Status    string
	Error     string
}

func InitialModel(store *db.DB, engine *activitypub.Engine, base string) Model {
	ti := textinput.New()
	ti.Placeholder = "https://instance.example/users/alice"
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 50

	return Model{
		TextInput: ti,
		store:     store,
		engine:    engine,
		base:      base,
		Status:    "",
		Error:     "",
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case followResultMsg:
		if msg.err != nil {
			m.Error = fmt.Sprintf("Failed: %v", msg.err)
			m.Status = ""
		} else {
			m.Status = fmt.Sprintf("✓ Sent follow request to %s", msg.actorIRI)
			m.Error = ""
			m.TextInput.SetValue("")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				m.Error = "Please enter an actor IRI"
				return m, nil
			}
			if !strings.HasPrefix(input, "https://") {
				m.Error = "Invalid IRI. Use: https://instance.example/users/alice"
				return m, nil
			}

			m.Status = fmt.Sprintf("Following %s...", input)
			m.Error = ""
			return m, followActorCmd(m.store, m.engine, m.base, input)
		case "esc":
			m.TextInput.SetValue("")
			m.Status = ""
			m.Error = ""
			return m, nil
		}
	}

	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("follow remote actor"))
	s.WriteString("\n\n")
	s.WriteString("Enter the actor IRI (e.g., https://instance.example/users/alice):\n\n")
	s.WriteString(m.TextInput.View())
	s.WriteString("\n\n")

	if m.Status != "" {
		s.WriteString(common.StatusStyle.Render(m.Status))
		s.WriteString("\n")
	}

	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render(m.Error))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("enter: follow • esc: clear"))

	return s.String()
}

// followResultMsg reports the outcome of a follow attempt
type followResultMsg struct {
	actorIRI string
	err      error
}

// followActorCmd sends a Follow through the engine. Following an actor
// twice short-circuits to the standing Follow, same as the admin API.
func followActorCmd(store *db.DB, engine *activitypub.Engine, base, actorIRI string) tea.Cmd {
	return func() tea.Msg {
		if err, existing := store.ReadFollowingByActorIRI(actorIRI); err == nil {
			log.Printf("Console: already following %s via %s", actorIRI, existing.FollowIRI)
			return followResultMsg{actorIRI: actorIRI}
		}

		act, err := activitypub.NewFollow(base, actorIRI)
		if err != nil {
			return followResultMsg{actorIRI: actorIRI, err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := engine.Apply(ctx, act, domain.OriginOutbox); err != nil {
			log.Printf("Console: follow of %s failed: %v", actorIRI, err)
			return followResultMsg{actorIRI: actorIRI, err: err}
		}
		return followResultMsg{actorIRI: actorIRI}
	}
}
