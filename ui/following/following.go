package following

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui/common"
)

var (
	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0)

	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0).
			Foreground(lipgloss.Color("86")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Italic(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Italic(true)
)

type Model struct {
	Following []domain.Following
	Selected  int
	store     *db.DB
	engine    *activitypub.Engine
	base      string
	Width     int
	Height    int
	Status    string
	Error     string
}

func InitialModel(store *db.DB, engine *activitypub.Engine, base string, width, height int) Model {
	return Model{
		Following: []domain.Following{},
		Selected:  0,
		store:     store,
		engine:    engine,
		base:      base,
		Width:     width,
		Height:    height,
		Status:    "",
		Error:     "",
	}
}

func (m Model) Init() tea.Cmd {
	return loadFollowing(m.store)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case followingLoadedMsg:
		m.Following = msg.following
		if m.Selected >= len(m.Following) {
			m.Selected = 0
		}
		return m, nil

	case unfollowResultMsg:
		if msg.err != nil {
			m.Error = fmt.Sprintf("Failed: %v", msg.err)
			m.Status = ""
		} else {
			m.Status = fmt.Sprintf("Unfollowed %s", msg.actorIRI)
			m.Error = ""
		}
		return m, tea.Batch(loadFollowing(m.store), clearStatusAfter(2*time.Second))

	case clearStatusMsg:
		m.Status = ""
		m.Error = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Selected > 0 {
				m.Selected--
			}
		case "down", "j":
			if m.Selected < len(m.Following)-1 {
				m.Selected++
			}
		case "u", "enter":
			if len(m.Following) > 0 && m.Selected < len(m.Following) {
				selected := m.Following[m.Selected]
				m.Status = fmt.Sprintf("Unfollowing %s...", selected.ActorIRI)
				m.Error = ""
				return m, unfollowCmd(m.store, m.engine, m.base, selected)
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("following (%d)", len(m.Following))))
	s.WriteString("\n\n")

	if len(m.Following) == 0 {
		s.WriteString(emptyStyle.Render("You're not following anyone yet.\nUse the follow view to start following!"))
	} else {
		itemsPerPage := 10
		start := 0
		if m.Selected >= itemsPerPage {
			start = m.Selected - itemsPerPage + 1
		}
		end := start + itemsPerPage
		if end > len(m.Following) {
			end = len(m.Following)
		}

		for i := start; i < end; i++ {
			follow := m.Following[i]

			userText := "• " + follow.ActorIRI
			if !follow.Accepted {
				userText += " " + pendingStyle.Render("(pending)")
			}

			if i == m.Selected {
				s.WriteString("→ " + selectedStyle.Render(userText))
			} else {
				s.WriteString("  " + itemStyle.Render(userText))
			}
			s.WriteString("\n")
		}

		if end < len(m.Following) {
			s.WriteString(itemStyle.Render(fmt.Sprintf("... and %d more", len(m.Following)-end)))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")

	if m.Status != "" {
		s.WriteString(common.StatusStyle.Render(m.Status))
		s.WriteString("\n\n")
	}

	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render(m.Error))
		s.WriteString("\n\n")
	}

	return s.String()
}

// followingLoadedMsg is sent when the following list is loaded
type followingLoadedMsg struct {
	following []domain.Following
}

// unfollowResultMsg reports the outcome of an unfollow attempt
type unfollowResultMsg struct {
	actorIRI string
	err      error
}

// clearStatusMsg is sent after a delay to clear status/error messages
type clearStatusMsg struct{}

// clearStatusAfter returns a command that sends clearStatusMsg after a duration
func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

// loadFollowing loads the actors this instance follows
func loadFollowing(store *db.DB) tea.Cmd {
	return func() tea.Msg {
		err, following := store.SelectFollowing(0, 100)
		if err != nil {
			log.Printf("Console: failed to load following: %v", err)
			return followingLoadedMsg{following: []domain.Following{}}
		}
		if following == nil {
			return followingLoadedMsg{following: []domain.Following{}}
		}
		return followingLoadedMsg{following: *following}
	}
}

// unfollowCmd undoes the standing Follow through the engine, which also
// drops the following row and tells the remote end.
func unfollowCmd(store *db.DB, engine *activitypub.Engine, base string, follow domain.Following) tea.Cmd {
	return func() tea.Msg {
		err, rec := store.ReadActivityByIRI(follow.FollowIRI)
		if err != nil {
			return unfollowResultMsg{actorIRI: follow.ActorIRI, err: err}
		}

		target, err := activitypub.ParseActivity([]byte(rec.RawJSON))
		if err != nil {
			return unfollowResultMsg{actorIRI: follow.ActorIRI, err: err}
		}

		act, err := activitypub.NewUndo(base, target)
		if err != nil {
			return unfollowResultMsg{actorIRI: follow.ActorIRI, err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := engine.Apply(ctx, act, domain.OriginOutbox); err != nil {
			log.Printf("Console: unfollow of %s failed: %v", follow.ActorIRI, err)
			return unfollowResultMsg{actorIRI: follow.ActorIRI, err: err}
		}
		return unfollowResultMsg{actorIRI: follow.ActorIRI}
	}
}
