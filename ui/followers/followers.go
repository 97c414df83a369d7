package followers

import (
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/ui/common"
)

var (
	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Italic(true)
)

type Model struct {
	Followers []domain.Follower
	Offset    int
	store     *db.DB
	Width     int
	Height    int
}

func InitialModel(store *db.DB, width, height int) Model {
	return Model{
		Followers: []domain.Follower{},
		Offset:    0,
		store:     store,
		Width:     width,
		Height:    height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadFollowers(m.store)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case followersLoadedMsg:
		m.Followers = msg.followers
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if len(m.Followers) > 0 && m.Offset < len(m.Followers)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("followers (%d)", len(m.Followers))))
	s.WriteString("\n\n")

	if len(m.Followers) == 0 {
		s.WriteString(emptyStyle.Render("No followers yet. Share your account to get followers!"))
	} else {
		itemsPerPage := 10
		start := m.Offset
		end := start + itemsPerPage
		if end > len(m.Followers) {
			end = len(m.Followers)
		}

		for i := start; i < end; i++ {
			follower := m.Followers[i]
			s.WriteString(itemStyle.Render(fmt.Sprintf(
				"• %s (since %s)",
				follower.ActorIRI,
				follower.CreatedAt.Format("2006-01-02"),
			)))
			s.WriteString("\n")
		}
	}

	return s.String()
}

// followersLoadedMsg is sent when followers are loaded
type followersLoadedMsg struct {
	followers []domain.Follower
}

// loadFollowers loads the remote actors following this instance
func loadFollowers(store *db.DB) tea.Cmd {
	return func() tea.Msg {
		err, followers := store.SelectFollowers(0, 100)
		if err != nil {
			log.Printf("Console: failed to load followers: %v", err)
			return followersLoadedMsg{followers: []domain.Follower{}}
		}
		if followers == nil {
			return followersLoadedMsg{followers: []domain.Follower{}}
		}
		return followersLoadedMsg{followers: *followers}
	}
}
