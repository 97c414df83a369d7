package notifications

import (
	"encoding/json"
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

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Faint(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Italic(true)
)

type Model struct {
	Records []domain.ActivityRecord
	Offset  int
	store   *db.DB
	base    string
	Width   int
	Height  int
}

func InitialModel(store *db.DB, base string, width, height int) Model {
	return Model{
		Records: []domain.ActivityRecord{},
		Offset:  0,
		store:   store,
		base:    base,
		Width:   width,
		Height:  height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadNotifications(m.store, m.base)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case notificationsLoadedMsg:
		m.Records = msg.records
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if len(m.Records) > 0 && m.Offset < len(m.Records)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("notifications (%d)", len(m.Records))))
	s.WriteString("\n\n")

	if len(m.Records) == 0 {
		s.WriteString(emptyStyle.Render("Nothing yet. Mentions, follows and boosts land here."))
	} else {
		itemsPerPage := 10
		start := m.Offset
		end := start + itemsPerPage
		if end > len(m.Records) {
			end = len(m.Records)
		}

		for i := start; i < end; i++ {
			rec := m.Records[i]
			s.WriteString(itemStyle.Render(describe(&rec)))
			s.WriteString("  ")
			s.WriteString(timeStyle.Render(rec.Published.Format("2006-01-02 15:04")))
			s.WriteString("\n")
		}
	}

	return s.String()
}

func describe(rec *domain.ActivityRecord) string {
	switch rec.ActivityType {
	case "Follow":
		return fmt.Sprintf("★ %s followed you", rec.ActorIRI)
	case "Accept":
		return fmt.Sprintf("✓ %s accepted your follow", rec.ActorIRI)
	case "Undo":
		return fmt.Sprintf("✗ %s retracted an activity", rec.ActorIRI)
	case "Like":
		return fmt.Sprintf("♥ %s liked your note", rec.ActorIRI)
	case "Announce":
		return fmt.Sprintf("↺ %s boosted your note", rec.ActorIRI)
	case "Create":
		return fmt.Sprintf("↩ %s replied: %s", rec.ActorIRI, truncate(replyContent(rec), 60))
	default:
		return fmt.Sprintf("%s from %s", rec.ActivityType, rec.ActorIRI)
	}
}

func replyContent(rec *domain.ActivityRecord) string {
	var create struct {
		Object struct {
			Content string `json:"content"`
		} `json:"object"`
	}
	if err := json.Unmarshal([]byte(rec.RawJSON), &create); err != nil {
		return rec.ObjectIRI
	}
	return create.Object.Content
}

// notificationsLoadedMsg is sent when notifications are loaded
type notificationsLoadedMsg struct {
	records []domain.ActivityRecord
}

// loadNotifications loads received activity aimed at the local actor
func loadNotifications(store *db.DB, base string) tea.Cmd {
	return func() tea.Msg {
		err, records := store.SelectNotifications(base, 0, 50)
		if err != nil {
			log.Printf("Console: failed to load notifications: %v", err)
			return notificationsLoadedMsg{records: []domain.ActivityRecord{}}
		}
		if records == nil {
			return notificationsLoadedMsg{records: []domain.ActivityRecord{}}
		}
		return notificationsLoadedMsg{records: *records}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
