package notes

import (
	"context"
	"encoding/json"
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
	timeStyle = lipgloss.NewStyle().
			Align(lipgloss.Left).
			Foreground(lipgloss.Color(common.COLOR_PURPLE))

	countStyle = lipgloss.NewStyle().
			Align(lipgloss.Left).
			Foreground(lipgloss.Color(common.COLOR_LIGHTBLUE))

	contentStyle = lipgloss.NewStyle().
			Align(lipgloss.Left)

	selectedStyle = lipgloss.NewStyle().
			Align(lipgloss.Left).
			Bold(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_GREY)).
			Italic(true)
)

type Model struct {
	Records  []domain.ActivityRecord
	Selected int
	store    *db.DB
	engine   *activitypub.Engine
	base     string
	width    int
	height   int
}

func InitialModel(store *db.DB, engine *activitypub.Engine, base string, width, height int) Model {
	return Model{
		Records:  []domain.ActivityRecord{},
		Selected: 0,
		store:    store,
		engine:   engine,
		base:     base,
		width:    width,
		height:   height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadNotes(m.store)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case notesLoadedMsg:
		m.Records = msg.records
		m.Selected = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Selected > 0 {
				m.Selected--
			}
		case "down", "j":
			if len(m.Records) > 0 && m.Selected < len(m.Records)-1 {
				m.Selected++
			}
		case "d":
			if len(m.Records) > 0 && m.Selected < len(m.Records) {
				rec := m.Records[m.Selected]
				return m, deleteNoteCmd(m.engine, m.base, rec.ObjectIRI)
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("my notes (%d)", len(m.Records))))
	s.WriteString("\n\n")

	if len(m.Records) == 0 {
		s.WriteString(emptyStyle.Render("No notes yet.\nWrite your first note!"))
	} else {
		itemsPerPage := 10
		start := 0
		if m.Selected >= itemsPerPage {
			start = m.Selected - itemsPerPage + 1
		}
		end := start + itemsPerPage
		if end > len(m.Records) {
			end = len(m.Records)
		}

		for i := start; i < end; i++ {
			rec := m.Records[i]

			timeStr := timeStyle.Render(formatTime(rec.Published))
			content := contentStyle.Render(truncate(noteContent(&rec), 150))
			if i == m.Selected {
				content = "→ " + selectedStyle.Render(truncate(noteContent(&rec), 150))
			}
			counts := countStyle.Render(fmt.Sprintf("replies %d • likes %d • boosts %d",
				rec.ReplyCount, rec.LikeCount, rec.BoostCount))

			s.WriteString(lipgloss.JoinVertical(lipgloss.Left, timeStr, content, counts))
			s.WriteString("\n\n")
		}
	}

	return s.String()
}

// notesLoadedMsg is sent when the published notes are loaded
type notesLoadedMsg struct {
	records []domain.ActivityRecord
}

// loadNotes loads the non-deleted notes this instance published
func loadNotes(store *db.DB) tea.Cmd {
	return func() tea.Msg {
		f := db.Filter{
			Origin:         domain.OriginOutbox,
			Types:          []string{"Create"},
			ExcludeDeleted: true,
		}
		err, records := store.SelectActivities(f, 0, 50)
		if err != nil {
			log.Printf("Console: failed to load notes: %v", err)
			return notesLoadedMsg{records: []domain.ActivityRecord{}}
		}
		if records == nil {
			return notesLoadedMsg{records: []domain.ActivityRecord{}}
		}
		return notesLoadedMsg{records: *records}
	}
}

// deleteNoteCmd tombstones the selected note through the engine
func deleteNoteCmd(engine *activitypub.Engine, base, objectIRI string) tea.Cmd {
	return func() tea.Msg {
		act, err := activitypub.NewDelete(base, objectIRI)
		if err != nil {
			log.Printf("Console: could not build delete: %v", err)
			return common.ReloadNotes
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := engine.Apply(ctx, act, domain.OriginOutbox); err != nil {
			log.Printf("Console: delete failed: %v", err)
		}
		return common.ReloadNotes
	}
}

func noteContent(rec *domain.ActivityRecord) string {
	var create struct {
		Object struct {
			Content string `json:"content"`
		} `json:"object"`
	}
	if err := json.Unmarshal([]byte(rec.RawJSON), &create); err != nil || create.Object.Content == "" {
		return rec.ObjectIRI
	}
	return create.Object.Content
}

func formatTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		mins := int(duration.Minutes())
		return fmt.Sprintf("%dm ago", mins)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		return fmt.Sprintf("%dh ago", hours)
	} else {
		days := int(duration.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
