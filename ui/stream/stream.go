package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"log"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	postStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginBottom(1)

	actorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	contentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Faint(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

type Model struct {
	Posts  []Post
	store  *db.DB
	Width  int
	Height int
}

// Post is one renderable stream entry. A boost carries the boosted
// note's content, pulled from the object cache.
type Post struct {
	Actor   string
	Content string
	Boosted bool
	Time    time.Time
}

func InitialModel(store *db.DB, width, height int) Model {
	return Model{
		Posts:  []Post{},
		store:  store,
		Width:  width,
		Height: height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadStream(m.store)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case postsLoadedMsg:
		m.Posts = msg.posts
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(fmt.Sprintf("stream (%d posts)", len(m.Posts))))
	s.WriteString("\n\n")

	if len(m.Posts) == 0 {
		s.WriteString(emptyStyle.Render("Nothing in the stream yet.\nFollow some actors to see their posts here!"))
	} else {
		displayCount := 5
		if len(m.Posts) < displayCount {
			displayCount = len(m.Posts)
		}
		for i := 0; i < displayCount; i++ {
			post := m.Posts[i]

			actor := post.Actor
			if post.Boosted {
				actor = "↺ " + actor
			}

			postContent := fmt.Sprintf("%s\n%s\n%s",
				actorStyle.Render(actor),
				contentStyle.Render(truncate(post.Content, 80)),
				timeStyle.Render(formatTime(post.Time)),
			)

			s.WriteString(postStyle.Render(postContent))
			s.WriteString("\n")
		}

		if len(m.Posts) > 5 {
			s.WriteString(emptyStyle.Render(fmt.Sprintf("... and %d more posts", len(m.Posts)-5)))
			s.WriteString("\n")
		}
	}

	return s.String()
}

// postsLoadedMsg is sent when stream posts are loaded
type postsLoadedMsg struct {
	posts []Post
}

// loadStream loads received notes and boosts. A boost whose target was
// never cached is skipped, same as the stream endpoint does.
func loadStream(store *db.DB) tea.Cmd {
	return func() tea.Msg {
		f := db.Filter{
			Origin:         domain.OriginInbox,
			Types:          []string{"Create", "Announce"},
			ExcludeDeleted: true,
			ExcludeUndone:  true,
		}
		err, records := store.SelectActivities(f, 0, 20)
		if err != nil {
			log.Printf("Console: failed to load stream: %v", err)
			return postsLoadedMsg{posts: []Post{}}
		}
		if records == nil {
			return postsLoadedMsg{posts: []Post{}}
		}

		posts := make([]Post, 0, len(*records))
		for _, rec := range *records {
			var content string
			boosted := rec.ActivityType == "Announce"

			if boosted {
				err, cached := store.ReadCachedObject(rec.ObjectIRI)
				if err != nil {
					continue
				}
				content = parseContent([]byte(cached.RawJSON))
			} else {
				var create struct {
					Object struct {
						Content string `json:"content"`
					} `json:"object"`
				}
				if err := json.Unmarshal([]byte(rec.RawJSON), &create); err != nil {
					log.Printf("Console: failed to parse activity JSON: %v", err)
					continue
				}
				content = create.Object.Content
			}

			posts = append(posts, Post{
				Actor:   rec.ActorIRI,
				Content: content,
				Boosted: boosted,
				Time:    rec.Published,
			})
		}

		return postsLoadedMsg{posts: posts}
	}
}

func parseContent(raw []byte) string {
	var object struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return ""
	}
	return object.Content
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
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
