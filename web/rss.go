package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
)

// feedSize caps the RSS rendering of the outbox.
const feedSize = 50

func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.buildRSS()
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}

// buildRSS renders the local notes as an RSS feed.
func (s *Server) buildRSS() (string, error) {
	f := db.Filter{
		Origin:         domain.OriginOutbox,
		Types:          []string{"Create"},
		ExcludeDeleted: true,
	}
	err, records := s.store.SelectActivities(f, 0, feedSize)
	if err != nil {
		log.Println("Could not get notes!", err)
		return "", errors.New("error retrieving notes")
	}

	username := s.conf.Conf.Username
	email := fmt.Sprintf("%s@%s", username, s.conf.Conf.SslDomain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - notes", username),
		Link:        &feeds.Link{Href: s.conf.BaseIRI()},
		Description: fmt.Sprintf("rss feed of %s", s.conf.BaseIRI()),
		Author:      &feeds.Author{Name: username, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, rec := range *records {
		act, err := activitypub.ParseActivity([]byte(rec.RawJSON))
		if err != nil {
			log.Printf("Feed: skipping %s: %v", rec.RemoteID, err)
			continue
		}
		note, err := act.ObjectNote()
		if err != nil {
			log.Printf("Feed: skipping %s: %v", rec.RemoteID, err)
			continue
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      rec.ObjectIRI,
				Title:   rec.Published.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: rec.ObjectIRI},
				Content: note.Content,
				Author:  &feeds.Author{Name: username, Email: email},
				Created: rec.Published,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
