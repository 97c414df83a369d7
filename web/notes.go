package web

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

// handleNote renders the conversation around a local note: the thread in
// display order plus who liked and boosted it.
func (s *Server) handleNote(c *gin.Context) {
	iri := s.outboxIRI(c.Param("id"))

	err, rec := s.store.ReadActivityByIRI(iri)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	if rec.Origin != domain.OriginOutbox || rec.ActivityType != "Create" {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	if rec.Deleted {
		s.renderActivity(c, http.StatusGone, map[string]interface{}{
			"@context": activitypub.ActivityStreamsContext,
			"id":       rec.ObjectIRI,
			"type":     "Tombstone",
		})
		return
	}

	rootIRI := rec.ThreadRootParent
	if rootIRI == "" {
		rootIRI = rec.ObjectIRI
	}

	err, candidates := s.store.SelectThreadCandidates(rootIRI, rec.InReplyTo)
	if err != nil {
		s.renderError(c, err)
		return
	}
	err, cached := s.store.SelectThreadNotesByRoot(rootIRI, rec.InReplyTo)
	if err != nil {
		s.renderError(c, err)
		return
	}

	entries := activitypub.BuildThread(rec, *candidates, *cached)
	thread := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		item := map[string]interface{}{
			"id":    entry.ObjectIRI,
			"level": entry.Level,
		}
		var object interface{}
		if entry.Object != nil && json.Unmarshal(entry.Object, &object) == nil {
			item["object"] = object
		}
		thread = append(thread, item)
	}

	doc := map[string]interface{}{
		"id":     rec.ObjectIRI,
		"thread": thread,
		"likes":  s.interactionActors(rec.ObjectIRI, "Like"),
		"shares": s.interactionActors(rec.ObjectIRI, "Announce"),
	}
	s.renderActivity(c, http.StatusOK, doc)
}

// interactionActors lists who liked or boosted the object, newest first.
func (s *Server) interactionActors(objectIRI string, activityType string) []string {
	f := db.Filter{
		Origin:         domain.OriginInbox,
		Types:          []string{activityType},
		ObjectIRI:      objectIRI,
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	actors := []string{}
	err, records := s.store.SelectActivities(f, 0, 100)
	if err != nil {
		log.Printf("Notes: failed to load %s actors for %s: %v", activityType, objectIRI, err)
		return actors
	}
	for _, r := range *records {
		actors = append(actors, r.ActorIRI)
	}
	return actors
}
