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

func (s *Server) outboxIRI(id string) string {
	return s.conf.BaseIRI() + "/outbox/" + id
}

// handleOutboxIndex serves the public outbox: notes and boosts that
// still stand.
func (s *Server) handleOutboxIndex(c *gin.Context) {
	f := db.Filter{
		Origin:         domain.OriginOutbox,
		Types:          []string{"Create", "Announce"},
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	s.renderActivityCollection(c, s.conf.BaseIRI()+"/outbox", f, s.activityDocument)
}

// handleOutboxPost accepts a client-posted activity, stamps it with a
// local id and runs it through the engine. 201 with the new activity IRI
// in Location.
func (s *Server) handleOutboxPost(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Outbox: failed to read body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	act, err := activitypub.PrepareOutbound(s.conf.BaseIRI(), body)
	if err != nil {
		s.renderError(c, err)
		return
	}

	rec, err := s.engine.Apply(c.Request.Context(), act, domain.OriginOutbox)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.Header("Location", rec.RemoteID)
	c.Status(http.StatusCreated)
}

// handleOutboxDetail serves a single outbox activity, or its tombstone
// with 410 once deleted.
func (s *Server) handleOutboxDetail(c *gin.Context) {
	iri := s.outboxIRI(c.Param("id"))

	err, rec := s.store.ReadActivityByIRI(iri)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	if rec.Origin != domain.OriginOutbox {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return
	}

	if rec.Deleted {
		s.renderActivity(c, http.StatusGone, map[string]interface{}{
			"@context": activitypub.ActivityStreamsContext,
			"id":       iri,
			"type":     "Tombstone",
		})
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(rec.RawJSON), &doc); err != nil {
		s.renderError(c, err)
		return
	}
	if _, ok := doc["@context"]; !ok {
		doc["@context"] = activitypub.ActivityStreamsContext
	}
	if rec.ActivityType == "Create" {
		s.embedCollections(doc, rec)
	}
	s.renderActivity(c, http.StatusOK, doc)
}

// handleOutboxObject serves the note embedded in a Create, which is what
// the object id of a local note points at.
func (s *Server) handleOutboxObject(c *gin.Context) {
	rec, ok := s.readOutboxCreate(c)
	if !ok {
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(rec.RawJSON), &doc); err != nil {
		s.renderError(c, err)
		return
	}
	s.embedCollections(doc, rec)
	object, ok := doc["object"].(map[string]interface{})
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	object["@context"] = activitypub.ActivityStreamsContext
	s.renderActivity(c, http.StatusOK, object)
}

// handleOutboxReplies lists the inbox replies to a local note as plain
// note objects.
func (s *Server) handleOutboxReplies(c *gin.Context) {
	rec, ok := s.readOutboxCreate(c)
	if !ok {
		return
	}
	f := db.Filter{
		Origin:         domain.OriginInbox,
		Types:          []string{"Create"},
		InReplyTo:      rec.ObjectIRI,
		ExcludeDeleted: true,
	}
	s.renderActivityCollection(c, rec.RemoteID+"/replies", f, noteDocument)
}

// handleOutboxLikes lists the still-standing Likes of a local note.
func (s *Server) handleOutboxLikes(c *gin.Context) {
	rec, ok := s.readOutboxCreate(c)
	if !ok {
		return
	}
	f := db.Filter{
		Origin:         domain.OriginInbox,
		Types:          []string{"Like"},
		ObjectIRI:      rec.ObjectIRI,
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	s.renderActivityCollection(c, rec.RemoteID+"/likes", f, s.activityDocument)
}

// handleOutboxShares lists the still-standing Announces of a local note.
func (s *Server) handleOutboxShares(c *gin.Context) {
	rec, ok := s.readOutboxCreate(c)
	if !ok {
		return
	}
	f := db.Filter{
		Origin:         domain.OriginInbox,
		Types:          []string{"Announce"},
		ObjectIRI:      rec.ObjectIRI,
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	s.renderActivityCollection(c, rec.RemoteID+"/shares", f, s.activityDocument)
}

// readOutboxCreate fetches the Create behind a note-scoped route. Gone
// or foreign records read as absent.
func (s *Server) readOutboxCreate(c *gin.Context) (*domain.ActivityRecord, bool) {
	iri := s.outboxIRI(c.Param("id"))

	err, rec := s.store.ReadActivityByIRI(iri)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return nil, false
	}
	if err != nil {
		s.renderError(c, err)
		return nil, false
	}
	if rec.Origin != domain.OriginOutbox || rec.Deleted || rec.ActivityType != "Create" {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity not found"})
		return nil, false
	}
	return rec, true
}

// embedCollections attaches the reply, like and share counters to a
// Create's object as first-page collection stubs.
func (s *Server) embedCollections(doc map[string]interface{}, rec *domain.ActivityRecord) {
	object, ok := doc["object"].(map[string]interface{})
	if !ok {
		return
	}
	object["replies"] = collectionStub(rec.RemoteID+"/replies", rec.ReplyCount)
	object["likes"] = collectionStub(rec.RemoteID+"/likes", rec.LikeCount)
	object["shares"] = collectionStub(rec.RemoteID+"/shares", rec.BoostCount)
}

func collectionStub(iri string, total int) map[string]interface{} {
	return map[string]interface{}{
		"type":       "Collection",
		"id":         iri,
		"first":      iri + "?page=first",
		"totalItems": total,
	}
}
