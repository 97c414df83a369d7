package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

// handleInboxPost ingests a federated activity: parse, verify the
// signature (with the authenticated re-fetch fallback), then apply.
// 201 on success, 400 for malformed payloads, 422 when verification
// fails both ways.
func (s *Server) handleInboxPost(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	act, err := activitypub.ParseActivity(body)
	if err != nil {
		s.renderError(c, err)
		return
	}
	log.Printf("Inbox: %s from %s", act.Type, act.Actor)

	verified, err := s.verifier.VerifyInbound(c.Request.Context(), c.Request, act)
	if err != nil {
		// A 410 on the re-fetch means the origin already deleted the
		// activity. Nothing left to ingest, report it as accepted.
		if errors.Is(err, activitypub.ErrGone) {
			c.Status(http.StatusCreated)
			return
		}
		s.renderError(c, err)
		return
	}

	if _, err := s.engine.Apply(c.Request.Context(), verified, domain.OriginInbox); err != nil {
		s.renderError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

// handleInboxGet pages through everything received, token holders only.
func (s *Server) handleInboxGet(c *gin.Context) {
	f := db.Filter{
		Origin:         domain.OriginInbox,
		ExcludeDeleted: true,
	}
	s.renderActivityCollection(c, s.conf.BaseIRI()+"/inbox", f, s.activityDocument)
}

// handleStream is the reading view of the inbox: notes and boosts, with
// boosted objects inlined from the object cache.
func (s *Server) handleStream(c *gin.Context) {
	f := db.Filter{
		Origin:         domain.OriginInbox,
		Types:          []string{"Create", "Announce"},
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	s.renderActivityCollection(c, s.conf.BaseIRI()+"/stream", f, s.streamDocument)
}

// streamDocument inlines the boosted object of an Announce from the
// object cache. An Announce whose target never resolved is dropped from
// the stream rather than rendered as a bare IRI.
func (s *Server) streamDocument(rec *domain.ActivityRecord) interface{} {
	doc, ok := s.activityDocument(rec).(map[string]interface{})
	if !ok {
		return nil
	}
	if rec.ActivityType != "Announce" {
		return doc
	}

	err, cached := s.store.ReadCachedObject(rec.ObjectIRI)
	if err != nil {
		return nil
	}
	var object map[string]interface{}
	if err := json.Unmarshal([]byte(cached.RawJSON), &object); err != nil {
		log.Printf("Stream: dropping %s, cached object unreadable: %v", rec.RemoteID, err)
		return nil
	}
	delete(object, "@context")
	doc["object"] = object
	return doc
}

// handleNotifications lists inbox activity directed at the local actor:
// follows, accepts, undos, likes and boosts of local objects, replies.
func (s *Server) handleNotifications(c *gin.Context) {
	cursor, before := pageCursor(c)
	base := s.conf.BaseIRI()

	err, records := s.store.SelectNotifications(base, before, collectionPageSize)
	if err != nil {
		s.renderError(c, err)
		return
	}
	err, total := s.store.CountNotifications(base)
	if err != nil {
		s.renderError(c, err)
		return
	}

	page := activitypub.PageFromRecords(*records, collectionPageSize, total, s.activityDocument)
	doc := activitypub.BuildOrderedCollection(base+"/notifications", page, cursor, c.Query("page") == "first")
	s.renderActivity(c, http.StatusOK, doc)
}
