package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

// renderActivityCollection pages through activities matching f and
// renders them as an OrderedCollection at colIRI. The same cursor rules
// apply to every collection endpoint.
func (s *Server) renderActivityCollection(c *gin.Context, colIRI string, f db.Filter, mapFn func(*domain.ActivityRecord) interface{}) {
	cursor, before := pageCursor(c)

	err, records := s.store.SelectActivities(f, before, collectionPageSize)
	if err != nil {
		s.renderError(c, err)
		return
	}
	err, total := s.store.CountActivities(f)
	if err != nil {
		s.renderError(c, err)
		return
	}

	page := activitypub.PageFromRecords(*records, collectionPageSize, total, mapFn)
	doc := activitypub.BuildOrderedCollection(colIRI, page, cursor, c.Query("page") == "first")
	s.renderActivity(c, http.StatusOK, doc)
}

// activityDocument renders a stored record as its activity JSON with the
// context stripped, the form collection items take. Outbox Creates carry
// their interaction collections embedded on the object.
func (s *Server) activityDocument(rec *domain.ActivityRecord) interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(rec.RawJSON), &doc); err != nil {
		log.Printf("Collections: skipping %s, unreadable raw json: %v", rec.RemoteID, err)
		return nil
	}
	delete(doc, "@context")
	if rec.Origin == domain.OriginOutbox && rec.ActivityType == "Create" {
		s.embedCollections(doc, rec)
	}
	return doc
}

// noteDocument renders just the embedded object of a stored Create.
func noteDocument(rec *domain.ActivityRecord) interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(rec.RawJSON), &doc); err != nil {
		log.Printf("Collections: skipping %s, unreadable raw json: %v", rec.RemoteID, err)
		return nil
	}
	object, ok := doc["object"].(map[string]interface{})
	if !ok {
		return nil
	}
	delete(object, "@context")
	return object
}

func (s *Server) handleFollowers(c *gin.Context) {
	cursor, before := pageCursor(c)

	err, rows := s.store.SelectFollowers(before, collectionPageSize)
	if err != nil {
		s.renderError(c, err)
		return
	}
	err, total := s.store.CountFollowers()
	if err != nil {
		s.renderError(c, err)
		return
	}

	items := make([]interface{}, 0, len(*rows))
	seqs := make([]int64, 0, len(*rows))
	for _, f := range *rows {
		items = append(items, f.ActorIRI)
		seqs = append(seqs, f.Seq)
	}

	page := activitypub.PageFromSeqs(items, seqs, collectionPageSize, total)
	doc := activitypub.BuildOrderedCollection(s.conf.BaseIRI()+"/followers", page, cursor, c.Query("page") == "first")
	s.renderActivity(c, http.StatusOK, doc)
}

func (s *Server) handleFollowing(c *gin.Context) {
	cursor, before := pageCursor(c)

	err, rows := s.store.SelectFollowing(before, collectionPageSize)
	if err != nil {
		s.renderError(c, err)
		return
	}
	err, total := s.store.CountFollowing()
	if err != nil {
		s.renderError(c, err)
		return
	}

	items := make([]interface{}, 0, len(*rows))
	seqs := make([]int64, 0, len(*rows))
	for _, f := range *rows {
		items = append(items, f.ActorIRI)
		seqs = append(seqs, f.Seq)
	}

	page := activitypub.PageFromSeqs(items, seqs, collectionPageSize, total)
	doc := activitypub.BuildOrderedCollection(s.conf.BaseIRI()+"/following", page, cursor, c.Query("page") == "first")
	s.renderActivity(c, http.StatusOK, doc)
}

// handleLiked lists the object IRIs of the still-standing outbox Likes.
func (s *Server) handleLiked(c *gin.Context) {
	f := db.Filter{
		Origin:         domain.OriginOutbox,
		Types:          []string{"Like"},
		ExcludeDeleted: true,
		ExcludeUndone:  true,
	}
	s.renderActivityCollection(c, s.conf.BaseIRI()+"/liked", f, func(rec *domain.ActivityRecord) interface{} {
		return rec.ObjectIRI
	})
}

// handleTag lists the ids of local notes carrying the hashtag.
func (s *Server) handleTag(c *gin.Context) {
	tag := strings.ToLower(c.Param("tag"))
	f := db.Filter{
		Origin:         domain.OriginOutbox,
		Types:          []string{"Create"},
		Hashtag:        tag,
		ExcludeDeleted: true,
	}
	s.renderActivityCollection(c, s.conf.BaseIRI()+"/tags/"+tag, f, func(rec *domain.ActivityRecord) interface{} {
		return rec.ObjectIRI
	})
}
