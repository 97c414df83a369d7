package web

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
)

// created answers an admin action with the IRI of the resulting
// activity.
func (s *Server) created(c *gin.Context, iri string) {
	c.Header("Location", iri)
	c.JSON(http.StatusCreated, gin.H{"activity": iri})
}

// applyOutbound runs a built activity through the engine and reports the
// outcome. The build error rides along so handlers stay one-liners.
func (s *Server) applyOutbound(c *gin.Context, act *activitypub.Activity, err error) {
	if err != nil {
		s.renderError(c, err)
		return
	}
	rec, err := s.engine.Apply(c.Request.Context(), act, domain.OriginOutbox)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.created(c, rec.RemoteID)
}

// handleNewNote publishes a note, optionally as a reply. The author of
// the note being replied to is cc'd when they can be resolved.
func (s *Server) handleNewNote(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
		Reply   string `json:"reply"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	content := util.NormalizeInput(req.Content)

	var extraCC []string
	if req.Reply != "" {
		raw, err := s.resolver.ResolveObject(c.Request.Context(), req.Reply)
		if err != nil {
			log.Printf("Api: reply target %s not resolvable: %v", req.Reply, err)
		} else {
			var parent struct {
				AttributedTo string `json:"attributedTo"`
			}
			if err := json.Unmarshal(raw, &parent); err == nil && parent.AttributedTo != "" {
				extraCC = append(extraCC, parent.AttributedTo)
			}
		}
	}

	act, err := activitypub.NewNote(s.conf.BaseIRI(), content, req.Reply, extraCC)
	s.applyOutbound(c, act, err)
}

func (s *Server) handleLike(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	act, err := activitypub.NewLike(s.conf.BaseIRI(), req.ID)
	s.applyOutbound(c, act, err)
}

func (s *Server) handleBoost(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	act, err := activitypub.NewAnnounce(s.conf.BaseIRI(), req.ID)
	s.applyOutbound(c, act, err)
}

// handleUndo retracts a previously sent activity by its IRI.
func (s *Server) handleUndo(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	err, target := s.store.ReadActivityByIRI(req.ID)
	if err == sql.ErrNoRows {
		s.renderError(c, &domain.NotFoundError{IRI: req.ID})
		return
	}
	if err != nil {
		s.renderError(c, err)
		return
	}

	targetAct, err := activitypub.ParseActivity([]byte(target.RawJSON))
	if err != nil {
		s.renderError(c, err)
		return
	}

	act, err := activitypub.NewUndo(s.conf.BaseIRI(), targetAct)
	s.applyOutbound(c, act, err)
}

func (s *Server) handleDelete(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	act, err := activitypub.NewDelete(s.conf.BaseIRI(), req.ID)
	s.applyOutbound(c, act, err)
}

// handleFollow follows a remote actor. Following someone twice
// short-circuits to the standing Follow.
func (s *Server) handleFollow(c *gin.Context) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}

	if err, existing := s.store.ReadFollowingByActorIRI(req.Actor); err == nil {
		s.created(c, existing.FollowIRI)
		return
	}

	act, err := activitypub.NewFollow(s.conf.BaseIRI(), req.Actor)
	s.applyOutbound(c, act, err)
}

// handleBlock blocks a remote actor. Blocking twice short-circuits to
// the standing Block.
func (s *Server) handleBlock(c *gin.Context) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}

	f := db.Filter{
		Origin:        domain.OriginOutbox,
		Types:         []string{"Block"},
		ObjectIRI:     req.Actor,
		ExcludeUndone: true,
	}
	if err, existing := s.store.SelectActivities(f, 0, 1); err == nil && len(*existing) > 0 {
		s.created(c, (*existing)[0].RemoteID)
		return
	}

	act, err := activitypub.NewBlock(s.conf.BaseIRI(), req.Actor)
	s.applyOutbound(c, act, err)
}
