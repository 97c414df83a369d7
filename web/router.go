package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
	"golang.org/x/time/rate"
)

const contentTypeActivityJSON = "application/activity+json; charset=utf-8"

// collectionPageSize caps every paginated collection endpoint.
const collectionPageSize = 20

// Server wires the HTTP handlers to their collaborators. All state lives
// in the store, the server itself is safe for concurrent requests.
type Server struct {
	conf     *util.AppConfig
	store    *db.DB
	engine   *activitypub.Engine
	resolver *activitypub.Resolver
	verifier *activitypub.Verifier
	actor    *domain.LocalActor
}

func NewServer(conf *util.AppConfig, store *db.DB, engine *activitypub.Engine, resolver *activitypub.Resolver, verifier *activitypub.Verifier, actor *domain.LocalActor) *Server {
	return &Server{
		conf:     conf,
		store:    store,
		engine:   engine,
		resolver: resolver,
		verifier: verifier,
		actor:    actor,
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for the federation inbox: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for posted activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

	auth := TokenAuthMiddleware(s.conf.Conf.ApiToken)

	g.GET("/", s.handleActor)
	g.GET("/feed", s.handleFeed)

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInboxPost)
	g.GET("/inbox", auth, s.handleInboxGet)
	g.GET("/stream", auth, s.handleStream)
	g.GET("/notifications", auth, s.handleNotifications)

	g.GET("/outbox", s.handleOutboxIndex)
	g.POST("/outbox", auth, maxBodySize, s.handleOutboxPost)
	g.GET("/outbox/:id", s.handleOutboxDetail)
	g.GET("/outbox/:id/activity", s.handleOutboxObject)
	g.GET("/outbox/:id/replies", s.handleOutboxReplies)
	g.GET("/outbox/:id/likes", s.handleOutboxLikes)
	g.GET("/outbox/:id/shares", s.handleOutboxShares)

	g.GET("/followers", s.handleFollowers)
	g.GET("/following", s.handleFollowing)
	g.GET("/liked", s.handleLiked)
	g.GET("/tags/:tag", s.handleTag)
	g.GET("/note/:id", s.handleNote)

	api := g.Group("/api", auth)
	api.POST("/new_note", s.handleNewNote)
	api.POST("/like", s.handleLike)
	api.POST("/boost", s.handleBoost)
	api.POST("/undo", s.handleUndo)
	api.POST("/delete", s.handleDelete)
	api.POST("/follow", s.handleFollow)
	api.POST("/block", s.handleBlock)

	return g
}

func (s *Server) renderActivity(c *gin.Context, status int, doc interface{}) {
	data, err := json.Marshal(doc)
	if err != nil {
		log.Printf("Router: failed to encode response: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	c.Data(status, contentTypeActivityJSON, data)
}

// renderError maps the error taxonomy onto HTTP statuses: malformed
// payloads 400, unknown targets 404, foreign targets 403, failed
// signature verification 422.
func (s *Server) renderError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	var notFound *domain.NotFoundError
	var notOurs *domain.NotFromOutboxError
	var verification *domain.VerificationError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &notOurs):
		c.JSON(http.StatusForbidden, gin.H{"error": notOurs.Error()})
	case errors.As(err, &verification):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verification.Error()})
	default:
		log.Printf("Router: internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// pageCursor reads the cursor query parameter. An unparseable cursor
// reads as no cursor at all.
func pageCursor(c *gin.Context) (string, int64) {
	cursor := c.Query("cursor")
	before := activitypub.ParseCursor(cursor)
	if before == 0 {
		cursor = ""
	}
	return cursor, before
}
