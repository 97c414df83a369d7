package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moapub/moa/activitypub"
)

// handleActor serves the local actor document. The actor lives at the
// root of the instance, so its id is the base IRI itself.
func (s *Server) handleActor(c *gin.Context) {
	base := s.conf.BaseIRI()

	doc := map[string]interface{}{
		"@context": []string{
			activitypub.ActivityStreamsContext,
			"https://w3id.org/security/v1",
		},
		"id":                        base,
		"type":                      "Person",
		"preferredUsername":         s.conf.Conf.Username,
		"name":                      s.conf.Conf.Username,
		"url":                       base,
		"inbox":                     base + "/inbox",
		"outbox":                    base + "/outbox",
		"followers":                 base + "/followers",
		"following":                 base + "/following",
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": base + "/inbox",
		},
		"publicKey": map[string]interface{}{
			"id":           base + "#main-key",
			"owner":        base,
			"publicKeyPem": s.actor.PublicKeyPem,
		},
	}

	s.renderActivity(c, http.StatusOK, doc)
}
