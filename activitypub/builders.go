package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
)

const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Outbound activities live under /outbox/<uuid>; a created note's object
// id is the activity id plus "/activity".
func newOutboxIRI(baseIRI string) string {
	return fmt.Sprintf("%s/outbox/%s", baseIRI, uuid.New().String())
}

func buildActivity(doc map[string]interface{}) (*Activity, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	return ParseActivity(raw)
}

// NewNote builds a Create activity wrapping a public Note. Hashtags are
// extracted from the content and attached as Hashtag tags; extraCC is for
// addressing the author of the note being replied to.
func NewNote(baseIRI, content, inReplyTo string, extraCC []string) (*Activity, error) {
	activityIRI := newOutboxIRI(baseIRI)
	objectIRI := activityIRI + "/activity"
	published := time.Now().UTC().Format(time.RFC3339)

	cc := []string{baseIRI + "/followers"}
	cc = append(cc, extraCC...)

	tags := []map[string]interface{}{}
	for _, tag := range util.ExtractHashtags(content) {
		tags = append(tags, map[string]interface{}{
			"type": "Hashtag",
			"href": fmt.Sprintf("%s/tags/%s", baseIRI, tag),
			"name": "#" + tag,
		})
	}

	object := map[string]interface{}{
		"id":           objectIRI,
		"type":         "Note",
		"attributedTo": baseIRI,
		"content":      content,
		"published":    published,
		"to":           []string{PublicAudience},
		"cc":           cc,
		"tag":          tags,
	}
	if inReplyTo != "" {
		object["inReplyTo"] = inReplyTo
	}

	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        activityIRI,
		"type":      "Create",
		"actor":     baseIRI,
		"published": published,
		"to":        []string{PublicAudience},
		"cc":        cc,
		"object":    object,
	})
}

// PrepareOutbound turns a client-posted activity document into a local
// outbound activity: the id, actor and published stamp are assigned
// here, whatever the client sent for them is discarded. For a Create the
// embedded object gets its id and attribution the same way.
func PrepareOutbound(baseIRI string, raw []byte) (*Activity, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ValidationError{Reason: "request body is not valid JSON"}
	}

	activityIRI := newOutboxIRI(baseIRI)
	published := time.Now().UTC().Format(time.RFC3339)

	doc["id"] = activityIRI
	doc["actor"] = baseIRI
	doc["published"] = published
	if _, ok := doc["@context"]; !ok {
		doc["@context"] = ActivityStreamsContext
	}

	if typ, _ := doc["type"].(string); typ == "Create" {
		object, ok := doc["object"].(map[string]interface{})
		if !ok {
			return nil, &domain.ValidationError{Reason: "Create without an embedded object"}
		}
		object["id"] = activityIRI + "/activity"
		object["attributedTo"] = baseIRI
		if _, ok := object["published"]; !ok {
			object["published"] = published
		}
	}

	return buildActivity(doc)
}

// NewFollow builds a Follow of a remote actor.
func NewFollow(baseIRI, targetActorIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Follow",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object":    targetActorIRI,
	})
}

// NewAccept builds an Accept answering an inbound Follow.
func NewAccept(baseIRI, followIRI, followActorIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Accept",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object": map[string]interface{}{
			"id":     followIRI,
			"type":   "Follow",
			"actor":  followActorIRI,
			"object": baseIRI,
		},
	})
}

// NewLike builds a Like of an object.
func NewLike(baseIRI, objectIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Like",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object":    objectIRI,
	})
}

// NewAnnounce builds a public Announce (boost) of an object.
func NewAnnounce(baseIRI, objectIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Announce",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"cc":        []string{baseIRI + "/followers"},
		"object":    objectIRI,
	})
}

// NewUndo builds an Undo of a previously sent activity. The target is
// embedded so remote ends can match it without a lookup.
func NewUndo(baseIRI string, target *Activity) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Undo",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object": map[string]interface{}{
			"id":     target.ID,
			"type":   target.Type,
			"actor":  target.Actor,
			"object": target.ObjectIRI(),
		},
	})
}

// NewDelete builds a Delete replacing a local object with a tombstone.
func NewDelete(baseIRI, objectIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Delete",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"object": map[string]interface{}{
			"id":   objectIRI,
			"type": "Tombstone",
		},
	})
}

// NewBlock builds a Block of a remote actor. Blocks stay local, they are
// recorded but never delivered.
func NewBlock(baseIRI, actorIRI string) (*Activity, error) {
	return buildActivity(map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        newOutboxIRI(baseIRI),
		"type":      "Block",
		"actor":     baseIRI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"object":    actorIRI,
	})
}
