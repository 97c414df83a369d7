package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
)

// Reply chains longer than this are cut off during root resolution so a
// hostile thread cannot keep a handler walking forever.
const maxThreadDepth = 100

// Engine applies activities to the store. Every activity, local or remote,
// goes through Apply, which persists the record and runs the per-type side
// effects. Outbound applies additionally fan out to followers through the
// deliverer and trigger the cache purge hook.
type Engine struct {
	store     *db.DB
	resolver  *Resolver
	deliverer Deliverer
	purgeHook func()
	baseIRI   string
}

func NewEngine(store *db.DB, resolver *Resolver, deliverer Deliverer, purgeHook func(), baseIRI string) *Engine {
	return &Engine{
		store:     store,
		resolver:  resolver,
		deliverer: deliverer,
		purgeHook: purgeHook,
		baseIRI:   baseIRI,
	}
}

// Apply persists an activity and runs its side effects. Duplicate ids are
// idempotent and come back as the already stored record.
func (e *Engine) Apply(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	var (
		rec *domain.ActivityRecord
		err error
	)

	switch act.Type {
	case "Create":
		rec, err = e.applyCreate(ctx, act, origin)
	case "Follow":
		rec, err = e.applyFollow(ctx, act, origin)
	case "Accept":
		rec, err = e.applyAccept(act, origin)
	case "Undo":
		rec, err = e.applyUndo(act, origin)
	case "Like":
		rec, err = e.applyLike(ctx, act, origin)
	case "Announce":
		rec, err = e.applyAnnounce(ctx, act, origin)
	case "Delete":
		rec, err = e.applyDelete(act, origin)
	case "Update":
		rec, err = e.applyUpdate(ctx, act, origin)
	case "Block":
		rec, _, err = e.insertRecord(recordFromActivity(act, origin))
	default:
		if origin == domain.OriginOutbox {
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported outbound activity type %q", act.Type)}
		}
		// Unknown inbound types are kept for the record but have no
		// side effects.
		rec, _, err = e.insertRecord(recordFromActivity(act, origin))
	}
	if err != nil {
		return nil, err
	}

	if origin == domain.OriginOutbox {
		e.fanOut(ctx, act)
		if e.purgeHook != nil {
			e.purgeHook()
		}
	}

	return rec, nil
}

// insertRecord stores rec, resolving duplicate ids to the existing record.
// fresh reports whether this call actually inserted.
func (e *Engine) insertRecord(rec *domain.ActivityRecord) (*domain.ActivityRecord, bool, error) {
	err := e.store.CreateActivity(rec)
	if err == nil {
		return rec, true, nil
	}
	if errors.Is(err, db.ErrDuplicate) {
		rerr, existing := e.store.ReadActivityByIRI(rec.RemoteID)
		if rerr != nil {
			return nil, false, rerr
		}
		return existing, false, nil
	}
	return nil, false, err
}

func recordFromActivity(act *Activity, origin domain.Origin) *domain.ActivityRecord {
	rec := &domain.ActivityRecord{
		RemoteID:     act.ID,
		Origin:       origin,
		ActivityType: act.Type,
		ActorIRI:     act.Actor,
		ObjectIRI:    act.ObjectIRI(),
		ObjectType:   act.ObjectType(),
		Published:    act.PublishedTime(),
		RawJSON:      string(act.Raw),
	}
	if note, err := act.ObjectNote(); err == nil {
		rec.InReplyTo = note.InReplyTo
		var tags []string
		for _, tag := range note.Tag {
			if tag.Type == "Hashtag" {
				tags = append(tags, strings.ToLower(strings.TrimPrefix(tag.Name, "#")))
			}
		}
		rec.Hashtags = util.FormatHashtags(tags)
	}
	return rec
}

func (e *Engine) applyCreate(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	note, err := act.ObjectNote()
	if err != nil {
		return nil, &domain.ValidationError{Reason: "Create without an embedded object"}
	}

	rec := recordFromActivity(act, origin)
	if note.InReplyTo != "" {
		rec.ThreadRootParent = e.resolveThreadRoot(ctx, note.InReplyTo)
	}

	rec, fresh, err := e.insertRecord(rec)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	if note.InReplyTo != "" {
		if perr, parent := e.store.ReadActivityByObjectIRI(note.InReplyTo); perr == nil && !parent.Deleted {
			if berr := e.store.BumpReplyCount(note.InReplyTo, 1); berr != nil {
				log.Printf("Engine: Failed to bump reply count for %s: %v", note.InReplyTo, berr)
			}
		}
	}

	return rec, nil
}

// resolveThreadRoot walks the inReplyTo chain upwards until it reaches a
// note with no parent. Parents known locally answer from the store; remote
// parents are fetched and kept in the thread cache so thread assembly can
// use them later. The walk tolerates dead ends, the last reachable ancestor
// then counts as the root.
func (e *Engine) resolveThreadRoot(ctx context.Context, parentIRI string) string {
	var fetched []*domain.ThreadNote
	finish := func(rootIRI string) string {
		for _, tn := range fetched {
			if tn.ObjectIRI != rootIRI {
				tn.ThreadRootParent = rootIRI
			}
			if err := e.store.UpsertThreadNote(tn); err != nil {
				log.Printf("Engine: Failed to cache thread note %s: %v", tn.ObjectIRI, err)
			}
		}
		return rootIRI
	}

	current := parentIRI
	for hop := 0; hop < maxThreadDepth; hop++ {
		if err, parent := e.store.ReadActivityByObjectIRI(current); err == nil {
			if parent.ThreadRootParent != "" {
				return finish(parent.ThreadRootParent)
			}
			if parent.InReplyTo == "" {
				return finish(parent.ObjectIRI)
			}
			current = parent.InReplyTo
			continue
		}

		if err, cached := e.store.ReadThreadNoteByObjectIRI(current); err == nil {
			if cached.ThreadRootParent != "" {
				return finish(cached.ThreadRootParent)
			}
			if cached.InReplyTo == "" {
				return finish(cached.ObjectIRI)
			}
			current = cached.InReplyTo
			continue
		}

		raw, err := e.resolver.ResolveObject(ctx, current)
		if err != nil {
			log.Printf("Engine: Failed to resolve thread parent %s: %v", current, err)
			return finish(current)
		}
		var note Note
		if err := json.Unmarshal(raw, &note); err != nil || note.ID == "" {
			log.Printf("Engine: Thread parent %s is not a note", current)
			return finish(current)
		}
		fetched = append(fetched, &domain.ThreadNote{
			ObjectIRI: note.ID,
			InReplyTo: note.InReplyTo,
			Published: parsePublished(note.Published),
			RawJSON:   string(raw),
			FetchedAt: time.Now().UTC(),
		})
		if note.InReplyTo == "" {
			return finish(note.ID)
		}
		current = note.InReplyTo
	}

	log.Printf("Engine: Thread walk from %s gave up after %d hops", parentIRI, maxThreadDepth)
	return finish(current)
}

func (e *Engine) applyFollow(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	targetIRI := act.ObjectIRI()
	if targetIRI == "" {
		return nil, &domain.ValidationError{Reason: "Follow without a target"}
	}

	if origin == domain.OriginInbox {
		actor, err := e.resolver.ResolveActor(ctx, act.Actor)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve follower %s: %w", act.Actor, err)
		}

		rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
		if err != nil {
			return nil, err
		}

		follower := &domain.Follower{
			ActorIRI:  act.Actor,
			InboxIRI:  actor.Inbox,
			FollowIRI: act.ID,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.store.UpsertFollower(follower); err != nil {
			return nil, fmt.Errorf("failed to record follower: %w", err)
		}

		if fresh {
			if err := e.acceptFollow(ctx, act); err != nil {
				log.Printf("Engine: Failed to accept follow %s: %v", act.ID, err)
			}
		}
		return rec, nil
	}

	actor, err := e.resolver.ResolveActor(ctx, targetIRI)
	if err != nil {
		return nil, &domain.NotFoundError{IRI: targetIRI}
	}

	rec, _, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}

	following := &domain.Following{
		ActorIRI:  actor.ID,
		FollowIRI: act.ID,
		Accepted:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.UpsertFollowing(following); err != nil {
		return nil, fmt.Errorf("failed to record following: %w", err)
	}

	return rec, nil
}

func (e *Engine) acceptFollow(ctx context.Context, follow *Activity) error {
	accept, err := NewAccept(e.baseIRI, follow.ID, follow.Actor)
	if err != nil {
		return err
	}
	_, err = e.Apply(ctx, accept, domain.OriginOutbox)
	return err
}

func (e *Engine) applyAccept(act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}

	if origin == domain.OriginInbox && fresh {
		// the embedded object is our original Follow
		followIRI := act.ObjectIRI()
		if followIRI == "" {
			return rec, nil
		}
		if err := e.store.AcceptFollowing(followIRI); err != nil {
			log.Printf("Engine: Failed to mark follow %s accepted: %v", followIRI, err)
		}
	}

	return rec, nil
}

func (e *Engine) applyUndo(act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	targetIRI := act.ObjectIRI()
	if targetIRI == "" {
		return nil, &domain.ValidationError{Reason: "Undo without a target"}
	}

	err, target := e.store.ReadActivityByIRI(targetIRI)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{IRI: targetIRI}
		}
		return nil, err
	}
	if origin == domain.OriginOutbox && target.Origin != domain.OriginOutbox {
		return nil, &domain.NotFromOutboxError{IRI: targetIRI}
	}
	if origin == domain.OriginInbox && target.ActorIRI != act.Actor {
		return nil, &domain.ValidationError{Reason: "undo actor does not own the target"}
	}

	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	// The undo flag flips at most once, so a second Undo under a new id
	// cannot decrement twice.
	err, flipped := e.store.MarkActivityUndone(targetIRI)
	if err != nil {
		return nil, fmt.Errorf("failed to mark %s undone: %w", targetIRI, err)
	}
	if !flipped {
		return rec, nil
	}

	switch target.ActivityType {
	case "Follow":
		if target.Origin == domain.OriginInbox {
			if derr := e.store.DeleteFollowerByActorIRI(target.ActorIRI); derr != nil {
				log.Printf("Engine: Failed to remove follower %s: %v", target.ActorIRI, derr)
			}
		} else {
			if derr := e.store.DeleteFollowingByActorIRI(target.ObjectIRI); derr != nil {
				log.Printf("Engine: Failed to remove following %s: %v", target.ObjectIRI, derr)
			}
		}
	case "Like":
		if berr := e.store.BumpLikeCount(target.ObjectIRI, -1); berr != nil {
			log.Printf("Engine: Failed to decrement like count for %s: %v", target.ObjectIRI, berr)
		}
	case "Announce":
		if berr := e.store.BumpBoostCount(target.ObjectIRI, -1); berr != nil {
			log.Printf("Engine: Failed to decrement boost count for %s: %v", target.ObjectIRI, berr)
		}
	}

	return rec, nil
}

func (e *Engine) applyLike(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	objectIRI := act.ObjectIRI()
	if objectIRI == "" {
		return nil, &domain.ValidationError{Reason: "Like without a target"}
	}

	// A Like of something that cannot be resolved counts nothing.
	if err := e.resolveTarget(ctx, objectIRI); err != nil {
		return nil, &domain.NotFoundError{IRI: objectIRI}
	}

	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	if berr := e.store.BumpLikeCount(objectIRI, 1); berr != nil {
		log.Printf("Engine: Failed to bump like count for %s: %v", objectIRI, berr)
	}
	return rec, nil
}

func (e *Engine) applyAnnounce(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	objectIRI := act.ObjectIRI()
	if objectIRI == "" {
		return nil, &domain.ValidationError{Reason: "Announce without a target"}
	}

	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	// Keep a copy of the boosted object around for stream rendering. An
	// unreachable object still counts, the boost happened either way.
	if err := e.resolveTarget(ctx, objectIRI); err != nil {
		log.Printf("Engine: Failed to resolve announced object %s: %v", objectIRI, err)
	}

	if berr := e.store.BumpBoostCount(objectIRI, 1); berr != nil {
		log.Printf("Engine: Failed to bump boost count for %s: %v", objectIRI, berr)
	}
	return rec, nil
}

// resolveTarget makes sure objectIRI is either stored locally or present
// in the object cache.
func (e *Engine) resolveTarget(ctx context.Context, objectIRI string) error {
	if err, _ := e.store.ReadActivityByObjectIRI(objectIRI); err == nil {
		return nil
	}
	_, err := e.resolver.ResolveObject(ctx, objectIRI)
	return err
}

func (e *Engine) applyDelete(act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	objectIRI := act.ObjectIRI()
	if objectIRI == "" {
		return nil, &domain.ValidationError{Reason: "Delete without a target"}
	}

	if origin == domain.OriginOutbox {
		if !strings.HasPrefix(objectIRI, e.baseIRI) {
			return nil, &domain.NotFromOutboxError{IRI: objectIRI}
		}
		err, target := e.store.ReadActivityByObjectIRI(objectIRI)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, &domain.NotFoundError{IRI: objectIRI}
			}
			return nil, err
		}
		if target.Origin != domain.OriginOutbox {
			return nil, &domain.NotFromOutboxError{IRI: objectIRI}
		}

		rec, _, err := e.insertRecord(recordFromActivity(act, origin))
		if err != nil {
			return nil, err
		}
		if merr := e.store.MarkActivityDeleted(target.RemoteID); merr != nil {
			return nil, fmt.Errorf("failed to mark %s deleted: %w", target.RemoteID, merr)
		}
		e.resolver.InvalidateObject(objectIRI)
		return rec, nil
	}

	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	if objectIRI == act.Actor {
		// the actor deleted itself, drop every trace of the relationship
		if derr := e.store.DeleteFollowerByActorIRI(act.Actor); derr != nil {
			log.Printf("Engine: Failed to remove follower %s: %v", act.Actor, derr)
		}
		if derr := e.store.DeleteFollowingByActorIRI(act.Actor); derr != nil {
			log.Printf("Engine: Failed to remove following %s: %v", act.Actor, derr)
		}
		e.resolver.InvalidateActor(act.Actor)
		return rec, nil
	}

	// Only the authoring actor may delete an object we hold.
	if terr, target := e.store.ReadActivityByObjectIRI(objectIRI); terr == nil && target.ActorIRI == act.Actor {
		if merr := e.store.MarkActivityDeleted(target.RemoteID); merr != nil {
			log.Printf("Engine: Failed to mark %s deleted: %v", target.RemoteID, merr)
		}
	}
	e.resolver.InvalidateObject(objectIRI)
	return rec, nil
}

func (e *Engine) applyUpdate(ctx context.Context, act *Activity, origin domain.Origin) (*domain.ActivityRecord, error) {
	if origin == domain.OriginOutbox {
		return nil, &domain.ValidationError{Reason: "unsupported outbound activity type \"Update\""}
	}

	rec, fresh, err := e.insertRecord(recordFromActivity(act, origin))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return rec, nil
	}

	objectIRI := act.ObjectIRI()
	switch act.ObjectType() {
	case "Person", "Service", "Application":
		e.resolver.InvalidateActor(objectIRI)
		if _, rerr := e.resolver.ResolveActor(ctx, objectIRI); rerr != nil {
			log.Printf("Engine: Failed to refresh actor %s: %v", objectIRI, rerr)
		}
	default:
		e.applyObjectUpdate(act, objectIRI)
		e.resolver.InvalidateObject(objectIRI)
	}

	return rec, nil
}

// applyObjectUpdate swaps the embedded object of the stored activity for
// the updated representation.
func (e *Engine) applyObjectUpdate(act *Activity, objectIRI string) {
	if len(act.Object) == 0 || act.Object[0] != '{' {
		return
	}

	err, target := e.store.ReadActivityByObjectIRI(objectIRI)
	if err != nil {
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(target.RawJSON), &doc); err != nil {
		log.Printf("Engine: Failed to parse stored activity %s: %v", target.RemoteID, err)
		return
	}
	var updated interface{}
	if err := json.Unmarshal(act.Object, &updated); err != nil {
		log.Printf("Engine: Failed to parse updated object %s: %v", objectIRI, err)
		return
	}
	doc["object"] = updated

	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := e.store.UpdateActivityRaw(target.RemoteID, string(raw)); err != nil {
		log.Printf("Engine: Failed to store updated object %s: %v", objectIRI, err)
		return
	}

	if terr, cached := e.store.ReadThreadNoteByObjectIRI(objectIRI); terr == nil {
		cached.RawJSON = string(act.Object)
		cached.FetchedAt = time.Now().UTC()
		if uerr := e.store.UpsertThreadNote(cached); uerr != nil {
			log.Printf("Engine: Failed to refresh thread note %s: %v", objectIRI, uerr)
		}
	}
}

// fanOut queues delivery of an outbound activity. Follows and Accepts go
// straight to the concerned actor, everything else goes to the followers,
// with the affected author notified for replies, likes and boosts.
func (e *Engine) fanOut(ctx context.Context, act *Activity) {
	if e.deliverer == nil {
		return
	}
	raw := []byte(act.Raw)

	switch act.Type {
	case "Block":
		// recorded, never delivered
		return
	case "Follow":
		e.deliverToActor(ctx, act.ObjectIRI(), raw)
		return
	case "Accept":
		var follow struct {
			Actor string `json:"actor"`
		}
		if err := json.Unmarshal(act.Object, &follow); err != nil || follow.Actor == "" {
			log.Printf("Engine: Accept %s has no follower to answer", act.ID)
			return
		}
		e.deliverToActor(ctx, follow.Actor, raw)
		return
	case "Undo":
		if err, target := e.store.ReadActivityByIRI(act.ObjectIRI()); err == nil && target.ActivityType == "Follow" {
			e.deliverToActor(ctx, target.ObjectIRI, raw)
			return
		}
	case "Like", "Announce":
		e.deliverToAuthor(ctx, act.ObjectIRI(), raw)
	case "Create":
		if note, err := act.ObjectNote(); err == nil && note.InReplyTo != "" {
			e.deliverToAuthor(ctx, note.InReplyTo, raw)
		}
	}

	if err := e.deliverer.DeliverToFollowers(raw); err != nil {
		log.Printf("Engine: Failed to queue follower delivery for %s: %v", act.ID, err)
	}
}

func (e *Engine) deliverToActor(ctx context.Context, actorIRI string, raw []byte) {
	if actorIRI == "" || strings.HasPrefix(actorIRI, e.baseIRI) {
		return
	}
	actor, err := e.resolver.ResolveActor(ctx, actorIRI)
	if err != nil {
		log.Printf("Engine: Failed to resolve %s for delivery: %v", actorIRI, err)
		return
	}
	if err := e.deliverer.DeliverToInbox(raw, actor.Inbox); err != nil {
		log.Printf("Engine: Failed to queue delivery to %s: %v", actor.Inbox, err)
	}
}

func (e *Engine) deliverToAuthor(ctx context.Context, objectIRI string, raw []byte) {
	if objectIRI == "" || strings.HasPrefix(objectIRI, e.baseIRI) {
		return
	}
	doc, err := e.resolver.ResolveObject(ctx, objectIRI)
	if err != nil {
		log.Printf("Engine: Failed to resolve %s for delivery: %v", objectIRI, err)
		return
	}
	var note Note
	if err := json.Unmarshal(doc, &note); err != nil || note.AttributedTo == "" {
		return
	}
	e.deliverToActor(ctx, note.AttributedTo, raw)
}
