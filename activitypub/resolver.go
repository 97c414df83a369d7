package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

// Actor is the subset of an ActivityPub actor document the server works with.
type Actor struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver fetches remote actors and objects, backed by the cache tables.
// A ttl of zero means cached entries never expire.
type Resolver struct {
	store  *db.DB
	client *Client
	ttl    time.Duration
}

func NewResolver(store *db.DB, client *Client, ttl time.Duration) *Resolver {
	return &Resolver{store: store, client: client, ttl: ttl}
}

func (r *Resolver) expired(fetchedAt time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	return time.Since(fetchedAt) > r.ttl
}

// ResolveActor returns the actor document for iri, from cache when fresh,
// otherwise via a signed fetch. Fresh fetches overwrite the cache entry.
func (r *Resolver) ResolveActor(ctx context.Context, iri string) (*Actor, error) {
	err, cached := r.store.ReadCachedActor(iri)
	if err == nil && !r.expired(cached.FetchedAt) {
		return parseActor(iri, []byte(cached.RawJSON))
	}

	body, err := r.client.Get(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch actor %s: %w", iri, err)
	}

	actor, err := parseActor(iri, body)
	if err != nil {
		return nil, err
	}

	entry := &domain.CacheEntry{
		IRI:       iri,
		RawJSON:   string(body),
		FetchedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertCachedActor(entry); err != nil {
		log.Printf("Resolver: Failed to cache actor %s: %v", iri, err)
	}

	return actor, nil
}

func parseActor(iri string, raw []byte) (*Actor, error) {
	var actor Actor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor %s: %w", iri, err)
	}
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor %s missing required fields", iri)
	}
	return &actor, nil
}

// ResolveObject returns the raw document for iri, from cache when fresh,
// otherwise via a signed fetch.
func (r *Resolver) ResolveObject(ctx context.Context, iri string) (json.RawMessage, error) {
	err, cached := r.store.ReadCachedObject(iri)
	if err == nil && !r.expired(cached.FetchedAt) {
		return json.RawMessage(cached.RawJSON), nil
	}

	body, err := r.client.Get(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", iri, err)
	}

	entry := &domain.CacheEntry{
		IRI:       iri,
		RawJSON:   string(body),
		FetchedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertCachedObject(entry); err != nil {
		log.Printf("Resolver: Failed to cache object %s: %v", iri, err)
	}

	return json.RawMessage(body), nil
}

// InvalidateActor drops the cached copy of an actor document.
func (r *Resolver) InvalidateActor(iri string) {
	if err := r.store.DeleteCachedActor(iri); err != nil {
		log.Printf("Resolver: Failed to invalidate actor %s: %v", iri, err)
	}
}

// InvalidateObject drops the cached copy of an object document.
func (r *Resolver) InvalidateObject(iri string) {
	if err := r.store.DeleteCachedObject(iri); err != nil {
		log.Printf("Resolver: Failed to invalidate object %s: %v", iri, err)
	}
}
