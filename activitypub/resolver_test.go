package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

func newTestResolver(t *testing.T, ttl time.Duration) (*Resolver, *db.DB, *peer) {
	t.Helper()

	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := newPeer()
	t.Cleanup(p.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	return NewResolver(store, NewClient(key, localBase+"#main-key"), ttl), store, p
}

func actorDoc(iri, username string) string {
	return fmt.Sprintf(
		`{"id":%q,"type":"Person","preferredUsername":%q,"inbox":%q,"publicKey":{"id":%q,"owner":%q,"publicKeyPem":"-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----"}}`,
		iri, username, iri+"/inbox", iri+"#main-key", iri)
}

func TestResolveActorFetchesAndCaches(t *testing.T) {
	resolver, store, p := newTestResolver(t, 0)
	iri := p.URL + "/users/alice"
	p.set("/users/alice", actorDoc(iri, "alice"))

	actor, err := resolver.ResolveActor(context.Background(), iri)
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if actor.PreferredUsername != "alice" || actor.Inbox != iri+"/inbox" {
		t.Errorf("Unexpected actor: %+v", actor)
	}

	err, cached := store.ReadCachedActor(iri)
	if err != nil {
		t.Fatalf("Expected the fetched actor cached: %v", err)
	}
	if !strings.Contains(cached.RawJSON, `"alice"`) {
		t.Errorf("Cached document does not match the fetch: %s", cached.RawJSON)
	}
	if cached.FetchedAt.IsZero() {
		t.Error("Expected a fetch timestamp on the cache entry")
	}
}

func TestResolveActorServesFromCache(t *testing.T) {
	resolver, _, p := newTestResolver(t, 0)
	iri := p.URL + "/users/alice"
	p.set("/users/alice", actorDoc(iri, "alice"))

	if _, err := resolver.ResolveActor(context.Background(), iri); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	// the origin renames the actor; a fresh cache entry must win over a refetch
	p.set("/users/alice", actorDoc(iri, "impostor"))

	actor, err := resolver.ResolveActor(context.Background(), iri)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if actor.PreferredUsername != "alice" {
		t.Errorf("Expected the cached actor, got %q", actor.PreferredUsername)
	}
}

func TestResolveActorRefetchesWhenExpired(t *testing.T) {
	resolver, store, p := newTestResolver(t, time.Hour)
	iri := p.URL + "/users/alice"
	p.set("/users/alice", actorDoc(iri, "fresh"))

	err := store.UpsertCachedActor(&domain.CacheEntry{
		IRI:       iri,
		RawJSON:   actorDoc(iri, "stale"),
		FetchedAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertCachedActor failed: %v", err)
	}

	actor, err := resolver.ResolveActor(context.Background(), iri)
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if actor.PreferredUsername != "fresh" {
		t.Errorf("Expected a refetch past the ttl, got %q", actor.PreferredUsername)
	}

	err, cached := store.ReadCachedActor(iri)
	if err != nil {
		t.Fatalf("ReadCachedActor failed: %v", err)
	}
	if !strings.Contains(cached.RawJSON, `"fresh"`) {
		t.Errorf("Expected the cache entry overwritten, got %s", cached.RawJSON)
	}
	if time.Since(cached.FetchedAt) > time.Minute {
		t.Errorf("Expected a new fetch timestamp, got %v", cached.FetchedAt)
	}
}

func TestResolveActorZeroTtlNeverExpires(t *testing.T) {
	resolver, store, p := newTestResolver(t, 0)
	iri := p.URL + "/users/gone"

	// nothing registered on the peer, so any refetch attempt would fail
	err := store.UpsertCachedActor(&domain.CacheEntry{
		IRI:       iri,
		RawJSON:   actorDoc(iri, "ancient"),
		FetchedAt: time.Now().UTC().Add(-24 * 365 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertCachedActor failed: %v", err)
	}

	actor, err := resolver.ResolveActor(context.Background(), iri)
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if actor.PreferredUsername != "ancient" {
		t.Errorf("Expected the cached actor regardless of age, got %q", actor.PreferredUsername)
	}
}

func TestResolveActorRejectsIncompleteDocument(t *testing.T) {
	resolver, store, p := newTestResolver(t, 0)
	iri := p.URL + "/users/bare"
	p.set("/users/bare", fmt.Sprintf(`{"id":%q,"type":"Person"}`, iri))

	if _, err := resolver.ResolveActor(context.Background(), iri); err == nil {
		t.Fatal("Expected an error for an actor without inbox and key")
	}

	// a document that fails validation must not poison the cache
	if err, _ := store.ReadCachedActor(iri); err == nil {
		t.Error("Expected no cache entry for the rejected document")
	}
}

func TestResolveObjectFetchesAndServesFromCache(t *testing.T) {
	resolver, store, p := newTestResolver(t, 0)
	actor := p.addActor("/users/bob")
	iri := p.addNote("/notes/1", actor, "")

	raw, err := resolver.ResolveObject(context.Background(), iri)
	if err != nil {
		t.Fatalf("ResolveObject failed: %v", err)
	}
	if !strings.Contains(string(raw), "remote note") {
		t.Errorf("Unexpected object body: %s", raw)
	}

	err, cached := store.ReadCachedObject(iri)
	if err != nil {
		t.Fatalf("Expected the object cached: %v", err)
	}
	if cached.RawJSON != string(raw) {
		t.Error("Cached document does not match the fetch")
	}

	p.set("/notes/1", `{"id":"tampered"}`)
	raw, err = resolver.ResolveObject(context.Background(), iri)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if !strings.Contains(string(raw), "remote note") {
		t.Errorf("Expected the cached object, got %s", raw)
	}
}

func TestResolveObjectGone(t *testing.T) {
	resolver, _, _ := newTestResolver(t, 0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	_, err := resolver.ResolveObject(context.Background(), srv.URL+"/notes/deleted")
	if !errors.Is(err, ErrGone) {
		t.Fatalf("Expected ErrGone through the resolver, got %v", err)
	}
}

func TestInvalidateActor(t *testing.T) {
	resolver, _, p := newTestResolver(t, 0)
	iri := p.URL + "/users/alice"
	p.set("/users/alice", actorDoc(iri, "alice"))

	if _, err := resolver.ResolveActor(context.Background(), iri); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	p.set("/users/alice", actorDoc(iri, "renamed"))
	resolver.InvalidateActor(iri)

	actor, err := resolver.ResolveActor(context.Background(), iri)
	if err != nil {
		t.Fatalf("Resolve after invalidation failed: %v", err)
	}
	if actor.PreferredUsername != "renamed" {
		t.Errorf("Expected a refetch after invalidation, got %q", actor.PreferredUsername)
	}
}

func TestInvalidateObject(t *testing.T) {
	resolver, _, p := newTestResolver(t, 0)
	actor := p.addActor("/users/bob")
	iri := p.addNote("/notes/1", actor, "")

	if _, err := resolver.ResolveObject(context.Background(), iri); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	p.set("/notes/1", fmt.Sprintf(`{"id":%q,"type":"Note","content":"edited","attributedTo":%q}`, iri, actor))
	resolver.InvalidateObject(iri)

	raw, err := resolver.ResolveObject(context.Background(), iri)
	if err != nil {
		t.Fatalf("Resolve after invalidation failed: %v", err)
	}
	if !strings.Contains(string(raw), "edited") {
		t.Errorf("Expected a refetch after invalidation, got %s", raw)
	}
}
