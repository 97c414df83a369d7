package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

const localBase = "https://local.example"

// peer plays the remote instance: it serves actor and object documents
// registered by the test.
type peer struct {
	*httptest.Server
	mu   sync.Mutex
	docs map[string]string
}

func newPeer() *peer {
	p := &peer{docs: make(map[string]string)}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		doc, ok := p.docs[r.URL.Path]
		p.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(doc))
	}))
	return p
}

func (p *peer) set(path, doc string) {
	p.mu.Lock()
	p.docs[path] = doc
	p.mu.Unlock()
}

func (p *peer) addActor(path string) string {
	iri := p.URL + path
	p.set(path, fmt.Sprintf(
		`{"id":%q,"type":"Person","preferredUsername":"bob","inbox":%q,"publicKey":{"id":%q,"owner":%q,"publicKeyPem":"-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----"}}`,
		iri, iri+"/inbox", iri+"#main-key", iri))
	return iri
}

func (p *peer) addNote(path, attributedTo, inReplyTo string) string {
	iri := p.URL + path
	doc := fmt.Sprintf(`{"id":%q,"type":"Note","content":"remote note","published":"2024-03-01T09:00:00Z","attributedTo":%q`, iri, attributedTo)
	if inReplyTo != "" {
		doc += fmt.Sprintf(`,"inReplyTo":%q`, inReplyTo)
	}
	doc += "}"
	p.set(path, doc)
	return iri
}

type delivered struct {
	inbox string
	raw   []byte
}

type stubDeliverer struct {
	mu        sync.Mutex
	followers [][]byte
	direct    []delivered
}

func (s *stubDeliverer) DeliverToFollowers(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followers = append(s.followers, raw)
	return nil
}

func (s *stubDeliverer) DeliverToInbox(raw []byte, inboxIRI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = append(s.direct, delivered{inbox: inboxIRI, raw: raw})
	return nil
}

func (s *stubDeliverer) directCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.direct)
}

func newTestEngine(t *testing.T) (*Engine, *db.DB, *stubDeliverer, *peer) {
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

	client := NewClient(key, localBase+"#main-key")
	resolver := NewResolver(store, client, 0)
	deliverer := &stubDeliverer{}
	engine := NewEngine(store, resolver, deliverer, nil, localBase)

	return engine, store, deliverer, p
}

func mustParse(t *testing.T, raw string) *Activity {
	t.Helper()
	act, err := ParseActivity([]byte(raw))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	return act
}

func inboundCreate(t *testing.T, id, actor, objectIRI, inReplyTo string) *Activity {
	t.Helper()
	raw := fmt.Sprintf(`{"id":%q,"type":"Create","actor":%q,"published":"2024-03-01T10:00:00Z","object":{"id":%q,"type":"Note","content":"hi","published":"2024-03-01T10:00:00Z","attributedTo":%q`,
		id, actor, objectIRI, actor)
	if inReplyTo != "" {
		raw += fmt.Sprintf(`,"inReplyTo":%q`, inReplyTo)
	}
	raw += "}}"
	return mustParse(t, raw)
}

func TestApplyCreateOutbound(t *testing.T) {
	engine, store, deliverer, _ := newTestEngine(t)

	act, err := NewNote(localBase, "first post #intro", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}

	rec, err := engine.Apply(context.Background(), act, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.Seq == 0 {
		t.Error("Expected record to be stored")
	}
	if rec.Origin != domain.OriginOutbox || rec.ActivityType != "Create" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Hashtags == "" {
		t.Error("Expected hashtags to be extracted")
	}
	if len(deliverer.followers) != 1 {
		t.Errorf("Expected one follower fan-out, got %d", len(deliverer.followers))
	}

	err, stored := store.ReadActivityByIRI(act.ID)
	if err != nil {
		t.Fatalf("ReadActivityByIRI failed: %v", err)
	}
	if stored.ObjectIRI != act.ObjectIRI() {
		t.Errorf("Stored object IRI %s does not match %s", stored.ObjectIRI, act.ObjectIRI())
	}
}

func TestApplyCreateDuplicateIdempotent(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	act := inboundCreate(t, p.URL+"/activities/1", actor, p.URL+"/notes/1", "")

	first, err := engine.Apply(context.Background(), act, domain.OriginInbox)
	if err != nil {
		t.Fatalf("First apply failed: %v", err)
	}
	second, err := engine.Apply(context.Background(), act, domain.OriginInbox)
	if err != nil {
		t.Fatalf("Second apply failed: %v", err)
	}

	if first.Seq != second.Seq {
		t.Errorf("Expected the stored record back, got seq %d and %d", first.Seq, second.Seq)
	}

	err, n := store.CountActivities(db.Filter{Types: []string{"Create"}})
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 stored Create, got %d", n)
	}
}

func TestApplyCreateReplyBumpsParent(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	note, err := NewNote(localBase, "root", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	parent, err := engine.Apply(context.Background(), note, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply parent failed: %v", err)
	}

	reply := inboundCreate(t, p.URL+"/activities/2", actor, p.URL+"/notes/2", parent.ObjectIRI)
	rec, err := engine.Apply(context.Background(), reply, domain.OriginInbox)
	if err != nil {
		t.Fatalf("Apply reply failed: %v", err)
	}

	if rec.ThreadRootParent != parent.ObjectIRI {
		t.Errorf("Expected thread root %s, got %s", parent.ObjectIRI, rec.ThreadRootParent)
	}

	err, stored := store.ReadActivityByObjectIRI(parent.ObjectIRI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	if stored.ReplyCount != 1 {
		t.Errorf("Expected reply count 1, got %d", stored.ReplyCount)
	}

	// the same reply again must not double count
	if _, err := engine.Apply(context.Background(), reply, domain.OriginInbox); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	err, stored = store.ReadActivityByObjectIRI(parent.ObjectIRI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	if stored.ReplyCount != 1 {
		t.Errorf("Expected reply count to stay 1, got %d", stored.ReplyCount)
	}
}

func TestApplyCreateWalksRemoteThread(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")
	rootIRI := p.addNote("/notes/root", actor, "")
	midIRI := p.addNote("/notes/mid", actor, rootIRI)

	reply := inboundCreate(t, p.URL+"/activities/3", actor, p.URL+"/notes/leaf", midIRI)
	rec, err := engine.Apply(context.Background(), reply, domain.OriginInbox)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.ThreadRootParent != rootIRI {
		t.Errorf("Expected thread root %s, got %s", rootIRI, rec.ThreadRootParent)
	}

	err, cached := store.ReadThreadNoteByObjectIRI(midIRI)
	if err != nil {
		t.Fatalf("Expected mid note in thread cache: %v", err)
	}
	if cached.ThreadRootParent != rootIRI {
		t.Errorf("Expected cached mid note rooted at %s, got %s", rootIRI, cached.ThreadRootParent)
	}

	err, root := store.ReadThreadNoteByObjectIRI(rootIRI)
	if err != nil {
		t.Fatalf("Expected root note in thread cache: %v", err)
	}
	if root.ThreadRootParent != "" {
		t.Errorf("Root note must not point at a root itself, got %s", root.ThreadRootParent)
	}
}

func TestApplyCreateUnreachableParentTolerated(t *testing.T) {
	engine, _, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")
	deadParent := p.URL + "/notes/missing"

	reply := inboundCreate(t, p.URL+"/activities/4", actor, p.URL+"/notes/5", deadParent)
	rec, err := engine.Apply(context.Background(), reply, domain.OriginInbox)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// the last reachable ancestor counts as the root
	if rec.ThreadRootParent != deadParent {
		t.Errorf("Expected root %s, got %s", deadParent, rec.ThreadRootParent)
	}
}

func TestApplyFollowInbound(t *testing.T) {
	engine, store, deliverer, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	follow := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Follow","actor":%q,"object":%q}`,
		p.URL+"/activities/f1", actor, localBase))

	if _, err := engine.Apply(context.Background(), follow, domain.OriginInbox); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	err, n := store.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 follower, got %d", n)
	}

	// an Accept went out to the follower's inbox
	if deliverer.directCount() != 1 {
		t.Fatalf("Expected 1 direct delivery, got %d", deliverer.directCount())
	}
	if deliverer.direct[0].inbox != actor+"/inbox" {
		t.Errorf("Accept went to %s", deliverer.direct[0].inbox)
	}
	accepted, err := ParseActivity(deliverer.direct[0].raw)
	if err != nil || accepted.Type != "Accept" {
		t.Errorf("Expected an Accept delivery, got %v (%v)", accepted, err)
	}

	// replay: still one follower, no second Accept
	if _, err := engine.Apply(context.Background(), follow, domain.OriginInbox); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	err, n = store.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 follower after replay, got %d", n)
	}
	if deliverer.directCount() != 1 {
		t.Errorf("Expected no second Accept, got %d deliveries", deliverer.directCount())
	}
}

func TestApplyFollowOutboundAndAccept(t *testing.T) {
	engine, store, deliverer, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	follow, err := NewFollow(localBase, actor)
	if err != nil {
		t.Fatalf("NewFollow failed: %v", err)
	}
	if _, err := engine.Apply(context.Background(), follow, domain.OriginOutbox); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	err, following := store.ReadFollowingByActorIRI(actor)
	if err != nil {
		t.Fatalf("ReadFollowingByActorIRI failed: %v", err)
	}
	if following.Accepted {
		t.Error("Follow must start out pending")
	}
	if deliverer.directCount() != 1 {
		t.Errorf("Expected the Follow delivered to the target, got %d", deliverer.directCount())
	}

	accept := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Accept","actor":%q,"object":{"id":%q,"type":"Follow","actor":%q,"object":%q}}`,
		p.URL+"/activities/a1", actor, follow.ID, localBase, actor))
	if _, err := engine.Apply(context.Background(), accept, domain.OriginInbox); err != nil {
		t.Fatalf("Apply accept failed: %v", err)
	}

	err, following = store.ReadFollowingByActorIRI(actor)
	if err != nil {
		t.Fatalf("ReadFollowingByActorIRI failed: %v", err)
	}
	if !following.Accepted {
		t.Error("Expected the follow to be marked accepted")
	}
}

func TestApplyLikeConcurrent(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	note, err := NewNote(localBase, "likeable", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	parent, err := engine.Apply(context.Background(), note, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply note failed: %v", err)
	}

	const likes = 10
	var wg sync.WaitGroup
	errs := make(chan error, likes)
	for i := 0; i < likes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			like := mustParse(t, fmt.Sprintf(
				`{"id":%q,"type":"Like","actor":%q,"object":%q}`,
				fmt.Sprintf("%s/activities/like-%d", p.URL, i), actor, parent.ObjectIRI))
			if _, err := engine.Apply(context.Background(), like, domain.OriginInbox); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent like failed: %v", err)
	}

	err, stored := store.ReadActivityByObjectIRI(parent.ObjectIRI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	if stored.LikeCount != likes {
		t.Errorf("Expected like count %d, got %d", likes, stored.LikeCount)
	}
}

func TestApplyLikeUnresolvableTarget(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	like := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Like","actor":%q,"object":%q}`,
		p.URL+"/activities/like-x", actor, p.URL+"/notes/nothing-here"))

	_, err := engine.Apply(context.Background(), like, domain.OriginInbox)
	var nferr *domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}

	err, n := store.CountActivities(db.Filter{Types: []string{"Like"}})
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no stored Like, got %d", n)
	}
}

func TestApplyUndoFollowIdempotent(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	follow := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Follow","actor":%q,"object":%q}`,
		p.URL+"/activities/f1", actor, localBase))
	if _, err := engine.Apply(context.Background(), follow, domain.OriginInbox); err != nil {
		t.Fatalf("Apply follow failed: %v", err)
	}

	undo := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Undo","actor":%q,"object":{"id":%q,"type":"Follow","actor":%q,"object":%q}}`,
		p.URL+"/activities/u1", actor, follow.ID, actor, localBase))

	if _, err := engine.Apply(context.Background(), undo, domain.OriginInbox); err != nil {
		t.Fatalf("Apply undo failed: %v", err)
	}
	err, n := store.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected follower removed, got %d", n)
	}

	// the same Undo again is a no-op, not an error
	if _, err := engine.Apply(context.Background(), undo, domain.OriginInbox); err != nil {
		t.Fatalf("Replayed undo failed: %v", err)
	}

	// a second distinct Undo of the same Follow changes nothing either
	undo2 := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Undo","actor":%q,"object":%q}`,
		p.URL+"/activities/u2", actor, follow.ID))
	if _, err := engine.Apply(context.Background(), undo2, domain.OriginInbox); err != nil {
		t.Fatalf("Second undo failed: %v", err)
	}
	err, n = store.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected follower count to stay 0, got %d", n)
	}
}

func TestApplyUndoLikeDecrementsOnce(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	note, err := NewNote(localBase, "liked once", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	parent, err := engine.Apply(context.Background(), note, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply note failed: %v", err)
	}

	like := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Like","actor":%q,"object":%q}`,
		p.URL+"/activities/like-1", actor, parent.ObjectIRI))
	if _, err := engine.Apply(context.Background(), like, domain.OriginInbox); err != nil {
		t.Fatalf("Apply like failed: %v", err)
	}

	for i, undoID := range []string{"/activities/u1", "/activities/u2"} {
		undo := mustParse(t, fmt.Sprintf(
			`{"id":%q,"type":"Undo","actor":%q,"object":%q}`,
			p.URL+undoID, actor, like.ID))
		if _, err := engine.Apply(context.Background(), undo, domain.OriginInbox); err != nil {
			t.Fatalf("Undo %d failed: %v", i, err)
		}
	}

	err, stored := store.ReadActivityByObjectIRI(parent.ObjectIRI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	if stored.LikeCount != 0 {
		t.Errorf("Expected like count 0, got %d", stored.LikeCount)
	}
}

func TestApplyUndoForeignTarget(t *testing.T) {
	engine, _, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	like := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Like","actor":%q,"object":%q}`,
		p.URL+"/activities/like-1", actor, p.URL+"/notes/n"))
	p.addNote("/notes/n", actor, "")
	if _, err := engine.Apply(context.Background(), like, domain.OriginInbox); err != nil {
		t.Fatalf("Apply like failed: %v", err)
	}

	// undoing an inbox activity through the outbox is an ownership violation
	undo, err := NewUndo(localBase, like)
	if err != nil {
		t.Fatalf("NewUndo failed: %v", err)
	}
	_, err = engine.Apply(context.Background(), undo, domain.OriginOutbox)
	var oerr *domain.NotFromOutboxError
	if !errors.As(err, &oerr) {
		t.Fatalf("Expected NotFromOutboxError, got %v", err)
	}
}

func TestApplyUndoUnknownTarget(t *testing.T) {
	engine, _, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	undo := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Undo","actor":%q,"object":%q}`,
		p.URL+"/activities/u9", actor, p.URL+"/activities/never-seen"))

	_, err := engine.Apply(context.Background(), undo, domain.OriginInbox)
	var nferr *domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestApplyAnnounce(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	note, err := NewNote(localBase, "boost me", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	parent, err := engine.Apply(context.Background(), note, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply note failed: %v", err)
	}

	announce := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Announce","actor":%q,"object":%q}`,
		p.URL+"/activities/boost-1", actor, parent.ObjectIRI))
	if _, err := engine.Apply(context.Background(), announce, domain.OriginInbox); err != nil {
		t.Fatalf("Apply announce failed: %v", err)
	}

	err, stored := store.ReadActivityByObjectIRI(parent.ObjectIRI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	if stored.BoostCount != 1 {
		t.Errorf("Expected boost count 1, got %d", stored.BoostCount)
	}
}

func TestApplyAnnounceUnresolvableStillRecorded(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	announce := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Announce","actor":%q,"object":%q}`,
		p.URL+"/activities/boost-2", actor, p.URL+"/notes/dead"))

	// unlike a Like, an unreachable boost target is no reason to reject
	if _, err := engine.Apply(context.Background(), announce, domain.OriginInbox); err != nil {
		t.Fatalf("Apply announce failed: %v", err)
	}

	err, n := store.CountActivities(db.Filter{Types: []string{"Announce"}})
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the Announce stored, got %d", n)
	}
}

func TestApplyDeleteOutbound(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	note, err := NewNote(localBase, "doomed", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	parent, err := engine.Apply(context.Background(), note, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Apply note failed: %v", err)
	}

	del, err := NewDelete(localBase, parent.ObjectIRI)
	if err != nil {
		t.Fatalf("NewDelete failed: %v", err)
	}
	if _, err := engine.Apply(context.Background(), del, domain.OriginOutbox); err != nil {
		t.Fatalf("Apply delete failed: %v", err)
	}

	err, stored := store.ReadActivityByIRI(parent.RemoteID)
	if err != nil {
		t.Fatalf("ReadActivityByIRI failed: %v", err)
	}
	if !stored.Deleted {
		t.Error("Expected the record marked deleted")
	}
}

func TestApplyDeleteOutboundForeignObject(t *testing.T) {
	engine, _, _, p := newTestEngine(t)

	del, err := NewDelete(localBase, p.URL+"/notes/not-ours")
	if err != nil {
		t.Fatalf("NewDelete failed: %v", err)
	}
	_, err = engine.Apply(context.Background(), del, domain.OriginOutbox)
	var oerr *domain.NotFromOutboxError
	if !errors.As(err, &oerr) {
		t.Fatalf("Expected NotFromOutboxError, got %v", err)
	}
}

func TestApplyDeleteOutboundUnknownObject(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	del, err := NewDelete(localBase, localBase+"/outbox/unknown/activity")
	if err != nil {
		t.Fatalf("NewDelete failed: %v", err)
	}
	_, err = engine.Apply(context.Background(), del, domain.OriginOutbox)
	var nferr *domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestApplyDeleteInboundActor(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	follow := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Follow","actor":%q,"object":%q}`,
		p.URL+"/activities/f1", actor, localBase))
	if _, err := engine.Apply(context.Background(), follow, domain.OriginInbox); err != nil {
		t.Fatalf("Apply follow failed: %v", err)
	}

	del := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Delete","actor":%q,"object":%q}`,
		p.URL+"/activities/d1", actor, actor))
	if _, err := engine.Apply(context.Background(), del, domain.OriginInbox); err != nil {
		t.Fatalf("Apply delete failed: %v", err)
	}

	err, n := store.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected the departed actor removed from followers, got %d", n)
	}
}

func TestApplyUpdateNote(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	create := inboundCreate(t, p.URL+"/activities/c1", actor, p.URL+"/notes/1", "")
	if _, err := engine.Apply(context.Background(), create, domain.OriginInbox); err != nil {
		t.Fatalf("Apply create failed: %v", err)
	}

	update := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Update","actor":%q,"object":{"id":%q,"type":"Note","content":"edited","published":"2024-03-01T10:00:00Z"}}`,
		p.URL+"/activities/up1", actor, p.URL+"/notes/1"))
	if _, err := engine.Apply(context.Background(), update, domain.OriginInbox); err != nil {
		t.Fatalf("Apply update failed: %v", err)
	}

	err, stored := store.ReadActivityByObjectIRI(p.URL + "/notes/1")
	if err != nil {
		t.Fatalf("ReadActivityByObjectIRI failed: %v", err)
	}
	act := mustParse(t, stored.RawJSON)
	note, err := act.ObjectNote()
	if err != nil {
		t.Fatalf("ObjectNote failed: %v", err)
	}
	if note.Content != "edited" {
		t.Errorf("Expected updated content, got %q", note.Content)
	}
}

func TestApplyBlockStaysLocal(t *testing.T) {
	engine, store, deliverer, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	block, err := NewBlock(localBase, actor)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}
	if _, err := engine.Apply(context.Background(), block, domain.OriginOutbox); err != nil {
		t.Fatalf("Apply block failed: %v", err)
	}

	err, n := store.CountActivities(db.Filter{Types: []string{"Block"}})
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the Block recorded, got %d", n)
	}
	if len(deliverer.followers) != 0 || deliverer.directCount() != 0 {
		t.Error("A Block must never be delivered")
	}
}

func TestApplyUnknownTypes(t *testing.T) {
	engine, store, _, p := newTestEngine(t)
	actor := p.addActor("/users/bob")

	exotic := mustParse(t, fmt.Sprintf(
		`{"id":%q,"type":"Arrive","actor":%q}`, p.URL+"/activities/x1", actor))
	if _, err := engine.Apply(context.Background(), exotic, domain.OriginInbox); err != nil {
		t.Fatalf("Inbound unknown type should be stored: %v", err)
	}
	err, n := store.CountActivities(db.Filter{Types: []string{"Arrive"}})
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the activity stored, got %d", n)
	}

	_, err = engine.Apply(context.Background(), exotic, domain.OriginOutbox)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for outbound unknown type, got %v", err)
	}
}

func TestApplyOutboundRunsPurgeHook(t *testing.T) {
	_, store, _, _ := newTestEngine(t)

	purged := 0
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	client := NewClient(key, localBase+"#main-key")
	resolver := NewResolver(store, client, 0)
	engine := NewEngine(store, resolver, &stubDeliverer{}, func() { purged++ }, localBase)

	note, err := NewNote(localBase, "purge test", "", nil)
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	if _, err := engine.Apply(context.Background(), note, domain.OriginOutbox); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if purged != 1 {
		t.Errorf("Expected the purge hook to run once, got %d", purged)
	}
}
