package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/moapub/moa/activitypub"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
	"github.com/moapub/moa/util"
)

const (
	testDomain = "local.example"
	testBase   = "https://local.example"
	testToken  = "test-token-123"
)

// peer plays the remote instance: it serves actor and object documents
// registered by the test.
type peer struct {
	*httptest.Server
	mu   sync.Mutex
	docs map[string]string
	gone map[string]bool
}

func newPeer() *peer {
	p := &peer{docs: make(map[string]string), gone: make(map[string]bool)}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		doc, ok := p.docs[r.URL.Path]
		gone := p.gone[r.URL.Path]
		p.mu.Unlock()
		if gone {
			w.WriteHeader(http.StatusGone)
			return
		}
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

func (p *peer) setGone(path string) {
	p.mu.Lock()
	p.gone[path] = true
	p.mu.Unlock()
}

func (p *peer) addActorWithKey(path, publicPem string) string {
	iri := p.URL + path
	p.set(path, fmt.Sprintf(
		`{"id":%q,"type":"Person","preferredUsername":"bob","inbox":%q,"publicKey":{"id":%q,"owner":%q,"publicKeyPem":%q}}`,
		iri, iri+"/inbox", iri+"#main-key", iri, publicPem))
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

type stubDeliverer struct {
	mu        sync.Mutex
	followers [][]byte
	direct    []string
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
	s.direct = append(s.direct, inboxIRI)
	return nil
}

func (s *stubDeliverer) directCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.direct)
}

func (s *stubDeliverer) followerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.followers)
}

func (s *stubDeliverer) lastDirect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.direct) == 0 {
		return ""
	}
	return s.direct[len(s.direct)-1]
}

type testEnv struct {
	router    *gin.Engine
	store     *db.DB
	engine    *activitypub.Engine
	peer      *peer
	deliverer *stubDeliverer
	remoteKey *rsa.PrivateKey
	remotePem string
}

func publicPem(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func privatePem(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	localKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	remoteKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	actor := &domain.LocalActor{
		Id:            uuid.New(),
		Username:      "tester",
		PublicKeyPem:  publicPem(t, &localKey.PublicKey),
		PrivateKeyPem: privatePem(localKey),
	}

	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8383
	conf.Conf.SslDomain = testDomain
	conf.Conf.Username = "tester"
	conf.Conf.ApiToken = testToken

	client := activitypub.NewClient(localKey, testBase+"#main-key")
	resolver := activitypub.NewResolver(store, client, 0)
	verifier := activitypub.NewVerifier(resolver, client)
	deliverer := &stubDeliverer{}
	engine := activitypub.NewEngine(store, resolver, deliverer, nil, testBase)

	server := NewServer(conf, store, engine, resolver, verifier, actor)

	return &testEnv{
		router:    server.Router(),
		store:     store,
		engine:    engine,
		peer:      p,
		deliverer: deliverer,
		remoteKey: remoteKey,
		remotePem: publicPem(t, &remoteKey.PublicKey),
	}
}

// seedInbound applies a received activity straight through the engine,
// skipping transport and signature checks.
func (e *testEnv) seedInbound(t *testing.T, raw string) *domain.ActivityRecord {
	t.Helper()
	act, err := activitypub.ParseActivity([]byte(raw))
	if err != nil {
		t.Fatalf("Failed to parse activity: %v", err)
	}
	rec, err := e.engine.Apply(context.Background(), act, domain.OriginInbox)
	if err != nil {
		t.Fatalf("Failed to apply activity: %v", err)
	}
	return rec
}

// seedOutbound applies a locally built activity through the engine.
func (e *testEnv) seedOutbound(t *testing.T, act *activitypub.Activity) *domain.ActivityRecord {
	t.Helper()
	rec, err := e.engine.Apply(context.Background(), act, domain.OriginOutbox)
	if err != nil {
		t.Fatalf("Failed to apply activity: %v", err)
	}
	return rec
}

func (e *testEnv) seedNote(t *testing.T, content, inReplyTo string) *domain.ActivityRecord {
	t.Helper()
	act, err := activitypub.NewNote(testBase, content, inReplyTo, nil)
	if err != nil {
		t.Fatalf("Failed to build note: %v", err)
	}
	return e.seedOutbound(t, act)
}

// outboxID extracts the path id of an outbox activity IRI.
func outboxID(t *testing.T, activityIRI string) string {
	t.Helper()
	id := strings.TrimPrefix(activityIRI, testBase+"/outbox/")
	if id == activityIRI {
		t.Fatalf("Not an outbox activity IRI: %s", activityIRI)
	}
	return id
}

func activityJSON(typ, id, actor, objectIRI string) string {
	return fmt.Sprintf(
		`{"@context":"https://www.w3.org/ns/activitystreams","id":%q,"type":%q,"actor":%q,"published":"2024-03-01T10:00:00Z","object":%q}`,
		id, typ, actor, objectIRI)
}

func createJSON(id, actor, objectID, content, inReplyTo string) string {
	object := fmt.Sprintf(`{"id":%q,"type":"Note","content":%q,"published":"2024-03-01T10:00:00Z","attributedTo":%q`,
		objectID, content, actor)
	if inReplyTo != "" {
		object += fmt.Sprintf(`,"inReplyTo":%q`, inReplyTo)
	}
	object += "}"
	return fmt.Sprintf(
		`{"@context":"https://www.w3.org/ns/activitystreams","id":%q,"type":"Create","actor":%q,"published":"2024-03-01T10:00:00Z","object":%s}`,
		id, actor, object)
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	return e.do(req)
}

func (e *testEnv) authGet(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	return e.do(req)
}

func (e *testEnv) authPost(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req, err := http.NewRequest("POST", path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	return e.do(req)
}

func (e *testEnv) postRaw(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("POST", path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	return e.do(req)
}

func (e *testEnv) authPostRaw(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("POST", path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	return e.do(req)
}

// signedInbox delivers raw to the inbox signed the way a remote server
// would sign it.
func (e *testEnv) signedInbox(t *testing.T, raw string, keyID string) *httptest.ResponseRecorder {
	t.Helper()

	body := []byte(raw)
	req, err := http.NewRequest("POST", testBase+"/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	hash := sha256.Sum256(body)
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", testDomain)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

	if err := activitypub.SignRequest(req, e.remoteKey, keyID, true); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return e.do(req)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Response is not valid JSON: %v\n%s", err, w.Body.String())
	}
	return doc
}

// orderedItems pulls the item list out of a collection document,
// following into the embedded first page when needed.
func orderedItems(t *testing.T, doc map[string]interface{}) []interface{} {
	t.Helper()
	if items, ok := doc["orderedItems"].([]interface{}); ok {
		return items
	}
	first, ok := doc["first"].(map[string]interface{})
	if !ok {
		t.Fatalf("Collection has neither orderedItems nor a first page: %v", doc)
	}
	items, ok := first["orderedItems"].([]interface{})
	if !ok {
		t.Fatalf("First page has no orderedItems: %v", first)
	}
	return items
}
