package web

import (
	"strings"
	"testing"

	"github.com/moapub/moa/activitypub"
)

func TestFeed(t *testing.T) {
	env := newTestServer(t)
	env.seedNote(t, "first note", "")
	env.seedNote(t, "second note", "")

	w := env.get(t, "/feed")
	if w.Code != 200 {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/xml") {
		t.Errorf("Expected an XML content type, got %s", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<rss") {
		t.Errorf("Expected an RSS document, got %s", body)
	}
	if !strings.Contains(body, "tester - notes") {
		t.Errorf("Expected the feed title, got %s", body)
	}
	for _, content := range []string{"first note", "second note"} {
		if !strings.Contains(body, content) {
			t.Errorf("Expected %q in the feed", content)
		}
	}
	if !strings.Contains(body, testBase) {
		t.Errorf("Expected the site link in the feed")
	}
}

func TestFeedEmpty(t *testing.T) {
	env := newTestServer(t)

	w := env.get(t, "/feed")
	if w.Code != 200 {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<rss") {
		t.Errorf("Expected an RSS document even with no notes")
	}
}

func TestFeedExcludesDeleted(t *testing.T) {
	env := newTestServer(t)
	env.seedNote(t, "note that stays", "")
	deleted := env.seedNote(t, "note that goes", "")

	del, err := activitypub.NewDelete(testBase, deleted.ObjectIRI)
	if err != nil {
		t.Fatalf("Failed to build delete: %v", err)
	}
	env.seedOutbound(t, del)

	body := env.get(t, "/feed").Body.String()
	if !strings.Contains(body, "note that stays") {
		t.Errorf("Expected the surviving note in the feed")
	}
	if strings.Contains(body, "note that goes") {
		t.Errorf("Deleted note must not appear in the feed")
	}
}
