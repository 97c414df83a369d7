package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrGone signals that the origin answered 410 for a fetched resource.
// Callers treat the resource as deleted rather than as a failure.
var ErrGone = errors.New("remote resource is gone")

const (
	fetchTimeout   = 10 * time.Second
	deliverTimeout = 30 * time.Second
	userAgent      = "moa/1.0 ActivityPub"
)

// Client performs signed HTTP requests against remote instances. Every
// outgoing request, fetches included, carries an HTTP signature.
type Client struct {
	privateKey *rsa.PrivateKey
	keyID      string
	fetcher    *http.Client
	deliverer  *http.Client
}

// NewClient builds a client signing with the given key.
// keyID format: "https://example.com/users/alice#main-key"
func NewClient(privateKey *rsa.PrivateKey, keyID string) *Client {
	return &Client{
		privateKey: privateKey,
		keyID:      keyID,
		fetcher:    &http.Client{Timeout: fetchTimeout},
		deliverer:  &http.Client{Timeout: deliverTimeout},
	}
}

// Get fetches an ActivityPub document from iri. A 410 from the origin
// comes back as ErrGone.
func (c *Client) Get(ctx context.Context, iri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", iri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, c.privateKey, c.keyID, false); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s failed with status: %d", iri, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// Post delivers an activity document to a remote inbox.
func (c *Client) Post(ctx context.Context, inboxIRI string, body []byte) error {
	// Calculate digest for HTTP signature
	hash := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequestWithContext(ctx, "POST", inboxIRI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	if err := SignRequest(req, c.privateKey, c.keyID, true); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.deliverer.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}
