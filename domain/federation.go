package domain

import (
	"time"

	"github.com/google/uuid"
)

// CacheEntry is the last-fetched representation of a remote actor or
// object, keyed by IRI. Entries are refreshed on explicit invalidation
// and never proactively expired unless a TTL is configured.
type CacheEntry struct {
	IRI       string
	RawJSON   string
	FetchedAt time.Time
}

// ThreadNote is a copy of a remote reply not otherwise present in
// Inbox/Outbox, kept so conversation reconstruction does not require a
// live fetch every time.
type ThreadNote struct {
	Seq              int64
	ObjectIRI        string
	InReplyTo        string
	ThreadRootParent string
	Published        time.Time
	RawJSON          string
	FetchedAt        time.Time
}

// Follower represents a remote actor following the local actor
type Follower struct {
	Seq       int64
	ActorIRI  string
	InboxIRI  string
	FollowIRI string // IRI of the Follow activity that created the relation
	CreatedAt time.Time
}

// Following represents a remote actor the local actor follows
type Following struct {
	Seq       int64
	ActorIRI  string
	FollowIRI string
	Accepted  bool // false until the remote Accept arrives
	CreatedAt time.Time
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxIRI     string
	ActivityJSON string // The complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
