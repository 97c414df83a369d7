package domain

import (
	"fmt"
	"time"
)

const (
	OriginInbox  Origin = "inbox"
	OriginOutbox Origin = "outbox"
)

// Origin marks which collection a stored activity belongs to. Every
// record lives in exactly one of the two.
type Origin string

// ActivityRecord is a stored activity: the immutable payload plus the
// mutable meta block (deleted/undone flags, counters, thread root).
// RemoteID is the canonical IRI; Seq is assigned by the store and used
// only for pagination cursors, never as protocol identity.
type ActivityRecord struct {
	Seq          int64
	RemoteID     string
	Origin       Origin
	ActivityType string
	ActorIRI     string
	ObjectIRI    string
	ObjectType   string
	InReplyTo    string
	Published    time.Time
	RawJSON      string
	Hashtags     string
	// Meta block
	Deleted          bool
	Undone           bool
	ReplyCount       int
	LikeCount        int
	BoostCount       int
	ThreadRootParent string
	CreatedAt        time.Time
}

// IsLocal reports whether the record was authored by this instance.
func (rec *ActivityRecord) IsLocal() bool {
	return rec.Origin == OriginOutbox
}

func (rec *ActivityRecord) ToString() string {
	return fmt.Sprintf("\n\tSeq: %d \n\tRemoteID: %s \n\tType: %s \n\tActor: %s)", rec.Seq, rec.RemoteID, rec.ActivityType, rec.ActorIRI)
}
