package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/moapub/moa/domain"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct. Every component receives its handle
// explicitly via constructor arguments.
type DB struct {
	db *sql.DB
}

// ErrDuplicate signals that an insert collided with an already stored
// row on a unique IRI column. Callers treat it as "read the existing
// record", not as a failure.
var ErrDuplicate = errors.New("record already exists")

// Open opens the SQLite database at path and tunes it for the
// concurrent federation workload.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		// WAL2 not supported, try regular WAL
		err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for concurrent ActivityPub workload
	// These need to be set as connection defaults
	sqlDB.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
	sqlDB.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
	sqlDB.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
	sqlDB.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
	sqlDB.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

	log.Printf("Database initialized with connection pooling (max 25 connections)")

	return &DB{db: sqlDB}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

func isUniqueViolation(err error) bool {
	serr, ok := err.(*sqlite.Error)
	return ok && (serr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || serr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY)
}

// Activity queries
const (
	sqlActivityColumns = `seq, remote_id, origin, activity_type, actor_iri, object_iri, object_type, in_reply_to, published, raw_json, hashtags, deleted, undo, count_reply, count_like, count_boost, thread_root_parent, created_at`

	sqlInsertActivity = `INSERT INTO activities(remote_id, origin, activity_type, actor_iri, object_iri, object_type, in_reply_to, published, raw_json, hashtags, thread_root_parent, created_at)
                                                            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByIRI       = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE remote_id = ?`
	sqlSelectActivityByObjectIRI = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE object_iri = ? AND activity_type = 'Create' ORDER BY seq ASC LIMIT 1`
	sqlSelectThreadCandidates    = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE activity_type = 'Create' AND deleted = 0 AND (thread_root_parent = ? OR object_iri = ? OR object_iri = ?)`
	sqlMarkActivityDeleted       = `UPDATE activities SET deleted = 1 WHERE remote_id = ?`
	sqlMarkActivityUndone        = `UPDATE activities SET undo = 1 WHERE remote_id = ? AND undo = 0`
	sqlUpdateActivityRaw         = `UPDATE activities SET raw_json = ? WHERE remote_id = ?`
	sqlBumpReplyCount            = `UPDATE activities SET count_reply = MAX(0, count_reply + ?) WHERE object_iri = ? AND activity_type = 'Create'`
	sqlBumpLikeCount             = `UPDATE activities SET count_like = MAX(0, count_like + ?) WHERE object_iri = ? AND activity_type = 'Create'`
	sqlBumpBoostCount            = `UPDATE activities SET count_boost = MAX(0, count_boost + ?) WHERE object_iri = ? AND activity_type = 'Create'`
)

// CreateActivity inserts a new activity row and fills in rec.Seq.
// Returns ErrDuplicate when the activity IRI is already stored.
func (db *DB) CreateActivity(rec *domain.ActivityRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	alreadyExists := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertActivity,
			rec.RemoteID,
			string(rec.Origin),
			rec.ActivityType,
			rec.ActorIRI,
			rec.ObjectIRI,
			rec.ObjectType,
			rec.InReplyTo,
			rec.Published,
			rec.RawJSON,
			rec.Hashtags,
			rec.ThreadRootParent,
			rec.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				alreadyExists = true
				return nil
			}
			return err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rec.Seq = seq
		return nil
	})
	if err != nil {
		return err
	}
	if alreadyExists {
		return ErrDuplicate
	}
	return nil
}

func (db *DB) ReadActivityByIRI(iri string) (error, *domain.ActivityRecord) {
	row := db.db.QueryRow(sqlSelectActivityByIRI, iri)
	var rec domain.ActivityRecord
	err := row.Scan(
		&rec.Seq,
		&rec.RemoteID,
		&rec.Origin,
		&rec.ActivityType,
		&rec.ActorIRI,
		&rec.ObjectIRI,
		&rec.ObjectType,
		&rec.InReplyTo,
		&rec.Published,
		&rec.RawJSON,
		&rec.Hashtags,
		&rec.Deleted,
		&rec.Undone,
		&rec.ReplyCount,
		&rec.LikeCount,
		&rec.BoostCount,
		&rec.ThreadRootParent,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &rec
}

// ReadActivityByObjectIRI reads the Create activity whose object carries
// the given IRI. Callers check rec.Deleted themselves.
func (db *DB) ReadActivityByObjectIRI(objectIRI string) (error, *domain.ActivityRecord) {
	row := db.db.QueryRow(sqlSelectActivityByObjectIRI, objectIRI)
	var rec domain.ActivityRecord
	err := row.Scan(
		&rec.Seq,
		&rec.RemoteID,
		&rec.Origin,
		&rec.ActivityType,
		&rec.ActorIRI,
		&rec.ObjectIRI,
		&rec.ObjectType,
		&rec.InReplyTo,
		&rec.Published,
		&rec.RawJSON,
		&rec.Hashtags,
		&rec.Deleted,
		&rec.Undone,
		&rec.ReplyCount,
		&rec.LikeCount,
		&rec.BoostCount,
		&rec.ThreadRootParent,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &rec
}

// Filter narrows an activity collection query. The zero value matches
// every stored activity.
type Filter struct {
	Origin         domain.Origin
	Types          []string
	ActorIRI       string
	ObjectIRI      string
	InReplyTo      string
	Hashtag        string
	ExcludeDeleted bool
	ExcludeUndone  bool
}

func (f Filter) whereClause() (string, []interface{}) {
	conds := []string{"1=1"}
	var args []interface{}
	if f.Origin != "" {
		conds = append(conds, "origin = ?")
		args = append(args, string(f.Origin))
	}
	if len(f.Types) > 0 {
		conds = append(conds, "activity_type IN (?"+strings.Repeat(", ?", len(f.Types)-1)+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.ActorIRI != "" {
		conds = append(conds, "actor_iri = ?")
		args = append(args, f.ActorIRI)
	}
	if f.ObjectIRI != "" {
		conds = append(conds, "object_iri = ?")
		args = append(args, f.ObjectIRI)
	}
	if f.InReplyTo != "" {
		conds = append(conds, "in_reply_to = ?")
		args = append(args, f.InReplyTo)
	}
	if f.Hashtag != "" {
		conds = append(conds, "hashtags LIKE ?")
		args = append(args, "% #"+f.Hashtag+" %")
	}
	if f.ExcludeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if f.ExcludeUndone {
		conds = append(conds, "undo = 0")
	}
	return strings.Join(conds, " AND "), args
}

// SelectActivities returns one page of matching activities in
// descending seq order. beforeSeq == 0 starts at the newest row, any
// other value returns only rows with seq strictly below it.
func (db *DB) SelectActivities(f Filter, beforeSeq int64, limit int) (error, *[]domain.ActivityRecord) {
	if limit <= 0 {
		limit = 20
	}
	where, args := f.whereClause()
	query := `SELECT ` + sqlActivityColumns + ` FROM activities WHERE ` + where
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var records []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		if err := rows.Scan(&rec.Seq, &rec.RemoteID, &rec.Origin, &rec.ActivityType, &rec.ActorIRI, &rec.ObjectIRI, &rec.ObjectType, &rec.InReplyTo, &rec.Published, &rec.RawJSON, &rec.Hashtags, &rec.Deleted, &rec.Undone, &rec.ReplyCount, &rec.LikeCount, &rec.BoostCount, &rec.ThreadRootParent, &rec.CreatedAt); err != nil {
			return err, &records
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return err, &records
	}
	return nil, &records
}

func (db *DB) CountActivities(f Filter) (error, int) {
	where, args := f.whereClause()
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM activities WHERE `+where, args...).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// SelectThreadCandidates returns the stored Create activities belonging
// to the thread rooted at rootIRI. parentIRI additionally matches the
// root row itself when it was stored before its thread was known.
func (db *DB) SelectThreadCandidates(rootIRI string, parentIRI string) (error, *[]domain.ActivityRecord) {
	rows, err := db.db.Query(sqlSelectThreadCandidates, rootIRI, rootIRI, parentIRI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var records []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		if err := rows.Scan(&rec.Seq, &rec.RemoteID, &rec.Origin, &rec.ActivityType, &rec.ActorIRI, &rec.ObjectIRI, &rec.ObjectType, &rec.InReplyTo, &rec.Published, &rec.RawJSON, &rec.Hashtags, &rec.Deleted, &rec.Undone, &rec.ReplyCount, &rec.LikeCount, &rec.BoostCount, &rec.ThreadRootParent, &rec.CreatedAt); err != nil {
			return err, &records
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return err, &records
	}
	return nil, &records
}

// SelectNotifications returns inbox activities that concern the local
// actor: follows, accepts, undos, likes and boosts of local objects and
// replies to local objects. localPrefix is the base IRI of this
// instance.
func (db *DB) SelectNotifications(localPrefix string, beforeSeq int64, limit int) (error, *[]domain.ActivityRecord) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + sqlActivityColumns + ` FROM activities
                                                            WHERE origin = 'inbox' AND deleted = 0 AND undo = 0
                                                            AND (activity_type IN ('Follow', 'Accept', 'Undo')
                                                                OR (activity_type = 'Announce' AND object_iri LIKE ? || '%')
                                                                OR (activity_type = 'Like' AND object_iri LIKE ? || '%')
                                                                OR (activity_type = 'Create' AND in_reply_to LIKE ? || '%'))`
	args := []interface{}{localPrefix, localPrefix, localPrefix}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var records []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		if err := rows.Scan(&rec.Seq, &rec.RemoteID, &rec.Origin, &rec.ActivityType, &rec.ActorIRI, &rec.ObjectIRI, &rec.ObjectType, &rec.InReplyTo, &rec.Published, &rec.RawJSON, &rec.Hashtags, &rec.Deleted, &rec.Undone, &rec.ReplyCount, &rec.LikeCount, &rec.BoostCount, &rec.ThreadRootParent, &rec.CreatedAt); err != nil {
			return err, &records
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return err, &records
	}
	return nil, &records
}

// CountNotifications counts what SelectNotifications would return
// without a cursor.
func (db *DB) CountNotifications(localPrefix string) (error, int) {
	query := `SELECT COUNT(*) FROM activities
                                                            WHERE origin = 'inbox' AND deleted = 0 AND undo = 0
                                                            AND (activity_type IN ('Follow', 'Accept', 'Undo')
                                                                OR (activity_type = 'Announce' AND object_iri LIKE ? || '%')
                                                                OR (activity_type = 'Like' AND object_iri LIKE ? || '%')
                                                                OR (activity_type = 'Create' AND in_reply_to LIKE ? || '%'))`
	var count int
	err := db.db.QueryRow(query, localPrefix, localPrefix, localPrefix).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// MarkActivityDeleted flips the tombstone flag. The flag is one way,
// there is no unmark.
func (db *DB) MarkActivityDeleted(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkActivityDeleted, iri)
		return err
	})
}

// MarkActivityUndone flips the undo flag and reports whether this call
// was the one that flipped it. Concurrent undos of the same activity
// observe flipped == true exactly once.
func (db *DB) MarkActivityUndone(iri string) (error, bool) {
	flipped := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkActivityUndone, iri)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		flipped = affected > 0
		return nil
	})
	if err != nil {
		return err, false
	}
	return nil, flipped
}

// UpdateActivityRaw replaces the stored JSON document of an activity.
func (db *DB) UpdateActivityRaw(iri string, rawJSON string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivityRaw, rawJSON, iri)
		return err
	})
}

// BumpReplyCount adjusts the reply counter of the Create activity that
// owns objectIRI. Counters never drop below zero.
func (db *DB) BumpReplyCount(objectIRI string, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlBumpReplyCount, delta, objectIRI)
		return err
	})
}

func (db *DB) BumpLikeCount(objectIRI string, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlBumpLikeCount, delta, objectIRI)
		return err
	})
}

func (db *DB) BumpBoostCount(objectIRI string, delta int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlBumpBoostCount, delta, objectIRI)
		return err
	})
}

// Thread cache queries
const (
	sqlThreadNoteColumns = `seq, object_iri, in_reply_to, thread_root_parent, published, raw_json, fetched_at`

	sqlUpsertThreadNote = `INSERT INTO thread_cache(object_iri, in_reply_to, thread_root_parent, published, raw_json, fetched_at)
                                                            VALUES (?, ?, ?, ?, ?, ?)
                                                            ON CONFLICT(object_iri) DO UPDATE SET in_reply_to = excluded.in_reply_to, thread_root_parent = excluded.thread_root_parent, published = excluded.published, raw_json = excluded.raw_json, fetched_at = excluded.fetched_at`
	sqlSelectThreadNoteByObjectIRI = `SELECT ` + sqlThreadNoteColumns + ` FROM thread_cache WHERE object_iri = ?`
	sqlSelectThreadNotesByRoot     = `SELECT ` + sqlThreadNoteColumns + ` FROM thread_cache WHERE thread_root_parent = ? OR object_iri = ? OR object_iri = ?`
)

// UpsertThreadNote stores or refreshes a remote note fetched during
// thread reconstruction.
func (db *DB) UpsertThreadNote(note *domain.ThreadNote) error {
	if note.FetchedAt.IsZero() {
		note.FetchedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertThreadNote,
			note.ObjectIRI,
			note.InReplyTo,
			note.ThreadRootParent,
			note.Published,
			note.RawJSON,
			note.FetchedAt,
		)
		return err
	})
}

func (db *DB) ReadThreadNoteByObjectIRI(iri string) (error, *domain.ThreadNote) {
	row := db.db.QueryRow(sqlSelectThreadNoteByObjectIRI, iri)
	var note domain.ThreadNote
	err := row.Scan(&note.Seq, &note.ObjectIRI, &note.InReplyTo, &note.ThreadRootParent, &note.Published, &note.RawJSON, &note.FetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &note
}

func (db *DB) SelectThreadNotesByRoot(rootIRI string, parentIRI string) (error, *[]domain.ThreadNote) {
	rows, err := db.db.Query(sqlSelectThreadNotesByRoot, rootIRI, rootIRI, parentIRI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.ThreadNote
	for rows.Next() {
		var note domain.ThreadNote
		if err := rows.Scan(&note.Seq, &note.ObjectIRI, &note.InReplyTo, &note.ThreadRootParent, &note.Published, &note.RawJSON, &note.FetchedAt); err != nil {
			return err, &notes
		}
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}
	return nil, &notes
}

// Resolver cache queries
const (
	sqlUpsertActorCache = `INSERT INTO actor_cache(iri, raw_json, fetched_at) VALUES (?, ?, ?)
                                                            ON CONFLICT(iri) DO UPDATE SET raw_json = excluded.raw_json, fetched_at = excluded.fetched_at`
	sqlSelectActorCache = `SELECT iri, raw_json, fetched_at FROM actor_cache WHERE iri = ?`
	sqlDeleteActorCache = `DELETE FROM actor_cache WHERE iri = ?`

	sqlUpsertObjectCache = `INSERT INTO object_cache(iri, raw_json, fetched_at) VALUES (?, ?, ?)
                                                            ON CONFLICT(iri) DO UPDATE SET raw_json = excluded.raw_json, fetched_at = excluded.fetched_at`
	sqlSelectObjectCache = `SELECT iri, raw_json, fetched_at FROM object_cache WHERE iri = ?`
	sqlDeleteObjectCache = `DELETE FROM object_cache WHERE iri = ?`
)

// UpsertCachedActor stores or overwrites a cached actor document.
// Concurrent resolvers writing the same IRI both succeed, last write
// wins.
func (db *DB) UpsertCachedActor(entry *domain.CacheEntry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertActorCache, entry.IRI, entry.RawJSON, entry.FetchedAt)
		return err
	})
}

func (db *DB) ReadCachedActor(iri string) (error, *domain.CacheEntry) {
	row := db.db.QueryRow(sqlSelectActorCache, iri)
	var entry domain.CacheEntry
	err := row.Scan(&entry.IRI, &entry.RawJSON, &entry.FetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &entry
}

func (db *DB) DeleteCachedActor(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActorCache, iri)
		return err
	})
}

func (db *DB) UpsertCachedObject(entry *domain.CacheEntry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertObjectCache, entry.IRI, entry.RawJSON, entry.FetchedAt)
		return err
	})
}

func (db *DB) ReadCachedObject(iri string) (error, *domain.CacheEntry) {
	row := db.db.QueryRow(sqlSelectObjectCache, iri)
	var entry domain.CacheEntry
	err := row.Scan(&entry.IRI, &entry.RawJSON, &entry.FetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &entry
}

func (db *DB) DeleteCachedObject(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteObjectCache, iri)
		return err
	})
}

// Follower queries
const (
	sqlFollowerColumns = `seq, actor_iri, inbox_iri, follow_iri, created_at`

	sqlUpsertFollower = `INSERT INTO followers(actor_iri, inbox_iri, follow_iri, created_at) VALUES (?, ?, ?, ?)
                                                            ON CONFLICT(actor_iri) DO UPDATE SET inbox_iri = excluded.inbox_iri, follow_iri = excluded.follow_iri`
	sqlDeleteFollowerByActorIRI = `DELETE FROM followers WHERE actor_iri = ?`
	sqlSelectFollowers          = `SELECT ` + sqlFollowerColumns + ` FROM followers`
	sqlCountFollowers           = `SELECT COUNT(*) FROM followers`
	sqlSelectFollowerInboxes    = `SELECT DISTINCT inbox_iri FROM followers`
)

// UpsertFollower stores a follower relationship. A repeated follow from
// the same actor overwrites the stored inbox and follow IRI.
func (db *DB) UpsertFollower(f *domain.Follower) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollower, f.ActorIRI, f.InboxIRI, f.FollowIRI, f.CreatedAt)
		return err
	})
}

func (db *DB) DeleteFollowerByActorIRI(actorIRI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowerByActorIRI, actorIRI)
		return err
	})
}

func (db *DB) SelectFollowers(beforeSeq int64, limit int) (error, *[]domain.Follower) {
	if limit <= 0 {
		limit = 20
	}
	query := sqlSelectFollowers
	var args []interface{}
	if beforeSeq > 0 {
		query += ` WHERE seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		if err := rows.Scan(&f.Seq, &f.ActorIRI, &f.InboxIRI, &f.FollowIRI, &f.CreatedAt); err != nil {
			return err, &followers
		}
		followers = append(followers, f)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) CountFollowers() (error, int) {
	var count int
	if err := db.db.QueryRow(sqlCountFollowers).Scan(&count); err != nil {
		return err, 0
	}
	return nil, count
}

// ReadFollowerInboxes returns the distinct inbox IRIs of all followers.
func (db *DB) ReadFollowerInboxes() (error, *[]string) {
	rows, err := db.db.Query(sqlSelectFollowerInboxes)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return err, &inboxes
		}
		inboxes = append(inboxes, inbox)
	}
	if err = rows.Err(); err != nil {
		return err, &inboxes
	}
	return nil, &inboxes
}

// Following queries
const (
	sqlFollowingColumns = `seq, actor_iri, follow_iri, accepted, created_at`

	sqlUpsertFollowing = `INSERT INTO following(actor_iri, follow_iri, accepted, created_at) VALUES (?, ?, ?, ?)
                                                            ON CONFLICT(actor_iri) DO UPDATE SET follow_iri = excluded.follow_iri, accepted = excluded.accepted`
	sqlAcceptFollowing           = `UPDATE following SET accepted = 1 WHERE follow_iri = ?`
	sqlSelectFollowingByActorIRI = `SELECT ` + sqlFollowingColumns + ` FROM following WHERE actor_iri = ?`
	sqlDeleteFollowingByActorIRI = `DELETE FROM following WHERE actor_iri = ?`
	sqlSelectFollowing           = `SELECT ` + sqlFollowingColumns + ` FROM following`
	sqlCountFollowing            = `SELECT COUNT(*) FROM following`
)

// UpsertFollowing stores an outbound follow, pending until the remote
// side accepts.
func (db *DB) UpsertFollowing(f *domain.Following) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollowing, f.ActorIRI, f.FollowIRI, f.Accepted, f.CreatedAt)
		return err
	})
}

// AcceptFollowing marks the outbound follow carrying the given follow
// activity IRI as accepted.
func (db *DB) AcceptFollowing(followIRI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowing, followIRI)
		return err
	})
}

func (db *DB) ReadFollowingByActorIRI(actorIRI string) (error, *domain.Following) {
	row := db.db.QueryRow(sqlSelectFollowingByActorIRI, actorIRI)
	var f domain.Following
	err := row.Scan(&f.Seq, &f.ActorIRI, &f.FollowIRI, &f.Accepted, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &f
}

func (db *DB) DeleteFollowingByActorIRI(actorIRI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowingByActorIRI, actorIRI)
		return err
	})
}

func (db *DB) SelectFollowing(beforeSeq int64, limit int) (error, *[]domain.Following) {
	if limit <= 0 {
		limit = 20
	}
	query := sqlSelectFollowing
	var args []interface{}
	if beforeSeq > 0 {
		query += ` WHERE seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var following []domain.Following
	for rows.Next() {
		var f domain.Following
		if err := rows.Scan(&f.Seq, &f.ActorIRI, &f.FollowIRI, &f.Accepted, &f.CreatedAt); err != nil {
			return err, &following
		}
		following = append(following, f)
	}
	if err = rows.Err(); err != nil {
		return err, &following
	}
	return nil, &following
}

func (db *DB) CountFollowing() (error, int) {
	var count int
	if err := db.db.QueryRow(sqlCountFollowing).Scan(&count); err != nil {
		return err, 0
	}
	return nil, count
}

// Local actor queries
const (
	sqlInsertLocalActor = `INSERT INTO local_actor(id, username, public_key_pem, private_key_pem, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLocalActor = `SELECT id, username, public_key_pem, private_key_pem, created_at FROM local_actor LIMIT 1`
)

// CreateLocalActor stores the single local actor with its keypair.
func (db *DB) CreateLocalActor(actor *domain.LocalActor) error {
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLocalActor,
			actor.Id.String(),
			actor.Username,
			actor.PublicKeyPem,
			actor.PrivateKeyPem,
			actor.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadLocalActor() (error, *domain.LocalActor) {
	row := db.db.QueryRow(sqlSelectLocalActor)
	var actor domain.LocalActor
	var idStr string
	err := row.Scan(&idStr, &actor.Username, &actor.PublicKeyPem, &actor.PrivateKeyPem, &actor.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	return nil, &actor
}

// Delivery Queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_iri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_iri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxIRI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now().UTC(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxIRI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
