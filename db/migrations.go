package db

import (
	"database/sql"
	"encoding/json"
	"log"
)

const (
	// Inbox/Outbox union. remote_id is the canonical activity IRI and
	// unique across both origins; seq is the pagination ordering key.
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id TEXT UNIQUE NOT NULL,
		origin TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		actor_iri TEXT,
		object_iri TEXT,
		object_type TEXT,
		in_reply_to TEXT,
		published TIMESTAMP,
		raw_json TEXT NOT NULL,
		hashtags TEXT DEFAULT '',
		deleted INTEGER DEFAULT 0,
		undo INTEGER DEFAULT 0,
		count_reply INTEGER DEFAULT 0,
		count_like INTEGER DEFAULT 0,
		count_boost INTEGER DEFAULT 0,
		thread_root_parent TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_remote_id ON activities(remote_id);
		CREATE INDEX IF NOT EXISTS idx_activities_object_iri ON activities(object_iri);
		CREATE INDEX IF NOT EXISTS idx_activities_origin_type ON activities(origin, activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_in_reply_to ON activities(in_reply_to);
		CREATE INDEX IF NOT EXISTS idx_activities_thread_root ON activities(thread_root_parent);
	`

	// Remote replies cached for conversation reconstruction
	sqlCreateThreadCacheTable = `CREATE TABLE IF NOT EXISTS thread_cache (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		object_iri TEXT UNIQUE NOT NULL,
		in_reply_to TEXT DEFAULT '',
		thread_root_parent TEXT DEFAULT '',
		published TIMESTAMP,
		raw_json TEXT NOT NULL,
		fetched_at TIMESTAMP
	)`

	sqlCreateThreadCacheIndices = `
		CREATE INDEX IF NOT EXISTS idx_thread_cache_root ON thread_cache(thread_root_parent);
		CREATE INDEX IF NOT EXISTS idx_thread_cache_in_reply_to ON thread_cache(in_reply_to);
	`

	// Resolver caches, keyed by IRI
	sqlCreateActorCacheTable = `CREATE TABLE IF NOT EXISTS actor_cache (
		iri TEXT NOT NULL PRIMARY KEY,
		raw_json TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`

	sqlCreateObjectCacheTable = `CREATE TABLE IF NOT EXISTS object_cache (
		iri TEXT NOT NULL PRIMARY KEY,
		raw_json TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`

	// Relationship state, keyed by remote actor IRI
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_iri TEXT UNIQUE NOT NULL,
		inbox_iri TEXT NOT NULL,
		follow_iri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowingTable = `CREATE TABLE IF NOT EXISTS following (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_iri TEXT UNIQUE NOT NULL,
		follow_iri TEXT NOT NULL,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateLocalActorTable = `CREATE TABLE IF NOT EXISTS local_actor (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Delivery queue table
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_iri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// Migrate executes all database migrations
func (db *DB) Migrate() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateActivitiesTable, "activities"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateThreadCacheTable, "thread_cache"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateActorCacheTable, "actor_cache"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateObjectCacheTable, "object_cache"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowersTable, "followers"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowingTable, "following"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateLocalActorTable, "local_actor"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateDeliveryQueueTable, "delivery_queue"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateActivitiesIndices); err != nil {
			log.Printf("Warning: Failed to create activities indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateThreadCacheIndices); err != nil {
			log.Printf("Warning: Failed to create thread_cache indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateDeliveryQueueIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_queue indices: %v", err)
		}

		// Backfill object_iri for rows written before the column existed
		if err := db.backfillActivityObjectIRIs(tx); err != nil {
			log.Printf("Warning: Failed to backfill activity object_iri: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}

// backfillActivityObjectIRIs extracts object_iri from raw_json for activities that are missing it
func (db *DB) backfillActivityObjectIRIs(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT remote_id, raw_json FROM activities WHERE object_iri IS NULL OR object_iri = ''`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pending struct {
		remoteID  string
		objectIRI string
	}
	var updates []pending

	for rows.Next() {
		var remoteID, rawJSON string
		if err := rows.Scan(&remoteID, &rawJSON); err != nil {
			log.Printf("Warning: Failed to scan activity: %v", err)
			continue
		}

		var activity struct {
			Object interface{} `json:"object"`
		}
		if err := json.Unmarshal([]byte(rawJSON), &activity); err != nil {
			log.Printf("Warning: Failed to parse activity JSON for %s: %v", remoteID, err)
			continue
		}

		// Object can be a bare IRI string or an embedded object
		var objectIRI string
		if activity.Object != nil {
			switch obj := activity.Object.(type) {
			case string:
				objectIRI = obj
			case map[string]interface{}:
				if idVal, ok := obj["id"].(string); ok {
					objectIRI = idVal
				}
			}
		}

		if objectIRI != "" {
			updates = append(updates, pending{remoteID: remoteID, objectIRI: objectIRI})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		if _, err := tx.Exec(`UPDATE activities SET object_iri = ? WHERE remote_id = ?`, u.objectIRI, u.remoteID); err != nil {
			log.Printf("Warning: Failed to update activity %s: %v", u.remoteID, err)
		}
	}

	if len(updates) > 0 {
		log.Printf("Backfilled object_iri for %d activities", len(updates))
	}

	return nil
}
