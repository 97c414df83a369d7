package activitypub

import (
	"strconv"

	"github.com/moapub/moa/domain"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

// CollectionPage is one page of a reverse-chronological collection.
// Cursors are sequence numbers; a page fetched with cursor c contains
// items strictly below c.
type CollectionPage struct {
	Items       []interface{}
	StartCursor string
	NextCursor  string
	TotalItems  int
}

// PageFromRecords maps a page of records through mapFn. Records mapped to
// nil are skipped. NextCursor is only set when the page came back full,
// since a short page means the collection is exhausted.
func PageFromRecords(records []domain.ActivityRecord, limit, total int, mapFn func(*domain.ActivityRecord) interface{}) CollectionPage {
	page := CollectionPage{
		Items:      make([]interface{}, 0, len(records)),
		TotalItems: total,
	}
	for i := range records {
		item := mapFn(&records[i])
		if item == nil {
			continue
		}
		page.Items = append(page.Items, item)
	}
	if len(records) > 0 {
		page.StartCursor = strconv.FormatInt(records[0].Seq, 10)
		if len(records) == limit {
			page.NextCursor = strconv.FormatInt(records[len(records)-1].Seq, 10)
		}
	}
	return page
}

// PageFromSeqs builds a page from pre-mapped items and their sequence
// numbers, for collections that are not backed by activity records.
func PageFromSeqs(items []interface{}, seqs []int64, limit, total int) CollectionPage {
	page := CollectionPage{
		Items:      items,
		TotalItems: total,
	}
	if page.Items == nil {
		page.Items = []interface{}{}
	}
	if len(seqs) > 0 {
		page.StartCursor = strconv.FormatInt(seqs[0], 10)
		if len(seqs) == limit {
			page.NextCursor = strconv.FormatInt(seqs[len(seqs)-1], 10)
		}
	}
	return page
}

// ParseCursor turns a cursor query parameter back into a sequence number.
// Anything unparseable reads as an absent cursor.
func ParseCursor(value string) int64 {
	if value == "" {
		return 0
	}
	seq, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// BuildOrderedCollection renders a page as an ActivityStreams
// OrderedCollection or OrderedCollectionPage document. With no cursor the
// result is the collection envelope pointing at its first page, unless
// firstPage asks for the first page itself.
func BuildOrderedCollection(colIRI string, page CollectionPage, cursor string, firstPage bool) map[string]interface{} {
	if page.TotalItems == 0 && cursor == "" {
		return map[string]interface{}{
			"@context":     ActivityStreamsContext,
			"id":           colIRI,
			"type":         "OrderedCollection",
			"totalItems":   0,
			"orderedItems": []interface{}{},
		}
	}

	if cursor != "" {
		doc := map[string]interface{}{
			"@context":     ActivityStreamsContext,
			"id":           colIRI + "?cursor=" + cursor,
			"type":         "OrderedCollectionPage",
			"partOf":       colIRI,
			"totalItems":   page.TotalItems,
			"orderedItems": page.Items,
		}
		if page.NextCursor != "" {
			doc["next"] = colIRI + "?cursor=" + page.NextCursor
		}
		return doc
	}

	first := map[string]interface{}{
		"id":           colIRI + "?cursor=" + page.StartCursor,
		"type":         "OrderedCollectionPage",
		"partOf":       colIRI,
		"totalItems":   page.TotalItems,
		"orderedItems": page.Items,
	}
	if page.NextCursor != "" {
		first["next"] = colIRI + "?cursor=" + page.NextCursor
	}

	if firstPage {
		first["@context"] = ActivityStreamsContext
		return first
	}

	return map[string]interface{}{
		"@context":   ActivityStreamsContext,
		"id":         colIRI,
		"type":       "OrderedCollection",
		"totalItems": page.TotalItems,
		"first":      first,
	}
}
