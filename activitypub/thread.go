package activitypub

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/moapub/moa/domain"
)

// ThreadEntry is one rendered node of a conversation thread. Level 0 is
// the root, replies to the root are level 1, and so on.
type ThreadEntry struct {
	ObjectIRI string
	Object    json.RawMessage
	Level     int
}

type threadNode struct {
	objectIRI string
	inReplyTo string
	published time.Time
	order     int64
	raw       json.RawMessage
}

// BuildThread assembles the conversation around root from local activities
// and cached remote notes. Duplicate object ids keep their first occurrence,
// with local records winning over cached copies. The walk is depth-first
// from the thread root with siblings ordered by publication time; nodes
// whose parent chain never reaches the root are left out.
func BuildThread(root *domain.ActivityRecord, activities []domain.ActivityRecord, cached []domain.ThreadNote) []ThreadEntry {
	rootIRI := root.ThreadRootParent
	if rootIRI == "" {
		rootIRI = root.ObjectIRI
	}

	nodes := make(map[string]*threadNode)
	add := func(node *threadNode) {
		if node.objectIRI == "" {
			return
		}
		if _, seen := nodes[node.objectIRI]; seen {
			return
		}
		nodes[node.objectIRI] = node
	}

	for i := range activities {
		rec := &activities[i]
		raw := objectDocument(rec.RawJSON)
		if raw == nil {
			raw = json.RawMessage(`{"id":"` + rec.ObjectIRI + `"}`)
		}
		add(&threadNode{
			objectIRI: rec.ObjectIRI,
			inReplyTo: rec.InReplyTo,
			published: rec.Published,
			order:     rec.Seq,
			raw:       raw,
		})
	}

	for i := range cached {
		note := &cached[i]
		raw := json.RawMessage(note.RawJSON)
		if len(raw) == 0 {
			raw = json.RawMessage(`{"id":"` + note.ObjectIRI + `"}`)
		}
		add(&threadNode{
			objectIRI: note.ObjectIRI,
			inReplyTo: note.InReplyTo,
			published: note.Published,
			order:     note.Seq,
			raw:       raw,
		})
	}

	rootNode := nodes[rootIRI]
	if rootNode == nil {
		rootNode = nodes[root.ObjectIRI]
	}
	if rootNode == nil {
		return nil
	}

	children := make(map[string][]*threadNode)
	for _, node := range nodes {
		if node == rootNode {
			continue
		}
		children[node.inReplyTo] = append(children[node.inReplyTo], node)
	}
	for parent := range children {
		group := children[parent]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].published.Equal(group[j].published) {
				return group[i].published.Before(group[j].published)
			}
			if group[i].order != group[j].order {
				return group[i].order < group[j].order
			}
			return group[i].objectIRI < group[j].objectIRI
		})
	}

	type frame struct {
		node  *threadNode
		level int
	}

	entries := make([]ThreadEntry, 0, len(nodes))
	stack := []frame{{node: rootNode, level: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries = append(entries, ThreadEntry{
			ObjectIRI: top.node.objectIRI,
			Object:    top.node.raw,
			Level:     top.level,
		})

		replies := children[top.node.objectIRI]
		for i := len(replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: replies[i], level: top.level + 1})
		}
	}

	return entries
}

// objectDocument extracts the embedded object from a raw activity. Bare
// IRI references come back nil.
func objectDocument(rawActivity string) json.RawMessage {
	var envelope struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal([]byte(rawActivity), &envelope); err != nil {
		return nil
	}
	if len(envelope.Object) == 0 || envelope.Object[0] != '{' {
		return nil
	}
	return envelope.Object
}
