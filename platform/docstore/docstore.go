package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Get and Union when the document does not
	// exist in the collection.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrClosed is returned once the store has been shut down.
	ErrClosed = errors.New("docstore: store closed")

	// ErrPermissionDenied is a write rejected by the backend's security
	// rules.
	ErrPermissionDenied = errors.New("docstore: permission denied")
)

// Query selects a whole collection ordered on one field. This is the only
// query shape the feed needs; filtering stays on the backend.
type Query struct {
	Collection string
	OrderBy    string
	Descending bool
}

// Document is one keyed record, payload kept as raw JSON so the store stays
// schemaless like the hosted backend it stands in for.
type Document struct {
	Id   string
	Data json.RawMessage
}

func (d Document) Decode(dest interface{}) error {
	return json.Unmarshal(d.Data, dest)
}

// Snapshot is a complete result set for a watched query, superseding any
// previously delivered one. Err, when set, is terminal: the watch channel
// closes right after delivering it and the consumer has to re-watch.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Store is the document store boundary: keyed reads and writes against named
// collections plus live query subscriptions with full-snapshot delivery.
//
// Set overwrites the whole document, creating it if absent. Merge overlays
// only the given fields, also creating the document if absent. Union appends
// elements to an array field without introducing duplicates and fails with
// ErrNotFound when the document does not exist.
//
// Watch pushes a Snapshot on every change to the queried collection until
// ctx is cancelled. Snapshots may be conflated under bursts; the latest one
// always arrives.
type Store interface {
	Get(ctx context.Context, collection, id string, dest interface{}) error
	Set(ctx context.Context, collection, id string, value interface{}) error
	Merge(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Union(ctx context.Context, collection, id, field string, elems ...interface{}) error
	Watch(ctx context.Context, q Query) (<-chan Snapshot, error)
}

// sortDocs orders docs in place on the query's order-by field. Ties keep
// their incoming order, which makes the backend's internal ordering the
// tie-break, same as the hosted store.
func sortDocs(docs []Document, q Query) {
	if q.OrderBy == "" {
		return
	}
	type keyedDoc struct {
		doc Document
		key interface{}
	}
	keyed := make([]keyedDoc, len(docs))
	for i := range docs {
		keyed[i] = keyedDoc{doc: docs[i], key: orderValue(docs[i], q.OrderBy)}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		if q.Descending {
			i, j = j, i
		}
		return fieldLess(keyed[i].key, keyed[j].key)
	})
	for i := range keyed {
		docs[i] = keyed[i].doc
	}
}

func orderValue(d Document, field string) interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(d.Data, &m); err != nil {
		return nil
	}
	return m[field]
}

// fieldLess compares two JSON field values. time.Time marshals as
// RFC3339Nano with trailing fraction zeros dropped, so timestamp strings
// have varying fraction lengths and plain string order inverts pairs like
// 10:00:00Z vs 10:00:00.5Z; string values that parse as timestamps are
// compared as instants instead.
func fieldLess(a, b interface{}) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Before(bt)
		}
		return av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case nil:
		return b != nil
	}
	return false
}

// sendConflated delivers to a capacity-1 snapshot channel, replacing an
// undrained stale snapshot rather than blocking the producer. Snapshots are
// full replacements, so dropping a superseded one is not observable.
func sendConflated(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// normalize round-trips v through JSON so values written through different
// Go types compare equal inside the store.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "docstore: cannot marshal value")
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "docstore: cannot unmarshal value")
	}
	return out, nil
}
