package docstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-process Store used by tests, seeding and local runs.
// All sends to watch channels and the closing of those channels happen under
// the store mutex, so a delivery can never race a teardown.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	watchers    map[*memoryWatcher]struct{}
	closed      bool
	writeFail   error
}

type memoryWatcher struct {
	query Query
	ch    chan Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]json.RawMessage{},
		watchers:    map[*memoryWatcher]struct{}{},
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	raw, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.writeFail != nil {
		return s.writeFail
	}
	s.commit(collection, id, raw)
	return nil
}

// FailWrites makes every subsequent write return err, e.g.
// ErrPermissionDenied to act like a security-rules rejection. Pass nil to
// restore normal behavior. Test hook.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFail = err
}

func (s *MemoryStore) Merge(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.writeFail != nil {
		return s.writeFail
	}

	merged := map[string]interface{}{}
	if raw, ok := s.collections[collection][id]; ok {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return errors.Wrap(err, "docstore: corrupt document")
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}
	s.commit(collection, id, raw)
	return nil
}

func (s *MemoryStore) Union(ctx context.Context, collection, id, field string, elems ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.writeFail != nil {
		return s.writeFail
	}

	raw, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "docstore: corrupt document")
	}

	arr, _ := doc[field].([]interface{})
	arr, err := unionInto(arr, elems)
	if err != nil {
		return err
	}
	doc[field] = arr

	updated, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}
	s.commit(collection, id, updated)
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	w := &memoryWatcher{query: q, ch: make(chan Snapshot, 1)}
	s.watchers[w] = struct{}{}
	w.send(Snapshot{Docs: s.snapshot(q)})
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[w]; ok {
			delete(s.watchers, w)
			close(w.ch)
		}
	}()
	return w.ch, nil
}

// Close shuts the store down. Open watches receive a terminal ErrClosed
// snapshot and later calls fail with ErrClosed.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for w := range s.watchers {
		w.send(Snapshot{Err: ErrClosed})
		close(w.ch)
		delete(s.watchers, w)
	}
}

// commit writes the document and re-evaluates every open watch on the same
// collection. Callers hold s.mu.
func (s *MemoryStore) commit(collection, id string, raw json.RawMessage) {
	col, ok := s.collections[collection]
	if !ok {
		col = map[string]json.RawMessage{}
		s.collections[collection] = col
	}
	col[id] = raw

	for w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		w.send(Snapshot{Docs: s.snapshot(w.query)})
	}
}

// snapshot builds the full ordered result set for q. Callers hold s.mu.
func (s *MemoryStore) snapshot(q Query) []Document {
	col := s.collections[q.Collection]
	docs := make([]Document, 0, len(col))
	for id, raw := range col {
		docs = append(docs, Document{Id: id, Data: raw})
	}
	// map iteration is unordered; sort on the document id first so ties on
	// the order field break deterministically
	sort.Slice(docs, func(i, j int) bool { return docs[i].Id < docs[j].Id })
	sortDocs(docs, q)
	return docs
}

func (w *memoryWatcher) send(s Snapshot) {
	sendConflated(w.ch, s)
}

// unionInto appends each element missing from arr, comparing JSON-normalized
// values, so appending the same element twice is a no-op.
func unionInto(arr []interface{}, elems []interface{}) ([]interface{}, error) {
	for _, elem := range elems {
		norm, err := normalize(elem)
		if err != nil {
			return nil, err
		}
		exists := false
		for _, cur := range arr {
			if reflect.DeepEqual(cur, norm) {
				exists = true
				break
			}
		}
		if !exists {
			arr = append(arr, norm)
		}
	}
	return arr, nil
}
