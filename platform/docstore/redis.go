package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// RedisStore implements Store against a Redis server: documents as JSON
// values, a set of ids per collection, and a pub/sub channel per collection
// that fans out change notifications to open watches. It is the deployment
// stand-in for the hosted document store; concurrent writers are
// last-writer-wins, arbitration belongs to the backend.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping verifies connectivity, meant to be called once at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func docKey(collection, id string) string { return fmt.Sprintf("doc:%s:%s", collection, id) }
func idsKey(collection string) string     { return fmt.Sprintf("ids:%s", collection) }
func changesKey(collection string) string { return fmt.Sprintf("changes:%s", collection) }

func (s *RedisStore) Get(ctx context.Context, collection, id string, dest interface{}) error {
	raw, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "docstore: redis get")
	}
	return json.Unmarshal(raw, dest)
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}
	return s.write(ctx, collection, id, raw)
}

func (s *RedisStore) Merge(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	merged := map[string]interface{}{}
	if err := s.Get(ctx, collection, id, &merged); err != nil && err != ErrNotFound {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}
	return s.write(ctx, collection, id, raw)
}

func (s *RedisStore) Union(ctx context.Context, collection, id, field string, elems ...interface{}) error {
	var doc map[string]interface{}
	if err := s.Get(ctx, collection, id, &doc); err != nil {
		return err
	}
	arr, _ := doc[field].([]interface{})
	arr, err := unionInto(arr, elems)
	if err != nil {
		return err
	}
	doc[field] = arr

	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "docstore: cannot marshal document")
	}
	return s.write(ctx, collection, id, raw)
}

func (s *RedisStore) write(ctx context.Context, collection, id string, raw []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), raw, 0)
	pipe.SAdd(ctx, idsKey(collection), id)
	pipe.Publish(ctx, changesKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "docstore: redis write")
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	sub := s.client.Subscribe(ctx, changesKey(q.Collection))
	// force the SUBSCRIBE round trip so setup failures surface here,
	// synchronously, instead of on the channel
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "docstore: redis subscribe")
	}

	out := make(chan Snapshot, 1)
	docs, err := s.query(ctx, q)
	if err != nil {
		sub.Close()
		return nil, err
	}
	out <- Snapshot{Docs: docs}

	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					// the pub/sub connection died and the client gave up
					sendConflated(out, Snapshot{Err: errors.New("docstore: redis subscription lost")})
					return
				}
				docs, err := s.query(ctx, q)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					Logger.Log.WithError(err).Error("redis watch query failed")
					sendConflated(out, Snapshot{Err: err})
					return
				}
				sendConflated(out, Snapshot{Docs: docs})
			}
		}
	}()
	return out, nil
}

// query loads the full ordered result set for q.
func (s *RedisStore) query(ctx context.Context, q Query) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, idsKey(q.Collection)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "docstore: redis smembers")
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(q.Collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "docstore: redis mget")
	}

	docs := make([]Document, 0, len(ids))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// id set and value expired out of sync, skip the orphan
			continue
		}
		docs = append(docs, Document{Id: ids[i], Data: json.RawMessage(str)})
	}
	sortDocs(docs, q)
	return docs, nil
}
