package platform

import (
	"context"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/shutterfeed/shutterfeed-core/platform/docstore"
	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// StoreFromEnv picks the document store backing from the environment:
// SHUTTERFEED_REDIS_ADDR selects the redis store (with optional
// SHUTTERFEED_REDIS_PASSWORD and SHUTTERFEED_REDIS_DB), otherwise an
// in-process memory store is used, which only makes sense for a single
// process demo run.
func StoreFromEnv(ctx context.Context) (docstore.Store, error) {
	addr := os.Getenv("SHUTTERFEED_REDIS_ADDR")
	if addr == "" {
		Logger.Log.Warn("no SHUTTERFEED_REDIS_ADDR, using in-process document store")
		return docstore.NewMemoryStore(), nil
	}

	db := 0
	if raw := os.Getenv("SHUTTERFEED_REDIS_DB"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrap(err, "platform: bad SHUTTERFEED_REDIS_DB")
		}
		db = parsed
	}

	store := docstore.NewRedisStore(addr, os.Getenv("SHUTTERFEED_REDIS_PASSWORD"), db)
	if err := store.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "platform: cannot reach redis")
	}
	Logger.Log.WithField("addr", addr).Info("using redis document store")
	return store, nil
}
