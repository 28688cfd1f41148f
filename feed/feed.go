package feed

import (
	"context"
	"sync"

	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/platform/docstore"
	"github.com/shutterfeed/shutterfeed-core/toast"
	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// PostsCollection is the document store collection holding feed items.
const PostsCollection = "posts"

const (
	msgFetchFailed = "Error fetching posts!"
	msgSetupFailed = "Error network!"
)

// Listener opens live subscriptions over the posts collection, newest first.
// Each Subscribe call is an independent channel; nothing stops a consumer
// from opening two, matching the backend SDK's behavior.
type Listener struct {
	store docstore.Store
	toast toast.INotifier
}

func NewListener(store docstore.Store, notifier toast.INotifier) *Listener {
	return &Listener{store: store, toast: notifier}
}

// Subscribe opens a push channel over all posts ordered by creation time
// descending and invokes onSnapshot with the full replacement result set on
// every change. The returned function tears the subscription down; once it
// returns, no further onSnapshot invocation is observable, even for a
// server-side change in flight at the moment of the call.
//
// If setup fails the failure is logged and toasted and the returned function
// is a safe no-op, so callers can always defer it unconditionally. An
// asynchronous channel error is toasted once and ends delivery; there is no
// automatic retry, the consumer has to re-subscribe.
func (l *Listener) Subscribe(onSnapshot func([]model.Post)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())

	snaps, err := l.store.Watch(ctx, docstore.Query{
		Collection: PostsCollection,
		OrderBy:    "timestamp",
		Descending: true,
	})
	if err != nil {
		Logger.Log.WithError(err).Error("cannot open posts subscription")
		l.toast.Show(msgSetupFailed)
		cancel()
		return func() {}
	}

	var mu sync.Mutex
	closed := false

	go func() {
		for snap := range snaps {
			if snap.Err != nil {
				Logger.Log.WithError(snap.Err).Error("posts subscription failed")
				l.toast.Show(msgFetchFailed)
				return
			}
			posts := decodePosts(snap.Docs)

			// deliver under the same lock unsubscribe takes, so a call
			// racing teardown either completes before unsubscribe returns
			// or is suppressed entirely
			mu.Lock()
			if closed {
				mu.Unlock()
				return
			}
			onSnapshot(posts)
			mu.Unlock()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			cancel()
		})
	}
}

func decodePosts(docs []docstore.Document) []model.Post {
	posts := make([]model.Post, 0, len(docs))
	for _, doc := range docs {
		var post model.Post
		if err := doc.Decode(&post); err != nil {
			Logger.Log.WithError(err).WithField("id", doc.Id).Warn("skipping malformed post")
			continue
		}
		post.Id = doc.Id
		posts = append(posts, post)
	}
	return posts
}
