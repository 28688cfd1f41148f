package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shutterfeed/shutterfeed-core/feed"
	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/platform"
	"github.com/shutterfeed/shutterfeed-core/session"
	"github.com/shutterfeed/shutterfeed-core/utils/dotenv"
	. "github.com/shutterfeed/shutterfeed-core/utils/flag"
	. "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// Demo corpus for local runs: a handful of profiles and a feed's worth of
// posts so the live endpoints have something to deliver.

var demoUsers = []model.User{
	{
		Username:  "johndoe",
		Email:     "john@example.com",
		FullName:  "John Doe",
		Avatar:    "https://images.pexels.com/photos/1130626/pexels-photo-1130626.jpeg?auto=compress&cs=tinysrgb&w=150&h=150",
		Bio:       "Photography enthusiast | Travel lover | Coffee addict",
		Verified:  true,
		Followers: 1234,
		Following: 567,
	},
	{
		Username:  "sarahwilson",
		Email:     "sarah@example.com",
		FullName:  "Sarah Wilson",
		Avatar:    "https://images.pexels.com/photos/1239291/pexels-photo-1239291.jpeg?auto=compress&cs=tinysrgb&w=150&h=150",
		Bio:       "Artist & Designer | Nature lover",
		Followers: 892,
		Following: 234,
	},
	{
		Username:  "mikechef",
		Email:     "mike@example.com",
		FullName:  "Mike Rodriguez",
		Avatar:    "https://images.pexels.com/photos/2379004/pexels-photo-2379004.jpeg?auto=compress&cs=tinysrgb&w=150&h=150",
		Bio:       "Chef | Food blogger | Sharing my culinary adventures",
		Verified:  true,
		Followers: 5678,
		Following: 123,
	},
}

var demoCaptions = []struct {
	author  int // index into demoUsers
	caption string
	image   string
	likes   int
}{
	{0, "Golden hour never disappoints", "https://images.pexels.com/photos/1458377/pexels-photo-1458377.jpeg", 245},
	{1, "New piece finished today", "https://images.pexels.com/photos/1266810/pexels-photo-1266810.jpeg", 412},
	{2, "Tonight's special: handmade pasta", "https://images.pexels.com/photos/1279330/pexels-photo-1279330.jpeg", 1024},
	{0, "City lights from the rooftop", "https://images.pexels.com/photos/378570/pexels-photo-378570.jpeg", 158},
	{1, "Morning walk in the woods", "https://images.pexels.com/photos/1563356/pexels-photo-1563356.jpeg", 301},
}

func main() {
	ParseFlags()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	ctx := context.Background()
	store, err := platform.StoreFromEnv(ctx)
	if err != nil {
		panic(err)
	}

	uids := make([]string, len(demoUsers))
	for i, user := range demoUsers {
		user.Id = uuid.New().String()
		user.Posts = []model.PostRef{}
		uids[i] = user.Id
		if err := store.Set(ctx, session.UsersCollection, user.Id, user); err != nil {
			panic(err)
		}
		Log.WithField("username", user.Username).Info("seeded user")
	}

	now := time.Now()
	for i, entry := range demoCaptions {
		post := model.Post{
			Id:        uuid.New().String(),
			UserId:    uids[entry.author],
			ImageUrl:  entry.image,
			Caption:   entry.caption,
			Likes:     entry.likes,
			Comments:  entry.likes / 8,
			Shares:    entry.likes / 20,
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
		}
		if err := store.Set(ctx, feed.PostsCollection, post.Id, post); err != nil {
			panic(err)
		}
		if err := store.Union(ctx, session.UsersCollection, post.UserId, "posts", post.Ref()); err != nil {
			panic(err)
		}
	}
	Log.WithField("posts", len(demoCaptions)).Info("seeding done")
}
