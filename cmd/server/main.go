package main

import (
	"context"
	"os"

	"github.com/shutterfeed/shutterfeed-core/feed"
	"github.com/shutterfeed/shutterfeed-core/platform"
	"github.com/shutterfeed/shutterfeed-core/platform/identity"
	"github.com/shutterfeed/shutterfeed-core/server"
	"github.com/shutterfeed/shutterfeed-core/session"
	"github.com/shutterfeed/shutterfeed-core/toast"
	"github.com/shutterfeed/shutterfeed-core/utils/dotenv"
	. "github.com/shutterfeed/shutterfeed-core/utils/flag"
	. "github.com/shutterfeed/shutterfeed-core/utils/log"
)

func cleanup() {
	Log.Info("shutterfeed core shutdown")
}

func main() {
	ParseFlags()
	defer cleanup()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	ctx := context.Background()

	store, err := platform.StoreFromEnv(ctx)
	if err != nil {
		panic(err)
	}
	provider := identity.NewMemoryProvider()
	notifier := toast.NewLogNotifier()

	mgr := session.NewManager(provider, store, notifier)
	if err := mgr.Start(ctx); err != nil {
		panic(err)
	}
	listener := feed.NewListener(store, notifier)

	router := server.NewRouter(mgr, listener)

	addr := os.Getenv("SHUTTERFEED_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	Log.WithField("service", *ServiceName).WithField("addr", addr).Info("shutterfeed core starts up")
	router.Run(addr)
}
