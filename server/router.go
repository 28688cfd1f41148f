package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/shutterfeed/shutterfeed-core/feed"
	"github.com/shutterfeed/shutterfeed-core/session"
)

// NewRouter wires the session and feed endpoints. Everything under /api
// waits out the initial session resolution; the profile route additionally
// requires a signed-in user.
func NewRouter(mgr *session.Manager, listener *feed.Listener) *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	api := router.Group("/api", RequireResolved(mgr))
	api.POST("/login", LoginHandler(mgr))
	api.POST("/register", RegisterHandler(mgr))
	api.POST("/logout", LogoutHandler(mgr))
	api.GET("/session", SessionHandler(mgr))
	api.PATCH("/profile", RequireAuth(mgr), UpdateProfileHandler(mgr))
	api.GET("/feed/live", FeedLiveHandler(listener))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"message": "shutterfeed core - API not found"})
	})
	return router
}
