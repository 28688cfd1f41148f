package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shutterfeed/shutterfeed-core/session"
	"github.com/shutterfeed/shutterfeed-core/utils"
)

// RequireResolved rejects requests while the session is still resolving its
// first identity event. No route may assume a session value before that.
func RequireResolved(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mgr.IsLoading() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code": utils.ErrorSessionPending,
				"msg":  "session still resolving",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAuth rejects requests unless a signed-in user with a profile record
// backs the session.
func RequireAuth(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mgr.IsAuthenticated() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": utils.ErrorNotSignedIn,
				"msg":  "no user is signed in",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
