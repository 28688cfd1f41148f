package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jinzhu/copier"

	"github.com/shutterfeed/shutterfeed-core/feed"
	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/session"
	"github.com/shutterfeed/shutterfeed-core/utils"
	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
}

// userView is the profile shape returned to the UI layer. Email stays on the
// record but is not exposed over the session endpoint.
type userView struct {
	Id        string          `json:"id"`
	Username  string          `json:"username"`
	FullName  string          `json:"fullName"`
	Avatar    string          `json:"avatar"`
	Bio       string          `json:"bio,omitempty"`
	Verified  bool            `json:"verified"`
	Followers int             `json:"followers"`
	Following int             `json:"following"`
	Posts     []model.PostRef `json:"posts"`
}

type sessionView struct {
	State           string    `json:"state"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	IsLoading       bool      `json:"isLoading"`
	User            *userView `json:"user"`
}

// LoginHandler verifies credentials through the session manager. A false
// result is still HTTP 200: the failure was already surfaced as a toast, the
// UI only needs the boolean.
func LoginHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrorBadRequest, "msg": err.Error()})
			return
		}
		ok := mgr.Login(c.Request.Context(), req.Email, req.Password)
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func RegisterHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrorBadRequest, "msg": err.Error()})
			return
		}
		ok := mgr.Register(c.Request.Context(), req.Email, req.Password, req.Username, req.FullName)
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func LogoutHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		mgr.Logout(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateProfileHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update session.ProfileUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrorBadRequest, "msg": err.Error()})
			return
		}
		mgr.UpdateProfile(c.Request.Context(), update)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// SessionHandler exposes currentUser / isAuthenticated / isLoading, the same
// three values the mobile screens consume.
func SessionHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view := sessionView{
			State:           mgr.State().String(),
			IsAuthenticated: mgr.IsAuthenticated(),
			IsLoading:       mgr.IsLoading(),
		}
		if user := mgr.CurrentUser(); user != nil {
			var uv userView
			if err := copier.Copy(&uv, user); err != nil {
				Logger.Log.WithError(err).Error("cannot build session view")
				c.JSON(http.StatusInternalServerError, gin.H{"code": utils.ErrorOperationFail})
				return
			}
			view.User = &uv
		}
		c.JSON(http.StatusOK, view)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the UI layer is served from a different origin in development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FeedLiveHandler upgrades to a websocket and forwards every feed snapshot
// to the peer until the socket closes. The subscription is torn down on
// disconnect; leaving it open would keep delivering to a dead socket
// indefinitely.
func FeedLiveHandler(listener *feed.Listener) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			Logger.Log.WithError(err).Error("websocket upgrade failed")
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		unsubscribe := listener.Subscribe(func(posts []model.Post) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(posts); err != nil {
				Logger.Log.WithError(err).Debug("feed snapshot write failed")
			}
		})
		defer unsubscribe()

		// block until the peer goes away; inbound frames are ignored
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
