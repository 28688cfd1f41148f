package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/platform/docstore"
	"github.com/shutterfeed/shutterfeed-core/platform/identity"
	"github.com/shutterfeed/shutterfeed-core/toast"
	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// UsersCollection is the document store collection holding profile records,
// keyed by the provider-issued account id.
const UsersCollection = "users"

// identityConfirmTimeout bounds how long Register waits for the provider to
// report the freshly created account as the active identity.
const identityConfirmTimeout = 10 * time.Second

// State is the lifecycle state of the process-wide session.
//
// Resolving is the state right after construction: the provider has not yet
// told us whether anybody is signed in, and consumers must not render
// user-dependent content. IdentityWithoutProfile marks an account that exists
// at the provider but has no profile record; it answers "not authenticated"
// to consumers but stays distinguishable for reconciliation tooling.
type State int

const (
	Uninitialized State = iota
	Resolving
	Authenticated
	Anonymous
	IdentityWithoutProfile
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Resolving:
		return "RESOLVING"
	case Authenticated:
		return "AUTHENTICATED"
	case Anonymous:
		return "ANONYMOUS"
	case IdentityWithoutProfile:
		return "IDENTITY_WITHOUT_PROFILE"
	}
	return "UNKNOWN"
}

// User-visible messages for the transient notification sink.
const (
	msgLoginFailed      = "Login failed. Please try again."
	msgInvalidEmail     = "Invalid email address."
	msgRegisterFailed   = "Registration failed. Please try again."
	msgEmailExists      = "Email is already in use."
	msgWeakPassword     = "Password is too weak."
	msgPermissionDenied = "Database access denied. Contact support."
	msgRegisterOk       = "Registration successful!"
	msgLogoutOk         = "Logged out successfully"
	msgLogoutFailed     = "Logout failed"
	msgProfileUpdated   = "Profile updated successfully"
	msgProfileFailed    = "Failed to update profile"
	msgNotSignedIn      = "No user is logged in"
	msgLoadUserFailed   = "Failed to load user data"
)

// defaultAvatar is assigned to freshly registered accounts.
const defaultAvatar = "https://images.pexels.com/photos/1130626/pexels-photo-1130626.jpeg?auto=compress&cs=tinysrgb&w=150&h=150"

// resolution is the outcome of resolving one identity event against the
// profile store.
type resolution struct {
	seq   uint64
	state State
	uid   string
	user  *model.User
}

// Manager is the single source of truth for "who is signed in". It consumes
// the identity provider's event stream and resolves each event against the
// users collection.
//
// Only the internal stream consumer mutates the session: every operation
// that changes who is signed in goes through the provider (or through a
// refresh request) and comes back via the stream, so there is exactly one
// writer by construction.
type Manager struct {
	provider identity.Provider
	store    docstore.Store
	toast    toast.INotifier

	mu    sync.RWMutex
	state State
	uid   string
	user  *model.User

	resolved    chan struct{}
	resolveOnce sync.Once

	startOnce sync.Once
	refresh   chan identity.Event

	subMu sync.Mutex
	subs  map[chan State]struct{}
}

// NewManager constructs a Manager in the Resolving state. Call Start to
// attach it to the provider stream; until the first event resolves,
// IsLoading reports true and WaitUntilResolved blocks.
func NewManager(provider identity.Provider, store docstore.Store, notifier toast.INotifier) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		toast:    notifier,
		state:    Resolving,
		resolved: make(chan struct{}),
		refresh:  make(chan identity.Event, 4),
		subs:     map[chan State]struct{}{},
	}
}

// Start subscribes to the provider's auth stream and spawns the consumer
// loop. It returns an error only if the subscription itself cannot be
// established. Start is idempotent; the stream is consumed until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		var events <-chan identity.Event
		events, err = m.provider.Subscribe(ctx)
		if err != nil {
			err = errors.Wrap(err, "session: cannot subscribe to auth stream")
			return
		}
		go m.consume(ctx, events)
	})
	return err
}

// consume is the session's single writer. Each incoming event gets a
// sequence number; profile resolutions run concurrently but a resolution
// that finishes after a newer event has been observed is dropped, so rapid
// sign-in/sign-out sequences cannot interleave into a wrong final state.
func (m *Manager) consume(ctx context.Context, events <-chan identity.Event) {
	results := make(chan resolution)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			seq++
			go m.resolve(ctx, seq, ev, results)
		case ev := <-m.refresh:
			seq++
			go m.resolve(ctx, seq, ev, results)
		case res := <-results:
			if res.seq != seq {
				Logger.Log.WithField("seq", res.seq).Debug("dropping stale auth resolution")
				continue
			}
			m.apply(res)
		}
	}
}

// resolve turns one identity event into a session state. A present identity
// is looked up in the users collection; lookup failure defaults to signed
// out rather than retrying.
func (m *Manager) resolve(ctx context.Context, seq uint64, ev identity.Event, results chan<- resolution) {
	res := resolution{seq: seq, state: Anonymous}
	if ev.Uid != "" {
		var user model.User
		err := m.store.Get(ctx, UsersCollection, ev.Uid, &user)
		switch {
		case err == nil:
			user.Id = ev.Uid
			res.state = Authenticated
			res.uid = ev.Uid
			res.user = &user
		case errors.Is(err, docstore.ErrNotFound):
			Logger.Log.WithField("uid", ev.Uid).Warn("identity has no profile record")
			res.state = IdentityWithoutProfile
			res.uid = ev.Uid
		default:
			Logger.Log.WithError(err).Error("cannot load user profile")
			m.toast.Show(msgLoadUserFailed)
		}
	}
	select {
	case results <- res:
	case <-ctx.Done():
	}
}

func (m *Manager) apply(res resolution) {
	m.mu.Lock()
	m.state = res.state
	m.uid = res.uid
	m.user = res.user
	m.mu.Unlock()

	m.resolveOnce.Do(func() { close(m.resolved) })

	m.subMu.Lock()
	for ch := range m.subs {
		sendState(ch, res.state)
	}
	m.subMu.Unlock()
}

// Login delegates credential verification to the provider. On success the
// session is not populated here; the provider's stream event triggers
// profile resolution. Recoverable failures return false after one toast.
func (m *Manager) Login(ctx context.Context, email, password string) bool {
	if _, err := m.provider.SignIn(ctx, email, password); err != nil {
		msg := msgLoginFailed
		if errors.Is(err, identity.ErrInvalidEmail) {
			msg = msgInvalidEmail
		}
		Logger.Log.WithError(err).Error("login failed")
		m.toast.Show(msg)
		return false
	}
	return true
}

// Register creates the provider account, waits for the provider to confirm
// it as the active identity, then writes the profile record keyed by the
// new uid. If the profile write is rejected the identity still exists but is
// profile-less; nothing reconciles that automatically.
func (m *Manager) Register(ctx context.Context, email, password, username, fullName string) bool {
	uid, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		msg := msgRegisterFailed
		switch {
		case errors.Is(err, identity.ErrEmailExists):
			msg = msgEmailExists
		case errors.Is(err, identity.ErrInvalidEmail):
			msg = msgInvalidEmail
		case errors.Is(err, identity.ErrWeakPassword):
			msg = msgWeakPassword
		}
		Logger.Log.WithError(err).Error("registration failed")
		m.toast.Show(msg)
		return false
	}

	// The profile write races the backend's per-user permission rules until
	// the provider reports the new account as the active identity.
	if err := m.awaitIdentity(ctx, uid); err != nil {
		Logger.Log.WithError(err).Error("new identity never became active")
		m.toast.Show(msgRegisterFailed)
		return false
	}

	user := model.User{
		Id:       uid,
		Email:    email,
		Username: username,
		FullName: fullName,
		Avatar:   defaultAvatar,
		Posts:    []model.PostRef{},
	}
	if err := m.store.Set(ctx, UsersCollection, uid, user); err != nil {
		Logger.Log.WithError(err).Error("profile write rejected, identity is now profile-less")
		if errors.Is(err, docstore.ErrPermissionDenied) {
			m.toast.Show(msgPermissionDenied)
		} else {
			m.toast.Show(msgRegisterFailed)
		}
		return false
	}

	m.requestRefresh(identity.Event{Uid: uid})
	m.toast.Show(msgRegisterOk)
	return true
}

// Logout terminates the provider session. On failure the session stays
// untouched: stale-authenticated beats incorrectly-logged-out. On success
// the stream's sign-out event clears the state.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.provider.SignOut(ctx); err != nil {
		Logger.Log.WithError(err).Error("logout failed")
		m.toast.Show(msgLogoutFailed)
		return
	}
	m.toast.Show(msgLogoutOk)
}

// ProfileUpdate is a partial profile mutation. Zero-value fields are left
// untouched. When Posts is non-empty the references are appended to the
// profile's post collection (no duplicates) and the other fields are
// ignored, matching the backend's field-level array-union update.
type ProfileUpdate struct {
	Username string          `json:"username,omitempty"`
	FullName string          `json:"fullName,omitempty"`
	Avatar   string          `json:"avatar,omitempty"`
	Bio      string          `json:"bio,omitempty"`
	Posts    []model.PostRef `json:"posts,omitempty"`
}

func (u ProfileUpdate) fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if u.Username != "" {
		fields["username"] = u.Username
	}
	if u.FullName != "" {
		fields["fullName"] = u.FullName
	}
	if u.Avatar != "" {
		fields["avatar"] = u.Avatar
	}
	if u.Bio != "" {
		fields["bio"] = u.Bio
	}
	return fields
}

// UpdateProfile writes a partial update to the signed-in user's profile
// record, then asks the stream consumer to reload it. No-ops with a toast
// while signed out.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) {
	m.mu.RLock()
	uid := m.uid
	signedIn := m.state == Authenticated
	m.mu.RUnlock()
	if !signedIn {
		m.toast.Show(msgNotSignedIn)
		return
	}

	var err error
	if len(update.Posts) > 0 {
		elems := make([]interface{}, len(update.Posts))
		for i, ref := range update.Posts {
			elems[i] = ref
		}
		err = m.store.Union(ctx, UsersCollection, uid, "posts", elems...)
	} else {
		err = m.store.Merge(ctx, UsersCollection, uid, update.fields())
	}
	if err != nil {
		Logger.Log.WithError(err).Error("profile update failed")
		m.toast.Show(msgProfileFailed)
		return
	}

	// the stream consumer reloads the merged profile, keeping it the only
	// writer of session state
	m.requestRefresh(identity.Event{Uid: uid})
	m.toast.Show(msgProfileUpdated)
}

// awaitIdentity blocks until the provider stream reports uid as the active
// identity, or the confirmation window runs out.
func (m *Manager) awaitIdentity(ctx context.Context, uid string) error {
	waitCtx, cancel := context.WithTimeout(ctx, identityConfirmTimeout)
	defer cancel()

	events, err := m.provider.Subscribe(waitCtx)
	if err != nil {
		return errors.Wrap(err, "session: cannot subscribe for identity confirmation")
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errors.New("session: auth stream closed before identity confirmation")
			}
			if ev.Uid == uid {
				return nil
			}
		case <-waitCtx.Done():
			return waitCtx.Err()
		}
	}
}

// requestRefresh hands a synthetic event to the consumer loop so it reloads
// the profile. The send blocks until the loop picks it up: callers toast
// success right after, and a dropped refresh would leave the in-memory user
// stale behind the store. The consumer is the sole reader and always drains
// the channel, so the wait is bounded by one resolution cycle.
func (m *Manager) requestRefresh(ev identity.Event) {
	m.refresh <- ev
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentUser returns a copy of the signed-in user's profile, or nil.
func (m *Manager) CurrentUser() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	user := *m.user
	user.Posts = append([]model.PostRef(nil), m.user.Posts...)
	return &user
}

// Uid returns the active account id, set in both Authenticated and
// IdentityWithoutProfile.
func (m *Manager) Uid() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uid
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == Authenticated
}

// IsLoading reports whether the first resolution is still pending. Screens
// must not assume a session value while this is true.
func (m *Manager) IsLoading() bool {
	s := m.State()
	return s == Uninitialized || s == Resolving
}

// WaitUntilResolved blocks until the first provider event has been resolved,
// gating initial render.
func (m *Manager) WaitUntilResolved(ctx context.Context) error {
	select {
	case <-m.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changes returns a channel receiving the session state after every
// transition until ctx is cancelled. Deliveries conflate under bursts; the
// latest state always arrives.
func (m *Manager) Changes(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}()
	return ch
}

func sendState(ch chan State, s State) {
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
