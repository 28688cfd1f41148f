package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/platform/docstore"
	"github.com/shutterfeed/shutterfeed-core/platform/identity"
	"github.com/shutterfeed/shutterfeed-core/toast"
	"github.com/shutterfeed/shutterfeed-core/utils/dotenv"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

type fixture struct {
	ctx      context.Context
	cancel   context.CancelFunc
	provider *identity.MemoryProvider
	store    *docstore.MemoryStore
	toasts   *toast.Recorder
	mgr      *Manager
}

func newFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fixture{
		ctx:      ctx,
		cancel:   cancel,
		provider: identity.NewMemoryProvider(),
		store:    docstore.NewMemoryStore(),
		toasts:   toast.NewRecorder(),
	}
}

func (f *fixture) start(t *testing.T) *Manager {
	f.mgr = NewManager(f.provider, f.store, f.toasts)
	require.NoError(t, f.mgr.Start(f.ctx))
	return f.mgr
}

// createAccount provisions a provider account plus its profile record,
// bypassing Register, then signs it out so tests start from Anonymous.
func (f *fixture) createAccount(t *testing.T, email, password string, profile model.User) string {
	uid, err := f.provider.SignUp(f.ctx, email, password)
	require.NoError(t, err)
	profile.Id = uid
	if profile.Posts == nil {
		profile.Posts = []model.PostRef{}
	}
	require.NoError(t, f.store.Set(f.ctx, UsersCollection, uid, profile))
	require.NoError(t, f.provider.SignOut(f.ctx))
	return uid
}

func countToasts(r *toast.Recorder, msg string) int {
	n := 0
	for _, m := range r.Messages() {
		if m == msg {
			n++
		}
	}
	return n
}

func TestStartsResolvingThenAnonymous(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(f.provider, f.store, f.toasts)

	require.Equal(t, Resolving, mgr.State())
	require.True(t, mgr.IsLoading())

	require.NoError(t, mgr.Start(f.ctx))
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.Equal(t, Anonymous, mgr.State())
	require.False(t, mgr.IsLoading())
	require.False(t, mgr.IsAuthenticated())
	require.Nil(t, mgr.CurrentUser())
}

func TestResolvesExistingIdentityWithProfile(t *testing.T) {
	f := newFixture(t)
	uid, err := f.provider.SignUp(f.ctx, "john@example.com", "secret123")
	require.NoError(t, err)
	require.NoError(t, f.store.Set(f.ctx, UsersCollection, uid, model.User{
		Id:        uid,
		Username:  "johndoe",
		Followers: 1234,
	}))

	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.Equal(t, Authenticated, mgr.State())
	require.True(t, mgr.IsAuthenticated())
	user := mgr.CurrentUser()
	require.NotNil(t, user)
	require.Equal(t, uid, user.Id)
	require.Equal(t, "johndoe", user.Username)
	require.Equal(t, 1234, user.Followers)
}

func TestIdentityWithoutProfileIsNotAuthenticated(t *testing.T) {
	f := newFixture(t)
	// account exists at the provider, no profile record anywhere
	uid, err := f.provider.SignUp(f.ctx, "ghost@example.com", "secret123")
	require.NoError(t, err)

	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.Equal(t, IdentityWithoutProfile, mgr.State())
	require.False(t, mgr.IsAuthenticated())
	require.Nil(t, mgr.CurrentUser())
	require.Equal(t, uid, mgr.Uid())
}

func TestLoginSuccessPopulatesViaStream(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.Equal(t, Anonymous, mgr.State())

	require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))

	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)
	require.Equal(t, "johndoe", mgr.CurrentUser().Username)
}

func TestLoginFailureReturnsFalseWithToast(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.False(t, mgr.Login(f.ctx, "john@example.com", "not-the-password"))
	require.Equal(t, Anonymous, mgr.State())
	require.Equal(t, 1, countToasts(f.toasts, "Login failed. Please try again."))

	require.False(t, mgr.Login(f.ctx, "malformed", "secret123"))
	require.Equal(t, 1, countToasts(f.toasts, "Invalid email address."))
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.False(t, mgr.Register(f.ctx, "a@b.com", "weakpw", "alex", "Alex Chen"))
	require.Equal(t, Anonymous, mgr.State())
	require.Equal(t, []string{"Password is too weak."}, f.toasts.Messages())
}

func TestRegisterCreatesProfileAndAuthenticates(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	require.True(t, mgr.Register(f.ctx, "alex@example.com", "secret123", "alex", "Alex Chen"))

	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)
	user := mgr.CurrentUser()
	require.Equal(t, "alex", user.Username)
	require.Equal(t, "Alex Chen", user.FullName)
	require.Equal(t, 0, user.Followers)
	require.Empty(t, user.Posts)
	require.Equal(t, 1, countToasts(f.toasts, "Registration successful!"))

	var stored model.User
	require.NoError(t, f.store.Get(f.ctx, UsersCollection, mgr.Uid(), &stored))
	require.Equal(t, "alex", stored.Username)
}

func TestRegisterProfileWriteRejected(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	f.store.FailWrites(docstore.ErrPermissionDenied)
	require.False(t, mgr.Register(f.ctx, "alex@example.com", "secret123", "alex", "Alex Chen"))
	require.Equal(t, 1, countToasts(f.toasts, "Database access denied. Contact support."))

	// the identity exists but is profile-less, and the session says so
	require.Eventually(t, func() bool { return mgr.State() == IdentityWithoutProfile }, waitFor, tick)
	require.False(t, mgr.IsAuthenticated())
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))
	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)

	mgr.Logout(f.ctx)

	require.Eventually(t, func() bool { return mgr.State() == Anonymous }, waitFor, tick)
	require.Nil(t, mgr.CurrentUser())
	require.Equal(t, 1, countToasts(f.toasts, "Logged out successfully"))
}

func TestLogoutFailureLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))
	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)

	f.provider.FailSignOut(errors.New("network down"))
	mgr.Logout(f.ctx)

	// stale-authenticated beats incorrectly-logged-out
	require.Equal(t, Authenticated, mgr.State())
	require.NotNil(t, mgr.CurrentUser())
	require.Equal(t, 1, countToasts(f.toasts, "Logout failed"))
}

func TestUpdateProfilePostAppendIsIdempotent(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.True(t, mgr.Register(f.ctx, "alex@example.com", "secret123", "alex", "Alex Chen"))
	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)

	ref := model.PostRef{Id: "p1", ImageUrl: "https://img/p1.jpg"}
	mgr.UpdateProfile(f.ctx, ProfileUpdate{Posts: []model.PostRef{ref}})
	mgr.UpdateProfile(f.ctx, ProfileUpdate{Posts: []model.PostRef{ref}})

	require.Eventually(t, func() bool {
		return countToasts(f.toasts, "Profile updated successfully") == 2
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		user := mgr.CurrentUser()
		return user != nil && len(user.Posts) == 1
	}, waitFor, tick)
	require.Equal(t, ref, mgr.CurrentUser().Posts[0])
}

func TestUpdateProfileShallowFieldMerge(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.True(t, mgr.Register(f.ctx, "alex@example.com", "secret123", "alex", "Alex Chen"))
	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)

	mgr.UpdateProfile(f.ctx, ProfileUpdate{Bio: "sharing my adventures"})

	require.Eventually(t, func() bool {
		user := mgr.CurrentUser()
		return user != nil && user.Bio == "sharing my adventures"
	}, waitFor, tick)
	// untouched fields survive the merge
	require.Equal(t, "alex", mgr.CurrentUser().Username)
}

func TestUpdateProfileBurstRefreshesEveryWrite(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))
	require.True(t, mgr.Register(f.ctx, "alex@example.com", "secret123", "alex", "Alex Chen"))
	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)

	// more updates back to back than the refresh queue can buffer; each one
	// must still trigger a reload so the session never serves a stale profile
	const updates = 8
	for i := 0; i < updates; i++ {
		mgr.UpdateProfile(f.ctx, ProfileUpdate{Bio: fmt.Sprintf("bio revision %d", i)})
	}

	require.Equal(t, updates, countToasts(f.toasts, "Profile updated successfully"))
	require.Eventually(t, func() bool {
		user := mgr.CurrentUser()
		return user != nil && user.Bio == fmt.Sprintf("bio revision %d", updates-1)
	}, waitFor, tick)
}

func TestUpdateProfileWhileSignedOut(t *testing.T) {
	f := newFixture(t)
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	mgr.UpdateProfile(f.ctx, ProfileUpdate{Bio: "nope"})
	require.Equal(t, []string{"No user is logged in"}, f.toasts.Messages())
}

func TestRapidTransitionsSettleOnLatestEvent(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	// fire sign-in/sign-out pairs back to back; the last event must win
	for i := 0; i < 5; i++ {
		require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))
		require.NoError(t, f.provider.SignOut(f.ctx))
	}
	require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))

	require.Eventually(t, func() bool { return mgr.IsAuthenticated() }, waitFor, tick)
	require.Equal(t, "johndoe", mgr.CurrentUser().Username)
}

func TestChangesDeliversTransitions(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "john@example.com", "secret123", model.User{Username: "johndoe"})
	mgr := f.start(t)
	require.NoError(t, mgr.WaitUntilResolved(f.ctx))

	changes := mgr.Changes(f.ctx)
	require.True(t, mgr.Login(f.ctx, "john@example.com", "secret123"))

	require.Eventually(t, func() bool {
		select {
		case s := <-changes:
			return s == Authenticated
		default:
			return false
		}
	}, waitFor, tick)
}
