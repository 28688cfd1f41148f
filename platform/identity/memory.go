package identity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

const (
	// TopicAuthState carries identity change events on the in-process bus.
	TopicAuthState = "auth-state"

	// minPasswordLen mirrors the hosted provider's configured password
	// policy.
	minPasswordLen = 8

	eventBufferSize = 16
)

type account struct {
	uid      string
	email    string
	password string
}

// MemoryProvider is an in-process Provider used by tests, seeding and local
// runs. Identity change events fan out over a gochannel event bus, one
// independent subscription per Subscribe call.
type MemoryProvider struct {
	mu          sync.Mutex
	accounts    map[string]account
	current     string
	signOutFail error

	bus *gochannel.GoChannel
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts: map[string]account{},
		bus: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: eventBufferSize,
		}, watermill.NopLogger{}),
	}
}

func (p *MemoryProvider) SignIn(ctx context.Context, email, password string) (string, error) {
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}

	p.mu.Lock()
	acc, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		p.mu.Unlock()
		return "", ErrUserNotFound
	}
	if acc.password != password {
		p.mu.Unlock()
		return "", ErrWrongPassword
	}
	p.current = acc.uid
	p.mu.Unlock()

	p.publish(Event{Uid: acc.uid})
	return acc.uid, nil
}

func (p *MemoryProvider) SignUp(ctx context.Context, email, password string) (string, error) {
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return "", ErrWeakPassword
	}

	p.mu.Lock()
	key := normalizeEmail(email)
	if _, ok := p.accounts[key]; ok {
		p.mu.Unlock()
		return "", ErrEmailExists
	}
	uid := uuid.New().String()
	p.accounts[key] = account{uid: uid, email: key, password: password}
	p.current = uid
	p.mu.Unlock()

	p.publish(Event{Uid: uid})
	return uid, nil
}

func (p *MemoryProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.signOutFail != nil {
		err := p.signOutFail
		p.mu.Unlock()
		return err
	}
	p.current = ""
	p.mu.Unlock()

	p.publish(Event{})
	return nil
}

// FailSignOut makes every subsequent SignOut return err without touching the
// current identity. Pass nil to restore normal behavior. Test hook.
func (p *MemoryProvider) FailSignOut(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutFail = err
}

func (p *MemoryProvider) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := p.bus.Subscribe(ctx, TopicAuthState)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		// Replay the current identity first so a late subscriber resolves
		// immediately instead of waiting for the next transition.
		select {
		case out <- Event{Uid: current}:
		case <-ctx.Done():
			return
		}
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				Logger.Log.WithError(err).Error("malformed auth state event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *MemoryProvider) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		Logger.Log.WithError(err).Error("cannot marshal auth state event")
		return
	}
	if err := p.bus.Publish(TopicAuthState, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		Logger.Log.WithError(err).Error("cannot publish auth state event")
	}
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
