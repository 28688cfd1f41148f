package toast

import (
	"sync"

	Logger "github.com/shutterfeed/shutterfeed-core/utils/log"
)

// INotifier delivers one-shot, non-blocking user-visible messages. Every
// recoverable failure in the session and feed packages surfaces through a
// notifier instead of propagating an error to the caller.
type INotifier interface {
	Show(message string)
}

type logNotifier struct{}

// NewLogNotifier returns a notifier that writes messages to the process log.
// The UI layer in front of this process is expected to replace it with a
// sink that renders an actual toast.
func NewLogNotifier() INotifier {
	return &logNotifier{}
}

func (n *logNotifier) Show(message string) {
	Logger.Log.WithField("toast", true).Info(message)
}

// Recorder is a notifier for tests. It remembers every message shown.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Show(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of everything shown so far, in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}
