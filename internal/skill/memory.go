package skill

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hark/internal/intent"
)

// DefaultContextExpiry is how long the previous match stays available to
// follow-up commands.
const DefaultContextExpiry = 5 * time.Minute

// Memory keeps the most recent successfully handled match for a limited time,
// so that a follow-up such as "cancel it" can be resolved. It is safe for
// concurrent use.
type Memory struct {
	mu     sync.Mutex
	last   intent.Match
	at     time.Time
	has    bool
	expiry time.Duration
	now    func() time.Time
}

// NewMemory returns a Memory that forgets after expiry. A non-positive expiry
// uses [DefaultContextExpiry]. now may be nil.
func NewMemory(expiry time.Duration, now func() time.Time) *Memory {
	if expiry <= 0 {
		expiry = DefaultContextExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{expiry: expiry, now: now}
}

// Remember stores m as the latest match.
func (mem *Memory) Remember(m intent.Match) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.last, mem.at, mem.has = m, mem.now(), true
}

// Recall returns the latest match if it has not expired.
func (mem *Memory) Recall() (intent.Match, bool) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if !mem.has {
		return intent.Match{}, false
	}
	if mem.now().Sub(mem.at) >= mem.expiry {
		mem.last, mem.has = intent.Match{}, false
		return intent.Match{}, false
	}
	return mem.last, true
}

// Forget drops the stored match.
func (mem *Memory) Forget() {
	mem.mu.Lock()
	mem.last, mem.has = intent.Match{}, false
	mem.mu.Unlock()
}

type previousKey struct{}

// WithPrevious returns a context carrying the previous match.
func WithPrevious(ctx context.Context, m intent.Match) context.Context {
	return context.WithValue(ctx, previousKey{}, m)
}

// Previous returns the match handled before the current one, if it is still
// fresh. Handlers use it to resolve follow-up commands.
func Previous(ctx context.Context) (intent.Match, bool) {
	m, ok := ctx.Value(previousKey{}).(intent.Match)
	return m, ok
}
