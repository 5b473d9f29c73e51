package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling through while the breaker is
// open. It counts as transient so the retry policy backs off and
// tries again later.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker stops calling a failing provider after Threshold consecutive
// transient failures and lets a single trial call through after Cooldown.
// Permanent errors do not count: a rejected request says nothing about
// provider health.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a breaker. Non-positive values default to 5 failures
// and a 30s cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard is Execute for functions that return a value.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return eris.Wrap(ErrCircuitOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return eris.Wrap(ErrCircuitOpen, b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) transition(to State) {
	zap.L().Info("resilience: circuit state change",
		zap.String("breaker", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}
