package progress

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Config tunes the synthetic progress stream.
type Config struct {
	Interval time.Duration // tick period, default 300ms
	Cap      int           // ceiling while work is outstanding, default 90
	MaxStep  int           // largest random increment per tick, default 10
	Hold     time.Duration // how long 100 stays visible after completion, default 800ms
}

// Emitter starts progress tokens.
type Emitter struct {
	cfg    Config
	rnd    func(n int) int
	logger *slog.Logger
}

type Option func(*Emitter)

// WithRand replaces the increment source; f(n) must return a value in [0, n).
func WithRand(f func(n int) int) Option {
	return func(e *Emitter) {
		if f != nil {
			e.rnd = f
		}
	}
}

func NewEmitter(cfg Config, logger *slog.Logger, opts ...Option) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Millisecond
	}
	if cfg.Cap <= 0 || cfg.Cap > 100 {
		cfg.Cap = 90
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = 10
	}
	if cfg.Hold < 0 {
		cfg.Hold = 0
	} else if cfg.Hold == 0 {
		cfg.Hold = 800 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{cfg: cfg, rnd: rand.IntN, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start returns a token that advances every Interval until it is cancelled or completed.
// onChange, if set, receives every new percentage. It must not call back into the token.
func (e *Emitter) Start(onChange func(percent int)) *Token {
	t := e.newToken(onChange)
	go func() {
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.Tick()
			}
		}
	}()
	return t
}

func (e *Emitter) newToken(onChange func(int)) *Token {
	return &Token{
		cap:      e.cfg.Cap,
		maxStep:  e.cfg.MaxStep,
		hold:     e.cfg.Hold,
		rnd:      e.rnd,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Token is one running progress stream. Its value never decreases while running,
// never exceeds 100, and never changes because of a tick after Cancel.
type Token struct {
	// emitMu orders state changes together with their onChange calls
	emitMu sync.Mutex

	mu        sync.Mutex
	value     int
	cap       int
	maxStep   int
	hold      time.Duration
	rnd       func(n int) int
	onChange  func(int)
	cancelled bool
	completed bool
	resetGen  int

	stop     chan struct{}
	stopOnce sync.Once
}

// Tick advances by a random step, capped, and returns the current percentage.
func (t *Token) Tick() int {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if t.cancelled || t.completed {
		v := t.value
		t.mu.Unlock()
		return v
	}
	next := t.value + 1 + t.rnd(t.maxStep)
	if next > t.cap {
		next = t.cap
	}
	changed := next != t.value
	t.value = next
	t.mu.Unlock()

	if changed {
		t.emit(next)
	}
	return next
}

func (t *Token) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel stops ticking and drops the value to 0. Safe to call any number of
// times, before or after Complete.
func (t *Token) Cancel() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.resetGen++
	changed := t.value != 0
	t.value = 0
	t.mu.Unlock()

	t.halt()
	if changed {
		t.emit(0)
	}
}

// Complete snaps to 100, then resets to 0 after the hold. It reports false
// when the token was already cancelled or completed.
func (t *Token) Complete() bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if t.cancelled || t.completed {
		t.mu.Unlock()
		return false
	}
	t.completed = true
	t.value = 100
	gen := t.resetGen
	hold := t.hold
	t.mu.Unlock()

	t.halt()
	t.emit(100)
	time.AfterFunc(hold, func() { t.reset(gen) })
	return true
}

func (t *Token) reset(gen int) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if gen != t.resetGen {
		t.mu.Unlock()
		return
	}
	t.value = 0
	t.mu.Unlock()
	t.emit(0)
}

func (t *Token) halt() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Token) emit(v int) {
	if t.onChange != nil {
		t.onChange(v)
	}
}
