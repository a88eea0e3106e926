// Package quota enforces the Registry's four nested throughput windows.
//
// Short windows (second, minute) are waited out; long windows (hour, day)
// reject immediately with an *ExceededError because waiting could take hours.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp.quota")

type Window int

const (
	Second Window = iota
	Minute
	Hour
	Day
)

// Windows lists every window from shortest to longest.
var Windows = [...]Window{Second, Minute, Hour, Day}

func (w Window) Period() time.Duration {
	switch w {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	panic(fmt.Sprintf("invalid quota window %d", int(w)))
}

func (w Window) String() string {
	switch w {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// Blocking reports whether a full window is waited out instead of rejected.
func (w Window) Blocking() bool {
	return w == Second || w == Minute
}

// Limits are per-window ceilings; zero or negative means unlimited.
type Limits struct {
	PerSecond int `yaml:"per_second" json:"perSecond"`
	PerMinute int `yaml:"per_minute" json:"perMinute"`
	PerHour   int `yaml:"per_hour" json:"perHour"`
	PerDay    int `yaml:"per_day" json:"perDay"`
}

// DefaultLimits mirror the Registry's published sandbox ceilings.
var DefaultLimits = Limits{
	PerSecond: 10,
	PerMinute: 300,
	PerHour:   10000,
	PerDay:    100000,
}

// Of returns the ceiling of w.
func (l Limits) Of(w Window) int {
	switch w {
	case Second:
		return l.PerSecond
	case Minute:
		return l.PerMinute
	case Hour:
		return l.PerHour
	case Day:
		return l.PerDay
	}
	return 0
}

var ErrExceeded = errors.New("quota exceeded")

// ExceededError is returned when an hour or day ceiling is reached.
type ExceededError struct {
	Window  Window
	Limit   int
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("per-%s quota of %d requests exceeded, resets at %s",
		e.Window, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrExceeded
}

// Observer is notified about waits and rejections.
type Observer interface {
	QuotaWait(w Window, d time.Duration)
	QuotaRejected(w Window)
}

type nopObserver struct{}

func (nopObserver) QuotaWait(Window, time.Duration) {}
func (nopObserver) QuotaRejected(Window)            {}

type counter struct {
	count int
	start time.Time
}

// Governor is safe for concurrent use.
type Governor struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	limits   Limits
	counters [len(Windows)]counter
	observer Observer
}

type Option func(*Governor)

func WithClock(c clockwork.Clock) Option {
	return func(g *Governor) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Governor) {
		if o != nil {
			g.observer = o
		}
	}
}

func New(limits Limits, opts ...Option) *Governor {
	g := &Governor{
		clock:    clockwork.NewRealClock(),
		limits:   limits,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the configured ceilings.
func (g *Governor) Limits() Limits {
	return g.limits
}

// Acquire reserves one request slot in every window. It blocks while the
// second or minute window is full and returns an *ExceededError when the
// hour or day window is full. The wait is aborted when ctx is done.
func (g *Governor) Acquire(ctx context.Context) error {
	_, err := g.Reserve(ctx)
	return err
}

// Reserve is Acquire returning the slot it took. The slot is counted at once so
// concurrent callers can never overshoot a ceiling; a caller whose request then
// never leaves the process hands it back with Release.
func (g *Governor) Reserve(ctx context.Context) (*Reservation, error) {
	r := &Reservation{g: g}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait, w, err := g.tryAcquire(r)
		if err != nil {
			return nil, err
		}
		if wait == 0 {
			return r, nil
		}

		g.observer.QuotaWait(w, wait)
		logger.Debugf("per-%s quota full, waiting %s", w, wait)

		timer := g.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.Chan():
		}
	}
}

// Reservation is one slot taken by Reserve.
type Reservation struct {
	g      *Governor
	starts [len(Windows)]time.Time
	once   sync.Once
}

// Release returns the slot to every window that has not rolled over since it was
// taken. Only requests that were never dispatched should be released.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.g.mu.Lock()
		defer r.g.mu.Unlock()
		for i := range r.g.counters {
			c := &r.g.counters[i]
			if c.count > 0 && c.start.Equal(r.starts[i]) {
				c.count--
			}
		}
	})
}

// tryAcquire is the atomic check-and-increment. A non-zero duration means
// the caller has to wait that long on window w and try again.
func (g *Governor) tryAcquire(r *Reservation) (time.Duration, Window, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for _, w := range Windows {
		c := &g.counters[w]
		if c.start.IsZero() || !now.Before(c.start.Add(w.Period())) {
			c.count = 0
			c.start = now
		}
	}

	for _, w := range []Window{Hour, Day} {
		if g.full(w) {
			g.observer.QuotaRejected(w)
			c := g.counters[w]
			return 0, w, &ExceededError{Window: w, Limit: g.limits.Of(w), ResetAt: c.start.Add(w.Period())}
		}
	}

	var (
		wait   time.Duration
		waitOn Window
	)
	for _, w := range []Window{Second, Minute} {
		if !g.full(w) {
			continue
		}
		if d := g.counters[w].start.Add(w.Period()).Sub(now); d > wait {
			wait, waitOn = d, w
		}
	}
	if wait > 0 {
		return wait, waitOn, nil
	}

	for i := range g.counters {
		g.counters[i].count++
		r.starts[i] = g.counters[i].start
	}
	return 0, 0, nil
}

func (g *Governor) full(w Window) bool {
	limit := g.limits.Of(w)
	return limit > 0 && g.counters[w].count >= limit
}

// WindowState is a point-in-time view of one window.
type WindowState struct {
	Window  string    `json:"window"`
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt,omitempty"`
}

// Snapshot reports counters and ceilings without modifying them.
func (g *Governor) Snapshot() []WindowState {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	states := make([]WindowState, 0, len(Windows))
	for _, w := range Windows {
		c := g.counters[w]
		s := WindowState{Window: w.String(), Limit: g.limits.Of(w)}
		if !c.start.IsZero() && now.Before(c.start.Add(w.Period())) {
			s.Count = c.count
			s.ResetAt = c.start.Add(w.Period())
		}
		states = append(states, s)
	}
	return states
}
