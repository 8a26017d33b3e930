// Package reload keeps a long-lived host session alive across repeated
// re-executions of one user-authored source artifact. Each re-execution
// produces a fresh embedded session whose rendered body is merged into the
// host under an atomic update bracket, so connected clients never observe a
// half-built page. Faults inside the user logic are isolated: the loop logs
// them, keeps the host's last good content and retries on the next change.
package reload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livedoc-io/livedoc/pkg/cache"
	"github.com/livedoc-io/livedoc/pkg/console"
	"github.com/livedoc-io/livedoc/pkg/metrics"
	"github.com/livedoc-io/livedoc/pkg/session"
	"github.com/livedoc-io/livedoc/pkg/watcher"
)

// DefaultCheckInterval is the poll interval for artifact changes.
const DefaultCheckInterval = 100 * time.Millisecond

// Status messages for the sick/healthy transitions.
const (
	sickText    = "reload failed - fix the error above and save the artifact to retry"
	healthyText = "artifact is healthy again, resuming live updates"
)

// Loader executes one reload cycle: it re-runs the user's build logic from
// scratch and returns the freshly built embedded session. The prior cache
// is handed in so the new session can adopt it when the versions match
// (cache.Adopt); computation results then survive the swap. A returned
// error marks the cycle as failed without affecting the host.
type Loader func(prior *cache.Cache) (*session.Session, error)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithCheckInterval sets the poll interval. Non-positive values keep the
// default.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithoutWatcher disables the filesystem watcher; changes are then only
// detected by the per-tick byte comparison.
func WithoutWatcher() Option {
	return func(s *Supervisor) { s.noWatch = true }
}

// Supervisor re-executes a source artifact on change and merges the result
// into a persistent host session.
type Supervisor struct {
	host     *session.Session
	path     string
	loader   Loader
	interval time.Duration
	logger   *slog.Logger
	noWatch  bool

	mu          sync.Mutex
	content     []byte
	embedded    *session.Session
	cacheBackup *cache.Cache
	sick        bool

	reloads   atomic.Int64
	errors    atomic.Int64
	terminate atomic.Bool

	watch *watcher.Watcher
	wake  chan struct{}
}

// New creates a supervisor for the given host session and artifact path.
// The loader runs once immediately to produce the initial embedded
// session; an error here is returned instead of retried, matching the rule
// that only edits after startup are expected to be iteratively wrong.
func New(host *session.Session, path string, loader Loader, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		host:     host,
		path:     path,
		loader:   loader,
		interval: DefaultCheckInterval,
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	s.content = content

	embedded, err := loader(nil)
	if err != nil {
		return nil, fmt.Errorf("initial build of %s: %w", path, err)
	}
	s.embedded = embedded
	s.updateContent()
	// Incremental pulls and new events go straight to the live embedded
	// session; the host only carries the merged static body.
	host.SetEventTarget(embedded)

	if !s.noWatch {
		w, err := watcher.New(path,
			watcher.WithOnChange(func() {
				select {
				case s.wake <- struct{}{}:
				default:
				}
			}),
			watcher.WithOnError(func(err error) {
				s.logger.Warn("artifact watch error", "path", path, "error", err)
			}),
		)
		if err == nil && w.Start() == nil {
			s.watch = w
		}
	}
	return s, nil
}

// Host returns the persistent host session.
func (s *Supervisor) Host() *session.Session { return s.host }

// Embedded returns the current embedded session.
func (s *Supervisor) Embedded() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedded
}

// Sick reports whether the last reload cycle failed.
func (s *Supervisor) Sick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sick
}

// Reloads returns how many reload cycles were executed.
func (s *Supervisor) Reloads() int64 { return s.reloads.Load() }

// Errors returns how many reload cycles failed.
func (s *Supervisor) Errors() int64 { return s.errors.Load() }

// Terminate asks the supervising loop to exit after the current tick; it
// never interrupts a merge in progress.
func (s *Supervisor) Terminate() { s.terminate.Store(true) }

// Run drives the supervising loop until the context is cancelled or
// Terminate is called. The termination flag is checked once per tick.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.watch != nil {
			s.watch.Stop()
		}
	}()
	for {
		if s.terminate.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		case <-s.wake:
		}
		s.Tick(time.Now())
	}
}

// Tick executes one supervision pass: forward buffered host events into
// the embedded session, process them, and re-execute the artifact when its
// content changed or the embedded session was marked invalid. Faults in
// the user logic are logged and flagged, never propagated.
func (s *Supervisor) Tick(now time.Time) {
	s.mu.Lock()
	embedded := s.embedded
	s.mu.Unlock()

	// Events raised while the page is being replaced must not be lost.
	for _, ev := range s.host.Queue().Drain() {
		embedded.PushEvent(ev)
	}
	if _, err := embedded.HandleEvents(now); err != nil {
		s.logger.Error("cell rebuild failed", "path", s.path, "error", err)
	}

	newContent, err := os.ReadFile(s.path)
	if err != nil {
		// Transient during editor save; the next tick re-reads.
		return
	}

	s.mu.Lock()
	unchanged := bytes.Equal(s.content, newContent) && !embedded.Invalid()
	if unchanged {
		s.mu.Unlock()
		return
	}
	s.content = newContent
	s.cacheBackup = embedded.Cache()
	wasSick := s.sick
	s.mu.Unlock()

	s.reloads.Add(1)
	start := time.Now()
	defer func() { metrics.ReloadCycle.Record(time.Since(start)) }()

	// Executing the artifact is the fallible part of the cycle; the error
	// value is the fault variant the loop recovers from.
	next, err := s.loader(s.cacheBackup)
	if err != nil {
		s.errors.Add(1)
		s.mu.Lock()
		s.sick = true
		s.mu.Unlock()
		s.logger.Error("artifact reload failed", "path", s.path, "error", err)
		fmt.Fprintln(os.Stderr, console.SickBanner(sickText))
		return
	}

	next.ResetInvalid()
	// Events the old session never got to process move over to the new one.
	for _, ev := range embedded.Queue().Drain() {
		next.PushEvent(ev)
	}
	s.mu.Lock()
	s.embedded = next
	s.sick = false
	s.mu.Unlock()

	s.updateContent()
	s.host.SetEventTarget(next)

	if wasSick {
		s.logger.Info("artifact recovered", "path", s.path)
		fmt.Fprintln(os.Stderr, console.HealthyBanner(healthyText))
	} else {
		s.logger.Debug("artifact reloaded",
			"path", s.path, "took", time.Since(start))
	}
}

// updateContent publishes the embedded session's rendered body into the
// host. The whole swap runs inside the host's atomic update bracket so a
// reader pulling the page mid-merge is served the previous snapshot.
func (s *Supervisor) updateContent() {
	s.mu.Lock()
	embedded := s.embedded
	s.mu.Unlock()

	embedded.Render()

	s.host.BeginUpdate()
	defer s.host.EndUpdate()
	s.host.Clear()
	s.host.Embed(embedded)
	s.host.Render()
}

// CacheBackup returns the cache captured before the last re-execution,
// for loaders that adopt it lazily.
func (s *Supervisor) CacheBackup() *cache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheBackup
}
