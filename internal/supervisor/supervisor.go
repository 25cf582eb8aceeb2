// Package supervisor drives one tail reader per watched file on a shared
// schedule and hands every complete line to a callback.
//
// Each file has its own worker goroutine fed by a one-slot wake-up channel.
// Ticks, fsnotify events and read-limit continuations all send into that
// channel without blocking, so there is at most one poll in flight per file
// and a slow file only ever skips its own ticks.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Hasintha01/logwatcher/internal/metrics"
	"github.com/Hasintha01/logwatcher/internal/tailer"
	"github.com/Hasintha01/logwatcher/internal/watcher"
)

const (
	defaultPollInterval        = time.Second
	defaultErrorReportInterval = time.Minute
	defaultCheckpointInterval  = 5 * time.Second
)

// Config controls scheduling. Zero durations take defaults; a zero
// RescanInterval disables periodic glob re-expansion.
type Config struct {
	Patterns            []string
	PollInterval        time.Duration
	RescanInterval      time.Duration
	ErrorReportInterval time.Duration
	CheckpointInterval  time.Duration
	Policy              tailer.Policy
	UseFSNotify         bool
}

// LineFunc receives each complete line with the path it came from. It is
// called from per-file goroutines and must be safe for concurrent use.
type LineFunc func(source, line string)

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithCheckpoint enables best-effort resumption across restarts.
func WithCheckpoint(c *tailer.Checkpoint) Option {
	return func(s *Supervisor) { s.ckpt = c }
}

// FileStatus is a point-in-time view of one watched file.
type FileStatus struct {
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Identity  string    `json:"identity,omitempty"`
	Offset    int64     `json:"offset"`
	Lines     uint64    `json:"lines"`
	LastError string    `json:"last_error,omitempty"`
	LastPoll  time.Time `json:"last_poll"`
}

type worker struct {
	path   string
	reader *tailer.Reader
	wake   chan struct{}

	mu         sync.Mutex
	status     FileStatus
	failing    bool
	failures   int
	lastReport time.Time
}

func (w *worker) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Supervisor owns every watched file's state. Create with New, start with Run.
type Supervisor struct {
	cfg     Config
	onLine  LineFunc
	log     *slog.Logger
	metrics *metrics.Metrics
	ckpt    *tailer.Checkpoint
	watcher *watcher.Watcher

	mu      sync.RWMutex
	workers map[string]*worker
	order   []string
	group   *errgroup.Group
	ctx     context.Context
}

// New creates a Supervisor. onLine must not be nil.
func New(cfg Config, onLine LineFunc, opts ...Option) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorReportInterval <= 0 {
		cfg.ErrorReportInterval = defaultErrorReportInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.Policy == (tailer.Policy{}) {
		cfg.Policy = tailer.DefaultPolicy()
	}

	s := &Supervisor{
		cfg:     cfg,
		onLine:  onLine,
		log:     slog.Default(),
		workers: make(map[string]*worker),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run watches until ctx is cancelled, then closes every file, saves the
// checkpoint and returns. Per-file failures never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.group, s.ctx = g, gctx
	s.mu.Unlock()

	if s.cfg.UseFSNotify {
		w, err := watcher.New(s.log)
		if err != nil {
			s.log.Warn("file notifications unavailable, polling only", slog.Any("error", err))
		} else {
			s.watcher = w
			s.watchGlobDirs()
			g.Go(func() error {
				w.Start(gctx)
				return nil
			})
			g.Go(func() error {
				s.forwardEvents(w.Events)
				return nil
			})
		}
	}

	s.rescan()
	if s.FileCount() == 0 {
		s.log.Warn("no files matched yet", slog.Any("patterns", s.cfg.Patterns))
	}

	g.Go(func() error {
		s.schedule(gctx)
		return nil
	})

	err := g.Wait()
	s.saveCheckpoint()
	s.log.Info("supervisor stopped", slog.Int("files", s.FileCount()))
	return err
}

// schedule is the single clock of the supervisor.
func (s *Supervisor) schedule(ctx context.Context) {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	save := time.NewTicker(s.cfg.CheckpointInterval)
	defer save.Stop()

	var rescan <-chan time.Time
	if s.cfg.RescanInterval > 0 && s.hasGlobs() {
		t := time.NewTicker(s.cfg.RescanInterval)
		defer t.Stop()
		rescan = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.nudgeAll()
		case <-rescan:
			s.rescan()
		case <-save.C:
			s.saveCheckpoint()
		}
	}
}

func (s *Supervisor) forwardEvents(events <-chan watcher.Event) {
	for ev := range events {
		s.mu.RLock()
		w := s.workers[ev.Path]
		s.mu.RUnlock()

		switch {
		case w != nil:
			w.nudge()
		case s.hasGlobs():
			s.rescan()
		}
	}
}

func (s *Supervisor) nudgeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		w.nudge()
	}
}

// rescan expands the patterns and starts a worker for every new path.
func (s *Supervisor) rescan() {
	paths, err := watcher.Expand(s.cfg.Patterns)
	if err != nil {
		s.log.Warn("pattern expansion failed", slog.Any("error", err))
	}
	for _, p := range paths {
		s.add(p)
	}
}

func (s *Supervisor) add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[path]; ok || s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	w := &worker{
		path:   path,
		reader: tailer.NewReader(path, s.cfg.Policy, s.ckpt),
		wake:   make(chan struct{}, 1),
		status: FileStatus{Path: path, State: tailer.StateUnopened.String()},
	}
	s.workers[path] = w
	s.order = append(s.order, path)

	if s.watcher != nil {
		if err := s.watcher.Watch(path); err != nil {
			s.log.Debug("cannot watch directory, polling only",
				slog.String("path", path), slog.Any("error", err))
		}
	}

	s.log.Info("watching file", slog.String("path", path))
	ctx := s.ctx
	s.group.Go(func() error {
		s.runWorker(ctx, w)
		return nil
	})
	w.nudge()
}

func (s *Supervisor) runWorker(ctx context.Context, w *worker) {
	defer func() {
		if err := w.reader.Close(); err != nil {
			s.log.Warn("close failed", slog.String("path", w.path), slog.Any("error", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			if s.pollOnce(w) {
				w.nudge()
			}
		}
	}
}

// pollOnce runs one poll and reports whether more data is already waiting.
// A panic is contained to this file and this tick.
func (s *Supervisor) pollOnce(w *worker) (more bool) {
	defer func() {
		if r := recover(); r != nil {
			s.recordError(w, fmt.Errorf("supervisor: panic polling %s: %v", w.path, r))
			more = false
		}
	}()

	res, err := w.reader.Poll()

	w.mu.Lock()
	w.status.State = w.reader.State().String()
	if id := w.reader.Identity(); !id.IsZero() {
		w.status.Identity = id.String()
	}
	w.status.Offset = w.reader.Offset()
	w.status.Lines += uint64(len(res.Lines))
	w.status.LastPoll = time.Now()
	w.mu.Unlock()

	for _, ev := range res.Events {
		s.logEvent(w.path, ev)
	}
	s.metrics.LinesRead(w.path, len(res.Lines))
	for _, line := range res.Lines {
		s.onLine(w.path, line)
	}

	if err != nil {
		s.recordError(w, err)
	} else {
		s.recordOK(w)
	}
	return res.More
}

// recordError logs the first failure of a streak and then at most once per
// ErrorReportInterval.
func (s *Supervisor) recordError(w *worker, err error) {
	s.metrics.PollFailed(w.path)

	now := time.Now()
	w.mu.Lock()
	w.status.LastError = err.Error()
	w.failures++
	report := !w.failing || now.Sub(w.lastReport) >= s.cfg.ErrorReportInterval
	w.failing = true
	failures := w.failures
	if report {
		w.lastReport = now
	}
	w.mu.Unlock()

	if report {
		s.log.Warn("poll failed",
			slog.String("path", w.path),
			slog.Int("consecutive_failures", failures),
			slog.Any("error", err),
		)
	}
}

func (s *Supervisor) recordOK(w *worker) {
	w.mu.Lock()
	wasFailing, failures := w.failing, w.failures
	w.failing, w.failures = false, 0
	w.status.LastError = ""
	w.mu.Unlock()

	if wasFailing {
		s.log.Info("poll recovered", slog.String("path", w.path), slog.Int("failures", failures))
	}
}

func (s *Supervisor) logEvent(path string, ev tailer.Event) {
	p := slog.String("path", path)
	switch ev.Kind {
	case tailer.EventWaiting:
		s.log.Info("waiting for file to appear", p)
	case tailer.EventOpened:
		s.log.Info("opened file", p, slog.Int64("offset", ev.Offset))
	case tailer.EventResumed:
		s.log.Info("resumed from checkpoint", p, slog.Int64("offset", ev.Offset))
	case tailer.EventReopened:
		s.log.Info("file reappeared", p, slog.Int64("offset", ev.Offset))
	case tailer.EventRotated:
		s.metrics.Rotated(path)
		s.log.Info("rotation detected",
			p,
			slog.String("old", ev.Old.String()),
			slog.String("new", ev.New.String()),
			slog.Int("drained_lines", ev.Drained),
			slog.Int64("offset", ev.Offset),
		)
	case tailer.EventTruncated:
		s.metrics.Truncated(path)
		s.log.Info("truncation detected", p, slog.Int64("prev_offset", ev.PrevOffset))
	case tailer.EventVanished:
		s.log.Warn("file disappeared, waiting for it to reappear", p, slog.Int("drained_lines", ev.Drained))
	}
}

func (s *Supervisor) watchGlobDirs() {
	for _, p := range s.cfg.Patterns {
		if !watcher.HasMeta(p) {
			continue
		}
		if err := s.watcher.WatchDir(watcher.BaseDir(p)); err != nil {
			s.log.Debug("cannot watch pattern base", slog.String("pattern", p), slog.Any("error", err))
		}
	}
}

func (s *Supervisor) hasGlobs() bool {
	for _, p := range s.cfg.Patterns {
		if watcher.HasMeta(p) {
			return true
		}
	}
	return false
}

func (s *Supervisor) saveCheckpoint() {
	if s.ckpt == nil {
		return
	}
	if err := s.ckpt.Save(); err != nil {
		s.log.Warn("checkpoint save failed", slog.Any("error", err))
	}
}

// Status returns the state of every watched file in discovery order.
func (s *Supervisor) Status() []FileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FileStatus, 0, len(s.order))
	for _, p := range s.order {
		w := s.workers[p]
		w.mu.Lock()
		out = append(out, w.status)
		w.mu.Unlock()
	}
	return out
}

// FileCount returns the number of watched files.
func (s *Supervisor) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// OpenCount returns the number of files currently held open.
func (s *Supervisor) OpenCount() int {
	n := 0
	for _, st := range s.Status() {
		if st.State == tailer.StateOpen.String() {
			n++
		}
	}
	return n
}
