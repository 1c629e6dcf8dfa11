package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "boardbot/pkg/logx"
)

// Job is one scheduled run. ctx is cancelled when the service stops.
type Job func(ctx context.Context) error

type entry struct {
	name  string
	spec  string
	job   Job
	id    cron.EntryID
	added bool
}

// Service is a cron trigger service. Jobs added before Start are registered on Start.
type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	tz      string
	loc     *time.Location
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tz:      strings.TrimSpace(timezone),
		entries: map[string]*entry{},
	}
}

// Add registers job under name, replacing an existing job with the same name.
// schedule accepts every form ParseSchedule does.
func (s *Service) Add(name, schedule string, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	return s.AddCron(name, ps.CronSpec(), job)
}

func (s *Service) AddCron(name, spec string, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, spec: spec, job: job}
	s.entries[name] = e
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			return err
		}
	}
	s.log.Debug("schedule added", logx.String("name", name), logx.String("spec", spec))
	return nil
}

func (s *Service) AddInterval(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.AddCron(name, "@every "+every.String(), job)
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if e.added && s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

// Names lists registered job names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Next returns the next trigger time of name (zero if unknown or not started).
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok || !e.added || s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(e.id).Next
}

func (s *Service) registerLocked(e *entry) error {
	name, job := e.name, e.job
	id, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Debug("job done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	e.id, e.added = id, true
	return nil
}

func (s *Service) location() *time.Location {
	if s.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", s.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.location()
	s.ctx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop stops triggering and waits (bounded by ctx) for running jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, e := range s.entries {
		e.added = false
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
