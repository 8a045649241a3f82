// Package scheduler runs periodic jobs one at a time.
//
// Jobs never overlap: the scheduler picks the job due soonest, runs it to
// completion, and only then computes that job's next run from the
// completion time. A job that returns an error or panics is retried after
// the backoff instead of waiting for its trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// DefaultBackoff is the retry delay after a failed run.
const DefaultBackoff = 60 * time.Second

// Trigger computes when a job runs next.
type Trigger interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

type every time.Duration

// Every fires at a fixed interval after the previous completion.
func Every(d time.Duration) Trigger {
	return every(d)
}

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func (e every) String() string {
	return "every " + time.Duration(e).String()
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt fires once a day at hour:minute in loc. A nil loc means
// time.Local.
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.Local
	}
	return daily{hour: hour, minute: minute, loc: loc}
}

func (d daily) Next(t time.Time) time.Time {
	t = t.In(d.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.hour, d.minute)
}

// Job is a unit of scheduled work.
type Job struct {
	Name    string
	Trigger Trigger

	// Immediate runs the job as soon as the scheduler starts.
	Immediate bool

	Run func(ctx context.Context) error
}

// ErrPanic wraps a recovered panic from a job.
var ErrPanic = errors.New("job panicked")

// Options configures a Scheduler.
type Options struct {
	// Backoff is the delay before retrying a failed job. Zero uses
	// DefaultBackoff.
	Backoff time.Duration

	Logger *logging.Logger

	// OnComplete, if set, is called after every run with the job name, the
	// completion time and the run's error.
	OnComplete func(name string, at time.Time, err error)

	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	job  Job
	next time.Time
}

// Scheduler runs jobs sequentially in the calling goroutine.
type Scheduler struct {
	opts    Options
	log     *logging.Logger
	entries []*entry
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{opts: opts, log: log}
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("job name cannot be empty")
	}
	if job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("job %s requires a trigger and a run function", job.Name)
	}
	for _, e := range s.entries {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.entries = append(s.entries, &entry{job: job})
	return nil
}

// Run executes jobs until ctx is cancelled. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		return errors.New("no jobs registered")
	}

	start := s.opts.Now()
	for _, e := range s.entries {
		if e.job.Immediate {
			e.next = start
		} else {
			e.next = e.job.Trigger.Next(start)
		}
		s.log.Info("scheduled job", "job", e.job.Name, "trigger", e.job.Trigger.String(), "next", e.next.Format(time.RFC3339))
	}

	for {
		e := s.due()
		wait := e.next.Sub(s.opts.Now())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOne(ctx, e.job)
		done := s.opts.Now()
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(e.job.Name, done, err)
		}

		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			e.next = done.Add(s.opts.Backoff)
			s.log.Error("job failed, retrying after backoff", "job", e.job.Name, "error", err, "backoff", s.opts.Backoff)
		default:
			e.next = e.job.Trigger.Next(done)
			s.log.Debug("job complete", "job", e.job.Name, "next", e.next.Format(time.RFC3339))
		}
	}
}

// due returns the entry with the earliest next run, first registered wins
// ties.
func (s *Scheduler) due() *entry {
	best := s.entries[0]
	for _, e := range s.entries[1:] {
		if e.next.Before(best.next) {
			best = e
		}
	}
	return best
}

func (s *Scheduler) runOne(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", ErrPanic, job.Name, r)
		}
	}()

	s.log.Debug("running job", "job", job.Name)
	return job.Run(ctx)
}
