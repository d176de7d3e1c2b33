package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RuleReport is the outcome of one rule in one sweep.
type RuleReport struct {
	Rule   string
	Raised int
	Err    error
}

type SweepReport struct {
	// Skipped is true when another sweep was still running.
	Skipped bool
	Rules   []RuleReport
}

// Raised is the total number of alerts raised across rules.
func (r SweepReport) Raised() int {
	n := 0
	for _, rr := range r.Rules {
		n += rr.Raised
	}
	return n
}

// Sweeper runs the detector rules on a ticker. It owns the guard that
// keeps sweeps from overlapping, so a tick that finds one still running
// is skipped. The guard is per process; running several instances against
// one store would need a distributed lock.
type Sweeper struct {
	source   RuleSource
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// RuleSource supplies the rules of one sweep. *Detector implements it.
type RuleSource interface {
	Rules() []Rule
}

func NewSweeper(src RuleSource, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		source:   src,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs a sweep immediately, then one per interval, until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Info("alert sweeper started", "interval", s.interval)
}

// Stop signals the loop to exit and waits for it. A sweep in progress
// finishes first.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	// A sweep runs to completion once started.
	rep := s.SweepOnce(context.WithoutCancel(ctx))
	if rep.Skipped {
		return
	}
	if n := rep.Raised(); n > 0 {
		s.logger.Info("alert sweep finished", "raised", n)
	}
}

// SweepOnce runs every rule once. A rule that errors or panics is logged
// and recorded in its RuleReport; the remaining rules still run.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepReport {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("alert sweep skipped: previous sweep still running")
		return SweepReport{Skipped: true}
	}
	defer s.running.Store(false)

	rules := s.source.Rules()
	rep := SweepReport{Rules: make([]RuleReport, 0, len(rules))}
	for _, r := range rules {
		rr := s.runRule(ctx, r)
		if rr.Err != nil {
			s.logger.Error("alert rule failed", "rule", r.Name, "err", rr.Err)
		}
		rep.Rules = append(rep.Rules, rr)
	}
	return rep
}

func (s *Sweeper) runRule(ctx context.Context, r Rule) (rr RuleReport) {
	rr.Rule = r.Name
	defer func() {
		if p := recover(); p != nil {
			rr.Err = fmt.Errorf("rule %s panicked: %v", r.Name, p)
		}
	}()
	raised, err := r.Run(ctx)
	rr.Raised = len(raised)
	rr.Err = err
	return rr
}
