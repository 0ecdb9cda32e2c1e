// Package scheduler drives a crawl run: it pulls keys from the enumerator,
// dispatches probes through politeness lanes and records every outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/enumerator"
	"github.com/JakeFAU/competition-discovery/internal/probe"
	"github.com/JakeFAU/competition-discovery/internal/progress"
	"github.com/JakeFAU/competition-discovery/internal/session"
)

// ConfirmedHook runs after a probe this session wrote as ConfirmedExists.
// Errors are logged; they never fail the probe.
type ConfirmedHook interface {
	OnConfirmed(ctx context.Context, entry discovery.CacheEntry, res discovery.ProbeResult) error
}

// Config tunes one run.
type Config struct {
	Label      string
	Credential string
	// ProbeTimeout bounds each probe, including one still in flight after
	// the run is cancelled.
	ProbeTimeout time.Duration
	// MaxStorageErrors consecutive storage failures abort the run.
	MaxStorageErrors int
	// AbandonAfter reaps running sessions silent for longer; 0 disables.
	AbandonAfter time.Duration
	// MaxAttempts caps the stored attempt_count up to which a TransientError
	// key is requeued within the run; 0 disables in-run retries.
	MaxAttempts int
}

// Deps are the collaborators a Scheduler needs.
type Deps struct {
	Cache      discovery.Cache
	Prober     discovery.Prober
	Classifier discovery.Classifier
	Rules      probe.Rules
	Pacer      *probe.Pacer
	Tracker    *session.Tracker
	Clock      discovery.Clock
	Progress   progress.Emitter
	OnConfirm  ConfirmedHook
	Logger     *zap.Logger
}

// Result summarises a finished run.
type Result struct {
	Session discovery.CrawlSession
	State   discovery.SessionState
	Emitted int
	Skipped int
	// Retried counts TransientError keys probed again within this run.
	Retried int
	// Err is the cause of a non-completed state.
	Err error
}

// Scheduler is the single coordinating loop of a run.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates deps and returns a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case deps.Cache == nil:
		return nil, errors.New("cache is required")
	case deps.Prober == nil:
		return nil, errors.New("prober is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Pacer == nil:
		return nil, errors.New("pacer is required")
	case deps.Tracker == nil:
		return nil, errors.New("session tracker is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.MaxStorageErrors <= 0 {
		cfg.MaxStorageErrors = 3
	}
	return &Scheduler{cfg: cfg, deps: deps, log: deps.Logger.Named("scheduler")}, nil
}

// errStorageAbort marks a run stopped by repeated storage failures.
var errStorageAbort = errors.New("too many consecutive storage failures")

// run holds per-run state shared with probe goroutines.
type run struct {
	sessionID     string
	abort         context.CancelCauseFunc
	stopped       <-chan struct{}
	storageStreak atomic.Int64

	mu       sync.Mutex
	retries  []retry
	inflight int
	wake     chan struct{}

	// Owned by the coordinating loop.
	exhausted bool
	retried   int
}

type retry struct {
	cand enumerator.Candidate
	due  time.Time
}

func (r *run) started() {
	r.mu.Lock()
	r.inflight++
	r.mu.Unlock()
}

func (r *run) finished() {
	r.mu.Lock()
	r.inflight--
	r.mu.Unlock()
	r.signal()
}

func (r *run) requeue(cand enumerator.Candidate, due time.Time) {
	r.mu.Lock()
	r.retries = append(r.retries, retry{cand: cand, due: due})
	r.mu.Unlock()
	r.signal()
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// popDue removes the first retry due at now. Otherwise it returns the
// earliest pending due time (zero when none) and whether probes are in flight.
func (r *run) popDue(now time.Time) (enumerator.Candidate, bool, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var earliest time.Time
	for i, rt := range r.retries {
		if !rt.due.After(now) {
			r.retries = append(r.retries[:i], r.retries[i+1:]...)
			return rt.cand, true, time.Time{}, r.inflight > 0
		}
		if earliest.IsZero() || rt.due.Before(earliest) {
			earliest = rt.due
		}
	}
	return enumerator.Candidate{}, false, earliest, r.inflight > 0
}

func (r *run) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

// Run executes one crawl over stream. A non-nil error means the session
// could not be created or closed; run-level failures are reported through
// Result.State and Result.Err.
func (s *Scheduler) Run(ctx context.Context, stream *enumerator.Stream) (Result, error) {
	if _, err := s.deps.Tracker.ReapAbandoned(ctx, s.cfg.AbandonAfter); err != nil {
		return Result{}, err
	}

	sess, err := s.deps.Tracker.Start(ctx, s.cfg.Label)
	if err != nil {
		return Result{}, err
	}
	started := s.deps.Clock.Now()
	s.deps.Progress.Emit(progress.Event{SessionID: sess.ID, TS: started, Stage: progress.StageRunStart})

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	r := &run{sessionID: sess.ID, abort: abort, stopped: runCtx.Done(), wake: make(chan struct{}, 1)}

	var wg sync.WaitGroup
	for {
		if runCtx.Err() != nil {
			break
		}
		cand, ok, err := s.next(runCtx, r, stream)
		if err != nil {
			if runCtx.Err() == nil {
				abort(discovery.NewStorageError("enumerate", err))
			}
			break
		}
		if !ok {
			break
		}
		lane, err := s.deps.Pacer.Acquire(runCtx)
		if err != nil {
			break
		}
		if runCtx.Err() != nil {
			s.deps.Pacer.Release(lane)
			break
		}
		if err := s.deps.Pacer.Wait(runCtx, lane); err != nil {
			s.deps.Pacer.Release(lane)
			break
		}
		r.started()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.finished()
			s.probeOne(context.WithoutCancel(ctx), r, lane, cand)
		}()
	}
	wg.Wait()

	state, cause := s.finalState(ctx, runCtx)
	closeCtx := context.WithoutCancel(ctx)
	if err := s.deps.Tracker.Complete(closeCtx, sess.ID, state, cause); err != nil {
		return Result{State: state, Err: cause}, err
	}
	final, err := s.deps.Tracker.Get(closeCtx, sess.ID)
	if err != nil {
		return Result{State: state, Err: cause}, err
	}

	stage := progress.StageRunDone
	note := ""
	if cause != nil {
		stage = progress.StageRunError
		note = cause.Error()
	}
	s.deps.Progress.Emit(progress.Event{
		SessionID: sess.ID,
		TS:        s.deps.Clock.Now(),
		Stage:     stage,
		State:     state,
		Dur:       s.deps.Clock.Now().Sub(started),
		Note:      note,
	})
	s.log.Info("run finished",
		zap.String("session_id", sess.ID),
		zap.String("state", string(state)),
		zap.Int64("tested", final.Tested),
		zap.Int64("confirmed_exist", final.ConfirmedExist),
		zap.Int64("confirmed_absent", final.ConfirmedAbsent),
		zap.Int64("errored", final.Errored),
		zap.Int("skipped", stream.Skipped()),
		zap.Int("retried", r.retried),
	)
	return Result{
		Session: final,
		State:   state,
		Emitted: stream.Emitted(),
		Skipped: stream.Skipped(),
		Retried: r.retried,
		Err:     cause,
	}, nil
}

// next returns the next key to probe: a due retry first, then the
// enumerator. Once the enumerator is exhausted it waits for in-flight probes
// and pending retries, and reports false when neither remains.
func (s *Scheduler) next(ctx context.Context, r *run, stream *enumerator.Stream) (enumerator.Candidate, bool, error) {
	for {
		now := s.deps.Clock.Now()
		cand, ok, earliest, busy := r.popDue(now)
		if ok {
			r.retried++
			return cand, true, nil
		}
		if !r.exhausted {
			cand, ok, err := stream.Next(ctx)
			if err != nil || ok {
				return cand, ok, err
			}
			r.exhausted = true
			continue
		}
		if !busy && earliest.IsZero() {
			return enumerator.Candidate{}, false, nil
		}

		if !s.await(ctx, r, earliest.Sub(now), !earliest.IsZero()) {
			return enumerator.Candidate{}, false, nil
		}
	}
}

// await blocks until a probe finishes, the optional delay elapses or ctx is
// done. It returns false only for the latter.
func (s *Scheduler) await(ctx context.Context, r *run, delay time.Duration, timed bool) bool {
	var timeout <-chan time.Time
	if timed {
		t := time.NewTimer(delay)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.wake:
	case <-timeout:
	}
	return true
}

func (s *Scheduler) finalState(parent, runCtx context.Context) (discovery.SessionState, error) {
	cause := context.Cause(runCtx)
	switch {
	case cause == nil:
		return discovery.SessionCompleted, nil
	case discovery.IsAuth(cause):
		return discovery.SessionAuthFailed, cause
	case errors.Is(cause, errStorageAbort) || discovery.IsStorage(cause):
		return discovery.SessionStorageFailed, cause
	case parent.Err() != nil:
		return discovery.SessionCancelled, parent.Err()
	default:
		return discovery.SessionCompleted, nil
	}
}

// probeOne runs on a context detached from run cancellation so an in-flight
// probe always finishes and is recorded.
func (s *Scheduler) probeOne(ctx context.Context, r *run, lane *probe.Lane, cand enumerator.Candidate) {
	defer s.deps.Pacer.Release(lane)
	log := s.log.With(zap.String("key", cand.Key.String()), zap.Int("lane", lane.ID))

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	res, probeErr := s.deps.Prober.Probe(probeCtx, discovery.ProbeRequest{Key: cand.Key, Credential: s.cfg.Credential})
	cancel()

	verdict, err := s.deps.Rules.Resolve(res, probeErr, s.deps.Classifier)
	if err != nil {
		// Rejected credential: nothing is written for this key.
		s.deps.Pacer.Done(lane, discovery.StatusUnresolved)
		log.Error("credential rejected, aborting run", zap.Error(err))
		r.abort(err)
		return
	}
	s.deps.Pacer.Done(lane, verdict.Status)
	if probeErr != nil {
		log.Debug("probe transport failure", zap.Error(probeErr))
	}

	counted := verdict.Status
	obs := discovery.Observation{
		Key:       cand.Key,
		Status:    verdict.Status,
		Metadata:  verdict.Metadata,
		CheckedAt: s.deps.Clock.Now(),
		SessionID: r.sessionID,
	}
	entry, err := s.deps.Cache.Upsert(ctx, obs)
	if err != nil {
		counted = discovery.StatusTransientError
		s.storageFailure(r, log, err)
	} else {
		r.storageStreak.Store(0)
	}

	if err := s.deps.Tracker.RecordOutcome(ctx, r.sessionID, counted); err != nil {
		s.storageFailure(r, log, err)
	}

	if err == nil && s.retryable(r, entry) {
		due := s.deps.Clock.Now().Add(s.deps.Pacer.RetryDelay(entry.AttemptCount))
		r.requeue(cand, due)
		log.Debug("requeued transient key", zap.Int("attempt_count", entry.AttemptCount), zap.Time("due", due))
	}

	if err == nil && verdict.Status == discovery.StatusConfirmedExists &&
		entry.Status == discovery.StatusConfirmedExists && entry.SessionID == r.sessionID && s.deps.OnConfirm != nil {
		if hookErr := s.deps.OnConfirm.OnConfirmed(ctx, entry, res); hookErr != nil {
			log.Warn("confirmed hook failed", zap.Error(hookErr))
		}
	}

	s.deps.Progress.Emit(progress.Event{
		SessionID:  r.sessionID,
		TS:         s.deps.Clock.Now(),
		Stage:      progress.StageProbeDone,
		Key:        cand.Key.String(),
		District:   cand.Key.District,
		Status:     counted,
		HTTPStatus: res.StatusCode,
		Bytes:      int64(len(res.Body)),
		Dur:        res.Elapsed,
		Note:       noteFor(verdict, probeErr),
	})
	log.Debug("probe recorded", zap.String("status", string(counted)), zap.Int("http_status", res.StatusCode))
}

func (s *Scheduler) retryable(r *run, entry discovery.CacheEntry) bool {
	return entry.Status == discovery.StatusTransientError &&
		s.cfg.MaxAttempts > 0 && entry.AttemptCount < s.cfg.MaxAttempts &&
		!r.isStopped()
}

func (s *Scheduler) storageFailure(r *run, log *zap.Logger, err error) {
	streak := r.storageStreak.Add(1)
	log.Warn("storage failure", zap.Error(err), zap.Int64("consecutive", streak))
	if streak >= int64(s.cfg.MaxStorageErrors) {
		r.abort(fmt.Errorf("%w (%d): %w", errStorageAbort, streak, err))
	}
}

func noteFor(v discovery.Verdict, probeErr error) string {
	if probeErr != nil {
		return probeErr.Error()
	}
	if len(v.Signals) > 0 {
		return v.Signals[0]
	}
	return ""
}
