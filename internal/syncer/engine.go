// Package syncer reconciles the local task cache with the remote service:
// it pulls the authoritative task list and pushes queued intents.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gtodo/internal/cache"
	"gtodo/internal/pending"
	"gtodo/internal/remote"
	"gtodo/internal/retry"
)

// Defaults used when an Options field is zero.
const (
	DefaultCallTimeout  = 10 * time.Second
	DefaultPullInterval = time.Minute
	DefaultPushInterval = 30 * time.Second
	DefaultBatchSize    = 20

	noticeBuffer = 32
)

// Options configures an Engine.
type Options struct {
	Now          func() time.Time
	CallTimeout  time.Duration
	PullInterval time.Duration
	PushInterval time.Duration
	BatchSize    int

	// Policy spaces out retries of failed pulls. Push retries follow the
	// pending log's own policy.
	Policy retry.Policy

	Metrics *Metrics
	Logger  *log.Entry
}

// Engine runs pull and push rounds against a remote.Gateway.
//
// Merges into the store are serialized on mergeMu and push rounds on pushMu,
// so a pull and a push may overlap but two merges or two pushes never do.
type Engine struct {
	store   *cache.Store
	actions *pending.Log
	gw      remote.Gateway

	now          func() time.Time
	callTimeout  time.Duration
	pullInterval time.Duration
	pushInterval time.Duration
	batchSize    int
	policy       retry.Policy
	metrics      *Metrics
	logger       *log.Entry

	mergeMu sync.Mutex
	pushMu  sync.Mutex

	mu           sync.Mutex
	status       Status
	pulling      Phase
	pushing      bool
	pullFailures int

	kick    chan struct{}
	refresh chan struct{}
	notices chan Notice
}

// PushResult summarises one push round.
type PushResult struct {
	Attempted int
	Confirmed int
	Failed    int
	Rejected  int
	Exhausted int
}

// New returns an engine over store and actions.
func New(store *cache.Store, actions *pending.Log, gw remote.Gateway, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.PullInterval <= 0 {
		opts.PullInterval = DefaultPullInterval
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Policy.Base <= 0 && opts.Policy.Max <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Engine{
		store:        store,
		actions:      actions,
		gw:           gw,
		now:          opts.Now,
		callTimeout:  opts.CallTimeout,
		pullInterval: opts.PullInterval,
		pushInterval: opts.PushInterval,
		batchSize:    opts.BatchSize,
		policy:       opts.Policy,
		metrics:      opts.Metrics,
		logger:       opts.Logger.WithField("component", "syncer"),
		status:       Status{Connectivity: Offline},
		kick:         make(chan struct{}, 1),
		refresh:      make(chan struct{}, 1),
		notices:      make(chan Notice, noticeBuffer),
	}
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Notices delivers persistent failures for the UI. Notices are dropped when
// nobody drains the channel.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Kick wakes the push loop. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// RequestPull wakes the pull loop. It never blocks.
func (e *Engine) RequestPull() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := e.status
	switch {
	case e.pushing:
		st.Phase = PhasePushing
	default:
		st.Phase = e.pulling
	}
	e.mu.Unlock()

	st.Pending = e.actions.LiveCount()
	st.Failed = len(e.actions.Failures())
	return st
}

// Pull fetches the remote task list and merges it into the store. On failure
// the store is left untouched and the next pull is pushed back by the retry
// policy.
func (e *Engine) Pull(ctx context.Context) error {
	fetchStart := e.now()
	asOf := e.store.Revision()
	e.setPulling(PhaseFetching)
	defer e.setPulling(PhaseIdle)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	tasks, err := e.gw.FetchTasks(callCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			e.mu.Lock()
			if e.status.Connectivity == Syncing {
				e.status.Connectivity = Offline
			}
			e.mu.Unlock()
			return ctx.Err()
		}
		e.metrics.observePull("error", e.now().Sub(fetchStart))
		e.pullFailed(err)
		return fmt.Errorf("fetch tasks: %w", err)
	}

	e.setPulling(PhaseMerging)
	e.mergeMu.Lock()
	res, err := e.store.UpsertFromRemote(cache.RemoteBatch{
		Tasks:     tasks,
		AsOf:      asOf,
		Holds:     e.actions.Holds(fetchStart),
		FetchedAt: fetchStart,
	})
	e.mergeMu.Unlock()
	if err != nil {
		e.metrics.observePull("error", e.now().Sub(fetchStart))
		e.pullFailed(err)
		return fmt.Errorf("merge tasks: %w", err)
	}

	e.metrics.observePull("ok", e.now().Sub(fetchStart))
	e.metrics.addConflicts(res.Conflicts)
	e.metrics.setPending(e.actions.LiveCount())

	now := e.now()
	e.mu.Lock()
	e.pullFailures = 0
	e.status.LastPull = now
	e.status.NextPull = now.Add(e.pullInterval)
	e.status.Connectivity = Online
	e.status.LastError = ""
	e.mu.Unlock()

	e.logger.WithFields(log.Fields{
		"tasks":     len(tasks),
		"added":     res.Added,
		"updated":   res.Updated,
		"removed":   res.Removed,
		"conflicts": res.Conflicts,
	}).Debug("pull complete")
	return nil
}

func (e *Engine) pullFailed(err error) {
	now := e.now()
	e.mu.Lock()
	e.pullFailures++
	delay := e.policy.Delay(e.pullFailures)
	e.status.NextPull = now.Add(delay)
	e.status.LastError = err.Error()
	if remote.IsRejected(err) {
		e.status.Connectivity = Error
	} else {
		e.status.Connectivity = Offline
	}
	failures := e.pullFailures
	e.mu.Unlock()

	e.logger.WithError(err).WithFields(log.Fields{
		"failures": failures,
		"retry_in": delay.Round(time.Millisecond).String(),
	}).Warn("pull failed")
}

// PushPending runs one push round: it dequeues a batch from the pending log
// and issues the matching remote call for each action. Remote failures become
// log transitions; the returned error is reserved for local persistence
// failures and cancellation.
func (e *Engine) PushPending(ctx context.Context) (PushResult, error) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	var res PushResult
	batch, err := e.actions.NextBatch(e.batchSize)
	if err != nil {
		return res, fmt.Errorf("dequeue actions: %w", err)
	}
	if len(batch) == 0 {
		return res, nil
	}

	e.setPushing(true)
	defer e.setPushing(false)

	var errs []error
	for _, a := range batch {
		if ctx.Err() != nil {
			// Remaining actions stay in flight and are requeued on the next load.
			errs = append(errs, ctx.Err())
			break
		}
		res.Attempted++

		callErr := e.call(ctx, a)
		if callErr != nil && ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := e.resolve(a, callErr, &res); err != nil {
			errs = append(errs, err)
		}
	}

	now := e.now()
	e.mu.Lock()
	e.status.LastPush = now
	switch {
	case res.Failed > 0:
		if e.status.Connectivity != Error {
			e.status.Connectivity = Offline
		}
	case res.Confirmed > 0 && e.status.Connectivity == Offline && !e.status.LastPull.IsZero():
		e.status.Connectivity = Online
	}
	e.mu.Unlock()
	e.metrics.setPending(e.actions.LiveCount())

	e.logger.WithFields(log.Fields{
		"attempted": res.Attempted,
		"confirmed": res.Confirmed,
		"failed":    res.Failed,
		"rejected":  res.Rejected,
		"exhausted": res.Exhausted,
	}).Debug("push round complete")
	return res, errors.Join(errs...)
}

func (e *Engine) call(ctx context.Context, a pending.Action) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch a.Kind {
	case pending.KindComplete:
		return e.gw.CompleteTask(callCtx, a.TaskID, a.ActionID)
	case pending.KindUncomplete:
		return e.gw.UncompleteTask(callCtx, a.TaskID, a.ActionID)
	}
	return &remote.RejectedError{Op: string(a.Kind), Reason: remote.ReasonInvalid}
}

// resolve applies the outcome of one remote call to the log and the store.
func (e *Engine) resolve(a pending.Action, callErr error, res *PushResult) error {
	entry := e.logger.WithFields(log.Fields{"action": a.ActionID, "task": a.TaskID, "kind": a.Kind})

	switch {
	case callErr == nil || errors.Is(callErr, remote.ErrAlreadyInState):
		if err := e.actions.MarkConfirmed(a.ActionID); err != nil {
			if errors.Is(err, pending.ErrUnknownAction) {
				entry.Debug("ack for compacted action ignored")
				return nil
			}
			return err
		}
		res.Confirmed++
		e.metrics.incPush("confirmed")
		if _, live := e.actions.Live(a.TaskID); !live {
			e.setSyncState(a.TaskID, cache.SyncSynced)
		}
		entry.Debug("action confirmed")

	case remote.IsRejected(callErr):
		voided, err := e.actions.MarkVoid(a.ActionID, callErr)
		if err != nil {
			return err
		}
		res.Rejected++
		e.metrics.incPush("rejected")
		// A newer intent for the task will report its own outcome.
		if _, live := e.actions.Live(a.TaskID); !live {
			e.setSyncState(a.TaskID, cache.SyncFailed)
			e.notify(Notice{Kind: NoticeRejected, TaskID: a.TaskID, ActionID: voided.ActionID, Err: callErr, At: e.now()})
		}
		entry.WithError(callErr).Warn("action rejected by remote")

	default:
		failed, err := e.actions.MarkFailed(a.ActionID, callErr)
		if err != nil {
			return err
		}
		res.Failed++
		if failed.Exhausted {
			res.Exhausted++
			e.metrics.incPush("exhausted")
			e.setSyncState(a.TaskID, cache.SyncFailed)
			e.notify(Notice{Kind: NoticeExhausted, TaskID: a.TaskID, ActionID: a.ActionID, Err: callErr, At: e.now()})
			entry.WithError(callErr).WithField("attempts", failed.AttemptCount).Error("action exhausted its attempts")
			return nil
		}
		e.metrics.incPush("failed")
		entry.WithError(callErr).WithFields(log.Fields{
			"attempts": failed.AttemptCount,
			"next":     failed.NextAttemptAt.Format(time.RFC3339),
		}).Info("action failed, will retry")
	}
	return nil
}

func (e *Engine) setSyncState(taskID string, state cache.SyncState) {
	e.mergeMu.Lock()
	err := e.store.SetSyncState(taskID, state)
	e.mergeMu.Unlock()
	if err != nil && !errors.Is(err, cache.ErrUnknownTask) {
		e.logger.WithError(err).WithField("task", taskID).Warn("update sync marker")
	}
}

func (e *Engine) notify(n Notice) {
	select {
	case e.notices <- n:
	default:
		e.logger.WithField("task", n.TaskID).Warn("notice dropped, channel full")
	}
}

// Cycle runs one full reconciliation: pull, then push. A failed pull does not
// prevent the push.
func (e *Engine) Cycle(ctx context.Context) error {
	pullErr := e.Pull(ctx)
	_, pushErr := e.PushPending(ctx)
	return errors.Join(pullErr, pushErr)
}

// Run drives the pull and push loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pullLoop(ctx) })
	g.Go(func() error { return e.pushLoop(ctx) })
	return g.Wait()
}

func (e *Engine) pullLoop(ctx context.Context) error {
	for {
		_ = e.Pull(ctx)

		timer := time.NewTimer(e.untilNextPull())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-e.refresh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Engine) pushLoop(ctx context.Context) error {
	for {
		wait := e.pushInterval
		if _, err := e.PushPending(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.WithError(err).Error("push round failed")
		} else if at, ok := e.actions.NextWake(); ok {
			wait = min(wait, max(at.Sub(e.now()), 0))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-e.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Engine) untilNextPull() time.Duration {
	e.mu.Lock()
	next := e.status.NextPull
	e.mu.Unlock()
	if next.IsZero() {
		return e.pullInterval
	}
	return max(next.Sub(e.now()), 0)
}

func (e *Engine) setPulling(p Phase) {
	e.mu.Lock()
	e.pulling = p
	if p == PhaseFetching && e.status.Connectivity != Error {
		e.status.Connectivity = Syncing
	}
	e.mu.Unlock()
}

func (e *Engine) setPushing(on bool) {
	e.mu.Lock()
	e.pushing = on
	e.mu.Unlock()
}
