package offline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/metrics"
)

// ErrSyncInProgress is returned when a pass is requested while another
// one is running.
var ErrSyncInProgress = errors.New("offline: sync already running")

// Report summarises one sync pass.
type Report struct {
	Submitted  int  `json:"submitted"`
	Synced     int  `json:"synced"`
	Accepted   int  `json:"accepted"`
	Failed     int  `json:"failed"`
	Superseded int  `json:"superseded"`
	Reset      int  `json:"reset,omitempty"`
	Aborted    bool `json:"aborted"` // stopped early because the server went away
}

// Engine drains the queue one entry at a time.
type Engine struct {
	queue    *Queue
	submit   Submitter
	delay    time.Duration
	grace    time.Duration
	retryCap int

	running sync.Mutex
	sleep   func(ctx context.Context, d time.Duration) bool
	later   func(d time.Duration, fn func())
}

func NewEngine(q *Queue, s Submitter, cfg config.ScannerConfig) *Engine {
	return &Engine{
		queue:    q,
		submit:   s,
		delay:    cfg.SubmitDelay,
		grace:    cfg.SyncedGrace,
		retryCap: cfg.RetryCap,
		sleep:    sleep,
		later:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// dedupe keeps the earliest entry per ticket.  Entries without a ticket
// id are always kept.  The input must be ordered oldest first.
func dedupe(entries []QueuedScan) (keep, superseded []QueuedScan) {
	seen := map[string]bool{}
	for _, e := range entries {
		if e.TicketID == "" {
			keep = append(keep, e)
			continue
		}
		if seen[e.TicketID] {
			superseded = append(superseded, e)
			continue
		}
		seen[e.TicketID] = true
		keep = append(keep, e)
	}
	return keep, superseded
}

// Sync runs one pass over the pending entries.  Submissions are strictly
// sequential.  A network failure marks the entry failed and ends the
// pass, leaving the rest pending for the next one.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer e.running.Unlock()
	return e.pass(ctx)
}

func (e *Engine) pass(ctx context.Context) (Report, error) {
	var rep Report
	pending, err := e.queue.List(ctx, StatusPending)
	if err != nil {
		return rep, err
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Timestamp.Before(pending[j].Timestamp) })
	keep, superseded := dedupe(pending)
	if len(superseded) > 0 {
		ids := make([]string, len(superseded))
		for i, s := range superseded {
			ids[i] = s.ID
		}
		if err := e.queue.Remove(ctx, ids...); err != nil {
			return rep, err
		}
		rep.Superseded = len(superseded)
		metrics.SyncOutcome("superseded")
	}

	for i, entry := range keep {
		if i > 0 && !e.sleep(ctx, e.delay) {
			rep.Aborted = true
			break
		}
		if err := e.queue.MarkProcessing(ctx, entry.ID); err != nil {
			return rep, err
		}
		rep.Submitted++
		ts := entry.Timestamp
		res, err := e.submit.Submit(ctx, Submission{
			Credential: entry.Credential,
			ScannerID:  entry.ScannerID,
			Location:   entry.Location,
			ScannedAt:  &ts,
		})
		if err != nil {
			rep.Failed++
			metrics.SyncOutcome("failed")
			logrus.WithError(err).WithField("entry_id", entry.ID).Warn("sync: submission failed")
			if merr := e.queue.MarkFailed(ctx, entry.ID, err.Error()); merr != nil {
				return rep, merr
			}
			if errors.Is(err, ErrNetwork) {
				rep.Aborted = true
				break
			}
			continue
		}
		if err := e.queue.MarkSynced(ctx, entry.ID); err != nil {
			return rep, err
		}
		rep.Synced++
		if res.Accepted {
			rep.Accepted++
			metrics.SyncOutcome("accepted")
		} else {
			metrics.SyncOutcome("rejected")
		}
		logrus.WithFields(logrus.Fields{
			"entry_id":  entry.ID,
			"ticket_id": res.TicketID,
			"accepted":  res.Accepted,
			"reason":    res.Reason,
		}).Info("sync: entry submitted")
		e.scheduleRemoval(entry.ID)
	}
	e.reportDepth(ctx)
	return rep, nil
}

// scheduleRemoval deletes a synced entry once it has been visible for the
// grace period.  Entries missed by a restart are caught by Prune.
func (e *Engine) scheduleRemoval(id string) {
	e.later(e.grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.queue.Remove(ctx, id); err != nil {
			logrus.WithError(err).WithField("entry_id", id).Warn("sync: remove synced entry")
		}
	})
}

// RetryFailed resets failed entries still under the retry cap and runs a
// sync pass over them.
func (e *Engine) RetryFailed(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer e.running.Unlock()
	n, err := e.queue.ResetFailed(ctx, e.retryCap)
	if err != nil {
		return Report{}, err
	}
	rep, err := e.pass(ctx)
	rep.Reset = n
	return rep, err
}

// Prune removes synced entries whose grace period has passed.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	return e.queue.PruneSynced(ctx, e.queue.now().Add(-e.grace))
}

func (e *Engine) reportDepth(ctx context.Context) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]int, len(stats))
	for k, v := range stats {
		counts[string(k)] = v
	}
	metrics.QueueDepth(counts)
}

// Prober reports whether the server is reachable.
type Prober interface {
	Healthy(ctx context.Context) bool
}

// Run keeps the queue draining until ctx is done: a retry pass at
// startup when online and on every offline to online transition, and a
// plain pass on every sync tick while online.
func (e *Engine) Run(ctx context.Context, probe Prober, probeEvery, syncEvery time.Duration) {
	if _, err := e.Prune(ctx); err != nil {
		logrus.WithError(err).Warn("sync: prune synced entries")
	}
	online := probe.Healthy(ctx)
	if online {
		e.runPass(ctx, e.RetryFailed)
	}

	probeT := time.NewTicker(probeEvery)
	defer probeT.Stop()
	syncT := time.NewTicker(syncEvery)
	defer syncT.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-probeT.C:
			now := probe.Healthy(ctx)
			if now != online {
				logrus.WithField("online", now).Info("sync: connectivity changed")
			}
			if now && !online {
				e.runPass(ctx, e.RetryFailed)
			}
			online = now
		case <-syncT.C:
			if online {
				e.runPass(ctx, e.Sync)
			}
		}
	}
}

func (e *Engine) runPass(ctx context.Context, fn func(context.Context) (Report, error)) {
	rep, err := fn(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
	case err != nil:
		logrus.WithError(err).Error("sync: pass failed")
	case rep.Submitted > 0 || rep.Superseded > 0:
		logrus.WithFields(logrus.Fields{
			"submitted":  rep.Submitted,
			"synced":     rep.Synced,
			"failed":     rep.Failed,
			"superseded": rep.Superseded,
			"aborted":    rep.Aborted,
		}).Info("sync: pass finished")
	}
}
