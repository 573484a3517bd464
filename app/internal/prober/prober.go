// Package prober drives the continuous probing loop: it partitions the
// tracked targets into batches of bounded concurrency, paces batches with a
// fixed wait, and appends every outcome to the measurement store.
package prober

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pinglog/app/internal/database"
	"pinglog/app/internal/probe"
)

// Config are the pacing knobs for one run.
type Config struct {
	Parallel  int           // max concurrent probes per batch
	RoundWait time.Duration // desired minimum gap between probes of one target
	BatchWait time.Duration // pause between consecutive batches
	Timeout   time.Duration // per-probe execution timeout
	Randomize bool          // shuffle target order once per cycle
	Verbose   bool
}

// Store is the slice of the measurement store the prober needs.
type Store interface {
	ListTargets() ([]database.Target, error)
	AppendResult(probe.Result) error
	LastProbed(address string) (time.Time, bool, error)
}

// Prober runs the scheduling loop.
type Prober struct {
	cfg   Config
	store Store
	exec  probe.Executor
	log   *logrus.Logger
	rng   *rand.Rand
}

func New(cfg Config, store Store, exec probe.Executor) *Prober {
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	p := &Prober{
		cfg:   cfg,
		store: store,
		exec:  exec,
		log:   logrus.StandardLogger(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.Verbose {
		p.log.SetLevel(logrus.DebugLevel)
	}
	return p
}

// Feasible reports whether a full cycle over n targets fits inside
// RoundWait, approximating probe execution time as negligible next to
// BatchWait. An infeasible configuration still runs, it just cannot honor
// the desired re-probe interval.
func (p *Prober) Feasible(n int) (cycle time.Duration, ok bool) {
	batches := (n + p.cfg.Parallel - 1) / p.cfg.Parallel
	cycle = time.Duration(batches) * p.cfg.BatchWait
	return cycle, cycle <= p.cfg.RoundWait
}

// Run loops until ctx is cancelled, probing every tracked target once per
// cycle. It returns nil on cancellation and an error only when the store
// becomes unavailable.
func (p *Prober) Run(ctx context.Context) error {
	lastCount := -1
	for {
		if ctx.Err() != nil {
			return nil
		}

		targets, err := p.store.ListTargets()
		if err != nil {
			return fmt.Errorf("load targets: %w", err)
		}
		if len(targets) != lastCount {
			lastCount = len(targets)
			cycle, ok := p.Feasible(len(targets))
			if !ok {
				p.log.Warnf("pacing infeasible: a cycle over %d targets takes ~%s, more than round_wait %s",
					len(targets), cycle, p.cfg.RoundWait)
			} else {
				p.log.Debugf("cycle over %d targets takes ~%s", len(targets), cycle)
			}
		}
		if len(targets) == 0 {
			// Targets may be added by another invocation while we run.
			p.log.Debug("no targets tracked, waiting")
			if sleep(ctx, p.cfg.BatchWait) != nil {
				return nil
			}
			continue
		}

		order := make([]database.Target, len(targets))
		copy(order, targets)
		if p.cfg.Randomize {
			p.rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}

		for start := 0; start < len(order); start += p.cfg.Parallel {
			end := min(start+p.cfg.Parallel, len(order))
			if ctx.Err() != nil {
				return nil
			}
			p.noteCooldown(order[start:end])
			if err := p.runBatch(ctx, order[start:end]); err != nil {
				return err
			}
			if sleep(ctx, p.cfg.BatchWait) != nil {
				return nil
			}
		}
	}
}

// runBatch dispatches one batch concurrently and records each outcome.
// Batch size is the concurrency bound. A worker that observes cancellation
// before its probe starts writes nothing; in-flight probes finish within
// their timeout.
func (p *Prober) runBatch(ctx context.Context, batch []database.Target) error {
	var g errgroup.Group
	for _, t := range batch {
		t := t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			// Once started, a probe runs to completion bounded by its
			// timeout; cancellation must never surface as a recorded
			// outcome.
			out := p.exec.Probe(context.WithoutCancel(ctx), t.Address, p.cfg.Timeout)
			res := probe.Result{
				Address: t.Address,
				TakenAt: time.Now().UTC(),
				Outcome: out,
			}
			p.log.WithFields(logrus.Fields{
				"target":  t.Address,
				"outcome": out.Kind,
				"latency": out.Latency,
			}).Debug("probe finished")
			return p.store.AppendResult(res)
		})
	}
	return g.Wait()
}

// noteCooldown consults last_probed for each batch member and surfaces
// targets being re-probed before round_wait has elapsed. The cadence of the
// loop itself approximates the re-probe spacing; targets are never skipped
// or reordered on cooldown.
func (p *Prober) noteCooldown(batch []database.Target) {
	for _, t := range batch {
		last, probed, err := p.store.LastProbed(t.Address)
		if err != nil || !probed {
			continue
		}
		if since := time.Since(last); since < p.cfg.RoundWait {
			p.log.WithFields(logrus.Fields{
				"target": t.Address,
				"since":  since.Round(time.Millisecond),
			}).Debug("re-probing before round_wait elapsed")
		}
	}
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
