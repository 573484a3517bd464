// Package stats reduces ping history into per-target summaries. Summaries
// are computed fresh from the store on every call, never cached.
package stats

import (
	"math"
	"sort"
	"time"

	"pinglog/app/internal/database"
	"pinglog/app/internal/probe"
)

// TargetSummary is the derived view of one target's history.
type TargetSummary struct {
	Address   string
	Label     string
	Attempts  int
	Successes int
	LossRate  float64 // fraction of attempts without a reply; valid when Attempts > 0
	Min       time.Duration
	Avg       time.Duration
	P50       time.Duration
	P95       time.Duration
	Max       time.Duration
	NoData    bool // no successful samples, latency fields are meaningless
}

// Source is the read side of the measurement store.
type Source interface {
	QueryResults(database.QueryFilter) (*database.Results, error)
	ListTargets() ([]database.Target, error)
	ProbedAddresses() ([]string, error)
}

// Summarize reduces the history for one address, or for every probed
// address when address is empty. Addresses removed from the registry keep
// appearing as long as their history exists. An address with no history at
// all yields a single no-data summary.
func Summarize(src Source, address string) ([]TargetSummary, error) {
	labels := map[string]string{}
	targets, err := src.ListTargets()
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		labels[t.Address] = t.Label
	}

	it, err := src.QueryResults(database.QueryFilter{Address: address})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	type acc struct {
		attempts  int
		successes int
		latencies []time.Duration
	}
	accs := map[string]*acc{}
	var order []string
	if address == "" {
		// Seed the row set from the distinct addresses in history so the
		// report shape does not depend on scan order.
		probed, err := src.ProbedAddresses()
		if err != nil {
			return nil, err
		}
		for _, addr := range probed {
			accs[addr] = &acc{}
			order = append(order, addr)
		}
	}
	for it.Next() {
		res := it.Result()
		a := accs[res.Address]
		if a == nil {
			a = &acc{}
			accs[res.Address] = a
			order = append(order, res.Address)
		}
		a.attempts++
		if res.Outcome.Kind == probe.KindSuccess {
			a.successes++
			a.latencies = append(a.latencies, res.Outcome.Latency)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	if len(order) == 0 && address != "" {
		return []TargetSummary{{Address: address, Label: labels[address], NoData: true}}, nil
	}
	sort.Strings(order)

	summaries := make([]TargetSummary, 0, len(order))
	for _, addr := range order {
		a := accs[addr]
		s := TargetSummary{
			Address:   addr,
			Label:     labels[addr],
			Attempts:  a.attempts,
			Successes: a.successes,
		}
		if a.attempts > 0 {
			s.LossRate = float64(a.attempts-a.successes) / float64(a.attempts)
		}
		if len(a.latencies) == 0 {
			s.NoData = true
			summaries = append(summaries, s)
			continue
		}
		sort.Slice(a.latencies, func(i, j int) bool { return a.latencies[i] < a.latencies[j] })
		var total time.Duration
		for _, l := range a.latencies {
			total += l
		}
		s.Min = a.latencies[0]
		s.Max = a.latencies[len(a.latencies)-1]
		s.Avg = total / time.Duration(len(a.latencies))
		s.P50 = quantile(a.latencies, 0.50)
		s.P95 = quantile(a.latencies, 0.95)
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// quantile interpolates linearly between the closest ranks of a sorted
// sample (inclusive method).
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(math.Round(frac*float64(sorted[hi]-sorted[lo])))
}
