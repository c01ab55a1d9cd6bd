package engine

import "sync/atomic"

// Stats counts the outcomes of one engine instance since it was created.
type Stats struct {
	Iterations     int64
	Copied         int64
	CopyFailures   int64
	Timeouts       int64
	GaveUp         int64
	Removed        int64
	RemoveFailures int64
	StoreErrors    int64
}

type counters struct {
	iterations     atomic.Int64
	copied         atomic.Int64
	copyFailures   atomic.Int64
	timeouts       atomic.Int64
	gaveUp         atomic.Int64
	removed        atomic.Int64
	removeFailures atomic.Int64
	storeErrors    atomic.Int64
}

func (c *counters) record(r Result) {
	c.iterations.Add(1)

	switch r.Outcome {
	case OutcomeCopied:
		c.copied.Add(1)
	case OutcomeCopyFailed:
		c.copyFailures.Add(1)
	case OutcomeGaveUp:
		c.copyFailures.Add(1)
		c.gaveUp.Add(1)
	case OutcomeRemoved:
		c.removed.Add(1)
	case OutcomeRemoveFailed:
		c.removeFailures.Add(1)
	}
	if r.TimedOut {
		c.timeouts.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Iterations:     c.iterations.Load(),
		Copied:         c.copied.Load(),
		CopyFailures:   c.copyFailures.Load(),
		Timeouts:       c.timeouts.Load(),
		GaveUp:         c.gaveUp.Load(),
		Removed:        c.removed.Load(),
		RemoveFailures: c.removeFailures.Load(),
		StoreErrors:    c.storeErrors.Load(),
	}
}
