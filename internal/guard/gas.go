package guard

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
)

// maxGasSamples bounds the sample buffer under bursty load.
const maxGasSamples = 1024

type gasSample struct {
	at    time.Time
	price uint64
}

// gasTracker keeps a decayed gas price reference across all users.
type gasTracker struct {
	window     time.Duration
	samples    []gasSample
	historical uint64
}

// record adds an accepted transaction's gas price and folds the recent mean
// into the historical reference at 70/30.
func (t *gasTracker) record(j *journal.Journal, now time.Time, price uint64) {
	prevSamples, prevHistorical := t.samples, t.historical
	j.Append(func() {
		t.samples = prevSamples
		t.historical = prevHistorical
	})

	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && !t.samples[i].at.After(cutoff) {
		i++
	}
	kept := t.samples[i:]
	if len(kept) >= maxGasSamples {
		kept = kept[len(kept)-maxGasSamples+1:]
	}
	samples := make([]gasSample, 0, len(kept)+1)
	samples = append(samples, kept...)
	samples = append(samples, gasSample{at: now, price: price})
	t.samples = samples

	// Caller-supplied prices can overflow a uint64 sum. The mean and the
	// blend never exceed the largest input, so both fit back into uint64.
	sum := new(uint256.Int)
	for _, s := range samples {
		sum.Add(sum, uint256.NewInt(s.price))
	}
	recent := sum.Div(sum, uint256.NewInt(uint64(len(samples))))
	if t.historical == 0 {
		t.historical = recent.Uint64()
		return
	}
	blend := new(uint256.Int).Mul(uint256.NewInt(t.historical), uint256.NewInt(70))
	blend.Add(blend, recent.Mul(recent, uint256.NewInt(30)))
	t.historical = blend.Div(blend, uint256.NewInt(100)).Uint64()
}
