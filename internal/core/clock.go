package core

import (
	"sync"
	"time"
)

// TimestampFrequency returns the observed resolution of the monotonic clock
// in ticks per second. It is measured once, on first use.
var TimestampFrequency = sync.OnceValue(func() uint64 {
	const samples = 64
	best := time.Duration(1<<63 - 1)
	for i := 0; i < samples; i++ {
		start := time.Now()
		var d time.Duration
		for d == 0 {
			d = time.Since(start)
		}
		if d < best {
			best = d
		}
	}
	return uint64(time.Second / best)
})
