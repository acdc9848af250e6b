// Package snowflake generates roughly time-ordered unique ids for
// ballots. The layout packs a 39-bit millisecond timestamp, a 12-bit
// per-millisecond sequence, an 8-bit datacenter id and a 4-bit worker
// id into a single int64.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	bitLenTime       = 39
	bitLenSequence   = 12
	bitLenDatacenter = 8
	bitLenWorker     = 4

	maxSequence   = (1 << bitLenSequence) - 1
	maxDatacenter = (1 << bitLenDatacenter) - 1
	maxWorker     = (1 << bitLenWorker) - 1

	shiftWorker     = 0
	shiftDatacenter = bitLenWorker
	shiftSequence   = bitLenWorker + bitLenDatacenter
	shiftTime       = bitLenWorker + bitLenDatacenter + bitLenSequence
)

// Generator issues ids. Safe for concurrent use.
type Generator struct {
	mu           sync.Mutex
	epochMS      int64
	datacenterID int64
	workerID     int64
	lastMS       int64
	sequence     int64
	now          func() int64
}

// New validates the node identity and returns a generator anchored at
// the given epoch (unix milliseconds).
func New(epochMS, datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDatacenter {
		return nil, fmt.Errorf("snowflake: datacenter id %d out of range [0,%d]", datacenterID, maxDatacenter)
	}
	if workerID < 0 || workerID > maxWorker {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0,%d]", workerID, maxWorker)
	}
	return &Generator{
		epochMS:      epochMS,
		datacenterID: datacenterID,
		workerID:     workerID,
		now:          nowMS,
	}, nil
}

// Next returns the next id. When the per-millisecond sequence
// overflows, or the wall clock runs behind the last issued timestamp,
// it spin-waits for the clock to catch up so ids never repeat or
// decrease.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for now < g.lastMS {
		now = g.now()
	}
	if now == g.lastMS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastMS {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = now

	return (now-g.epochMS)<<shiftTime |
		g.sequence<<shiftSequence |
		g.datacenterID<<shiftDatacenter |
		g.workerID<<shiftWorker
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
