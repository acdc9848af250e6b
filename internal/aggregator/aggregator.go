// Package aggregator batches submitted ballots and folds them into the
// Redis scoring state and the MongoDB archive. One background goroutine
// owns all buffers; handlers only pay for a channel send.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/observability"
)

const (
	bufferCapacity    = 1000
	batchThreshold    = 150
	flushInterval     = 500 * time.Millisecond
	maxWait           = 5 * time.Second
	flushAttempts     = 3
	attemptDelay      = 100 * time.Millisecond
	statsLogInterval  = 5 * time.Second
)

// Config tunes the aggregator.
type Config struct {
	// QueueSize bounds how many ballots may sit between Submit and the
	// processing loop before Submit starts failing with ErrQueueFull.
	QueueSize int
	// LowMultiplier is the fallback weight when an IP's multiplier is
	// missing from the batch result.
	LowMultiplier int32
}

// Aggregator accepts ballots and processes them in batches.
type Aggregator struct {
	store   *redisstore.Store
	archive domain.BallotArchive
	cfg     Config
	lg      *slog.Logger

	ch   chan domain.Ballot
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// New starts the processing loop and returns the aggregator.
func New(store *redisstore.Store, archive domain.BallotArchive, cfg Config, lg *slog.Logger) *Aggregator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100000
	}
	a := &Aggregator{
		store:   store,
		archive: archive,
		cfg:     cfg,
		lg:      lg,
		ch:      make(chan domain.Ballot, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Submit hands a ballot to the processing loop without blocking. When
// the queue is at capacity it returns domain.ErrQueueFull so the caller
// can shed load.
func (a *Aggregator) Submit(b domain.Ballot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrQueueFull
	}
	select {
	case a.ch <- b:
		observability.ProcessingStatsQueued.Set(float64(len(a.ch)))
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Close stops accepting ballots, drains what was already queued and
// flushes the remaining buffers.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}

type buffers struct {
	pairwise  []domain.Ballot
	setwise   []domain.Ballot
	groupwise []domain.Ballot
	plurality []domain.Ballot
}

func (b *buffers) add(ballot domain.Ballot) {
	switch ballot.TopicType {
	case domain.TopicSetwise.WireName():
		b.setwise = append(b.setwise, ballot)
	case domain.TopicGroupwise.WireName():
		b.groupwise = append(b.groupwise, ballot)
	case domain.TopicPlurality.WireName():
		b.plurality = append(b.plurality, ballot)
	default:
		b.pairwise = append(b.pairwise, ballot)
	}
}

func (b *buffers) total() int {
	return len(b.pairwise) + len(b.setwise) + len(b.groupwise) + len(b.plurality)
}

func (b *buffers) needProcess() bool {
	limit := batchThreshold
	if bufferCapacity < limit {
		limit = bufferCapacity
	}
	return len(b.pairwise) >= limit || len(b.setwise) >= limit ||
		len(b.groupwise) >= limit || len(b.plurality) >= limit
}

func (b *buffers) takeAll() buffers {
	taken := *b
	*b = buffers{}
	return taken
}

func (b *buffers) publishPending() {
	observability.ProcessingStatsPending.WithLabelValues("pairwise").Set(float64(len(b.pairwise)))
	observability.ProcessingStatsPending.WithLabelValues("setwise").Set(float64(len(b.setwise)))
	observability.ProcessingStatsPending.WithLabelValues("groupwise").Set(float64(len(b.groupwise)))
	observability.ProcessingStatsPending.WithLabelValues("plurality").Set(float64(len(b.plurality)))
}

func (a *Aggregator) loop() {
	defer close(a.done)

	var bufs buffers
	lastFlush := time.Now()

	var totalProcessed, successfulBatches, failedBatches uint64
	var lastLoggedTotal uint64
	lastLog := time.Now()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-a.ch:
			if !ok {
				if bufs.total() > 0 {
					a.flushWithRetry(&bufs, &totalProcessed, &successfulBatches, &failedBatches)
				}
				a.lg.Info("ballot aggregator shutting down",
					slog.Uint64("total_processed", totalProcessed))
				return
			}
			bufs.add(b)
			observability.ProcessingStatsQueued.Set(float64(len(a.ch)))
			if bufs.needProcess() || time.Since(lastFlush) >= maxWait {
				a.flushWithRetry(&bufs, &totalProcessed, &successfulBatches, &failedBatches)
				lastFlush = time.Now()
			}
		case <-ticker.C:
			if bufs.total() > 0 && time.Since(lastFlush) >= flushInterval {
				a.flushWithRetry(&bufs, &totalProcessed, &successfulBatches, &failedBatches)
				lastFlush = time.Now()
			}
		}

		bufs.publishPending()

		if totalProcessed > 0 && totalProcessed != lastLoggedTotal && time.Since(lastLog) >= statsLogInterval {
			a.lg.Info("ballot processing stats",
				slog.Uint64("total_processed", totalProcessed),
				slog.Uint64("successful_batches", successfulBatches),
				slog.Uint64("failed_batches", failedBatches),
				slog.Int("pending", bufs.total()))
			lastLoggedTotal = totalProcessed
			lastLog = time.Now()
		}
	}
}

func (a *Aggregator) flushWithRetry(bufs *buffers, totalProcessed, successfulBatches, failedBatches *uint64) {
	batch := bufs.takeAll()
	total := batch.total()
	if total == 0 {
		return
	}

	ctx := context.Background()
	start := time.Now()

	op := func() error {
		return a.processBatch(ctx, &batch)
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(attemptDelay), flushAttempts-1)
	if err := backoff.Retry(op, policy); err != nil {
		*failedBatches++
		observability.ProcessingStatsTotal.WithLabelValues(observability.StatFailedBatches).Inc()
		a.lg.Error("batch processing failed after retries",
			slog.Int("ballots", total), slog.Any("error", err))
		a.saveFailedBallots(&batch)
		return
	}

	dur := time.Since(start)
	*totalProcessed += uint64(total)
	*successfulBatches++
	observability.ProcessingStatsTotal.WithLabelValues(observability.StatTotalProcessed).Add(float64(total))
	observability.ProcessingStatsTotal.WithLabelValues(observability.StatSuccessfulBatches).Inc()
	observability.ProcessingBatchTime.Observe(dur.Seconds())
	observability.ProcessingBatchTotalTime.Add(float64(dur.Microseconds()))

	a.lg.Debug("processed ballot batch",
		slog.Int("ballots", total), slog.Duration("duration", dur))
}

func (a *Aggregator) processBatch(ctx context.Context, batch *buffers) error {
	if err := a.processPairwise(ctx, batch.pairwise); err != nil {
		return err
	}
	if err := a.archiveFlat(ctx, batch.setwise); err != nil {
		return err
	}
	if err := a.archiveFlat(ctx, batch.groupwise); err != nil {
		return err
	}
	return a.archiveFlat(ctx, batch.plurality)
}

// processPairwise weights each ballot by its IP counter, folds the
// outcomes into the per-topic scoring state and archives the batch.
func (a *Aggregator) processPairwise(ctx context.Context, ballots []domain.Ballot) error {
	if len(ballots) == 0 {
		return nil
	}

	multipliers, err := a.ipMultipliers(ctx, ballots)
	if err != nil {
		return err
	}

	updates := make([]redisstore.ScoreUpdate, 0, len(ballots))
	pairs := make([]redisstore.MatchPair, 0, len(ballots))
	grouped := make(map[string][]domain.StoredBallot)
	for i := range ballots {
		b := ballots[i]
		mult, ok := multipliers[b.Info.IP]
		if !ok {
			mult = a.cfg.LowMultiplier
		}
		updates = append(updates, redisstore.ScoreUpdate{
			TopicID:    b.Info.TopicID,
			Win:        b.Win,
			Lose:       b.Lose,
			Multiplier: mult,
		})
		pairs = append(pairs, redisstore.MatchPair{TopicID: b.Info.TopicID, A: b.Win, B: b.Lose})
		grouped[b.Info.TopicID] = append(grouped[b.Info.TopicID], domain.StoredBallot{
			Ballot:     b,
			Multiplier: mult,
		})
	}

	if err := a.store.BatchScoreUpdate(ctx, updates); err != nil {
		return err
	}
	if err := a.store.BatchRecord1v1(ctx, pairs); err != nil {
		return err
	}

	for topicID, stored := range grouped {
		if err := a.archive.InsertBatch(ctx, topicID, stored); err != nil {
			return err
		}
	}
	return nil
}

// ipMultipliers bumps one counter key per ballot and maps the returned
// weights onto the batch's distinct IPs.
func (a *Aggregator) ipMultipliers(ctx context.Context, ballots []domain.Ballot) (map[string]int32, error) {
	keys := make([]string, len(ballots))
	ipSet := make(map[string]struct{}, len(ballots))
	ips := make([]string, 0, len(ballots))
	for i := range ballots {
		info := ballots[i].Info
		keys[i] = redisstore.IPCounterKey(info.TopicID, info.IP)
		if _, seen := ipSet[info.IP]; !seen {
			ipSet[info.IP] = struct{}{}
			ips = append(ips, info.IP)
		}
	}

	results, err := a.store.BatchIPMultipliers(ctx, keys)
	if err != nil {
		return nil, err
	}

	multipliers := make(map[string]int32, len(ips))
	for i, ip := range ips {
		if i >= len(results) {
			break
		}
		multipliers[ip] = int32(results[i])
	}
	return multipliers, nil
}

// archiveFlat stores non-pairwise ballots without scoring; those topic
// types are ranked offline from the archive.
func (a *Aggregator) archiveFlat(ctx context.Context, ballots []domain.Ballot) error {
	if len(ballots) == 0 {
		return nil
	}
	grouped := make(map[string][]domain.StoredBallot)
	for i := range ballots {
		b := ballots[i]
		grouped[b.Info.TopicID] = append(grouped[b.Info.TopicID], domain.StoredBallot{
			Ballot:     b,
			Multiplier: 1,
		})
	}
	for topicID, stored := range grouped {
		if err := a.archive.InsertBatch(ctx, topicID, stored); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) saveFailedBallots(batch *buffers) {
	ts := time.Now().UTC().Format("20060102_150405")
	a.saveVariant(batch.pairwise, "pairwise", ts)
	a.saveVariant(batch.setwise, "setwise", ts)
	a.saveVariant(batch.groupwise, "groupwise", ts)
	a.saveVariant(batch.plurality, "plurality", ts)
}

func (a *Aggregator) saveVariant(ballots []domain.Ballot, variant, ts string) {
	if len(ballots) == 0 {
		return
	}
	filename := fmt.Sprintf("./failed_%s_ballots_%s.log", variant, ts)
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.lg.Error("failed to create ballot backup file",
			slog.String("file", filename), slog.Any("error", err))
		return
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for i := range ballots {
		if err := enc.Encode(ballots[i]); err != nil {
			a.lg.Error("failed to write ballot backup",
				slog.String("file", filename), slog.Any("error", err))
			break
		}
	}
	a.lg.Info("saved failed ballots to backup file",
		slog.Int("count", len(ballots)), slog.String("file", filename))
}
