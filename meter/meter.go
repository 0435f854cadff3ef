// Package meter bridges high-throughput usage events into the
// reservation engine: each metered unit of work is buffered, then
// flushed as a reserve+finalize pair. A flush is triggered by batch size
// or interval, and each event in it settles in its own transaction, so
// one failing event does not roll back the others. This realizes the metered
// inference billing use case that the reservation engine alone leaves
// unwired.
package meter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/types"
)

// UsageEvent is one buffered unit of metered usage awaiting settlement.
type UsageEvent struct {
	AccountID      id.AccountID
	Pool           string
	Quantity       int64
	UnitPriceMicro types.MicroUSD
	BillingMode    reservation.BillingMode
	Timestamp      time.Time
}

// Cost is Quantity * UnitPriceMicro.
func (e *UsageEvent) Cost() types.MicroUSD {
	return types.MicroUSD(e.Quantity) * e.UnitPriceMicro
}

// TxStore is the narrow store surface a flush needs: one reservation
// engine call pair per event, run inside the caller-supplied transaction.
type TxStore = reservation.TxStore

// Transactor opens one exclusive transaction per usage event during a
// flush. The concrete store package provides this.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
}

// Meter buffers usage events and flushes them on a batch-size or
// interval trigger, mirroring the ledger facade's background-worker
// lifecycle (Start spawns the flush goroutine; Stop drains and joins).
type Meter struct {
	store         Transactor
	engine        *reservation.Engine
	logger        *slog.Logger
	buffer        chan *UsageEvent
	stopChan      chan struct{}
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	onFlush       func(ctx context.Context, count int, elapsed time.Duration)
}

// Option configures a Meter.
type Option func(*Meter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Meter) { m.logger = logger }
}

// WithOnFlush registers a callback invoked after every flush, settled or
// not, with the number of events settled and the elapsed time. The facade uses this to
// fire its meter-flushed plugin hook without the meter package needing
// to know about plugins.
func WithOnFlush(fn func(ctx context.Context, count int, elapsed time.Duration)) Option {
	return func(m *Meter) { m.onFlush = fn }
}

// WithBatch sets the batch size and flush interval.
func WithBatch(size int, interval time.Duration) Option {
	return func(m *Meter) {
		m.batchSize = size
		m.flushInterval = interval
	}
}

// New constructs a Meter over store, using engine for the settlement
// reserve+finalize pairs.
func New(store Transactor, engine *reservation.Engine, opts ...Option) *Meter {
	m := &Meter{
		store:         store,
		engine:        engine,
		logger:        slog.Default(),
		buffer:        make(chan *UsageEvent, 10000),
		stopChan:      make(chan struct{}),
		batchSize:     100,
		flushInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ErrBufferFull is returned by Ingest when the buffer channel is at
// capacity; callers should apply backpressure to their producer.
var ErrBufferFull = errBufferFull{}

type errBufferFull struct{}

func (errBufferFull) Error() string { return "meter: buffer full" }

// Ingest enqueues a usage event for the next flush. Non-blocking.
func (m *Meter) Ingest(event *UsageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case m.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Start begins the flush worker.
func (m *Meter) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.flushWorker(ctx)
}

// Stop drains the buffer with a final flush and joins the worker.
func (m *Meter) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *Meter) flushWorker(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]*UsageEvent, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			if len(batch) > 0 {
				m.flush(ctx, batch)
			}
			return

		case event := <-m.buffer:
			batch = append(batch, event)
			if len(batch) >= m.batchSize {
				m.flush(ctx, batch)
				batch = make([]*UsageEvent, 0, m.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = make([]*UsageEvent, 0, m.batchSize)
			}
		}
	}
}

func (m *Meter) flush(ctx context.Context, batch []*UsageEvent) {
	start := time.Now()
	settled := 0

	for _, event := range batch {
		err := m.store.RunInTx(ctx, func(ctx context.Context, tx TxStore) error {
			resv, err := m.engine.Reserve(ctx, tx, event.AccountID, event.Cost(), reservation.Options{
				Pool:        event.Pool,
				BillingMode: event.BillingMode,
			})
			if err != nil {
				return err
			}
			_, err = m.engine.Finalize(ctx, tx, resv.ID, event.Cost())
			return err
		})
		if err != nil {
			m.logger.Error("meter: failed to settle usage event",
				"error", err,
				"account_id", event.AccountID.String(),
			)
			continue
		}
		settled++
	}

	elapsed := time.Since(start)
	m.logger.Debug("meter: flushed batch",
		"batch_size", len(batch),
		"settled", settled,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	if m.onFlush != nil {
		m.onFlush(ctx, settled, elapsed)
	}
}
