package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
)

const initialTickDelay = 100 * time.Millisecond

// Options configures a Poller.
type Options struct {
	Interval        time.Duration
	BatchLimit      uint
	StartLedger     uint32 // explicit cold-start position; 0 = derive from latest
	BackfillLedgers uint32 // window behind latest when deriving
}

// Poller drives the fetch -> decode -> reconcile cycle. It is a single
// sequential task: ticks self-reschedule after each cycle completes, so
// a slow cycle delays the next one instead of overlapping it.
type Poller struct {
	source  ledger.Source
	rec     *Reconciler
	store   Store
	opts    Options
	log     *zap.Logger
	metrics *Metrics
}

func NewPoller(source ledger.Source, rec *Reconciler, st Store, opts Options, log *zap.Logger, metrics *Metrics) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.BatchLimit == 0 {
		opts.BatchLimit = 100
	}
	if opts.BackfillLedgers == 0 {
		opts.BackfillLedgers = 500
	}
	return &Poller{
		source:  source,
		rec:     rec,
		store:   st,
		opts:    opts,
		log:     log,
		metrics: metrics,
	}
}

// Run polls until ctx is cancelled. Cycle failures are logged and
// absorbed: indexing is best-effort and must never take the write path
// down with it.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(initialTickDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("indexer stopped", zap.Error(ctx.Err()))
			return
		case <-timer.C:
		}

		if err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				p.log.Info("indexer stopped", zap.Error(ctx.Err()))
				return
			}
			p.metrics.PollFailures.Inc()
			p.log.Warn("polling cycle failed, will retry", zap.Error(err))
		}

		timer.Reset(p.opts.Interval)
	}
}

// RunOnce executes a single fetch/decode/reconcile cycle. The cursor
// advances only if the whole batch decoded and persisted.
func (p *Poller) RunOnce(ctx context.Context) error {
	cursor, haveCursor, err := p.store.State(ctx, store.KeyEventsCursor)
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}

	q := ledger.Query{Limit: p.opts.BatchLimit}
	if haveCursor {
		q.Cursor = cursor
	} else {
		start, err := p.resolveStart(ctx)
		if err != nil {
			return err
		}
		q.StartLedger = start
	}

	page, err := p.source.Events(ctx, q)
	if err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}
	p.metrics.LatestLedger.Set(float64(page.LatestLedger))

	// Decode the whole batch before touching the store, so a malformed
	// event abandons the batch with no partial cursor advance.
	decoded := make([]ledger.Event, 0, len(page.Events))
	for _, raw := range page.Events {
		ev, err := ledger.Decode(raw)
		if err != nil {
			return err
		}
		if ev == nil {
			p.log.Debug("skipping unrecognized event", zap.String("event_id", raw.ID))
			continue
		}
		decoded = append(decoded, ev)
	}

	if err := p.rec.ApplyBatch(ctx, decoded, page.Cursor); err != nil {
		return err
	}

	p.metrics.BatchesApplied.Inc()
	for _, ev := range decoded {
		p.metrics.EventsMirrored.WithLabelValues(kindLabel(ev)).Inc()
	}
	if len(decoded) > 0 {
		p.log.Info("batch mirrored",
			zap.Int("events", len(decoded)),
			zap.String("cursor", page.Cursor),
		)
	}
	return nil
}

// resolveStart determines the cold-start position: a previously persisted
// start ledger, then the configured one, then a bounded window behind the
// latest position. The derived value is persisted before the first fetch
// so a crash cannot silently widen the backfill.
func (p *Poller) resolveStart(ctx context.Context) (uint32, error) {
	if saved, ok, err := p.store.State(ctx, store.KeyStartLedger); err != nil {
		return 0, fmt.Errorf("reading start ledger: %w", err)
	} else if ok {
		parsed, err := strconv.ParseUint(saved, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("corrupt start ledger %q: %w", saved, err)
		}
		return uint32(parsed), nil
	}

	start := p.opts.StartLedger
	if start == 0 {
		latest, err := p.source.LatestLedger(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolving latest ledger: %w", err)
		}
		if latest > p.opts.BackfillLedgers {
			start = latest - p.opts.BackfillLedgers
		} else {
			start = 1
		}
	}

	if err := p.store.SetState(ctx, store.KeyStartLedger, strconv.FormatUint(uint64(start), 10)); err != nil {
		return 0, fmt.Errorf("persisting start ledger: %w", err)
	}
	p.log.Info("cold start", zap.Uint32("start_ledger", start))
	return start, nil
}

func kindLabel(ev ledger.Event) string {
	switch ev.(type) {
	case ledger.SchemaCreated:
		return "schema_created"
	case ledger.Attested:
		return "attested"
	case ledger.Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}
