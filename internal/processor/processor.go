// Package processor applies eligible promotions to pending orders.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const instrumentationName = "github.com/xenking/kart-promotions/internal/processor"

// Config controls batching and concurrency of Run.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
	// SeenCapacity and SeenFPR size the in-memory filter of order/promotion
	// pairs already applied by this process.
	SeenCapacity uint
	SeenFPR      float64
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SeenCapacity == 0 {
		c.SeenCapacity = 1_000_000
	}
	if c.SeenFPR <= 0 || c.SeenFPR >= 1 {
		c.SeenFPR = 0.001
	}
}

// Heartbeat is notified after every batch.
type Heartbeat interface {
	Beat()
}

// Result describes what ProcessOrder did to an order.
type Result struct {
	OrderID string
	// Applied lists the codes of promotions applied in this run.
	Applied []string
	// Adjustments is the number of adjustments created in this run.
	Adjustments int
	// Skipped is true when the order was already processed.
	Skipped bool
}

// Processor applies promotions to orders.
type Processor struct {
	orders       order.Repository
	promotions   promotion.Repository
	applications promotion.ApplicationRepository
	applicator   *promotion.Applicator
	eligibility  *promotion.EligibilityChecker
	heartbeat    Heartbeat
	cfg          Config

	seenMu sync.Mutex
	seen   *bloom.BloomFilter

	tracer             trace.Tracer
	ordersProcessed    metric.Int64Counter
	adjustmentsCreated metric.Int64Counter
}

// New creates a Processor. heartbeat may be nil.
func New(
	orders order.Repository,
	promotions promotion.Repository,
	applications promotion.ApplicationRepository,
	applicator *promotion.Applicator,
	eligibility *promotion.EligibilityChecker,
	heartbeat Heartbeat,
	cfg Config,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (*Processor, error) {
	cfg.setDefaults()

	meter := mp.Meter(instrumentationName)
	ordersProcessed, err := meter.Int64Counter("promotions.orders.processed",
		metric.WithDescription("Orders that completed promotion processing"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	adjustmentsCreated, err := meter.Int64Counter("promotions.adjustments.created",
		metric.WithDescription("Unit adjustments created by promotions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create adjustments counter")
	}

	return &Processor{
		orders:             orders,
		promotions:         promotions,
		applications:       applications,
		applicator:         applicator,
		eligibility:        eligibility,
		heartbeat:          heartbeat,
		cfg:                cfg,
		seen:               bloom.NewWithEstimates(cfg.SeenCapacity, cfg.SeenFPR),
		tracer:             tp.Tracer(instrumentationName),
		ordersProcessed:    ordersProcessed,
		adjustmentsCreated: adjustmentsCreated,
	}, nil
}

// Run processes batches of pending orders every Interval until ctx is done.
// Failures of single orders are logged and retried on a later tick.
func (p *Processor) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Processor started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("workers", p.cfg.Workers),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := p.ProcessBatch(ctx)
		switch {
		case ctx.Err() != nil:
			lg.Info("Processor stopped")
			return nil
		case err != nil:
			lg.Error("Process batch", zap.Error(err))
		default:
			if p.heartbeat != nil {
				p.heartbeat.Beat()
			}
			if n > 0 {
				lg.Debug("Batch processed", zap.Int("orders", n))
			}
		}

		select {
		case <-ctx.Done():
			lg.Info("Processor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch processes one batch of pending orders with up to Workers
// orders in flight and returns the batch size.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ids, err := p.orders.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list pending orders")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := p.ProcessOrder(gctx, id); err != nil {
				zctx.From(gctx).Error("Process order", zap.String("order_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return len(ids), g.Wait()
}

// ProcessOrder applies every eligible promotion of the order channel to the
// order, highest priority first, stopping after an exclusive promotion
// applies. Each application is persisted atomically; afterwards the order is
// marked processed.
func (p *Processor) ProcessOrder(ctx context.Context, orderID string) (_ Result, rerr error) {
	ctx, span := p.tracer.Start(ctx, "ProcessOrder",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	res := Result{OrderID: orderID}
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))

	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return res, errors.Wrap(err, "get order")
	}
	if o.State == order.StateProcessed {
		res.Skipped = true
		return res, nil
	}
	span.SetAttributes(attribute.String("order.channel", o.ChannelCode()))

	var candidates []*promotion.Promotion
	if o.Channel != nil {
		active, err := p.promotions.ListActiveByChannel(ctx, o.ChannelCode())
		if err != nil {
			return res, errors.Wrap(err, "list promotions")
		}
		// An exclusive promotion recorded by an interrupted run still blocks
		// the others.
		if !lo.SomeBy(active, func(promo *promotion.Promotion) bool { return promo.Exclusive && o.HasPromotion(promo.Code) }) {
			candidates = p.eligibility.Eligible(o, active)
		}
	}

loop:
	for _, promo := range candidates {
		out, n, err := p.apply(ctx, o, promo)
		if err != nil {
			return res, errors.Wrapf(err, "apply promotion %s", promo.Code)
		}
		switch out {
		case outcomeSkipped:
			continue
		case outcomeAppliedElsewhere:
			// Another run already holds this promotion on the order.
			if promo.Exclusive {
				lg.Debug("Exclusive promotion applied elsewhere", zap.String("promotion", promo.Code))
				break loop
			}
			continue
		}

		res.Applied = append(res.Applied, promo.Code)
		res.Adjustments += n
		lg.Info("Promotion applied",
			zap.String("promotion", promo.Code),
			zap.Int("adjustments", n),
		)
		if promo.Exclusive {
			break
		}
	}

	if err := p.orders.MarkProcessed(ctx, orderID); err != nil {
		return res, errors.Wrap(err, "mark processed")
	}

	channel := metric.WithAttributes(attribute.String("channel", o.ChannelCode()))
	p.ordersProcessed.Add(ctx, 1, channel)
	if res.Adjustments > 0 {
		p.adjustmentsCreated.Add(ctx, int64(res.Adjustments), channel)
	}
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeApplied
	// outcomeAppliedElsewhere means an application of the pair was already
	// persisted, by an earlier run or a concurrent instance.
	outcomeAppliedElsewhere
)

// apply runs the promotion against the order and persists the result. The
// in-memory order is rolled back when the promotion does not end up applied.
func (p *Processor) apply(ctx context.Context, o *order.Order, promo *promotion.Promotion) (outcome, int, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("promotion", promo.Code))
	key := o.ID + "/" + promo.ID

	if p.maybeSeen(key) {
		applied, err := p.applications.IsApplied(ctx, o.ID, promo.ID)
		if err != nil {
			return outcomeSkipped, 0, err
		}
		if applied {
			o.AddPromotion(promo.Code)
			return outcomeAppliedElsewhere, 0, nil
		}
	}

	before := adjustmentCounts(o)
	applied, err := p.applicator.Apply(o, promo)
	if err != nil {
		lg.Warn("Promotion action failed", zap.Error(err))
		p.rollback(o, promo, before)
		return outcomeSkipped, 0, nil
	}
	if !applied {
		return outcomeSkipped, 0, nil
	}

	created := newAdjustments(o, before)
	err = p.applications.Save(ctx, promotion.Application{
		OrderID:     o.ID,
		Promotion:   promo,
		Adjustments: created,
	})
	switch {
	case errors.Is(err, promotion.ErrAlreadyApplied):
		p.rollback(o, promo, before)
		o.AddPromotion(promo.Code)
		p.markSeen(key)
		lg.Debug("Promotion already applied")
		return outcomeAppliedElsewhere, 0, nil
	case errors.Is(err, promotion.ErrUsageLimitReached):
		p.rollback(o, promo, before)
		lg.Info("Promotion usage limit reached")
		return outcomeSkipped, 0, nil
	case err != nil:
		p.rollback(o, promo, before)
		return outcomeSkipped, 0, err
	}

	p.markSeen(key)
	return outcomeApplied, len(created), nil
}

func (p *Processor) maybeSeen(key string) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	return p.seen.TestString(key)
}

func (p *Processor) markSeen(key string) {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	p.seen.AddString(key)
}

// rollback truncates unit adjustments back to the counts captured before the
// promotion ran and forgets its code.
func (p *Processor) rollback(o *order.Order, promo *promotion.Promotion, before map[*order.Unit]int) {
	for _, u := range o.Units() {
		u.Adjustments = u.Adjustments[:before[u]]
	}
	o.RemovePromotion(promo.Code)
}

func adjustmentCounts(o *order.Order) map[*order.Unit]int {
	counts := make(map[*order.Unit]int)
	for _, u := range o.Units() {
		counts[u] = len(u.Adjustments)
	}
	return counts
}

func newAdjustments(o *order.Order, before map[*order.Unit]int) []*order.Adjustment {
	var created []*order.Adjustment
	for _, u := range o.Units() {
		created = append(created, u.Adjustments[before[u]:]...)
	}
	return created
}
