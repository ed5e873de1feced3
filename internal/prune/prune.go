package prune

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matheus3301/hybridmind/internal/bus"
	"github.com/matheus3301/hybridmind/internal/store"
	"go.uber.org/zap"
)

// Pruner periodically deletes expired messages from offline-only sessions.
// Offline-only transcripts exist nowhere else, so retention is enforced
// locally; syncable sessions are left alone.
type Pruner struct {
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	window   time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(db *store.DB, b *bus.Bus, logger *zap.Logger, interval, window time.Duration) *Pruner {
	return &Pruner{
		db:       db,
		bus:      b,
		logger:   logger,
		interval: interval,
		window:   window,
	}
}

// Start launches the periodic prune loop. One pass runs immediately.
func (p *Pruner) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (p *Pruner) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Pruner) run(ctx context.Context) {
	defer close(p.done)
	p.RunOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.RunOnce()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single prune pass. Overlapping passes are skipped;
// errors are logged and swallowed so a bad pass never takes the loop down.
func (p *Pruner) RunOnce() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	threshold := time.Now().Add(-p.window).UnixMilli()
	n, err := p.db.PruneOfflineMessages(threshold)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("prune pass failed", zap.Error(err))
		}
		return
	}
	if p.logger != nil && n > 0 {
		p.logger.Info("pruned expired offline messages", zap.Int64("count", n))
	}
	if p.bus != nil {
		p.bus.Publish(bus.Event{Kind: "prune.completed", Timestamp: time.Now(), Payload: n})
	}
}
