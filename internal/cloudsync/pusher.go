package cloudsync

import (
	"context"
	"time"

	"github.com/matheus3301/hybridmind/internal/bus"
	"github.com/matheus3301/hybridmind/internal/identity"
	"github.com/matheus3301/hybridmind/internal/store"
	"go.uber.org/zap"
)

const queueSize = 128

type jobKind int

const (
	jobSession jobKind = iota
	jobMessage
	jobDelete
)

type job struct {
	kind      jobKind
	sessionID string
	message   MessageDoc
}

// Pusher replicates local writes to the remote DocStore, best effort. Jobs
// are queued without blocking the caller; when the queue is full new jobs
// are dropped. Failures are logged and never retried: the next write to the
// same document overwrites whatever state the remote holds, so a dropped or
// failed push costs staleness, not divergence.
//
// The offline_only check happens at push time, not enqueue time, so a
// session that became offline-only while a job was queued is still never
// leaked to the remote.
type Pusher struct {
	db       *store.DB
	remote   DocStore
	identity identity.Provider
	bus      *bus.Bus
	logger   *zap.Logger

	jobs   chan job
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPusher(db *store.DB, remote DocStore, id identity.Provider, b *bus.Bus, logger *zap.Logger) *Pusher {
	return &Pusher{
		db:       db,
		remote:   remote,
		identity: id,
		bus:      b,
		logger:   logger,
		jobs:     make(chan job, queueSize),
	}
}

// Start launches the single push worker.
func (p *Pusher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop signals the worker and waits for it to drain the in-flight job.
func (p *Pusher) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// EnqueueSession queues the session document for replication.
func (p *Pusher) EnqueueSession(sessionID string) {
	p.enqueue(job{kind: jobSession, sessionID: sessionID})
}

// EnqueueMessage queues one message document for replication.
func (p *Pusher) EnqueueMessage(m *store.Message) {
	p.enqueue(job{kind: jobMessage, sessionID: m.SessionID, message: MessageDoc{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}})
}

// EnqueueDelete queues removal of the remote session and its messages.
func (p *Pusher) EnqueueDelete(sessionID string) {
	p.enqueue(job{kind: jobDelete, sessionID: sessionID})
}

func (p *Pusher) enqueue(j job) {
	select {
	case p.jobs <- j:
	default:
		if p.logger != nil {
			p.logger.Warn("sync queue full, dropping job",
				zap.Int("kind", int(j.kind)),
				zap.String("session_id", j.sessionID))
		}
	}
}

func (p *Pusher) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case j := <-p.jobs:
			p.push(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pusher) push(ctx context.Context, j job) {
	userID, err := p.identity.UserID()
	if err != nil {
		p.emit("sync.skipped", j.sessionID)
		return
	}

	switch j.kind {
	case jobDelete:
		// Deletes go through even for offline-only sessions: removing
		// remote residue is always safe.
		if err := p.remote.DeleteSession(ctx, userID, j.sessionID); err != nil {
			p.fail(j, err)
			return
		}
		p.emit("sync.pushed", j.sessionID)
		return
	}

	sess, err := p.db.GetSession(j.sessionID)
	if err != nil {
		p.fail(j, err)
		return
	}
	if sess == nil || sess.OfflineOnly {
		p.emit("sync.skipped", j.sessionID)
		return
	}

	switch j.kind {
	case jobSession:
		err = p.remote.SetSession(ctx, userID, SessionDoc{
			ID:          sess.ID,
			Title:       sess.Title,
			OfflineOnly: sess.OfflineOnly,
			LastUpdated: sess.LastUpdated,
		})
	case jobMessage:
		err = p.remote.SetMessage(ctx, userID, j.message)
	}
	if err != nil {
		p.fail(j, err)
		return
	}
	p.emit("sync.pushed", j.sessionID)
}

func (p *Pusher) fail(j job, err error) {
	if p.logger != nil {
		p.logger.Warn("push failed",
			zap.Int("kind", int(j.kind)),
			zap.String("session_id", j.sessionID),
			zap.Error(err))
	}
	p.emit("sync.failed", j.sessionID)
}

func (p *Pusher) emit(kind, sessionID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: sessionID})
}
