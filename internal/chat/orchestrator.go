package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/hybridmind/internal/backend"
	"github.com/matheus3301/hybridmind/internal/bus"
	"github.com/matheus3301/hybridmind/internal/engine"
	"github.com/matheus3301/hybridmind/internal/identity"
	"github.com/matheus3301/hybridmind/internal/store"
	"go.uber.org/zap"
)

// DefaultTitle is the placeholder title a new session carries until its
// first prompt names it.
const DefaultTitle = "New Chat"

const titleWordLimit = 10

// Placeholder replies persisted when generation fails. The conversation
// keeps its shape; the user sees what went wrong in the transcript.
const errEngineNotReady = "Offline model not initialized. Please download the model first."

// Connectivity is the read side of the network monitor.
type Connectivity interface {
	Online() bool
}

// Replicator receives local writes for best-effort remote replication.
type Replicator interface {
	EnqueueSession(sessionID string)
	EnqueueMessage(m *store.Message)
	EnqueueDelete(sessionID string)
}

// Options wires an Orchestrator.
type Options struct {
	DB           *store.DB
	Connectivity Connectivity
	Replicator   Replicator
	Remote       backend.Backend
	Local        backend.Backend
	Engine       *engine.Engine
	Identity     identity.Provider
	ImagesDir    string
	Bus          *bus.Bus
	Logger       *zap.Logger
}

// Orchestrator owns the send pipeline: routing between backends, local
// persistence, session metadata upkeep, and handing writes to the
// replicator. Sends within one session are serialized; different sessions
// proceed in parallel.
type Orchestrator struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	closeOnce sync.Once
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:  opts,
		locks: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) sessionLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// CreateSession creates an empty syncable session for the signed-in user.
func (o *Orchestrator) CreateSession() (*store.Session, error) {
	userID, err := o.opts.Identity.UserID()
	if err != nil {
		return nil, err
	}
	s := &store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       DefaultTitle,
		LastUpdated: time.Now().UnixMilli(),
	}
	if err := o.opts.DB.CreateSession(s); err != nil {
		return nil, err
	}
	if o.opts.Replicator != nil {
		o.opts.Replicator.EnqueueSession(s.ID)
	}
	return s, nil
}

// Sessions lists the signed-in user's sessions, most recent first.
func (o *Orchestrator) Sessions() ([]store.Session, error) {
	userID, err := o.opts.Identity.UserID()
	if err != nil {
		return nil, err
	}
	return o.opts.DB.ListSessions(userID)
}

// SessionMessages returns a session's transcript in turn order.
func (o *Orchestrator) SessionMessages(sessionID string) ([]store.Message, error) {
	if _, err := o.ownedSession(sessionID); err != nil {
		return nil, err
	}
	return o.opts.DB.ListMessages(sessionID)
}

func (o *Orchestrator) ownedSession(sessionID string) (*store.Session, error) {
	userID, err := o.opts.Identity.UserID()
	if err != nil {
		return nil, err
	}
	sess, err := o.opts.DB.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Send runs one full exchange: persist the user turn, generate a reply on
// the best available backend, persist the reply, and update session
// metadata. The reply message is returned even when generation failed; in
// that case it holds a readable placeholder and the error describes the
// failure.
func (o *Orchestrator) Send(ctx context.Context, sessionID, prompt string, image []byte) (*store.Message, error) {
	sess, err := o.ownedSession(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent send may have ratcheted the
	// session offline-only or renamed it.
	sess, err = o.ownedSession(sessionID)
	if err != nil {
		return nil, err
	}

	history, err := o.opts.DB.ListMessages(sessionID)
	if err != nil {
		return nil, err
	}

	imagePath := o.saveImage(image)

	now := time.Now().UnixMilli()
	userMsg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   prompt,
		CreatedAt: now,
		ImagePath: imagePath,
	}
	if err := o.opts.DB.InsertMessage(userMsg); err != nil {
		return nil, err
	}
	o.replicate(sess, userMsg)

	reply, usedLocal, genErr := o.generate(ctx, sess, history, prompt, imagePath)

	replyMsg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      store.RoleModel,
		Content:   reply,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := o.opts.DB.InsertMessage(replyMsg); err != nil {
		return nil, err
	}
	o.replicate(sess, replyMsg)

	sess.Title = deriveTitle(sess.Title, prompt)
	sess.OfflineOnly = sess.OfflineOnly || usedLocal
	sess.LastUpdated = time.Now().UnixMilli()
	if err := o.opts.DB.UpdateSession(sess); err != nil {
		return nil, err
	}
	if !sess.OfflineOnly && o.opts.Replicator != nil {
		o.opts.Replicator.EnqueueSession(sessionID)
	}

	o.publish("message.appended", sessionID)
	return replyMsg, genErr
}

// generate routes to the remote backend when the network allows it and the
// session has never gone local, otherwise to the on-device engine. Failures
// come back as placeholder text plus a typed error.
func (o *Orchestrator) generate(ctx context.Context, sess *store.Session, history []store.Message, prompt, imagePath string) (string, bool, error) {
	req := backend.Request{
		History:   turns(history),
		Prompt:    prompt,
		ImagePath: imagePath,
	}

	useRemote := !sess.OfflineOnly && o.opts.Connectivity.Online() && o.opts.Remote != nil
	if useRemote {
		text, err := o.opts.Remote.Generate(ctx, req)
		if err == nil {
			return text, false, nil
		}
		if o.opts.Logger != nil {
			o.opts.Logger.Warn("remote generation failed",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
		return fmt.Sprintf("Error: online generation failed: %v", err), false,
			&BackendError{Backend: o.opts.Remote.Name(), Err: err}
	}

	text, err := o.opts.Local.Generate(ctx, req)
	if err == nil {
		return text, true, nil
	}
	if o.opts.Logger != nil {
		o.opts.Logger.Warn("local generation failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	content := fmt.Sprintf("Error from offline model: %v", err)
	if errors.Is(err, engine.ErrNotInitialized) {
		content = errEngineNotReady
	}
	return content, true, &BackendError{Backend: o.opts.Local.Name(), Err: err}
}

// saveImage writes the attachment under the images directory. Best effort:
// a failed save degrades the turn to text only.
func (o *Orchestrator) saveImage(image []byte) string {
	if len(image) == 0 || o.opts.ImagesDir == "" {
		return ""
	}
	path := filepath.Join(o.opts.ImagesDir, fmt.Sprintf("img_%d.jpg", time.Now().UnixMilli()))
	if err := os.WriteFile(path, image, 0o600); err != nil {
		if o.opts.Logger != nil {
			o.opts.Logger.Warn("image save failed", zap.Error(err))
		}
		return ""
	}
	return path
}

// replicate hands a message to the pusher when the session is syncable and
// a network path currently exists. Skipped enqueues are not retried; the
// next online send replays the session document, and message docs are
// idempotent overwrites.
func (o *Orchestrator) replicate(sess *store.Session, m *store.Message) {
	if o.opts.Replicator == nil || sess.OfflineOnly || !o.opts.Connectivity.Online() {
		return
	}
	o.opts.Replicator.EnqueueMessage(m)
}

// DeleteSession removes a session locally and, for syncable sessions, queues
// removal of its remote copy.
func (o *Orchestrator) DeleteSession(sessionID string) error {
	sess, err := o.ownedSession(sessionID)
	if err != nil {
		return err
	}
	if err := o.opts.DB.DeleteSession(sessionID); err != nil {
		return err
	}
	if !sess.OfflineOnly && o.opts.Replicator != nil {
		o.opts.Replicator.EnqueueDelete(sessionID)
	}
	return nil
}

// DeleteAllChats wipes every session of the signed-in user. Remote deletes
// are queued only for sessions that were ever replicated.
func (o *Orchestrator) DeleteAllChats() error {
	userID, err := o.opts.Identity.UserID()
	if err != nil {
		return err
	}
	sessions, err := o.opts.DB.ListSessions(userID)
	if err != nil {
		return err
	}
	if err := o.opts.DB.DeleteAllSessions(userID); err != nil {
		return err
	}
	if o.opts.Replicator != nil {
		for _, s := range sessions {
			if !s.OfflineOnly {
				o.opts.Replicator.EnqueueDelete(s.ID)
			}
		}
	}
	return nil
}

// InitializeEngine readies the on-device engine against downloaded weights.
func (o *Orchestrator) InitializeEngine(modelPath string, minSize int64) error {
	return o.opts.Engine.Initialize(modelPath, minSize)
}

// EngineReady reports whether offline generation is available.
func (o *Orchestrator) EngineReady() bool {
	return o.opts.Engine != nil && o.opts.Engine.Ready()
}

// Close releases the engine handle. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		if o.opts.Engine != nil {
			_ = o.opts.Engine.Close()
		}
	})
	return nil
}

func (o *Orchestrator) publish(kind, sessionID string) {
	if o.opts.Bus == nil {
		return
	}
	o.opts.Bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: sessionID})
}

func turns(msgs []store.Message) []backend.Turn {
	out := make([]backend.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = backend.Turn{Role: m.Role, Content: m.Content, ImagePath: m.ImagePath}
	}
	return out
}

// deriveTitle names a session after its first prompt. Long prompts keep
// their first words only.
func deriveTitle(current, prompt string) string {
	if current != "" && current != DefaultTitle {
		return current
	}
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return current
	}
	if len(words) > titleWordLimit {
		return strings.Join(words[:titleWordLimit], " ") + "..."
	}
	return strings.Join(words, " ")
}
