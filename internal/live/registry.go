package live

import (
	"context"
	"errors"
	"sync"

	"crypto-live-dashboard/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrViewNotFound = errors.New("view not found")

type registryEntry struct {
	session *Session
	cancel  context.CancelFunc
}

// Registry 管理所有视图会话，每个会话独占自己的连接和合并状态
type Registry struct {
	ctx    context.Context
	opts   Options
	deps   Deps
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]registryEntry
}

func NewRegistry(ctx context.Context, opts Options, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		ctx:      ctx,
		opts:     opts,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]registryEntry),
	}
}

// Create 新建会话并绑定币种
func (r *Registry) Create(ctx context.Context, assetID, symbol string) (*Session, error) {
	id := uuid.NewString()
	s, err := NewSession(id, r.opts, r.deps)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(r.ctx)
	go s.Run(runCtx)

	if err := s.BindAsset(ctx, assetID, symbol); err != nil {
		cancel()
		<-s.Done()
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = registryEntry{session: s, cancel: cancel}
	r.mu.Unlock()
	service.ActiveViews.Inc()

	r.logger.Info("View created", zap.String("view", id), zap.String("asset", assetID))
	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e.session, ok
}

// Remove 解绑并停止会话
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	service.ActiveViews.Dec()

	if err := e.session.UnbindAsset(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		r.logger.Warn("Unbind before removal failed", zap.String("view", id), zap.Error(err))
	}
	e.cancel()

	select {
	case <-e.session.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.logger.Info("View removed", zap.String("view", id))
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close 停止全部会话
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.Remove(ctx, id); err != nil {
			r.logger.Warn("Failed to stop view", zap.String("view", id), zap.Error(err))
		}
	}
}
