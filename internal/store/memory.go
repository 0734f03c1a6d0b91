package store

import (
	"context"
	"sync"

	"github.com/srg/heartflot/internal/session"
)

// Memory is a non-durable Store used by tests and the simulator.
type Memory struct {
	mu       sync.Mutex
	sessions []session.Session
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) apply(ctx context.Context, op mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = op(m.sessions)
	return nil
}

func (m *Memory) Append(ctx context.Context, s session.Session) error {
	return m.apply(ctx, appendOp(s))
}

func (m *Memory) Update(ctx context.Context, id string, fn func(*session.Session)) error {
	return m.apply(ctx, updateOp(id, fn))
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	return m.apply(ctx, deleteOp(id))
}

func (m *Memory) Clear(ctx context.Context) error {
	return m.apply(ctx, clearOp())
}

func (m *Memory) List(ctx context.Context) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.sessions), nil
}

var _ Store = (*Memory)(nil)
