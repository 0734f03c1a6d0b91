package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Append(ctx context.Context, s session.Session) error {
	return m.Called(s.ID).Error(0)
}

func (m *mockStore) Update(ctx context.Context, id string, fn func(*session.Session)) error {
	return m.Called(id).Error(0)
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockStore) List(ctx context.Context) ([]session.Session, error) {
	args := m.Called()
	return args.Get(0).([]session.Session), args.Error(1)
}

func (m *mockStore) Clear(ctx context.Context) error {
	return m.Called().Error(0)
}

func TestWriterAppliesInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := NewMemory()
	w := NewWriter(mem, logger, nil)
	defer w.Close()

	w.Append(newSession("a", 60))
	w.Append(newSession("b", 61))
	w.Update("a", func(s *session.Session) { s.Note = "warmup" })
	w.Delete("b")
	w.Flush()

	list, err := w.Store().List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(list))
	assert.Equal(t, "warmup", list[0].Note)

	w.Clear()
	w.Flush()
	list, err = mem.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWriterReportsPersistenceFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	st := &mockStore{}
	st.On("Append", "abc").Return(errors.New("disk full")).Once()

	var mu sync.Mutex
	var reported []error
	w := NewWriter(st, logger, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})
	defer w.Close()

	w.Append(newSession("abc", 60))
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.True(t, errors.Is(reported[0], device.ErrPersistenceFailure), "failure MUST be classified as PersistenceFailure")
	assert.Contains(t, reported[0].Error(), "disk full")
	require.NotNil(t, hook.LastEntry(), "failure MUST be logged")
	st.AssertExpectations(t)
}

func TestWriterDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	st := &blockingStore{Memory: NewMemory(), release: release}
	w := NewWriter(st, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Append(newSession("s", 60))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append MUST return without waiting for the store")
	}

	close(release)
	w.Close()
	list, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 10, "Close MUST drain queued mutations")
}

func TestWriterDropsAfterClose(t *testing.T) {
	st := &mockStore{}
	w := NewWriter(st, nil, nil)
	w.Close()
	w.Close()

	w.Append(newSession("late", 60))
	w.Flush()
	st.AssertNotCalled(t, "Append", "late")
}

type blockingStore struct {
	*Memory
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, s session.Session) error {
	<-b.release
	return b.Memory.Append(ctx, s)
}
