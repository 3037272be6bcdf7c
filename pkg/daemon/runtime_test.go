package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	id         string
	startErr   error
	started    bool
	stopped    bool
	startOrder *[]string
	stopOrder  *[]string
	mu         *sync.Mutex
}

func (s *fakeService) ID() string { return s.id }

func (s *fakeService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	*s.startOrder = append(*s.startOrder, s.id)
	return nil
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	*s.stopOrder = append(*s.stopOrder, s.id)
	return nil
}

func newFakeService(id string, startErr error, startOrder, stopOrder *[]string, mu *sync.Mutex) *fakeService {
	return &fakeService{id: id, startErr: startErr, startOrder: startOrder, stopOrder: stopOrder, mu: mu}
}

func TestRuntime_StartsInOrderStopsInReverse(t *testing.T) {
	var mu sync.Mutex
	var startOrder, stopOrder []string

	r := NewRuntime(nil, time.Second)
	a := newFakeService("A", nil, &startOrder, &stopOrder, &mu)
	b := newFakeService("B", nil, &startOrder, &stopOrder, &mu)
	c := newFakeService("C", nil, &startOrder, &stopOrder, &mu)
	r.RegisterService(a)
	r.RegisterService(b)
	r.RegisterService(c)

	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, []string{"A", "B", "C"}, startOrder)

	require.NoError(t, r.Stop(context.Background()))
	require.Equal(t, []string{"C", "B", "A"}, stopOrder)
}

func TestRuntime_StartIdempotent(t *testing.T) {
	var mu sync.Mutex
	var startOrder, stopOrder []string

	r := NewRuntime(nil, time.Second)
	a := newFakeService("A", nil, &startOrder, &stopOrder, &mu)
	r.RegisterService(a)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	require.Len(t, startOrder, 1)
}

func TestRuntime_StopIdempotent(t *testing.T) {
	var mu sync.Mutex
	var startOrder, stopOrder []string

	r := NewRuntime(nil, time.Second)
	a := newFakeService("A", nil, &startOrder, &stopOrder, &mu)
	r.RegisterService(a)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
	require.Len(t, stopOrder, 1)
}

func TestRuntime_FailureRollsBackStartedServicesInReverse(t *testing.T) {
	var mu sync.Mutex
	var startOrder, stopOrder []string

	r := NewRuntime(nil, time.Second)
	a := newFakeService("A", nil, &startOrder, &stopOrder, &mu)
	b := newFakeService("B", errors.New("boom"), &startOrder, &stopOrder, &mu)
	c := newFakeService("C", nil, &startOrder, &stopOrder, &mu)
	r.RegisterService(a)
	r.RegisterService(b)
	r.RegisterService(c)

	err := r.Start(context.Background())
	require.Error(t, err)

	require.Equal(t, []string{"A"}, startOrder)
	require.Equal(t, []string{"A"}, stopOrder)
	require.False(t, c.started)
}
