package workflows_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/workflows"
)

// --- Mock TileStore ---

type mockTileStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	evictFn func(ctx context.Context, cutoff time.Time) ([]string, error)
}

func (m *mockTileStore) Get(ctx context.Context, key domain.TileKey) (*domain.TileEntry, error) {
	return nil, domain.ErrNotFound
}

func (m *mockTileStore) Put(ctx context.Context, entry *domain.TileEntry) error { return nil }

func (m *mockTileStore) EvictOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	m.cutoffs = append(m.cutoffs, cutoff)
	m.mu.Unlock()
	if m.evictFn != nil {
		return m.evictFn(ctx, cutoff)
	}
	return nil, nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu      sync.Mutex
	evicted [][]string
	err     error
}

func (m *mockPublisher) PublishTileLoaded(ctx context.Context, event *domain.TileEvent) error {
	return nil
}

func (m *mockPublisher) PublishTilesEvicted(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, keys)
	return m.err
}

func runEviction(t *testing.T, acts *workflows.EvictionActivities, input workflows.EvictionInput) (workflows.EvictionResult, error) {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.SetStartTime(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(workflows.EvictionWorkflow, input)
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}

	var res workflows.EvictionResult
	if err := env.GetWorkflowError(); err != nil {
		return res, err
	}
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("workflow result: %v", err)
	}
	return res, nil
}

// --- Tests ---

func TestEvictionWorkflow_EvictsAndNotifies(t *testing.T) {
	store := &mockTileStore{evictFn: func(ctx context.Context, cutoff time.Time) ([]string, error) {
		return []string{"12/1/1", "12/1/2"}, nil
	}}
	pub := &mockPublisher{}

	res, err := runEviction(t, &workflows.EvictionActivities{Store: store, Events: pub}, workflows.EvictionInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)
	if !res.Cutoff.Equal(want) {
		t.Errorf("expected cutoff %s, got %s", want, res.Cutoff)
	}
	if len(store.cutoffs) != 1 || !store.cutoffs[0].Equal(want) {
		t.Errorf("expected store evicted before %s, got %v", want, store.cutoffs)
	}
	if len(res.Evicted) != 2 || !res.Notified {
		t.Errorf("expected 2 evicted and notified, got %+v", res)
	}
	if len(pub.evicted) != 1 || len(pub.evicted[0]) != 2 {
		t.Errorf("expected one notice with 2 keys, got %v", pub.evicted)
	}
}

func TestEvictionWorkflow_CustomHorizon(t *testing.T) {
	store := &mockTileStore{}
	res, err := runEviction(t, &workflows.EvictionActivities{Store: store}, workflows.EvictionInput{Horizon: 48 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC)
	if !res.Cutoff.Equal(want) {
		t.Errorf("expected cutoff %s, got %s", want, res.Cutoff)
	}
}

func TestEvictionWorkflow_NothingToEvict(t *testing.T) {
	pub := &mockPublisher{}
	res, err := runEviction(t, &workflows.EvictionActivities{Store: &mockTileStore{}, Events: pub}, workflows.EvictionInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Evicted) != 0 || res.Notified {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(pub.evicted) != 0 {
		t.Errorf("expected no notice, got %v", pub.evicted)
	}
}

func TestEvictionWorkflow_StoreFailure(t *testing.T) {
	store := &mockTileStore{evictFn: func(ctx context.Context, cutoff time.Time) ([]string, error) {
		return nil, errors.New("disk full")
	}}
	_, err := runEviction(t, &workflows.EvictionActivities{Store: store}, workflows.EvictionInput{})
	if err == nil {
		t.Fatal("expected workflow error")
	}
	if n := len(store.cutoffs); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestEvictionWorkflow_NoticeFailureIsNotFatal(t *testing.T) {
	store := &mockTileStore{evictFn: func(ctx context.Context, cutoff time.Time) ([]string, error) {
		return []string{"12/1/1"}, nil
	}}
	pub := &mockPublisher{err: errors.New("nats: connection closed")}

	res, err := runEviction(t, &workflows.EvictionActivities{Store: store, Events: pub}, workflows.EvictionInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Notified || len(res.Evicted) != 1 {
		t.Errorf("expected evicted without notice, got %+v", res)
	}
}
