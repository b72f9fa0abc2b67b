package dcgm

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/statlab/gpustats/internal/metrics"
)

// fakeAPI implements profilingAPI in-process.
type fakeAPI struct {
	mu sync.Mutex

	supported    map[uint16]struct{}
	supportedErr error
	watchErr     error
	updateErr    error
	latestErr    error
	latest       func(sample *metrics.Sample)

	groupFields []uint16
	watched     bool
	updateCalls int
	closeCalls  int
}

func (f *fakeAPI) SupportedFieldIDs() (map[uint16]struct{}, error) {
	if f.supportedErr != nil {
		return nil, f.supportedErr
	}
	return f.supported, nil
}

func (f *fakeAPI) CreateFieldGroup(fieldIDs []uint16) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupFields = slices.Clone(fieldIDs)
	return 42, nil
}

func (f *fakeAPI) WatchFields(groupID, fieldGroupID uintptr, updateFreqUsec int64, maxKeepAge float64, maxKeepSamples int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return f.watchErr
	}
	if groupID != groupAllGPUs {
		return errors.New("unexpected group id")
	}
	if fieldGroupID != 42 {
		return errors.New("unexpected field group id")
	}
	f.watched = true
	return nil
}

func (f *fakeAPI) UpdateFields() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeAPI) LatestValues(groupID, fieldGroupID uintptr, sample *metrics.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return f.latestErr
	}
	if f.latest != nil {
		f.latest(sample)
	}
	return nil
}

func (f *fakeAPI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func supportedSet(ids ...uint16) map[uint16]struct{} {
	m := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := newClient(api, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientFiltersFieldsAgainstSupportedSet(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{supported: supportedSet(fieldSMActive, fieldDRAMActive, fieldPCIeTxBytes)}
	newTestClient(t, api)

	want := []uint16{fieldSMActive, fieldDRAMActive, fieldPCIeTxBytes}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !slices.Equal(api.groupFields, want) {
		t.Errorf("field group = %v, want %v", api.groupFields, want)
	}
	if !api.watched {
		t.Error("watches were not configured")
	}
}

func TestClientWatchesWishlistWhenSupportQueryFails(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{supportedErr: errors.New("old host engine")}
	newTestClient(t, api)

	api.mu.Lock()
	defer api.mu.Unlock()
	if !slices.Equal(api.groupFields, desiredFields) {
		t.Errorf("field group = %v, want full wishlist", api.groupFields)
	}
}

func TestClientNoSupportedFields(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{supported: supportedSet()}
	_, err := newClient(api, slog.New(slog.DiscardHandler))
	if !errors.Is(err, ErrNoSupportedFields) {
		t.Fatalf("newClient error = %v, want ErrNoSupportedFields", err)
	}
	if api.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", api.closeCalls)
	}
}

func TestClientSetupFailureClosesAPI(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		supported: supportedSet(fieldSMActive),
		watchErr:  errors.New("watch rejected"),
	}
	_, err := newClient(api, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("newClient succeeded, want error")
	}
	if api.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", api.closeCalls)
	}
}

func TestClientGetMetrics(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		supported: supportedSet(fieldSMActive),
		latest: func(sample *metrics.Sample) {
			sample.AppendFloat("gpu.0.smActive", 0.9)
		},
	}
	c := newTestClient(t, api)

	sample, err := c.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	got, ok := sample.Get("gpu.0.smActive")
	if !ok || got.Float() != 0.9 {
		t.Errorf("gpu.0.smActive = %v, want 0.9", got.Any())
	}
}

func TestClientToleratesUpdateFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		supported: supportedSet(fieldSMActive),
		updateErr: errors.New("update failed"),
	}
	c := newTestClient(t, api)

	if _, err := c.GetMetrics(context.Background()); err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.updateCalls != 1 {
		t.Errorf("update calls = %d, want 1", api.updateCalls)
	}
}

func TestClientPropagatesReadFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		supported: supportedSet(fieldSMActive),
		latestErr: errors.New("connection reset"),
	}
	c := newTestClient(t, api)

	if _, err := c.GetMetrics(context.Background()); err == nil {
		t.Fatal("GetMetrics succeeded, want error")
	}
}

func TestClientCloseStopsWorker(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{supported: supportedSet(fieldSMActive)}
	c, err := newClient(api, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	api.mu.Lock()
	if api.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", api.closeCalls)
	}
	api.mu.Unlock()

	if _, err := c.GetMetrics(context.Background()); !errors.Is(err, ErrWorkerShutdown) {
		t.Fatalf("GetMetrics after Close = %v, want ErrWorkerShutdown", err)
	}
}

func TestClientGetMetricsHonorsContext(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		supported: supportedSet(fieldSMActive),
		latest: func(*metrics.Sample) {
			time.Sleep(50 * time.Millisecond)
		},
	}
	c := newTestClient(t, api)

	// Occupy the worker so the second request has to queue.
	go c.GetMetrics(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := c.GetMetrics(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetMetrics = %v, want deadline exceeded", err)
	}
}
