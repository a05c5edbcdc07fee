package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tallyhq/webhooks/delivery"
	"github.com/tallyhq/webhooks/id"
	"github.com/tallyhq/webhooks/internal/entity"
	"github.com/tallyhq/webhooks/store/memory"
	"github.com/tallyhq/webhooks/subscription"
)

// stubDLQ is a simple DLQ pusher that records pushed deliveries.
type stubDLQ struct {
	pushed []*delivery.Delivery
	count  atomic.Int32
}

func (s *stubDLQ) PushDead(_ context.Context, d *delivery.Delivery, _ *subscription.Subscription) error {
	s.pushed = append(s.pushed, d)
	s.count.Add(1)
	return nil
}

func setupWorker(t *testing.T, handler http.Handler, dlq delivery.DLQPusher) (*memory.Store, *delivery.Worker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	store := memory.New()
	cfg := delivery.WorkerConfig{
		Concurrency:    2,
		PollInterval:   50 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
		Backoff:        delivery.Backoff{Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond},
	}

	worker := delivery.NewWorker(store, dlq, cfg, nil)
	return store, worker, srv
}

func createTestData(t *testing.T, store *memory.Store, url string) (*subscription.Subscription, *delivery.Delivery) {
	t.Helper()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		TenantID:   "tenant-1",
		URL:        url,
		Secret:     "whsec_test_secret_1234567890abcdef1234567890abcdef",
		EventTypes: []string{"test.event"},
		Active:     true,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	del := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: sub.ID,
		TenantID:       "tenant-1",
		EventType:      "test.event",
		Payload:        json.RawMessage(`{"id":"evt_1","type":"test.event","data":{"hello":"world"}}`),
		Status:         delivery.StatusPending,
		AttemptCount:   0,
		MaxAttempts:    3,
		NextRetryAt:    time.Now().UTC(),
	}
	if err := store.Enqueue(ctx, del); err != nil {
		t.Fatal(err)
	}

	return sub, del
}

// waitForStatus polls the store until the delivery reaches the wanted status.
func waitForStatus(t *testing.T, store *memory.Store, delID id.ID, want delivery.Status, timeout time.Duration) *delivery.Delivery {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			got, _ := store.GetDelivery(ctx, delID)
			t.Fatalf("timeout waiting for status %q, last seen %+v", want, got)
		default:
		}

		got, err := store.GetDelivery(ctx, delID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == want {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWorkerDeliversSuccessfully(t *testing.T) {
	var delivered atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, worker, srv := setupWorker(t, handler, dlq)
	defer srv.Close()

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	got := waitForStatus(t, store, del.ID, delivery.StatusSuccess, 2*time.Second)

	worker.Stop(ctx)

	if delivered.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered.Load())
	}
	if got.DeliveredAt == nil {
		t.Fatal("expected DeliveredAt to be set")
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}
}

func TestWorkerRetriesAndSucceeds(t *testing.T) {
	var attempts atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	dlq := &stubDLQ{}
	store, worker, srv := setupWorker(t, handler, dlq)
	defer srv.Close()

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	got := waitForStatus(t, store, del.ID, delivery.StatusSuccess, 5*time.Second)

	worker.Stop(ctx)

	if attempts.Load() < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", attempts.Load())
	}
	if got.AttemptCount != 3 {
		t.Fatalf("expected AttemptCount 3, got %d", got.AttemptCount)
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}
}

func TestWorkerExhaustsRetriesAndDeadLetters(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	dlqPusher := &stubDLQ{}
	store, worker, srv := setupWorker(t, handler, dlqPusher)
	defer srv.Close()

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	got := waitForStatus(t, store, del.ID, delivery.StatusDead, 5*time.Second)

	worker.Stop(ctx)

	if got.AttemptCount != got.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", got.MaxAttempts, got.AttemptCount)
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}
}

func TestWorker410DeactivatesSubscription(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	dlqPusher := &stubDLQ{}
	store, worker, srv := setupWorker(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	waitForStatus(t, store, del.ID, delivery.StatusDead, 2*time.Second)

	worker.Stop(ctx)

	// The 410 deactivates the subscription.
	subGot, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if subGot.Active {
		t.Fatal("expected subscription to be deactivated after 410")
	}

	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push for 410, got %d", dlqPusher.count.Load())
	}
}

func TestWorkerAbandonsDeactivatedSubscription(t *testing.T) {
	var attempts atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, worker, srv := setupWorker(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)

	// Deactivate between enqueue and worker pickup.
	ctx := context.Background()
	if err := store.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatal(err)
	}

	worker.Start(ctx)

	got := waitForStatus(t, store, del.ID, delivery.StatusDead, 2*time.Second)

	worker.Stop(ctx)

	// No HTTP attempt happened.
	if attempts.Load() != 0 {
		t.Fatalf("expected 0 attempts, got %d", attempts.Load())
	}
	if got.AttemptCount != 0 {
		t.Fatalf("expected AttemptCount 0, got %d", got.AttemptCount)
	}
	if got.LastError == "" {
		t.Fatal("expected LastError to record the abandon reason")
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}
}

func TestWorkerGracefulShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	store, worker, srv := setupWorker(t, handler, nil)
	defer srv.Close()

	ctx := context.Background()

	// Create multiple deliveries.
	for range 5 {
		createTestData(t, store, srv.URL)
	}

	worker.Start(ctx)

	// Give the worker a moment to start processing.
	time.Sleep(200 * time.Millisecond)

	// Stop should wait for in-flight work.
	worker.Stop(ctx)

	// After stop, pending count should be lower (some or all delivered).
	pending, err := store.CountPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("pending after shutdown: %d", pending)
}

func TestWorkerTimeoutExhaustsAttempts(t *testing.T) {
	// The endpoint accepts the connection but never responds, so every
	// attempt ends in a client timeout with no status code.
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect;
		// otherwise these handlers outlive the test and srv.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	store := memory.New()
	dlqPusher := &stubDLQ{}
	cfg := delivery.WorkerConfig{
		Concurrency:    2,
		PollInterval:   50 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 100 * time.Millisecond,
		Backoff:        delivery.Backoff{Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond},
	}
	worker := delivery.NewWorker(store, dlqPusher, cfg, nil)

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	got := waitForStatus(t, store, del.ID, delivery.StatusDead, 10*time.Second)

	worker.Stop(ctx)

	if got.AttemptCount != got.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", got.MaxAttempts, got.AttemptCount)
	}
	if got.LastError == "" {
		t.Fatal("expected LastError to record the timeout")
	}
	if got.LastStatusCode != 0 {
		t.Fatalf("expected no status code for a timed-out attempt, got %d", got.LastStatusCode)
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}
}

// blockingStore delays UpdateDelivery until released, simulating a slow
// backend that holds a delivery goroutine past shutdown.
type blockingStore struct {
	*memory.Store
	release chan struct{}
}

func (b *blockingStore) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	<-b.release
	return b.Store.UpdateDelivery(ctx, d)
}

func TestWorkerStopBoundedByShutdownTimeout(t *testing.T) {
	hit := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	mem := memory.New()
	bs := &blockingStore{Store: mem, release: make(chan struct{})}
	cfg := delivery.WorkerConfig{
		Concurrency:     1,
		PollInterval:    20 * time.Millisecond,
		BatchSize:       10,
		RequestTimeout:  5 * time.Second,
		Backoff:         delivery.Backoff{Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond},
		ShutdownTimeout: 100 * time.Millisecond,
	}
	worker := delivery.NewWorker(bs, nil, cfg, nil)
	defer close(bs.release)

	createTestData(t, mem, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery attempt never reached the endpoint")
	}

	// The attempt's persistence call is stuck; Stop must give up at the
	// shutdown timeout instead of waiting forever.
	start := time.Now()
	worker.Stop(ctx)
	elapsed := time.Since(start)

	if elapsed < cfg.ShutdownTimeout {
		t.Fatalf("Stop returned before the deadline: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Stop took %v, expected the shutdown timeout to bound it", elapsed)
	}
}

func TestWorkerNilDLQ(t *testing.T) {
	// The worker runs without a DLQ pusher; dead deliveries still land in
	// the dead status.
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store, worker, srv := setupWorker(t, handler, nil)
	defer srv.Close()

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	worker.Start(ctx)

	waitForStatus(t, store, del.ID, delivery.StatusDead, 5*time.Second)

	worker.Stop(ctx)
}
