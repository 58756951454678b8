package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocr/internal/config"
	"aocr/internal/domain"
	"aocr/internal/metrics"
)

func TestBusFiltersByType(t *testing.T) {
	bus := NewBus()
	var (
		mu  sync.Mutex
		got []string
	)
	record := func(name string) Handler {
		return func(ctx context.Context, evt Event) error {
			mu.Lock()
			got = append(got, name+":"+string(evt.Type))
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe("all", record("all"))
	bus.Subscribe("transitions", record("transitions"), RequestTransitioned)

	bus.Publish(context.Background(), Event{Type: RequestCreated, RequestID: 1})
	bus.Publish(context.Background(), Event{Type: RequestTransitioned, RequestID: 1})
	require.NoError(t, bus.Close())

	assert.ElementsMatch(t, []string{
		"all:request.created",
		"all:request.transitioned",
		"transitions:request.transitioned",
	}, got)
}

func TestPublishDoesNotBlockOnSlowObserver(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.Subscribe("slow", func(ctx context.Context, evt Event) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), Event{Type: RequestTransitioned})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on observer")
	}
	close(release)
	require.NoError(t, bus.Close())
}

func TestObserverFailuresAreCounted(t *testing.T) {
	m := metrics.New()
	bus := NewBus(WithMetrics(m))
	bus.Subscribe("broken", func(ctx context.Context, evt Event) error { return errors.New("smtp down") })
	bus.Subscribe("panicky", func(ctx context.Context, evt Event) error { panic("boom") })

	bus.Publish(context.Background(), Event{Type: RequestTransitioned})
	require.NoError(t, bus.Close())

	count, err := testutil.GatherAndCount(m.Registry(), "aocr_observer_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClosedBusDropsEvents(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe("x", func(ctx context.Context, evt Event) error {
		called = true
		return nil
	})
	require.NoError(t, bus.Close())
	bus.Publish(context.Background(), Event{Type: RequestCreated})
	assert.False(t, called)
	assert.Error(t, bus.Close())
}

func TestCloseWaitsForPublishesRacingIt(t *testing.T) {
	bus := NewBus()
	var delivered atomic.Int64
	bus.Subscribe("slow", func(ctx context.Context, evt Event) error {
		time.Sleep(time.Millisecond)
		delivered.Add(1)
		return nil
	})

	var publishers sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			<-start
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), Event{Type: RequestTransitioned, RequestID: int64(j)})
			}
		}()
	}
	close(start)
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, bus.Close())
	afterClose := delivered.Load()

	publishers.Wait()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, afterClose, delivered.Load())
}

func TestPublishIgnoresCallerCancellation(t *testing.T) {
	bus := NewBus()
	var observed error
	bus.Subscribe("ctx", func(ctx context.Context, evt Event) error {
		observed = ctx.Err()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, Event{Type: RequestCreated})
	require.NoError(t, bus.Close())
	assert.NoError(t, observed)
}

func TestWebhookDelivers(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := NewBus()
	n := SubscribeWebhooks(bus, []config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Events: []string{"request.transitioned"}},
		{URL: srv.URL + "/off", Enabled: boolPtr(false)},
	})
	require.Equal(t, 1, n)

	from := domain.StateDraft
	bus.Publish(context.Background(), Event{ID: "evt-1", Type: RequestTransitioned, RequestID: 42, From: &from, To: domain.StateSent, ActorID: "owner-1"})
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "request.transitioned", headers.Get("X-AOCR-Event"))
	assert.Equal(t, "evt-1", headers.Get("X-AOCR-Delivery"))
	assert.Equal(t, "42", headers.Get("X-AOCR-Request"))
	assert.Equal(t, "s3cret", headers.Get("X-AOCR-Secret"))
	assert.Equal(t, domain.StateSent, body.To)
	require.NotNil(t, body.From)
	assert.Equal(t, domain.StateDraft, *body.From)
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(config.WebhookConfig{URL: srv.URL}, nil).Handle(context.Background(), Event{Type: RequestCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func boolPtr(v bool) *bool { return &v }
