package raffle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

type testFixture struct {
	engine   *Engine
	provider *StubProvider
	sink     *StubSink
	store    *MemoryStore
	bus      *events.Bus
	clock    *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestFixture(t *testing.T, entranceFee int64, interval time.Duration) *testFixture {
	t.Helper()

	f := &testFixture{
		provider: NewStubProvider(),
		sink:     &StubSink{},
		store:    NewMemoryStore(),
		bus:      events.NewBus(),
		clock:    &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	engine, err := New(Config{
		EntranceFee: entranceFee,
		Interval:    interval,
		Randomness: RandomnessConfig{
			GasLane:          "lane-1",
			SubscriptionID:   42,
			CallbackGasLimit: 500_000,
		},
		Provider: f.provider,
		Sink:     f.sink,
		Store:    f.store,
		Events:   f.bus,
		Logger:   logger.NewDefault("raffle-test"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	engine.now = f.clock.now
	engine.lastTimestamp = f.clock.now()
	f.engine = engine
	return f
}

// enter admits a player and fails the test on error.
func (f *testFixture) enter(t *testing.T, address string, amount int64) {
	t.Helper()
	if err := f.engine.Enter(context.Background(), address, amount); err != nil {
		t.Fatalf("Enter(%s, %d) failed: %v", address, amount, err)
	}
}

// trigger runs a full eligible selection trigger and returns the request ID.
func (f *testFixture) trigger(t *testing.T) string {
	t.Helper()
	f.clock.advance(f.engine.Interval() + time.Second)
	requestID, err := f.engine.TriggerSelection(context.Background())
	if err != nil {
		t.Fatalf("TriggerSelection failed: %v", err)
	}
	return requestID
}

func TestEngine_New_Validation(t *testing.T) {
	provider := NewStubProvider()
	sink := &StubSink{}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero entrance fee", Config{Interval: time.Minute, Provider: provider, Sink: sink}},
		{"zero interval", Config{EntranceFee: 1, Provider: provider, Sink: sink}},
		{"nil provider", Config{EntranceFee: 1, Interval: time.Minute, Sink: sink}},
		{"nil sink", Config{EntranceFee: 1, Interval: time.Minute, Provider: provider}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("expected constructor error")
			}
		})
	}

	engine, err := New(Config{EntranceFee: 1, Interval: time.Minute, Provider: provider, Sink: sink})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if engine.State() != StateOpen {
		t.Errorf("initial state = %s, want %s", engine.State(), StateOpen)
	}
}

func TestEngine_Enter_AdmissionGating(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)

	for _, amount := range []int64{0, 1, 50, 99} {
		if err := f.engine.Enter(ctx, "alice", amount); !errors.Is(err, ErrInsufficientEntranceFee) {
			t.Errorf("Enter(alice, %d) = %v, want ErrInsufficientEntranceFee", amount, err)
		}
	}
	if f.engine.PlayerCount() != 0 {
		t.Errorf("players = %d after rejected entries, want 0", f.engine.PlayerCount())
	}
	if f.engine.PoolBalance() != 0 {
		t.Errorf("pool = %d after rejected entries, want 0", f.engine.PoolBalance())
	}

	f.enter(t, "alice", 100)
	f.enter(t, "bob", 150) // overpay is admitted in full

	if f.engine.PlayerCount() != 2 {
		t.Errorf("players = %d, want 2", f.engine.PlayerCount())
	}
	if f.engine.PoolBalance() != 250 {
		t.Errorf("pool = %d, want 250", f.engine.PoolBalance())
	}

	// The same address may enter again and occupies a second slot.
	f.enter(t, "alice", 100)
	first, _ := f.engine.Player(0)
	third, _ := f.engine.Player(2)
	if first != "alice" || third != "alice" {
		t.Errorf("players[0]=%s players[2]=%s, want alice in both slots", first, third)
	}

	if err := f.engine.Enter(ctx, "  ", 100); err == nil {
		t.Error("expected error for blank sender")
	}
}

func TestEngine_Enter_StateGating(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)
	f.enter(t, "alice", 100)
	f.trigger(t)

	if state := f.engine.State(); state != StateCalculating {
		t.Fatalf("state = %s, want %s", state, StateCalculating)
	}
	for _, amount := range []int64{100, 1_000_000} {
		if err := f.engine.Enter(ctx, "bob", amount); !errors.Is(err, ErrRaffleNotOpen) {
			t.Errorf("Enter during calculating = %v, want ErrRaffleNotOpen", err)
		}
	}
	if f.engine.PlayerCount() != 1 {
		t.Errorf("players = %d, want 1", f.engine.PlayerCount())
	}
}

func TestEngine_CheckEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("false without players", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.clock.advance(2 * time.Minute)
		if f.engine.CheckEligibility(ctx) {
			t.Error("eligible with no players")
		}
	})

	t.Run("false before interval elapses", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.clock.advance(30 * time.Second)
		if f.engine.CheckEligibility(ctx) {
			t.Error("eligible before interval elapsed")
		}
		// Elapsed exactly equal to the interval is still not enough.
		f.clock.advance(30 * time.Second)
		if f.engine.CheckEligibility(ctx) {
			t.Error("eligible at exactly the interval boundary")
		}
	})

	t.Run("false with zero balance", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.engine.poolBalance = 0
		f.clock.advance(2 * time.Minute)
		if f.engine.CheckEligibility(ctx) {
			t.Error("eligible with zero pool balance")
		}
	})

	t.Run("false while calculating", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.trigger(t)
		f.clock.advance(2 * time.Minute)
		if f.engine.CheckEligibility(ctx) {
			t.Error("eligible while calculating")
		}
	})

	t.Run("true when all conditions hold", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.clock.advance(time.Minute + time.Second)
		if !f.engine.CheckEligibility(ctx) {
			t.Error("not eligible with all conditions met")
		}
		// Read-only: repeated checks do not change state.
		if !f.engine.CheckEligibility(ctx) {
			t.Error("eligibility check was not idempotent")
		}
	})
}

func TestEngine_TriggerSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects with diagnostic snapshot when not eligible", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		// Interval has not elapsed.
		_, err := f.engine.TriggerSelection(ctx)
		var notNeeded *UpkeepNotNeededError
		if !errors.As(err, &notNeeded) {
			t.Fatalf("TriggerSelection = %v, want UpkeepNotNeededError", err)
		}
		if notNeeded.Balance != 100 || notNeeded.Players != 1 || notNeeded.State != StateOpen {
			t.Errorf("snapshot = %+v, want balance=100 players=1 state=open", notNeeded)
		}
	})

	t.Run("issues request and reserves state", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		requestID := f.trigger(t)

		if requestID == "" || requestID != f.provider.LastID {
			t.Errorf("request id = %q, want provider id %q", requestID, f.provider.LastID)
		}
		if f.engine.State() != StateCalculating {
			t.Errorf("state = %s, want %s", f.engine.State(), StateCalculating)
		}
		if f.engine.PendingRequestID() != requestID {
			t.Errorf("pending request id = %q, want %q", f.engine.PendingRequestID(), requestID)
		}

		// Config is passed verbatim together with the protocol constants.
		req := f.provider.Requests[0]
		if req.GasLane != "lane-1" || req.SubscriptionID != 42 || req.CallbackGasLimit != 500_000 {
			t.Errorf("request config = %+v, want configured values", req)
		}
		if req.RequestConfirmations != RequestConfirmations || req.NumWords != NumWords {
			t.Errorf("request constants = %+v, want confirmations=%d words=%d", req, RequestConfirmations, NumWords)
		}

		// A pending draw is recorded.
		draw, err := f.store.GetDrawByRequestID(ctx, requestID)
		if err != nil {
			t.Fatalf("GetDrawByRequestID failed: %v", err)
		}
		if draw.Status != DrawStatusPending || draw.PlayerCount != 1 {
			t.Errorf("draw = %+v, want pending with 1 player", draw)
		}
	})

	t.Run("single in-flight request", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.trigger(t)

		f.clock.advance(2 * time.Minute)
		_, err := f.engine.TriggerSelection(ctx)
		var notNeeded *UpkeepNotNeededError
		if !errors.As(err, &notNeeded) {
			t.Fatalf("second trigger = %v, want UpkeepNotNeededError", err)
		}
		if notNeeded.State != StateCalculating {
			t.Errorf("snapshot state = %s, want %s", notNeeded.State, StateCalculating)
		}
		if len(f.provider.Requests) != 1 {
			t.Errorf("provider requests = %d, want 1", len(f.provider.Requests))
		}
	})

	t.Run("reopens when the provider rejects the request", func(t *testing.T) {
		f := newTestFixture(t, 100, time.Minute)
		f.enter(t, "alice", 100)
		f.provider.Err = errors.New("subscription not funded")

		f.clock.advance(2 * time.Minute)
		if _, err := f.engine.TriggerSelection(ctx); err == nil {
			t.Fatal("expected provider error")
		}
		if f.engine.State() != StateOpen {
			t.Errorf("state = %s after provider failure, want %s", f.engine.State(), StateOpen)
		}

		// The raffle recovers once the provider does.
		f.provider.Err = nil
		if _, err := f.engine.TriggerSelection(ctx); err != nil {
			t.Errorf("trigger after recovery failed: %v", err)
		}
	})
}

func TestEngine_Fulfill_WinnerDistribution(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)

	// Two slots for alice, one for bob: alice wins with probability 2/3.
	f.enter(t, "alice", 100)
	f.enter(t, "alice", 100)
	f.enter(t, "bob", 100)
	requestID := f.trigger(t)

	// 3 mod 3 = 0 selects the first slot.
	if err := f.provider.Deliver(ctx, requestID, 3); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if f.engine.RecentWinner() != "alice" {
		t.Errorf("winner = %s, want alice", f.engine.RecentWinner())
	}
	if len(f.sink.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(f.sink.Transfers))
	}
	if tx := f.sink.Transfers[0]; tx.To != "alice" || tx.Amount != 300 {
		t.Errorf("transfer = %+v, want 300 to alice", tx)
	}
}

func TestEngine_Fulfill_AtomicPayout(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)
	f.enter(t, "alice", 100)
	f.enter(t, "bob", 100)
	requestID := f.trigger(t)

	before := f.engine.Snapshot()
	f.sink.Fail = true

	err := f.provider.Deliver(ctx, requestID, 1)
	if !errors.Is(err, ErrPayoutTransferFailed) {
		t.Fatalf("Deliver with failing sink = %v, want ErrPayoutTransferFailed", err)
	}

	after := f.engine.Snapshot()
	if after != before {
		t.Errorf("state changed on failed payout:\n before %+v\n after  %+v", before, after)
	}
	if after.State != StateCalculating {
		t.Errorf("state = %s, want %s (retry possible)", after.State, StateCalculating)
	}
	if f.engine.RecentWinner() != "" {
		t.Errorf("recent winner = %q after failed payout, want unset", f.engine.RecentWinner())
	}

	// Redelivery succeeds once the sink recovers, with the same words.
	f.sink.Fail = false
	if err := f.provider.Deliver(ctx, requestID, 1); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if f.engine.RecentWinner() != "bob" {
		t.Errorf("winner = %s, want bob (1 mod 2)", f.engine.RecentWinner())
	}
}

func TestEngine_Fulfill_ResetCompleteness(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)
	f.enter(t, "alice", 100)
	f.enter(t, "bob", 100)
	requestID := f.trigger(t)

	lastBefore := f.engine.LastTimestamp()
	f.clock.advance(5 * time.Second)

	if err := f.provider.Deliver(ctx, requestID, 0); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	snap := f.engine.Snapshot()
	if snap.State != StateOpen {
		t.Errorf("state = %s, want %s", snap.State, StateOpen)
	}
	if snap.PlayerCount != 0 {
		t.Errorf("players = %d, want 0", snap.PlayerCount)
	}
	if snap.PoolBalance != 0 {
		t.Errorf("pool = %d, want 0", snap.PoolBalance)
	}
	if snap.PendingRequestID != "" {
		t.Errorf("pending request id = %q, want empty", snap.PendingRequestID)
	}
	if snap.RecentWinner != "alice" {
		t.Errorf("winner = %s, want alice (0 mod 2)", snap.RecentWinner)
	}
	if !snap.LastTimestamp.After(lastBefore) {
		t.Errorf("last timestamp %s did not increase past %s", snap.LastTimestamp, lastBefore)
	}

	draw, err := f.store.GetDrawByRequestID(ctx, requestID)
	if err != nil {
		t.Fatalf("GetDrawByRequestID failed: %v", err)
	}
	if draw.Status != DrawStatusFulfilled || draw.Winner != "alice" || draw.Payout != 200 {
		t.Errorf("draw = %+v, want fulfilled, alice, 200", draw)
	}
}

func TestEngine_Fulfill_Guards(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)
	f.enter(t, "alice", 100)

	if err := f.engine.Fulfill(ctx, "stray", nil); !errors.Is(err, ErrNoSelectionInProgress) {
		t.Errorf("Fulfill while open = %v, want ErrNoSelectionInProgress", err)
	}

	requestID := f.trigger(t)
	if err := f.engine.Fulfill(ctx, requestID, nil); !errors.Is(err, ErrEmptyRandomWords) {
		t.Errorf("Fulfill with no words = %v, want ErrEmptyRandomWords", err)
	}

	// The valid request is still deliverable afterwards.
	if err := f.provider.Deliver(ctx, requestID, 0); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := f.engine.Fulfill(ctx, requestID, nil); !errors.Is(err, ErrNoSelectionInProgress) {
		t.Errorf("second fulfillment = %v, want ErrNoSelectionInProgress", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 1, 30*time.Second)

	players := []string{"p1", "p2", "p3", "p4"}
	for _, p := range players {
		f.enter(t, p, 1)
	}
	if f.engine.PoolBalance() != 4 {
		t.Fatalf("pool = %d, want 4", f.engine.PoolBalance())
	}

	requestID := f.trigger(t)
	if f.engine.State() != StateCalculating {
		t.Fatalf("state = %s, want %s", f.engine.State(), StateCalculating)
	}

	// 7 mod 4 = 3: the fourth participant wins the whole pool.
	if err := f.provider.Deliver(ctx, requestID, 7); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if f.engine.RecentWinner() != "p4" {
		t.Errorf("winner = %s, want p4", f.engine.RecentWinner())
	}
	if tx := f.sink.Transfers[0]; tx.To != "p4" || tx.Amount != 4 {
		t.Errorf("transfer = %+v, want 4 to p4", tx)
	}
	if f.engine.State() != StateOpen || f.engine.PlayerCount() != 0 {
		t.Errorf("post-draw state = %s players = %d, want open and empty", f.engine.State(), f.engine.PlayerCount())
	}

	// The next round starts cleanly.
	f.enter(t, "p5", 1)
	next := f.trigger(t)
	if next == requestID {
		t.Error("request ids must be unique per selection")
	}
}

func TestEngine_EventsPublished(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, 100, time.Minute)
	client := f.bus.Subscribe()
	defer f.bus.Unsubscribe(client)

	f.enter(t, "alice", 100)
	requestID := f.trigger(t)
	if err := f.provider.Deliver(ctx, requestID, 5); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	want := []string{events.TypeEntrantJoined, events.TypeSelectionRequested, events.TypeWinnerSelected}
	for _, eventType := range want {
		select {
		case evt := <-client.Chan():
			if evt.Type != eventType {
				t.Errorf("event = %s, want %s", evt.Type, eventType)
			}
		default:
			t.Fatalf("missing event %s", eventType)
		}
	}
}
