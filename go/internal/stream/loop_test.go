package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/keys"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
	"github.com/emojidash/emojidash/go/internal/store/memory"
)

const testWait = 5 * time.Second

type fakeSink struct {
	mu   sync.Mutex
	got  []events.Event
	sent chan events.Event
	fail error
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(chan events.Event, 64)}
}

func (s *fakeSink) Send(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, ev)
	s.sent <- ev
	return nil
}

func (s *fakeSink) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *fakeSink) events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.got))
	copy(out, s.got)
	return out
}

type fakeAdvancer struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newFakeAdvancer() *fakeAdvancer {
	return &fakeAdvancer{ch: make(chan string, 64)}
}

func (a *fakeAdvancer) record(name string, round int) (bool, error) {
	a.mu.Lock()
	call := fmt.Sprintf("%s:%d", name, round)
	a.calls = append(a.calls, call)
	a.mu.Unlock()
	a.ch <- call
	return true, nil
}

func (a *fakeAdvancer) PreloadRound(_ context.Context, _ string, round int) (bool, error) {
	return a.record("preload", round)
}

func (a *fakeAdvancer) CheckAndStartRound(_ context.Context, _ string, round int) (bool, error) {
	return a.record("start", round)
}

func (a *fakeAdvancer) CheckAndEndRound(_ context.Context, _ string, round int) (bool, error) {
	return a.record("end", round)
}

func (a *fakeAdvancer) CheckAndProgress(_ context.Context, _ string, round int) (bool, error) {
	return a.record("progress", round)
}

type fakeSweeper struct {
	ch chan struct{}
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{ch: make(chan struct{}, 64)}
}

func (s *fakeSweeper) Check(context.Context, string, ...string) error {
	s.ch <- struct{}{}
	return nil
}

type harness struct {
	runner      *Runner
	repo        *lobby.Repository
	broadcaster *events.Broadcaster
	st          *memory.Store
	clock       *clockwork.FakeClock
	advancer    *fakeAdvancer
	sweeper     *fakeSweeper
	rules       config.Rules
}

func newHarness(t *testing.T, rules config.Rules) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st := memory.New(clock)
	t.Cleanup(func() { st.Close() })

	repo := lobby.NewRepository(st, clock, lobby.DefaultRepositoryConfig())
	advancer := newFakeAdvancer()
	sweeper := newFakeSweeper()
	return &harness{
		runner:      NewRunner(repo, events.NewReader(st), events.NewStoreBus(st), advancer, sweeper, rules, clock),
		repo:        repo,
		broadcaster: events.NewBroadcaster(st, events.NewStoreBus(st), rules.EventTTL(), clock),
		st:          st,
		clock:       clock,
		advancer:    advancer,
		sweeper:     sweeper,
		rules:       rules,
	}
}

func (h *harness) seed(t *testing.T, sess *models.Session) {
	t.Helper()
	if err := h.repo.SaveSession(context.Background(), sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}

func waitingSession(code string) *models.Session {
	return &models.Session{
		Code:   code,
		HostID: "p1",
		State:  models.StateWaiting,
		Players: []models.Player{
			{ID: "p1", DisplayName: "Ada", IsHost: true},
			{ID: "p2", DisplayName: "Grace"},
		},
	}
}

// start launches Run in the background and returns its error channel.
func (h *harness) start(ctx context.Context, code, playerID string, cursor int64, sink Sink) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.runner.Run(ctx, code, playerID, cursor, sink)
	}()
	return errCh
}

func awaitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testWait):
		t.Fatal("stream loop did not exit")
		return nil
	}
}

func awaitEvent(t *testing.T, sink *fakeSink) events.Event {
	t.Helper()
	select {
	case ev := <-sink.sent:
		return ev
	case <-time.After(testWait):
		t.Fatal("no event delivered")
		return events.Event{}
	}
}

func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func awaitCall(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("transition call = %q, want %q", got, want)
		}
	case <-time.After(testWait):
		t.Fatalf("no %s attempt", want)
	}
}

func TestRunDeliversBacklogAfterCursor(t *testing.T) {
	h := newHarness(t, config.DefaultRules())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.seed(t, waitingSession("AAAA22"))
	for i := 0; i < 3; i++ {
		if err := h.broadcaster.Broadcast(ctx, "AAAA22", events.TypeLobbyUpdated, nil); err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	}
	if err := h.broadcaster.BroadcastTo(ctx, "AAAA22", "p2", events.TypeWrongEmoji, nil); err != nil {
		t.Fatalf("BroadcastTo: %v", err)
	}
	backlog, err := events.NewReader(h.st).Since(ctx, "AAAA22", 0)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(backlog) != 4 {
		t.Fatalf("backlog = %d events, want 4", len(backlog))
	}

	// Resume after the first event. The catch-up poll must deliver the
	// later broadcasts but skip the one scoped to another player.
	sink := newFakeSink()
	errCh := h.start(ctx, "AAAA22", "p1", backlog[0].Timestamp, sink)

	first := awaitEvent(t, sink)
	second := awaitEvent(t, sink)
	if first.Timestamp != backlog[1].Timestamp || second.Timestamp != backlog[2].Timestamp {
		t.Fatalf("delivered (%d, %d), want (%d, %d)",
			first.Timestamp, second.Timestamp, backlog[1].Timestamp, backlog[2].Timestamp)
	}

	cancel()
	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sink.events(); len(got) != 2 {
		t.Fatalf("sink saw %d events, want 2: %+v", len(got), got)
	}
}

func TestRunWritesAndDropsHeartbeat(t *testing.T) {
	rules := config.DefaultRules()
	rules.SweepEveryPolls = 1
	h := newHarness(t, rules)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.seed(t, waitingSession("AAAA22"))
	sink := newFakeSink()
	errCh := h.start(ctx, "AAAA22", "p1", 0, sink)

	// The first sweep request proves the catch-up poll ran, and the
	// initial heartbeat lands before any polling starts.
	awaitSignal(t, h.sweeper.ch, "initial sweep")
	if _, err := h.st.Get(ctx, keys.Heartbeat("AAAA22", "p1")); err != nil {
		t.Fatalf("initial heartbeat missing: %v", err)
	}

	cancel()
	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := h.st.Get(context.Background(), keys.Heartbeat("AAAA22", "p1")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("heartbeat after close err = %v, want ErrNotFound", err)
	}
}

func TestRunDedupsPushAndPoll(t *testing.T) {
	rules := config.DefaultRules()
	rules.SweepEveryPolls = 1
	h := newHarness(t, rules)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.seed(t, waitingSession("AAAA22"))
	sink := newFakeSink()
	errCh := h.start(ctx, "AAAA22", "p1", 0, sink)

	// Catch-up poll done once the first sweep request shows up.
	awaitSignal(t, h.sweeper.ch, "initial sweep")

	// The broadcast reaches the loop over the push bus first.
	if err := h.broadcaster.Broadcast(ctx, "AAAA22", events.TypePlayerJoined, nil); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	pushed := awaitEvent(t, sink)

	// The next poll reads the same event from the queue. The dedup set
	// must swallow it.
	h.clock.BlockUntil(3)
	h.clock.Advance(h.rules.IdlePoll())
	awaitSignal(t, h.sweeper.ch, "post-poll sweep")

	cancel()
	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := sink.events()
	if len(got) != 1 || got[0].Timestamp != pushed.Timestamp {
		t.Fatalf("sink saw %d events, want exactly the pushed one: %+v", len(got), got)
	}
}

func TestRunClosesWhenSinkRejects(t *testing.T) {
	h := newHarness(t, config.DefaultRules())
	ctx := context.Background()

	h.seed(t, waitingSession("AAAA22"))
	if err := h.broadcaster.Broadcast(ctx, "AAAA22", events.TypeLobbyUpdated, nil); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	sink := newFakeSink()
	sink.fail = errors.New("write: broken pipe")
	errCh := h.start(ctx, "AAAA22", "p1", 0, sink)

	// The catch-up poll hits the dead sink and the loop winds down
	// instead of spinning against it.
	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := h.st.Get(ctx, keys.Heartbeat("AAAA22", "p1")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("heartbeat after sink failure err = %v, want ErrNotFound", err)
	}
}

func TestRunClosesWhenLobbyGone(t *testing.T) {
	h := newHarness(t, config.DefaultRules())
	sink := newFakeSink()
	errCh := h.start(context.Background(), "ZZZZ99", "p1", 0, sink)

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run on missing lobby: %v", err)
	}
	if len(sink.events()) != 0 {
		t.Fatalf("sink saw events for a missing lobby: %+v", sink.events())
	}
}

func TestRunClosesWhenPlayerEvicted(t *testing.T) {
	h := newHarness(t, config.DefaultRules())
	h.seed(t, waitingSession("AAAA22"))

	sink := newFakeSink()
	errCh := h.start(context.Background(), "AAAA22", "ghost", 0, sink)

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run for evicted player: %v", err)
	}
	if _, err := h.st.Get(context.Background(), keys.Heartbeat("AAAA22", "ghost")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("heartbeat left behind, err = %v, want ErrNotFound", err)
	}
}

func TestRunNudgesDueTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sess *models.Session, now time.Time, rules config.Rules)
		want  string
	}{
		{
			name: "countdown elapsed starts round",
			setup: func(sess *models.Session, now time.Time, rules config.Rules) {
				at := now.Add(-rules.Countdown())
				sess.State = models.StateCountdown
				sess.CurrentRound = 1
				sess.CountdownStartedAt = &at
			},
			want: "start:1",
		},
		{
			name: "late countdown preloads missing board",
			setup: func(sess *models.Session, now time.Time, rules config.Rules) {
				at := now.Add(-rules.PreloadAfter())
				sess.State = models.StateCountdown
				sess.CurrentRound = 2
				sess.CountdownStartedAt = &at
			},
			want: "preload:2",
		},
		{
			name: "everyone found ends round early",
			setup: func(sess *models.Session, now time.Time, rules config.Rules) {
				started := now.Add(-2 * time.Second)
				ends := started.Add(rules.RoundDuration())
				sess.State = models.StatePlaying
				sess.CurrentRound = 1
				sess.SetRound(&models.Round{
					Number:      1,
					TargetToken: "🦊",
					StartedAt:   &started,
					EndsAt:      &ends,
					FoundBy: []models.Find{
						{PlayerID: "p1", At: now},
						{PlayerID: "p2", At: now},
					},
				})
			},
			want: "end:1",
		},
		{
			name: "round end hold elapsed progresses",
			setup: func(sess *models.Session, now time.Time, rules config.Rules) {
				at := now.Add(-rules.RoundEndHold())
				sess.State = models.StateRoundEnd
				sess.CurrentRound = 3
				sess.RoundEndedAt = &at
			},
			want: "progress:3",
		},
		{
			name: "final round uses the short hold",
			setup: func(sess *models.Session, now time.Time, rules config.Rules) {
				at := now.Add(-rules.FinalHold())
				sess.State = models.StateRoundEnd
				sess.CurrentRound = rules.MaxRounds
				sess.RoundEndedAt = &at
			},
			want: "progress:5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.DefaultRules())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sess := waitingSession("AAAA22")
			tt.setup(sess, h.clock.Now(), h.rules)
			h.seed(t, sess)

			sink := newFakeSink()
			errCh := h.start(ctx, "AAAA22", "p1", 0, sink)

			awaitCall(t, h.advancer.ch, tt.want)

			cancel()
			if err := awaitErr(t, errCh); err != nil {
				t.Fatalf("Run: %v", err)
			}
		})
	}
}

func TestRunReconnectKeepsPresence(t *testing.T) {
	rules := config.DefaultRules()
	rules.ReconnectSeconds = 1
	rules.HeartbeatSeconds = 3600
	rules.ActivePollMs = 3600000
	rules.IdlePollMs = 3600000
	h := newHarness(t, rules)

	h.seed(t, waitingSession("AAAA22"))
	sink := newFakeSink()
	errCh := h.start(context.Background(), "AAAA22", "p1", 0, sink)

	h.clock.BlockUntil(3)
	h.clock.Advance(2 * time.Second)

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The housekeeping close must leave presence alive so the player is
	// not evicted while the client re-dials.
	if _, err := h.st.Get(context.Background(), keys.Heartbeat("AAAA22", "p1")); err != nil {
		t.Fatalf("heartbeat gone after reconnect close: %v", err)
	}
}
