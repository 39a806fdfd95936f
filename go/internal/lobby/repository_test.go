package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
	"github.com/emojidash/emojidash/go/internal/store/memory"
)

func newTestRepo(t *testing.T) (*Repository, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st := memory.New(clock)
	t.Cleanup(func() { st.Close() })
	return NewRepository(st, clock, DefaultRepositoryConfig()), st, clock
}

func testSession(code string) *models.Session {
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

func TestSessionRoundTrip(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetSession(ctx, "NOPE42"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSession(missing) err = %v, want ErrNotFound", err)
	}

	want := testSession("ABC234")
	if err := repo.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := repo.GetSession(ctx, "ABC234")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Code != want.Code || got.HostID != want.HostID || got.State != want.State {
		t.Fatalf("session mangled in round trip: %+v", got)
	}
	if len(got.Players) != 2 || got.Players[0].DisplayName != "Ada" {
		t.Fatalf("players mangled in round trip: %+v", got.Players)
	}

	if ok, _ := repo.SessionExists(ctx, "ABC234"); !ok {
		t.Error("SessionExists = false for saved session")
	}
}

func TestCreateSessionClaimsCode(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	ok, err := repo.CreateSession(ctx, testSession("ABC234"))
	if err != nil || !ok {
		t.Fatalf("CreateSession = (%v, %v), want claimed", ok, err)
	}

	// A second lobby drawing the same code must lose, not overwrite.
	other := testSession("ABC234")
	other.HostID = "intruder"
	ok, err = repo.CreateSession(ctx, other)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if ok {
		t.Fatal("second CreateSession claimed an occupied code")
	}

	got, err := repo.GetSession(ctx, "ABC234")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.HostID != "p1" {
		t.Fatalf("original session overwritten, host = %s", got.HostID)
	}
}

func TestSessionIdleExpiry(t *testing.T) {
	repo, _, clock := newTestRepo(t)
	ctx := context.Background()

	sess := testSession("ABC234")
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// Writes refresh the idle clock.
	clock.Advance(90 * time.Minute)
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	clock.Advance(90 * time.Minute)
	if ok, _ := repo.SessionExists(ctx, "ABC234"); !ok {
		t.Fatal("session expired despite recent write")
	}

	clock.Advance(2 * time.Hour)
	if _, err := repo.GetSession(ctx, "ABC234"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("idle session err = %v, want ErrNotFound", err)
	}
}

func TestHeartbeatAge(t *testing.T) {
	repo, _, clock := newTestRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.HeartbeatAge(ctx, "ABC234", "p1"); err != nil || ok {
		t.Fatalf("HeartbeatAge before any beat = (ok=%v, err=%v), want absent", ok, err)
	}

	if err := repo.WriteHeartbeat(ctx, "ABC234", "p1"); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}

	clock.Advance(7 * time.Second)
	age, ok, err := repo.HeartbeatAge(ctx, "ABC234", "p1")
	if err != nil || !ok {
		t.Fatalf("HeartbeatAge = (ok=%v, err=%v), want present", ok, err)
	}
	if age != 7*time.Second {
		t.Fatalf("age = %v, want 7s", age)
	}

	// A fresh beat resets the age.
	if err := repo.WriteHeartbeat(ctx, "ABC234", "p1"); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}
	age, _, _ = repo.HeartbeatAge(ctx, "ABC234", "p1")
	if age != 0 {
		t.Fatalf("age after fresh beat = %v, want 0", age)
	}

	if err := repo.DeleteHeartbeat(ctx, "ABC234", "p1"); err != nil {
		t.Fatalf("DeleteHeartbeat: %v", err)
	}
	if _, ok, _ := repo.HeartbeatAge(ctx, "ABC234", "p1"); ok {
		t.Fatal("heartbeat survived deletion")
	}
}

func TestJoinedAge(t *testing.T) {
	repo, _, clock := newTestRepo(t)
	ctx := context.Background()

	if err := repo.MarkJoined(ctx, "ABC234", "p2"); err != nil {
		t.Fatalf("MarkJoined: %v", err)
	}

	clock.Advance(12 * time.Second)
	age, ok, err := repo.JoinedAge(ctx, "ABC234", "p2")
	if err != nil || !ok {
		t.Fatalf("JoinedAge = (ok=%v, err=%v), want present", ok, err)
	}
	if age != 12*time.Second {
		t.Fatalf("age = %v, want 12s", age)
	}

	// The mark ages out on its own eventually.
	clock.Advance(11 * time.Minute)
	if _, ok, _ := repo.JoinedAge(ctx, "ABC234", "p2"); ok {
		t.Fatal("join mark outlived its TTL")
	}
}

func TestDeleteSessionKeys(t *testing.T) {
	repo, st, _ := newTestRepo(t)
	ctx := context.Background()

	repo.SaveSession(ctx, testSession("ABC234"))
	repo.WriteHeartbeat(ctx, "ABC234", "p1")
	repo.WriteHeartbeat(ctx, "ABC234", "p2")
	repo.MarkJoined(ctx, "ABC234", "p1")
	st.SetIfAbsent(ctx, "lobby:ABC234:lock:round-1-start", "1", time.Minute)
	st.ListAppend(ctx, "lobby:ABC234:events", "{}")

	// A neighbor lobby that must survive the teardown.
	repo.SaveSession(ctx, testSession("XYZ789"))
	repo.WriteHeartbeat(ctx, "XYZ789", "p1")

	if err := repo.DeleteSessionKeys(ctx, "ABC234"); err != nil {
		t.Fatalf("DeleteSessionKeys: %v", err)
	}

	remaining, err := st.Keys(ctx, "lobby:ABC234*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("keys survived teardown: %v", remaining)
	}

	if ok, _ := repo.SessionExists(ctx, "XYZ789"); !ok {
		t.Fatal("teardown of one lobby destroyed another")
	}
	if _, ok, _ := repo.HeartbeatAge(ctx, "XYZ789", "p1"); !ok {
		t.Fatal("teardown of one lobby ate a neighbor's heartbeat")
	}
}
