package duel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/msgcat"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/problems"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/registry"
)

type fakeMessenger struct {
	mu    sync.Mutex
	next  int
	sends []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sends = append(f.sends, text)
	return fmt.Sprintf("msg-%d", f.next), nil
}

func (f *fakeMessenger) AddReaction(context.Context, string, string) error { return nil }

func (f *fakeMessenger) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.sends, "\n---\n")
}

type fakeAcks struct {
	emoji string
	err   error
}

func (f *fakeAcks) Await(context.Context, string, string, []string, time.Duration) (string, error) {
	return f.emoji, f.err
}

type fakeSubs struct {
	subs []codeforces.Submission
	err  error
}

func (f *fakeSubs) UserStatus(context.Context, string, int, int) ([]codeforces.Submission, error) {
	return f.subs, f.err
}

type fakeSelector struct {
	problem *codeforces.ProblemRef
	err     error
}

func (f *fakeSelector) Select(context.Context, string, string, int) (*codeforces.ProblemRef, error) {
	return f.problem, f.err
}

type flakyStore struct {
	registry.Store
	mu       sync.Mutex
	failSave bool
}

func (s *flakyStore) Save(ctx context.Context, doc registry.Document) error {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.Store.Save(ctx, doc)
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.failSave = v
	s.mu.Unlock()
}

func testCatalog(t *testing.T) *msgcat.Catalog {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	return cat
}

func testProblem() *codeforces.ProblemRef {
	return &codeforces.ProblemRef{ContestID: 1700, Index: "A", Name: "Two Towers", Rating: 900}
}

func newTestManager(t *testing.T, acks *fakeAcks, subs *fakeSubs, sel *fakeSelector, opts Options) (*Manager, *fakeMessenger, *registry.Registry, *flakyStore) {
	t.Helper()
	store := &flakyStore{Store: registry.NewFileStore(filepath.Join(t.TempDir(), "users.json"))}
	users := registry.New(store)
	ctx := context.Background()
	if err := users.Register(ctx, "room1", "challenger", "alice"); err != nil {
		t.Fatalf("Register challenger: %v", err)
	}
	if err := users.Register(ctx, "room1", "opponent", "bob"); err != nil {
		t.Fatalf("Register opponent: %v", err)
	}
	out := &fakeMessenger{}
	m := NewManager(users, sel, subs, out, acks, testCatalog(t), opts)
	return m, out, users, store
}

func acceptedAt(p *codeforces.ProblemRef, at time.Time) codeforces.Submission {
	return codeforces.Submission{
		ID:                  42,
		CreationTimeSeconds: at.Unix(),
		Verdict:             codeforces.VerdictOK,
		Problem:             *p,
	}
}

func TestPointsFormula(t *testing.T) {
	cases := map[int]int{800: 5, 900: 6, 1500: 12, 3500: 32}
	for rating, want := range cases {
		if got := Points(rating); got != want {
			t.Fatalf("Points(%d) = %d, want %d", rating, got, want)
		}
	}
}

func TestValidRating(t *testing.T) {
	for _, r := range []int{800, 1200, 3500} {
		if !ValidRating(r) {
			t.Fatalf("ValidRating(%d) = false", r)
		}
	}
	for _, r := range []int{700, 3600, 850, 0, -800} {
		if ValidRating(r) {
			t.Fatalf("ValidRating(%d) = true", r)
		}
	}
}

func TestChallengeGuards(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{problem: testProblem()}, Options{})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 850); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if err := m.Challenge(ctx, "room1", "challenger", "challenger", false, 900); !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("expected ErrSelfChallenge, got %v", err)
	}
	if err := m.Challenge(ctx, "room1", "challenger", "opponent", true, 900); !errors.Is(err, ErrOpponentIneligible) {
		t.Fatalf("expected ErrOpponentIneligible, got %v", err)
	}
	if err := m.Challenge(ctx, "room1", "challenger", "ghost", false, 900); !errors.Is(err, registry.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestChallengeRejectedWhileSessionActive(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{problem: testProblem()}, Options{})
	m.mu.Lock()
	m.sessions["room1"] = &Session{ID: "s1", Room: "room1", Phase: PhasePendingAcceptance}
	m.mu.Unlock()

	err := m.Challenge(context.Background(), "room1", "challenger", "opponent", false, 900)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestChallengeDeclined(t *testing.T) {
	m, out, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiDecline}, &fakeSubs{}, &fakeSelector{problem: testProblem()}, Options{})
	if err := m.Challenge(context.Background(), "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("session should be cleared after decline")
	}
	if !strings.Contains(out.sent(), "declined") {
		t.Fatalf("missing decline announcement:\n%s", out.sent())
	}
}

func TestChallengeExpires(t *testing.T) {
	m, out, _, _ := newTestManager(t, &fakeAcks{err: errors.New("window elapsed")}, &fakeSubs{}, &fakeSelector{problem: testProblem()}, Options{})
	if err := m.Challenge(context.Background(), "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("session should be cleared after expiry")
	}
	if !strings.Contains(out.sent(), "expired") {
		t.Fatalf("missing expiry announcement:\n%s", out.sent())
	}
}

func TestChallengeCancelledWhenNoProblem(t *testing.T) {
	m, out, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{err: problems.ErrNoEligible}, Options{})
	if err := m.Challenge(context.Background(), "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("session should be cleared")
	}
	if !strings.Contains(out.sent(), "Could not find a suitable unsolved problem") {
		t.Fatalf("missing cancellation announcement:\n%s", out.sent())
	}
}

func TestChallengeCancelledOnProviderError(t *testing.T) {
	m, out, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{err: errors.New("503")}, Options{})
	if err := m.Challenge(context.Background(), "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("session should be cleared")
	}
	if !strings.Contains(out.sent(), "duel is cancelled") {
		t.Fatalf("missing cancellation announcement:\n%s", out.sent())
	}
}

func TestWinFlow(t *testing.T) {
	p := testProblem()
	subs := &fakeSubs{subs: []codeforces.Submission{acceptedAt(p, time.Now().Add(time.Hour))}}
	m, out, users, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, subs, &fakeSelector{problem: p}, Options{})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if !m.Active("room1") {
		t.Fatal("session should be solving")
	}
	if err := m.Solved(ctx, "room1", "challenger"); err != nil {
		t.Fatalf("Solved: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("session should be resolved")
	}
	rec, err := users.Get(ctx, "room1", "challenger")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Points != Points(900) {
		t.Fatalf("points = %d, want %d", rec.Points, Points(900))
	}
	if !strings.Contains(out.sent(), "won the duel") {
		t.Fatalf("missing win announcement:\n%s", out.sent())
	}
}

func TestSolvedNoMatchingSubmission(t *testing.T) {
	p := testProblem()
	subs := &fakeSubs{subs: []codeforces.Submission{
		// correct problem but before the duel started
		acceptedAt(p, time.Now().Add(-time.Hour)),
		// recent but wrong verdict
		{CreationTimeSeconds: time.Now().Add(time.Hour).Unix(), Verdict: "WRONG_ANSWER", Problem: *p},
		// recent and accepted but a different problem
		{CreationTimeSeconds: time.Now().Add(time.Hour).Unix(), Verdict: codeforces.VerdictOK, Problem: codeforces.ProblemRef{ContestID: 9, Index: "Z"}},
	}}
	m, _, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, subs, &fakeSelector{problem: p}, Options{})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := m.Solved(ctx, "room1", "challenger"); !errors.Is(err, ErrNoAccepted) {
		t.Fatalf("expected ErrNoAccepted, got %v", err)
	}
	if !m.Active("room1") {
		t.Fatal("a failed claim must leave the duel running")
	}
}

func TestSolvedProviderErrorLeavesSession(t *testing.T) {
	p := testProblem()
	boom := errors.New("boom")
	m, _, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{err: boom}, &fakeSelector{problem: p}, Options{})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := m.Solved(ctx, "room1", "challenger"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if !m.Active("room1") {
		t.Fatal("session should survive a provider failure")
	}
}

func TestSolvedGuards(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{problem: testProblem()}, Options{})
	ctx := context.Background()

	if err := m.Solved(ctx, "room1", "challenger"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	m.mu.Lock()
	m.sessions["room1"] = &Session{
		ID: "s1", Room: "room1",
		ChallengerID: "challenger", OpponentID: "opponent",
		Phase: PhaseSolving, Problem: testProblem(), StartedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	if err := m.Solved(ctx, "room1", "spectator"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if !m.Active("room1") {
		t.Fatal("spectator claim must not resolve the duel")
	}
}

func TestTimeoutDraw(t *testing.T) {
	p := testProblem()
	m, out, users, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, &fakeSubs{}, &fakeSelector{problem: p}, Options{SolveWindow: 50 * time.Millisecond})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Active("room1") {
		if time.Now().After(deadline) {
			t.Fatal("timeout supervisor never resolved the duel")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.sent(), "draw") {
		t.Fatalf("missing draw announcement:\n%s", out.sent())
	}
	for _, id := range []string{"challenger", "opponent"} {
		rec, err := users.Get(ctx, "room1", id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if rec.Points != 0 {
			t.Fatalf("%s got points on a draw: %d", id, rec.Points)
		}
	}
}

func TestWinAfterTimeoutIsRejected(t *testing.T) {
	p := testProblem()
	subs := &fakeSubs{subs: []codeforces.Submission{acceptedAt(p, time.Now().Add(time.Hour))}}
	m, _, users, _ := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, subs, &fakeSelector{problem: p}, Options{SolveWindow: 30 * time.Millisecond})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.Active("room1") {
		if time.Now().After(deadline) {
			t.Fatal("draw never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Solved(ctx, "room1", "challenger"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after draw, got %v", err)
	}
	rec, err := users.Get(ctx, "room1", "challenger")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Points != 0 {
		t.Fatalf("points awarded after the duel already drew: %d", rec.Points)
	}
}

func TestSolvedRestoresSessionWhenAwardFails(t *testing.T) {
	p := testProblem()
	subs := &fakeSubs{subs: []codeforces.Submission{acceptedAt(p, time.Now().Add(time.Hour))}}
	m, _, _, store := newTestManager(t, &fakeAcks{emoji: EmojiAccept}, subs, &fakeSelector{problem: p}, Options{})
	ctx := context.Background()

	if err := m.Challenge(ctx, "room1", "challenger", "opponent", false, 900); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	store.setFail(true)
	if err := m.Solved(ctx, "room1", "challenger"); err == nil {
		t.Fatal("expected award failure to propagate")
	}
	if !m.Active("room1") {
		t.Fatal("session must be restored so the claim can be retried")
	}

	store.setFail(false)
	if err := m.Solved(ctx, "room1", "challenger"); err != nil {
		t.Fatalf("retry after store recovery: %v", err)
	}
	if m.Active("room1") {
		t.Fatal("retried claim should resolve the duel")
	}
}
