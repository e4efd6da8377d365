package pairing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haloview/haloview-go/internal/auth"
)

// fakeAuth is a scriptable AuthClient.
type fakeAuth struct {
	mu          sync.Mutex
	code        auth.PairingCode
	genErr      error
	status      auth.PairingStatus
	statusErr   error
	exchangeErr error

	checks    atomic.Int32
	exchanges atomic.Int32
}

func (f *fakeAuth) GeneratePairingCode(ctx context.Context) (*auth.PairingCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.genErr != nil {
		return nil, f.genErr
	}
	code := f.code
	return &code, nil
}

func (f *fakeAuth) CheckPairingStatus(ctx context.Context, code string) (*auth.PairingStatus, error) {
	f.checks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := f.status
	return &status, nil
}

func (f *fakeAuth) ExchangeCodeForTokens(ctx context.Context, code string) error {
	f.exchanges.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeErr
}

func (f *fakeAuth) set(fn func(*fakeAuth)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestMachine(a AuthClient) *Machine {
	return NewMachineWithIntervals(a, 10*time.Millisecond, 5*time.Millisecond)
}

func waitForPhase(t *testing.T, m *Machine, want Phase) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.State(); s.Phase == want {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase never reached %v, at %v", want, m.State().Phase)
	return State{}
}

func TestFreshMachine_Idle(t *testing.T) {
	m := NewMachine(&fakeAuth{})

	s := m.State()
	if s.Phase != PhaseIdle {
		t.Errorf("phase = %v, want Idle", s.Phase)
	}
	if s.Loading() {
		t.Error("fresh machine is loading")
	}
	if s.Code != "" {
		t.Errorf("fresh machine holds code %q", s.Code)
	}
}

func TestStartPairing_WaitsWithCountdown(t *testing.T) {
	f := &fakeAuth{code: auth.PairingCode{
		Code:      "123456",
		ExpiresAt: time.Now().Add(300 * time.Second),
	}}
	m := newTestMachine(f)

	m.StartPairing()
	s := waitForPhase(t, m, PhaseWaitingForConfirmation)

	if s.Code != "123456" {
		t.Errorf("code = %q", s.Code)
	}
	if s.Remaining < 295*time.Second || s.Remaining > 300*time.Second {
		t.Errorf("initial remaining = %v, want ~300s", s.Remaining)
	}

	// Remaining is monotonically non-increasing.
	prev := s.Remaining
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		cur := m.State().Remaining
		if cur > prev {
			t.Errorf("remaining increased: %v -> %v", prev, cur)
		}
		if cur < 0 {
			t.Errorf("remaining negative: %v", cur)
		}
		prev = cur
	}

	m.Cancel()
}

func TestObserver_SnapshotsArriveInOrder(t *testing.T) {
	f := &fakeAuth{code: auth.PairingCode{
		Code:      "123456",
		ExpiresAt: time.Now().Add(time.Minute),
	}}
	m := newTestMachine(f)

	var mu sync.Mutex
	var seen []State
	m.OnChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	m.StartPairing()
	waitForPhase(t, m, PhaseWaitingForConfirmation)
	time.Sleep(50 * time.Millisecond) // collect a few countdown ticks

	f.set(func(f *fakeAuth) { f.status = auth.PairingStatus{Confirmed: true} })
	waitForPhase(t, m, PhaseCompleted)
	time.Sleep(30 * time.Millisecond) // let pending notifications drain

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("observer saw only %d snapshots", len(seen))
	}
	prev := seen[0]
	for _, s := range seen[1:] {
		// Countdown ticks within the waiting phase never run backwards.
		if s.Phase == PhaseWaitingForConfirmation && prev.Phase == PhaseWaitingForConfirmation &&
			s.Remaining > prev.Remaining {
			t.Errorf("observer saw remaining increase: %v -> %v", prev.Remaining, s.Remaining)
		}
		// Phases advance in transition order on the happy path.
		if s.Phase < prev.Phase {
			t.Errorf("observer saw phase regress: %v -> %v", prev.Phase, s.Phase)
		}
		prev = s
	}
	if last := seen[len(seen)-1].Phase; last != PhaseCompleted {
		t.Errorf("last delivered snapshot = %v, want Completed", last)
	}
}

func TestCountdown_ReachesZeroNeverNegative(t *testing.T) {
	f := &fakeAuth{
		code: auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(40 * time.Millisecond)},
		// Server keeps answering "pending" so only the clock ends this.
	}
	m := newTestMachine(f)

	m.StartPairing()
	waitForPhase(t, m, PhaseWaitingForConfirmation)
	waitForPhase(t, m, PhaseError)

	// The last displayed remaining time must be exactly zero.
	if got := m.State().Remaining; got != 0 {
		t.Errorf("remaining at expiry = %v, want 0", got)
	}
}

func TestGenerateFailure_ErrorThenRetry(t *testing.T) {
	f := &fakeAuth{genErr: auth.ErrKind(auth.KindRateLimited)}
	m := newTestMachine(f)

	m.StartPairing()
	s := waitForPhase(t, m, PhaseError)
	if s.Message == "" {
		t.Error("error state has no message")
	}

	// Retry re-enters the sequence.
	f.set(func(f *fakeAuth) {
		f.genErr = nil
		f.code = auth.PairingCode{Code: "654321", ExpiresAt: time.Now().Add(time.Minute)}
	})
	m.Retry()
	s = waitForPhase(t, m, PhaseWaitingForConfirmation)
	if s.Code != "654321" {
		t.Errorf("code after retry = %q", s.Code)
	}

	m.Cancel()
}

func TestConfirmed_CompletesWithinOneTick(t *testing.T) {
	f := &fakeAuth{
		code:   auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
		status: auth.PairingStatus{Confirmed: true},
	}
	m := newTestMachine(f)

	m.StartPairing()
	waitForPhase(t, m, PhaseCompleted)

	if got := f.exchanges.Load(); got != 1 {
		t.Errorf("exchange ran %d times, want 1", got)
	}

	// No poll ticks fire after completion.
	checksAtCompletion := f.checks.Load()
	time.Sleep(60 * time.Millisecond)
	if got := f.checks.Load(); got != checksAtCompletion {
		t.Errorf("poll kept running after Completed: %d -> %d", checksAtCompletion, got)
	}
}

func TestServerExpired_TerminalAndQuiet(t *testing.T) {
	f := &fakeAuth{
		code:   auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
		status: auth.PairingStatus{Expired: true},
	}
	m := newTestMachine(f)

	m.StartPairing()
	s := waitForPhase(t, m, PhaseError)
	if want := auth.ErrKind(auth.KindCodeExpired).Error(); s.Message != want {
		t.Errorf("message = %q, want %q", s.Message, want)
	}

	// Both activities are down: state stays frozen.
	frozen := m.State()
	checks := f.checks.Load()
	time.Sleep(60 * time.Millisecond)
	if got := m.State(); got != frozen {
		t.Errorf("state mutated after terminal transition: %+v -> %+v", frozen, got)
	}
	if got := f.checks.Load(); got != checks {
		t.Errorf("poll kept running after Error: %d -> %d", checks, got)
	}
}

func TestTransientPollErrors_Swallowed(t *testing.T) {
	f := &fakeAuth{
		code:      auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
		statusErr: auth.ErrKind(auth.KindNetworkError),
	}
	m := newTestMachine(f)

	m.StartPairing()
	waitForPhase(t, m, PhaseWaitingForConfirmation)

	// Let a few failing polls happen; the machine must keep waiting.
	deadline := time.Now().Add(time.Second)
	for f.checks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := m.State(); s.Phase != PhaseWaitingForConfirmation {
		t.Fatalf("flaky polls aborted the flow: %v", s.Phase)
	}

	// Network recovers and the user confirms.
	f.set(func(f *fakeAuth) {
		f.statusErr = nil
		f.status = auth.PairingStatus{Confirmed: true}
	})
	waitForPhase(t, m, PhaseCompleted)
}

func TestCancel_FromAnyState(t *testing.T) {
	f := &fakeAuth{
		code: auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
	}
	m := newTestMachine(f)

	// Cancel from Idle.
	m.Cancel()
	if s := m.State(); s.Phase != PhaseIdle {
		t.Errorf("phase = %v", s.Phase)
	}

	// Cancel from waiting.
	m.StartPairing()
	waitForPhase(t, m, PhaseWaitingForConfirmation)
	m.Cancel()

	s := m.State()
	if s.Phase != PhaseIdle || s.Code != "" {
		t.Errorf("cancel left session behind: %+v", s)
	}

	// No scheduled activity survives: checks stop, state stays Idle.
	checks := f.checks.Load()
	time.Sleep(60 * time.Millisecond)
	if got := f.checks.Load(); got != checks {
		t.Errorf("poll survived cancel: %d -> %d", checks, got)
	}
	if s := m.State(); s.Phase != PhaseIdle {
		t.Errorf("state mutated after cancel: %v", s.Phase)
	}
}

func TestLateConfirmation_DiscardedAfterCancel(t *testing.T) {
	block := make(chan struct{})
	f := &fakeAuth{
		code: auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
	}
	// Make the status check hang until released, simulating a slow
	// response that lands after the session was cancelled.
	slow := &slowAuth{fakeAuth: f, block: block}
	m := newTestMachine(slow)

	m.StartPairing()
	waitForPhase(t, m, PhaseWaitingForConfirmation)

	// Wait for a poll to be in flight, then cancel the session.
	deadline := time.Now().Add(time.Second)
	for f.checks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	m.Cancel()
	close(block) // late response arrives now

	time.Sleep(50 * time.Millisecond)
	if s := m.State(); s.Phase != PhaseIdle {
		t.Errorf("late response mutated a cancelled session: %v", s.Phase)
	}
	if got := f.exchanges.Load(); got != 0 {
		t.Errorf("exchange ran for a cancelled session: %d", got)
	}
}

// slowAuth delays status checks until released and then reports confirmed.
type slowAuth struct {
	*fakeAuth
	block chan struct{}
}

func (s *slowAuth) CheckPairingStatus(ctx context.Context, code string) (*auth.PairingStatus, error) {
	s.checks.Add(1)
	<-s.block
	return &auth.PairingStatus{Confirmed: true}, nil
}

func TestExchangeFailure_SurfacesError(t *testing.T) {
	f := &fakeAuth{
		code:        auth.PairingCode{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)},
		status:      auth.PairingStatus{Confirmed: true},
		exchangeErr: auth.ErrKind(auth.KindCodeNotConfirmed),
	}
	m := newTestMachine(f)

	m.StartPairing()
	s := waitForPhase(t, m, PhaseError)
	if s.Message == "" {
		t.Error("exchange failure produced no message")
	}
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123456", "123 456"},
		{"1234", "123 4"},
		{"123", "123"},
		{"12", "12"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FormatCode(tt.in); got != tt.want {
			t.Errorf("FormatCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
