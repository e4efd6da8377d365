// Package pairing drives the user-facing pairing sequence.
//
// The machine owns one pairing session at a time and two periodic
// activities scoped to it: a poll loop (2s) asking the server whether the
// user confirmed the code, and a countdown (1s) updating the displayed
// remaining time. Confirmation is detected inside a poll tick, which then
// drives the token exchange itself before stopping — so a second exchange
// can never start. Both loops are torn down together on any terminal
// transition, and every state mutation is guarded by a session generation
// check so a late response from a superseded session changes nothing.
package pairing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haloview/haloview-go/internal/auth"
)

// Phase is the current step of the pairing sequence. Exactly one is active.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGeneratingCode
	PhaseWaitingForConfirmation
	PhaseConfirmed
	PhaseExchangingTokens
	PhaseCompleted
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGeneratingCode:
		return "generating_code"
	case PhaseWaitingForConfirmation:
		return "waiting_for_confirmation"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseExchangingTokens:
		return "exchanging_tokens"
	case PhaseCompleted:
		return "completed"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of the machine.
type State struct {
	Phase     Phase
	Code      string
	ExpiresAt time.Time
	Remaining time.Duration
	Message   string // human-readable failure, set in PhaseError
}

// Loading reports whether a server call is in flight for the sequence.
func (s State) Loading() bool {
	return s.Phase == PhaseGeneratingCode || s.Phase == PhaseExchangingTokens
}

// AuthClient is the slice of the auth service the machine needs.
type AuthClient interface {
	GeneratePairingCode(ctx context.Context) (*auth.PairingCode, error)
	CheckPairingStatus(ctx context.Context, code string) (*auth.PairingStatus, error)
	ExchangeCodeForTokens(ctx context.Context, code string) error
}

const (
	defaultPollInterval = 2 * time.Second
	defaultTickInterval = time.Second
)

// Machine is the pairing state machine.
type Machine struct {
	auth AuthClient

	pollInterval time.Duration
	tickInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64             // current session generation
	cancel   context.CancelFunc // stops both loops of the current session
	onChange func(State)
	notifyCh chan State // snapshots in transition order, drained by one goroutine
}

// NewMachine creates a machine in the Idle state.
func NewMachine(authClient AuthClient) *Machine {
	return &Machine{
		auth:         authClient,
		pollInterval: defaultPollInterval,
		tickInterval: defaultTickInterval,
		now:          time.Now,
	}
}

// NewMachineWithIntervals is NewMachine with loop intervals overridden,
// used by tests.
func NewMachineWithIntervals(authClient AuthClient, poll, tick time.Duration) *Machine {
	m := NewMachine(authClient)
	m.pollInterval = poll
	m.tickInterval = tick
	return m
}

// OnChange registers an observer called after every state change with a
// snapshot. Must be set before StartPairing. Snapshots are delivered by a
// single goroutine in transition order, so an observer driving a display
// sees the remaining time shrink and the terminal phase arrive last.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
	if m.notifyCh == nil {
		m.notifyCh = make(chan State, 64)
		go m.notifyLoop()
	}
}

func (m *Machine) notifyLoop() {
	for s := range m.notifyCh {
		m.mu.Lock()
		fn := m.onChange
		m.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartPairing begins a new pairing session, superseding any running one.
func (m *Machine) StartPairing() {
	m.mu.Lock()
	m.supersedeLocked()
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(State{Phase: PhaseGeneratingCode})
	m.mu.Unlock()

	go m.run(ctx, gen)
}

// Retry restarts the sequence after a failure. Identical to StartPairing.
func (m *Machine) Retry() {
	m.StartPairing()
}

// Cancel stops both activities, discards the session, and returns to Idle.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supersedeLocked()
	m.setStateLocked(State{Phase: PhaseIdle})
}

// supersedeLocked invalidates the current session: bumps the generation so
// in-flight work discards its results, and cancels its loops.
func (m *Machine) supersedeLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// setStateLocked stores the new state and queues the observer snapshot.
// Enqueued under the state mutex, so the channel carries snapshots in
// transition order. A transition must never block on a slow observer: when
// the buffer is full the oldest snapshot is dropped, keeping the stream
// ordered and ending with the latest state.
func (m *Machine) setStateLocked(s State) {
	m.state = s
	if m.notifyCh == nil {
		return
	}
	select {
	case m.notifyCh <- s:
	default:
		select {
		case <-m.notifyCh:
		default:
		}
		select {
		case m.notifyCh <- s:
		default:
		}
	}
}

// transition applies fn to the state iff the session is still current.
// Returns false if the session was superseded.
func (m *Machine) transition(gen uint64, fn func(*State)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	s := m.state
	fn(&s)
	if s != m.state {
		m.setStateLocked(s)
	}
	return true
}

// terminate moves to a terminal state and stops both loops.
func (m *Machine) terminate(gen uint64, fn func(*State)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	s := m.state
	fn(&s)
	m.setStateLocked(s)
	return true
}

// run performs the generate step and, on success, starts the two session
// loops.
func (m *Machine) run(ctx context.Context, gen uint64) {
	code, err := m.auth.GeneratePairingCode(ctx)
	if err != nil {
		slog.Warn("pairing code generation failed", "error", err)
		m.terminate(gen, func(s *State) {
			*s = State{Phase: PhaseError, Message: err.Error()}
		})
		return
	}

	ok := m.transition(gen, func(s *State) {
		*s = State{
			Phase:     PhaseWaitingForConfirmation,
			Code:      code.Code,
			ExpiresAt: code.ExpiresAt,
			Remaining: maxDuration(0, code.ExpiresAt.Sub(m.now())),
		}
	})
	if !ok {
		return
	}

	go m.pollLoop(ctx, gen, code.Code, code.ExpiresAt)
	go m.countdownLoop(ctx, gen, code.ExpiresAt)
}

// pollLoop checks confirmation on a fixed schedule. It owns the expiry
// transition and, once confirmation is observed, drives the exchange
// synchronously within the same tick.
func (m *Machine) pollLoop(ctx context.Context, gen uint64, code string, expiresAt time.Time) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !m.now().Before(expiresAt) {
			m.terminate(gen, func(s *State) {
				*s = State{Phase: PhaseError, Message: auth.ErrKind(auth.KindCodeExpired).Error()}
			})
			return
		}

		status, err := m.auth.CheckPairingStatus(ctx, code)
		if err != nil {
			// One flaky check must not abort the flow; the session's
			// own expiry bounds how long we keep trying.
			slog.Debug("pairing status check failed, will retry", "error", err)
			continue
		}

		if status.Expired {
			m.terminate(gen, func(s *State) {
				*s = State{Phase: PhaseError, Message: auth.ErrKind(auth.KindCodeExpired).Error()}
			})
			return
		}

		if status.Confirmed {
			m.exchange(ctx, gen, code)
			return
		}
	}
}

// exchange runs Confirmed → ExchangingTokens → Completed|Error inside the
// poll tick that observed confirmation.
func (m *Machine) exchange(ctx context.Context, gen uint64, code string) {
	if !m.transition(gen, func(s *State) { s.Phase = PhaseConfirmed }) {
		return
	}
	if !m.transition(gen, func(s *State) { s.Phase = PhaseExchangingTokens }) {
		return
	}

	if err := m.auth.ExchangeCodeForTokens(ctx, code); err != nil {
		slog.Warn("token exchange failed", "error", err)
		m.terminate(gen, func(s *State) {
			*s = State{Phase: PhaseError, Message: err.Error()}
		})
		return
	}

	m.terminate(gen, func(s *State) {
		*s = State{Phase: PhaseCompleted}
	})
	slog.Info("pairing completed")
}

// countdownLoop updates the displayed remaining time. It never transitions
// the pairing phase — expiry belongs to the poll loop — and stops itself
// once the remaining time reaches zero.
func (m *Machine) countdownLoop(ctx context.Context, gen uint64, expiresAt time.Time) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		remaining := maxDuration(0, expiresAt.Sub(m.now()))
		m.transition(gen, func(s *State) {
			if s.Phase == PhaseWaitingForConfirmation {
				s.Remaining = remaining
			}
		})
		if remaining <= 0 {
			return
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
