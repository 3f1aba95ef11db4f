// Package confirmedcommit implements the two-phase, timed-rollback
// commit state machine of spec §4.4: INACTIVE / EPHEMERAL / PERSISTENT /
// ROLLBACK, the rollback datastore's lifecycle, and the race between a
// confirming commit and a timer expiry ("whichever transitions state
// first wins"). Timer callbacks run on the eventloop.Loop goroutine;
// RPC-triggered transitions run on the caller's goroutine. Both take
// the Machine's mutex, and a timer firing checks the state and its
// timer generation before it starts a rollback.
package confirmedcommit

import (
	"fmt"
	"sync"
	"time"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/eventloop"
	"github.com/opencfgd/confd/internal/mgmterror"
	"github.com/rs/zerolog"
	"github.com/opencfgd/confd/txn"
)

// State is one of the four confirmed-commit states of spec §4.4.
type State int

const (
	Inactive State = iota
	Ephemeral
	Persistent
	Rollback
)

func (s State) String() string {
	switch s {
	case Ephemeral:
		return "EPHEMERAL"
	case Persistent:
		return "PERSISTENT"
	case Rollback:
		return "ROLLBACK"
	default:
		return "INACTIVE"
	}
}

// RollbackOutcome is a bitmask describing how a rollback attempt went,
// grounded on Clixon's ROLLBACK_NOT_APPLIED / ROLLBACK_DB_NOT_DELETED /
// ROLLBACK_FAILSAFE_APPLIED flags (original_source/backend_confirm.c).
type RollbackOutcome uint

const (
	RollbackApplied RollbackOutcome = 0
	RollbackNotApplied RollbackOutcome = 1 << (iota - 1)
	RollbackDBNotDeleted
	RollbackFailsafeApplied
	RollbackTerminated // failsafe also failed; process termination was requested
)

// String renders the dominant outcome for metrics/log labeling.
func (o RollbackOutcome) String() string {
	switch {
	case o&RollbackTerminated != 0:
		return "terminated"
	case o&RollbackFailsafeApplied != 0:
		return "failsafe"
	case o == RollbackApplied:
		return "applied"
	default:
		return "not_applied"
	}
}

// CommitResult is returned from a confirmed/confirming commit request.
type CommitResult struct {
	EndedSequence bool
	Commit        *txn.CommitResult
}

// Machine is the confirmed-commit state machine for one daemon. There is
// exactly one active sequence at a time (spec §4.4: "at most one
// confirmed-commit sequence is active"); a second confirmed-commit
// while one is active extends/modifies the same sequence rather than
// starting a concurrent one.
type Machine struct {
	mu         sync.Mutex
	state      State
	owner      int64  // meaningful in EPHEMERAL
	persist    string // meaningful in PERSISTENT
	timer      *eventloop.TimerHandle
	generation int64

	loop    *eventloop.Loop
	reg     *datastore.Registry
	engine  *txn.Engine
	log     zerolog.Logger

	// Terminate is called if a rollback and its failsafe commit both
	// fail; overridable in tests. Defaults to a process-ending signal
	// in production wiring (cmd/confd).
	Terminate func(reason string)

	// onRollback, if set, is called with every rollback outcome
	// (cmd/confd wires this to the rollback counter metric).
	onRollback func(RollbackOutcome)
}

// OnRollback registers a callback invoked after every rollback attempt,
// whatever its outcome.
func (m *Machine) OnRollback(fn func(RollbackOutcome)) {
	m.onRollback = fn
}

// New builds a confirmed-commit machine. loop runs the rollback timer's
// callbacks.
func New(loop *eventloop.Loop, reg *datastore.Registry, engine *txn.Engine, log zerolog.Logger) *Machine {
	return &Machine{
		loop:      loop,
		reg:       reg,
		engine:    engine,
		log:       log,
		Terminate: func(string) {},
	}
}

// Snapshot reports the machine's current state, owner session (meaningful
// in EPHEMERAL) and persist tag (meaningful in PERSISTENT).
func (m *Machine) Snapshot() (State, int64, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.owner, m.persist
}

// isConfirming reports whether a non-<confirmed/> commit from sessionID
// with the given persist-id qualifies as the confirming commit that
// ends the active sequence (spec §4.4: matches EPHEMERAL by owning
// session, or PERSISTENT by persist-id).
func (m *Machine) isConfirming(sessionID int64, persistID string) bool {
	switch m.state {
	case Ephemeral:
		return persistID == "" && sessionID == m.owner
	case Persistent:
		return persistID != "" && persistID == m.persist
	default:
		return false
	}
}

// Commit handles both plain commits and confirmed-commits as a single
// state-machine step (spec §9 Open Question (c)): it first checks
// whether this request is the confirming commit for an active sequence,
// then (if <confirmed/> was requested) arms or re-arms the sequence,
// then runs the underlying transaction commit unless short-circuited by
// a confirming commit with no pending changes.
func (m *Machine) Commit(sessionID int64, confirmed bool, timeout time.Duration, persist, persistID, candidateSrc string) (*CommitResult, error) {
	m.mu.Lock()

	confirming := !confirmed && m.isConfirming(sessionID, persistID)
	if confirming {
		m.cancelTimerLocked()
		_ = m.reg.Delete(datastore.Rollback)
		m.state = Inactive
		m.owner = 0
		m.persist = ""
		m.log.Info().Int64("sid", sessionID).Msg("confirmed-commit sequence confirmed")
	} else if !confirmed && m.state != Inactive {
		// A commit RPC that neither sets <confirmed/> nor matches the
		// confirming-commit criteria proceeds as an ordinary commit,
		// leaving the active sequence untouched (spec §4.4: "An invalid
		// confirming commit while a confirmed-commit is active proceeds
		// as a normal commit, leaving the sequence active.").
	}

	startingNewSequence := confirmed && m.state == Inactive
	if confirmed {
		if startingNewSequence {
			if err := m.reg.Create(datastore.Rollback); err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("prepare rollback datastore: %w", err)
			}
			if err := m.reg.Copy(datastore.Running, datastore.Rollback); err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("snapshot running into rollback: %w", err)
			}
		}
		if persist != "" {
			m.state = Persistent
			m.persist = persist
			m.owner = 0
		} else {
			m.state = Ephemeral
			m.owner = sessionID
			m.persist = ""
		}
		m.armTimerLocked(timeout)
		m.log.Info().Int64("sid", sessionID).Str("state", m.state.String()).Dur("timeout", timeout).Msg("confirmed-commit sequence armed")
	}

	m.mu.Unlock()

	if confirming {
		dirty, _ := m.reg.Dirty(candidateSrc)
		if !dirty {
			return &CommitResult{EndedSequence: true}, nil
		}
	}

	result, err := m.engine.Commit(sessionID, candidateSrc)
	if err != nil {
		return nil, err
	}
	return &CommitResult{EndedSequence: confirming, Commit: result}, nil
}

// CancelCommit handles the `cancel-commit` RPC (spec §4.4 / §4.2),
// ending the active sequence via rollback without waiting for the
// timer.
func (m *Machine) CancelCommit(sessionID int64, persistID string, force bool) error {
	m.mu.Lock()
	if m.state == Inactive {
		m.mu.Unlock()
		return mgmterror.NewOperationFailedApplicationError()
	}
	if !force {
		switch m.state {
		case Ephemeral:
			if persistID != "" || sessionID != m.owner {
				m.mu.Unlock()
				return mgmterror.NewAccessDeniedApplicationError()
			}
		case Persistent:
			if persistID != m.persist {
				m.mu.Unlock()
				return mgmterror.NewAccessDeniedApplicationError()
			}
		}
	}
	m.cancelTimerLocked()
	m.mu.Unlock()

	m.rollback("cancel-commit")
	return nil
}

// OnSessionDestroyed handles the owner-session-destruction case of
// spec §4.4/§4.2: if the active sequence is EPHEMERAL and owned by the
// destroyed session, it is rolled back immediately. A PERSISTENT
// sequence survives its originating session by design.
func (m *Machine) OnSessionDestroyed(sessionID int64) {
	m.mu.Lock()
	if m.state != Ephemeral || m.owner != sessionID {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	m.mu.Unlock()
	m.rollback("owner session destroyed")
}

func (m *Machine) armTimerLocked(timeout time.Duration) {
	m.cancelTimerLocked()
	m.timer = m.loop.ScheduleTimer(timeout, m.onTimerExpiry)
	m.generation = m.timer.Generation()
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
}

// onTimerExpiry runs on the event loop goroutine. It compares its own
// generation against the machine's current one to detect a stale firing
// that lost the race against a newer timer or an explicit transition —
// "whichever transitions state first wins; the other observes state has
// already moved on and becomes a no-op" (spec §4.4).
func (m *Machine) onTimerExpiry(generation int64) {
	m.mu.Lock()
	if m.state == Inactive || generation != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = Rollback
	m.mu.Unlock()
	m.rollback("confirm-timeout expired")
}

// rollback performs the actual rollback-datastore commit of spec §4.4
// step 5: commit rollback as the new candidate; on failure, preserve it
// as "rollback.error" and fall back to the failsafe datastore; if that
// also fails, request process termination (the failsafe-after-rollback
// failure class of spec §7).
func (m *Machine) rollback(reason string) (outcome RollbackOutcome) {
	m.mu.Lock()
	m.state = Rollback
	m.mu.Unlock()

	m.log.Warn().Str("reason", reason).Msg("confirmed-commit rollback starting")

	if m.onRollback != nil {
		defer func() { m.onRollback(outcome) }()
	}

	outcome = RollbackOutcome(0)

	if err := m.reg.Copy(datastore.Rollback, datastore.Candidate); err != nil {
		outcome |= RollbackNotApplied
	} else if _, err := m.engine.Commit(0, datastore.Candidate); err != nil {
		outcome |= RollbackNotApplied
		m.log.Error().Err(err).Msg("rollback commit failed, attempting failsafe")

		if err := m.reg.Rename(datastore.Rollback, "rollback.error", ".error"); err != nil {
			outcome |= RollbackDBNotDeleted
		}
		if err := m.reg.Copy(datastore.Failsafe, datastore.Candidate); err != nil {
			outcome |= RollbackTerminated
			m.Terminate("rollback and failsafe both failed")
			m.finish()
			return outcome
		}
		if _, err := m.engine.Commit(0, datastore.Candidate); err != nil {
			outcome |= RollbackTerminated
			m.Terminate("rollback and failsafe commit both failed")
			m.finish()
			return outcome
		}
		outcome |= RollbackFailsafeApplied
		m.finish()
		return outcome
	}

	if err := m.reg.Delete(datastore.Rollback); err != nil {
		outcome |= RollbackDBNotDeleted
	}
	m.finish()
	return outcome
}

func (m *Machine) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Inactive
	m.owner = 0
	m.persist = ""
	m.timer = nil
}

// Recover implements crash-recovery of spec §4.4 ("Crash recovery"),
// grounded on Clixon's backend_client.c/backend_confirm.c: a leftover
// rollback datastore found at startup is committed if the boot source
// was `running` (the previous process was mid-sequence when it died)
// and discarded if the boot source was `startup` (a cold boot should
// never inherit a stale in-progress rollback). This path never opens a
// new confirmed-commit sequence — it only resolves one left behind by a
// prior process (spec §9 Open Question (b)).
func Recover(reg *datastore.Registry, engine *txn.Engine, bootSource string) error {
	if !reg.Exists(datastore.Rollback) {
		return nil
	}
	switch bootSource {
	case datastore.Running:
		if err := reg.Copy(datastore.Rollback, datastore.Candidate); err != nil {
			return err
		}
		if _, err := engine.Commit(0, datastore.Candidate); err != nil {
			return fmt.Errorf("recover: commit leftover rollback: %w", err)
		}
		return reg.Delete(datastore.Rollback)
	case datastore.Startup:
		return reg.Delete(datastore.Rollback)
	default:
		return fmt.Errorf("recover: unknown boot source %q", bootSource)
	}
}
