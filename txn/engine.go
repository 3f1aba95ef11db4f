// Package txn implements the transaction engine of spec §4.3: the
// validate/commit/discard orchestration across the datastore registry,
// schema registry, and plugin hooks, grounded on the teacher's
// commitmgr actor (github.com/danos/... session/commitmgr.go, not
// present in this tree, but its single-in-flight-commit guard and
// phase ordering are carried over here).
package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/mgmterror"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/rs/zerolog"
)

// Report is the outcome of a Validate call.
type Report struct {
	OK         bool
	Violations []string
}

// CommitResult is the outcome of a Commit call.
type CommitResult struct {
	Partial bool
	Errors  []error
}

// Engine serializes commits against one datastore registry. Spec §4.3:
// "at most one commit may be in flight at a time; a concurrent commit
// attempt is rejected, not queued."
type Engine struct {
	reg     *datastore.Registry
	schema  *schema.Schema
	plugins *plugin.Registry
	log     zerolog.Logger

	mu        sync.Mutex
	inCommit  bool

	onCommit func(d time.Duration) // metrics hook, optional
}

// New builds a transaction engine over reg, validated against schm,
// with hooks run through plugins.
func New(reg *datastore.Registry, schm *schema.Schema, plugins *plugin.Registry, log zerolog.Logger) *Engine {
	return &Engine{reg: reg, schema: schm, plugins: plugins, log: log}
}

// OnCommit registers a callback invoked with each commit's wall-clock
// duration, wired to a prometheus histogram by cmd/confd.
func (e *Engine) OnCommit(fn func(time.Duration)) {
	e.onCommit = fn
}

// Validate checks candidateSrc's structural validity against the
// schema. It does not mutate any datastore.
func (e *Engine) Validate(candidateSrc string) (*Report, error) {
	tree, err := e.reg.Get(candidateSrc, nil, false)
	if err != nil {
		return nil, err
	}
	if err := e.schema.Validate(nil, tree); err != nil {
		return &Report{OK: false, Violations: []string{err.Error()}}, err
	}
	return &Report{OK: true}, nil
}

// Commit runs the full phase sequence of spec §4.3: validate, trans_begin
// + trans_validate, trans_complete, the atomic running<-candidate swap,
// trans_commit (partial-failure tolerant), trans_end.
func (e *Engine) Commit(sessionID int64, candidateSrc string) (*CommitResult, error) {
	e.mu.Lock()
	if e.inCommit {
		e.mu.Unlock()
		return nil, mgmterror.NewResourceDeniedProtocolError()
	}
	e.inCommit = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inCommit = false
		e.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		if e.onCommit != nil {
			e.onCommit(time.Since(start))
		}
	}()

	if report, err := e.Validate(candidateSrc); err != nil {
		e.log.Warn().Int64("sid", sessionID).Err(err).Msg("commit validate failed")
		_ = report
		return nil, err
	}

	oldTree, err := e.reg.Get(datastore.Running, nil, false)
	if err != nil {
		return nil, err
	}
	newTree, err := e.reg.Get(candidateSrc, nil, false)
	if err != nil {
		return nil, err
	}
	added, deleted, changed := datastore.Diff(oldTree, newTree)

	tx := &plugin.Tx{Source: datastore.Running, Target: candidateSrc, Added: added, Deleted: deleted, Changed: changed}

	if err := e.plugins.RunValidate(tx); err != nil {
		e.log.Warn().Int64("sid", sessionID).Err(err).Msg("commit plugin validate failed")
		return nil, err
	}
	if err := e.plugins.RunComplete(tx); err != nil {
		e.log.Warn().Int64("sid", sessionID).Err(err).Msg("commit plugin complete failed")
		return nil, err
	}

	if err := e.reg.Copy(candidateSrc, datastore.Running); err != nil {
		return nil, fmt.Errorf("apply committed config to running: %w", err)
	}
	if candidateSrc == datastore.Candidate {
		e.reg.MarkClean(datastore.Candidate)
	}

	commitErrs := e.plugins.RunCommit(tx)
	e.plugins.RunEnd(tx)

	result := &CommitResult{Partial: len(commitErrs) > 0, Errors: commitErrs}
	if result.Partial {
		e.log.Warn().Int64("sid", sessionID).Int("errors", len(commitErrs)).Msg("commit completed with partial plugin failure")
	} else {
		e.log.Info().Int64("sid", sessionID).Msg("commit completed")
	}
	return result, nil
}

// Discard resets candidate back to running, dropping uncommitted edits
// (the `discard-changes` RPC of spec §4.2).
func (e *Engine) Discard() error {
	if err := e.reg.Copy(datastore.Running, datastore.Candidate); err != nil {
		return err
	}
	e.reg.MarkClean(datastore.Candidate)
	return nil
}
