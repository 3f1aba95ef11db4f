// Package plugin implements the plugin/hook surface of spec §4.6: a
// callback bundle a component registers at startup, invoked in
// registration order through the commit phases and in reverse order on
// abort, plus a custom-RPC dispatch table consulted as a fallback for
// operation names the dispatcher doesn't recognize natively.
package plugin

import (
	"fmt"
	"sync"

	"github.com/opencfgd/confd/internal/datastore"
)

// Tx is the transaction object passed through the commit phases,
// carrying the path-level diff computed in spec §4.3 step 2.
type Tx struct {
	Source  string
	Target  string
	Added   [][]string
	Deleted [][]string
	Changed [][]string
}

// Callbacks is the hook bundle a component registers. Any field left
// nil is simply skipped for that phase.
type Callbacks struct {
	Name string

	Init  func() error
	Start func() error
	Exit  func()
	Reset func()

	StateData func(path []string) (*datastore.Node, error)

	TransBegin    func(tx *Tx) error
	TransValidate func(tx *Tx) error
	TransComplete func(tx *Tx) error
	TransCommit   func(tx *Tx) error
	TransEnd      func(tx *Tx)
	TransAbort    func(tx *Tx)

	RPC map[string]func(args map[string]interface{}) (interface{}, error)
}

// Registry holds every registered component, in registration order.
type Registry struct {
	mu      sync.Mutex
	plugins []*Callbacks
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds cb to the registry. Registration order is the forward
// invocation order for every trans_* phase except abort, which runs in
// reverse.
func (r *Registry) Register(cb *Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, cb)
}

func (r *Registry) snapshot() []*Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Callbacks{}, r.plugins...)
}

// RunInit calls Init on every plugin in registration order, stopping and
// returning the first error.
func (r *Registry) RunInit() error {
	for _, cb := range r.snapshot() {
		if cb.Init == nil {
			continue
		}
		if err := cb.Init(); err != nil {
			return fmt.Errorf("plugin %s: init: %w", cb.Name, err)
		}
	}
	return nil
}

// RunStart calls Start on every plugin in registration order.
func (r *Registry) RunStart() error {
	for _, cb := range r.snapshot() {
		if cb.Start == nil {
			continue
		}
		if err := cb.Start(); err != nil {
			return fmt.Errorf("plugin %s: start: %w", cb.Name, err)
		}
	}
	return nil
}

// RunExit calls Exit on every plugin in reverse registration order,
// mirroring teardown ordering for resources acquired in Start/Init.
func (r *Registry) RunExit() {
	plugins := r.snapshot()
	for i := len(plugins) - 1; i >= 0; i-- {
		if plugins[i].Exit != nil {
			plugins[i].Exit()
		}
	}
}

// RunReset calls Reset on every plugin in registration order.
func (r *Registry) RunReset() {
	for _, cb := range r.snapshot() {
		if cb.Reset != nil {
			cb.Reset()
		}
	}
}

// RunStateData asks each plugin in turn whether it can answer path,
// returning the first non-nil result. Used by the `get` RPC handler to
// augment running config with operational state (spec §4.2).
func (r *Registry) RunStateData(path []string) (*datastore.Node, error) {
	for _, cb := range r.snapshot() {
		if cb.StateData == nil {
			continue
		}
		n, err := cb.StateData(path)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: statedata: %w", cb.Name, err)
		}
		if n != nil {
			return n, nil
		}
	}
	return nil, nil
}

// RunValidate invokes trans_begin then trans_validate on every plugin in
// registration order. On the first failure, trans_abort is invoked on
// every plugin that already ran trans_begin, in reverse order, and the
// failure is returned.
func (r *Registry) RunValidate(tx *Tx) error {
	plugins := r.snapshot()
	began := make([]*Callbacks, 0, len(plugins))
	abort := func() {
		for i := len(began) - 1; i >= 0; i-- {
			if began[i].TransAbort != nil {
				began[i].TransAbort(tx)
			}
		}
	}
	for _, cb := range plugins {
		if cb.TransBegin != nil {
			if err := cb.TransBegin(tx); err != nil {
				abort()
				return fmt.Errorf("plugin %s: trans_begin: %w", cb.Name, err)
			}
		}
		began = append(began, cb)
		if cb.TransValidate != nil {
			if err := cb.TransValidate(tx); err != nil {
				abort()
				return fmt.Errorf("plugin %s: trans_validate: %w", cb.Name, err)
			}
		}
	}
	return nil
}

// RunComplete invokes trans_complete on every plugin in registration
// order, aborting (in reverse, on every plugin) on the first failure.
func (r *Registry) RunComplete(tx *Tx) error {
	plugins := r.snapshot()
	for _, cb := range plugins {
		if cb.TransComplete == nil {
			continue
		}
		if err := cb.TransComplete(tx); err != nil {
			for j := len(plugins) - 1; j >= 0; j-- {
				if plugins[j].TransAbort != nil {
					plugins[j].TransAbort(tx)
				}
			}
			return fmt.Errorf("plugin %s: trans_complete: %w", cb.Name, err)
		}
	}
	return nil
}

// RunCommit invokes trans_commit on every plugin in registration order.
// Unlike RunValidate/RunComplete, a failure here does not veto the
// already-applied datastore swap (spec §4.3 step 6: "post-commit hook
// failures are reported as partial-commit failure, not rolled back");
// every plugin still runs and every error is collected.
func (r *Registry) RunCommit(tx *Tx) []error {
	var errs []error
	for _, cb := range r.snapshot() {
		if cb.TransCommit == nil {
			continue
		}
		if err := cb.TransCommit(tx); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: trans_commit: %w", cb.Name, err))
		}
	}
	return errs
}

// RunEnd invokes trans_end on every plugin in registration order.
func (r *Registry) RunEnd(tx *Tx) {
	for _, cb := range r.snapshot() {
		if cb.TransEnd != nil {
			cb.TransEnd(tx)
		}
	}
}

// Dispatch looks up rpcName across every registered plugin's custom RPC
// table, in registration order, and invokes the first match. ok is
// false if no plugin claims rpcName, letting the caller reply
// operation-not-supported.
func (r *Registry) Dispatch(rpcName string, args map[string]interface{}) (result interface{}, err error, ok bool) {
	for _, cb := range r.snapshot() {
		if cb.RPC == nil {
			continue
		}
		if fn, found := cb.RPC[rpcName]; found {
			result, err = fn(args)
			return result, err, true
		}
	}
	return nil, nil, false
}
