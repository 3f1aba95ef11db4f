package txn

import (
	"errors"
	"testing"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() (*Engine, *datastore.Registry, *plugin.Registry) {
	reg := datastore.New()
	b := schema.NewBuilder()
	b.Leaf("system", "hostname")
	schm := b.Build()
	plugins := plugin.NewRegistry()
	e := New(reg, schm, plugins, zerolog.Nop())
	return e, reg, plugins
}

func TestCommitAppliesCandidateToRunning(t *testing.T) {
	e, reg, _ := newTestEngine()
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("hostname", "r1"))
	payload.Put(sys)
	require.NoError(t, reg.Put(datastore.Candidate, datastore.OpMerge, payload, 1))

	result, err := e.Commit(1, datastore.Candidate)
	require.NoError(t, err)
	assert.False(t, result.Partial, "expected clean commit, got %v", result.Errors)

	got, err := reg.Get(datastore.Running, []string{"system", "hostname"}, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.Value)

	dirty, _ := reg.Dirty(datastore.Candidate)
	assert.False(t, dirty, "expected candidate clean after commit")
}

func TestCommitRejectsConcurrentCommit(t *testing.T) {
	e, _, _ := newTestEngine()
	e.inCommit = true
	_, err := e.Commit(1, datastore.Candidate)
	assert.Error(t, err, "expected rejection of concurrent commit")
}

func TestCommitPluginValidateFailureVetoesSwap(t *testing.T) {
	e, reg, plugins := newTestEngine()
	plugins.Register(&plugin.Callbacks{
		Name:          "veto",
		TransValidate: func(tx *plugin.Tx) error { return errors.New("no") },
	})
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("hostname", "r2"))
	payload.Put(sys)
	require.NoError(t, reg.Put(datastore.Candidate, datastore.OpMerge, payload, 1))

	_, err := e.Commit(1, datastore.Candidate)
	assert.Error(t, err, "expected commit to be vetoed")

	got, _ := reg.Get(datastore.Running, []string{"system", "hostname"}, false)
	assert.Nil(t, got, "expected running untouched after vetoed commit")
}

func TestCommitPartialFailureStillSwapsRunning(t *testing.T) {
	e, reg, plugins := newTestEngine()
	plugins.Register(&plugin.Callbacks{
		Name:        "flaky",
		TransCommit: func(tx *plugin.Tx) error { return errors.New("post-commit hiccup") },
	})
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("hostname", "r3"))
	payload.Put(sys)
	require.NoError(t, reg.Put(datastore.Candidate, datastore.OpMerge, payload, 1))

	result, err := e.Commit(1, datastore.Candidate)
	require.NoError(t, err)
	require.True(t, result.Partial)
	assert.Len(t, result.Errors, 1)

	got, _ := reg.Get(datastore.Running, []string{"system", "hostname"}, false)
	require.NotNil(t, got)
	assert.Equal(t, "r3", got.Value, "expected running swap to have happened despite post-commit hook failure")
}

func TestDiscardResetsCandidateToRunning(t *testing.T) {
	e, reg, _ := newTestEngine()
	payload := datastore.NewContainer("config")
	payload.Put(datastore.NewLeaf("stray", "x"))
	require.NoError(t, reg.Put(datastore.Candidate, datastore.OpMerge, payload, 1))
	require.NoError(t, e.Discard())

	got, _ := reg.Get(datastore.Candidate, []string{"stray"}, false)
	assert.Nil(t, got, "expected candidate reset to running (no stray leaf)")
}
