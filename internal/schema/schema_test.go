package schema

import (
	"testing"

	"github.com/opencfgd/confd/internal/datastore"
)

func buildTestSchema() *Schema {
	b := NewBuilder()
	b.Leaf("system", "hostname")
	b.Leaf("system", "password").Secret()
	b.StateLeaf("system", "uptime")
	b.List("name", "interfaces", "interface")
	return b.Build()
}

func TestValidateRejectsUnknownElement(t *testing.T) {
	s := buildTestSchema()
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("bogus", "x"))
	payload.Put(sys)

	if err := s.Validate(nil, payload); err == nil {
		t.Fatalf("expected error for unknown element")
	}
}

func TestValidateRejectsStateOnlyNode(t *testing.T) {
	s := buildTestSchema()
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("uptime", "100"))
	payload.Put(sys)

	err := s.Validate(nil, payload)
	if err == nil {
		t.Fatalf("expected error editing a state-only node")
	}
}

func TestValidateAcceptsKnownConfigNodes(t *testing.T) {
	s := buildTestSchema()
	payload := datastore.NewContainer("config")
	sys := datastore.NewContainer("system")
	sys.Put(datastore.NewLeaf("hostname", "router1"))
	payload.Put(sys)

	if err := s.Validate(nil, payload); err != nil {
		t.Fatalf("expected valid payload to pass, got %v", err)
	}
}

func TestIsStateOnly(t *testing.T) {
	s := buildTestSchema()
	if !s.IsStateOnly([]string{"system", "uptime"}) {
		t.Errorf("expected system/uptime to be state-only")
	}
	if s.IsStateOnly([]string{"system", "hostname"}) {
		t.Errorf("expected system/hostname to be config")
	}
}
