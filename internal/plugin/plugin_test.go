package plugin

import (
	"errors"
	"testing"
)

func TestRunValidateAbortsInReverseOnFailure(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.Register(&Callbacks{
		Name:          "a",
		TransBegin:    func(tx *Tx) error { order = append(order, "a-begin"); return nil },
		TransValidate: func(tx *Tx) error { order = append(order, "a-validate"); return nil },
		TransAbort:    func(tx *Tx) { order = append(order, "a-abort") },
	})
	r.Register(&Callbacks{
		Name:          "b",
		TransBegin:    func(tx *Tx) error { order = append(order, "b-begin"); return nil },
		TransValidate: func(tx *Tx) error { order = append(order, "b-validate"); return errors.New("nope") },
		TransAbort:    func(tx *Tx) { order = append(order, "b-abort") },
	})

	err := r.RunValidate(&Tx{})
	if err == nil {
		t.Fatalf("expected validate failure")
	}
	want := []string{"a-begin", "a-validate", "b-begin", "b-validate", "b-abort", "a-abort"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunCommitCollectsAllErrorsWithoutAborting(t *testing.T) {
	r := NewRegistry()
	ran := 0
	r.Register(&Callbacks{Name: "a", TransCommit: func(tx *Tx) error { ran++; return errors.New("boom") }})
	r.Register(&Callbacks{Name: "b", TransCommit: func(tx *Tx) error { ran++; return nil }})

	errs := r.RunCommit(&Tx{})
	if ran != 2 {
		t.Fatalf("expected both plugins to run trans_commit despite the first failing, ran=%d", ran)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one collected error, got %v", errs)
	}
}

func TestDispatchFallsThroughPlugins(t *testing.T) {
	r := NewRegistry()
	r.Register(&Callbacks{Name: "a", RPC: map[string]func(map[string]interface{}) (interface{}, error){
		"ping": func(args map[string]interface{}) (interface{}, error) { return "pong", nil },
	}})

	result, err, ok := r.Dispatch("ping", nil)
	if !ok || err != nil || result != "pong" {
		t.Fatalf("dispatch = %v, %v, %v", result, err, ok)
	}

	_, _, ok = r.Dispatch("unknown-op", nil)
	if ok {
		t.Fatalf("expected unknown-op to be unclaimed")
	}
}
