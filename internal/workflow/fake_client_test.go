package workflow

import (
	"context"
	"testing"
)

func TestIdentityIsDeterministic(t *testing.T) {
	a := Identity("conn-1", 42, 1)
	b := Identity("conn-1", 42, 1)
	if a != b {
		t.Fatalf("expected identical identities, got %q and %q", a, b)
	}
	if c := Identity("conn-1", 42, 2); c == a {
		t.Fatalf("different attempt numbers must not collide: %q", c)
	}
}

func TestFakeClientDedupesSubmissionsByIdentity(t *testing.T) {
	calls := 0
	fc := NewFakeClient(func(identity string, input Input) Result {
		calls++
		return Result{Succeeded: true, Output: []byte("ok")}
	})

	identity := Identity("conn-1", 1, 0)
	f1, err := fc.Submit(context.Background(), identity, Input{JobID: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f2, err := fc.Submit(context.Background(), identity, Input{JobID: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected the same Future for a duplicate identity")
	}
	if calls != 1 {
		t.Fatalf("expected OnSubmit to run once, ran %d times", calls)
	}

	result, err := f1.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !result.Succeeded || string(result.Output) != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFakeClientCancelMarksFutureFailed(t *testing.T) {
	fc := NewFakeClient(func(identity string, input Input) Result {
		return Result{Succeeded: true}
	})
	identity := Identity("conn-1", 1, 0)
	future, err := fc.Submit(context.Background(), identity, Input{JobID: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := fc.Cancel(context.Background(), identity); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	result, _ := future.Wait(context.Background())
	if result.Succeeded {
		t.Fatalf("expected cancelled future to report failure")
	}
}
