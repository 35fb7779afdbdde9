package process

import "testing"

func TestSpecContainerName(t *testing.T) {
	s := Spec{JobID: 42, AttemptNumber: 3}
	if got, want := s.ContainerName(), "42-3"; got != want {
		t.Fatalf("ContainerName() = %q, want %q", got, want)
	}
}
