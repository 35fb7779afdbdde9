package workflow

import (
	"context"
	"sync"
)

// FakeClient is an in-process Client used by tests, standing in for the
// external workflow runtime. Submitting the same identity twice returns the
// same Future, modeling the runtime's own deduplication.
type FakeClient struct {
	mu        sync.Mutex
	futures   map[string]*fakeFuture
	OnSubmit  func(identity string, input Input) Result
}

// NewFakeClient builds a FakeClient. onSubmit computes the result
// synchronously for a given submission; tests typically close over a
// scripted sequence of outcomes.
func NewFakeClient(onSubmit func(identity string, input Input) Result) *FakeClient {
	return &FakeClient{futures: make(map[string]*fakeFuture), OnSubmit: onSubmit}
}

func (f *FakeClient) Submit(ctx context.Context, identity string, input Input) (Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.futures[identity]; ok {
		return existing, nil
	}
	result := f.OnSubmit(identity, input)
	future := &fakeFuture{result: result}
	f.futures[identity] = future
	return future, nil
}

func (f *FakeClient) Cancel(ctx context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if future, ok := f.futures[identity]; ok {
		future.result = Result{Succeeded: false, Err: context.Canceled}
	}
	return nil
}

type fakeFuture struct {
	result Result
}

func (f *fakeFuture) Wait(ctx context.Context) (Result, error) {
	return f.result, nil
}

var _ Client = (*FakeClient)(nil)
