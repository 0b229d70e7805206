package llm

import (
	"context"
	"sync"
)

// Fake is a scripted Generator for tests. Each call consumes the next
// step; the last step repeats once the script runs out.
type Fake struct {
	mu    sync.Mutex
	steps []FakeStep
	calls []GenerateRequest
}

// FakeStep is one scripted generation outcome.
type FakeStep struct {
	Response string
	Err      error
}

func NewFake(steps ...FakeStep) *Fake {
	return &Fake{steps: steps}
}

func (f *Fake) Model() string { return "fake-model" }

func (f *Fake) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if len(f.steps) == 0 {
		return "", nil
	}
	i := len(f.calls) - 1
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	step := f.steps[i]
	return step.Response, step.Err
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]GenerateRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount reports how many times Generate ran.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
