package sensor

import (
	"context"
	"errors"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Result is one scripted outcome of Fake.Read.
type Result struct {
	Env physic.Env
	Err error
}

// Fake is a test double that returns scripted results in order. Once the
// script is exhausted the last result repeats.
type Fake struct {
	mu      sync.Mutex
	results []Result
	index   int
	calls   int
}

func NewFake(results ...Result) *Fake {
	return &Fake{results: results}
}

func (f *Fake) Read(ctx context.Context) (physic.Env, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if len(f.results) == 0 {
		return physic.Env{}, errors.New("no results configured")
	}
	r := f.results[f.index]
	if f.index < len(f.results)-1 {
		f.index++
	}
	return r.Env, r.Err
}

// Push appends results to the script.
func (f *Fake) Push(results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
