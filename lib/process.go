/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lib

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// Job is a unit of work run by a Process. A job must return once its
// context is done.
type Job func(context.Context) error

// Process runs jobs in a shared context and waits for them on shutdown.
type Process struct {
	// doneCh is closed when all the jobs are completed.
	doneCh chan struct{}
	// spawn runs a goroutine in the process context as a job with waiting
	// for its completion on shutdown.
	spawn func(Job)
	// terminate signals the process to terminate gracefully.
	terminate func()
	// cancel signals the process to terminate immediately.
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error
}

// NewProcess creates a Process bound to ctx.
func NewProcess(ctx context.Context) *Process {
	ctx, cancel := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	var jobs sync.WaitGroup
	var once sync.Once

	p := &Process{
		doneCh: doneCh,
		cancel: cancel,
	}

	jobs.Add(1) // The main "job", Wait() must not return before terminate.
	go func() {
		jobs.Wait()
		close(doneCh)
	}()

	p.terminate = func() {
		once.Do(func() {
			jobs.Done()
		})
	}
	p.spawn = func(j Job) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			if err := j(ctx); err != nil {
				p.mu.Lock()
				p.errs = append(p.errs, err)
				p.mu.Unlock()
			}
		}()
	}
	return p
}

// Wait blocks until every job is done.
func (p *Process) Wait() {
	if p == nil {
		return
	}
	<-p.doneCh
}

// Done is closed once every job is done.
func (p *Process) Done() <-chan struct{} {
	return p.doneCh
}

// Spawn runs f as a job. It panics once the process is finished.
func (p *Process) Spawn(f Job) {
	if p == nil {
		panic("spawning a job on a nil process")
	}
	select {
	case <-p.doneCh:
		panic("spawning a job on a finished process")
	default:
		p.spawn(f)
	}
}

// SpawnCritical runs f as a job. A failure of f terminates the whole
// process.
func (p *Process) SpawnCritical(f Job) {
	p.Spawn(func(ctx context.Context) error {
		if err := f(ctx); err != nil {
			p.terminate()
			p.cancel()
			return trace.Wrap(err)
		}
		return nil
	})
}

// Err returns the errors returned by the jobs so far.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return trace.NewAggregate(p.errs...)
}

// Shutdown waits for the jobs to finish on their own.
func (p *Process) Shutdown(ctx context.Context) error {
	if p == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	p.terminate()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.doneCh:
		return nil
	}
}

// Close cancels the jobs and waits for them.
func (p *Process) Close() {
	if p == nil {
		return
	}
	p.terminate()
	p.cancel()
	<-p.doneCh
}
