// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines used to evaluate independent parts of a
// graph (typically the towers of a step) in parallel.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool of workers. The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int

	// extraParallelism is temporarily increased while a worker waits on other workers.
	extraParallelism atomic.Int32
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given soft limit of parallel tasks.
// 0 disables parallelism (tasks run inline) and -1 makes it unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism is the soft-target for parallelism.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism+int(w.extraParallelism.Load())
}

// lockedRunTaskInGoroutine runs task and keeps tabs on w.numRunning.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine if there is a free worker.
// It returns false, without running the task, otherwise.
//
// It's up to the caller to synchronize with the end of the task.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.maxParallelism < 0 {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// WorkerIsAsleep indicates the calling worker is going to wait for other workers, and
// temporarily frees its slot. Call WorkerRestarted when it resumes.
func (w *Pool) WorkerIsAsleep() {
	w.extraParallelism.Add(1)
}

// WorkerRestarted indicates the calling worker resumed after WorkerIsAsleep.
func (w *Pool) WorkerRestarted() {
	w.extraParallelism.Add(-1)
}

// RunAll runs all tasks and returns when they are all finished.
//
// Tasks are started in goroutines while there are free workers, the remaining ones (and always
// the last one) run inline in the caller. Tasks may themselves call RunAll: the caller's slot is
// released while it waits, so nested use doesn't deadlock.
func (w *Pool) RunAll(tasks ...func()) {
	if len(tasks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, task := range tasks[:len(tasks)-1] {
		wg.Add(1)
		started := w.StartIfAvailable(func() {
			defer wg.Done()
			task()
		})
		if !started {
			task()
			wg.Done()
		}
	}
	tasks[len(tasks)-1]()
	w.WorkerIsAsleep()
	wg.Wait()
	w.WorkerRestarted()
}
