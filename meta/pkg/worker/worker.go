// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TaskStop makes the worker loop return.
type TaskStop struct{}

// Task is anything a TaskHandler knows how to run.
type Task interface{}

// TaskHandler runs the tasks of a worker, one at a time.
type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to set up in the worker
// goroutine before the first task.
type Starter interface {
	Start()
}

// Worker runs queued tasks on a single goroutine.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

const defaultWorkerCapacity = 128

// NewWorker creates a worker with a bounded queue. wg tracks the worker
// goroutine once started.
func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return NewWorkerWithCapacity(name, wg, defaultWorkerCapacity)
}

// NewWorkerWithCapacity creates a worker whose queue holds capacity tasks.
func NewWorkerWithCapacity(name string, wg *sync.WaitGroup, capacity int) *Worker {
	ch := make(chan Task, capacity)
	return &Worker{
		name:     name,
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		wg:       wg,
	}
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Start runs the worker loop until a TaskStop arrives.
func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				log.Debug("worker stopped", zap.String("worker", w.name))
				return
			}
			handler.Handle(task)
		}
	}()
}

// Sender returns the queue of the worker.
func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Schedule queues t without blocking. It returns false if the queue is full.
func (w *Worker) Schedule(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		log.Warn("worker queue is full, drop task", zap.String("worker", w.name))
		return false
	}
}

// Stop queues a TaskStop behind the pending tasks.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}
