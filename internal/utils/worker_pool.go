package utils

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool fans independent jobs out over a fixed set of goroutines. The
// gateway uses it to apply guild member chunks, which arrive as bulk lists
// whose entries are independent of each other.
type WorkerPool struct {
	jobQueue  chan func()
	workerNum int
	logger    *zap.Logger
	wg        sync.WaitGroup
	quit      chan struct{}
}

// NewWorkerPool creates a pool with workerNum workers and a queue of
// queueSize pending jobs.
func NewWorkerPool(workerNum int, queueSize int, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		jobQueue:  make(chan func(), queueSize),
		workerNum: workerNum,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.jobQueue:
					// Recover so one panicking job cannot take a
					// worker down with it.
					func() {
						defer func() {
							if r := recover(); r != nil {
								p.logger.Error("worker recovered from panic",
									zap.Int("worker", workerID),
									zap.Any("panic", r))
							}
						}()
						job()
					}()
				case <-p.quit:
					return
				}
			}
		}(i)
	}
}

// Submit queues a job. It blocks when the queue is full rather than
// rejecting the job.
func (p *WorkerPool) Submit(job func()) {
	p.jobQueue <- job
}

// Stop signals the workers and waits for them to exit. Jobs still queued
// are dropped.
func (p *WorkerPool) Stop() {
	close(p.quit)
	p.wg.Wait()
}
