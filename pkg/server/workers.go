package server

import (
	"sync"

	"github.com/rs/zerolog"
)

// deliveryPool runs forwarding work off the receive loop on a fixed set of
// workers. Submit never blocks: when the queue is full the job is dropped.
type deliveryPool struct {
	jobs    chan func()
	workers int
	logger  zerolog.Logger
	metrics *Metrics

	mu     sync.RWMutex // guards closed against Submit racing stop
	closed bool
	wg     sync.WaitGroup
}

func newDeliveryPool(workers, queue int, logger zerolog.Logger, metrics *Metrics) *deliveryPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	return &deliveryPool{
		jobs:    make(chan func(), queue),
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *deliveryPool) start() {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work()
	}
}

// Submit queues job. It returns false if the pool is stopped or saturated.
func (p *deliveryPool) Submit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.metrics.RecordDroppedJob()
		return false
	}
}

// stop lets queued jobs finish, then waits for every worker to exit
func (p *deliveryPool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *deliveryPool) work() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(job)
	}
}

// run executes one job; a panic is logged and swallowed so the worker survives
func (p *deliveryPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanickedJob()
			p.logger.Error().Interface("panic", r).Msg("delivery job panicked")
		}
	}()
	job()
}
