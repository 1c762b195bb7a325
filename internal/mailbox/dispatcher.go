package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by Enqueue when every worker is busy and the
// buffer is full. The question stays pending and is picked up by the
// deferred responder.
var ErrQueueFull = errors.New("dispatch queue is full")

// Job is one stored question waiting for triage.
type Job struct {
	QuestionID uint
	Text       string
	// Done is called from the worker with the result, if set.
	Done func(Outcome, error)
}

// Dispatcher runs TriageAndDispatch on a fixed pool of workers so slow
// responder calls never block chat ingestion.
type Dispatcher struct {
	engine  *Engine
	jobs    chan Job
	workers int
	log     logrus.FieldLogger
}

func NewDispatcher(engine *Engine, workers, queueSize int, log logrus.FieldLogger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		engine:  engine,
		jobs:    make(chan Job, queueSize),
		workers: workers,
		log:     log.WithField("component", "dispatcher"),
	}
}

// Enqueue не блокує.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// running job has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.WithField("workers", d.workers).Info("dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	d.log.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			out, err := d.engine.TriageAndDispatch(ctx, job.QuestionID, job.Text)
			if err != nil {
				d.log.WithError(err).WithField("question_id", job.QuestionID).Error("triage failed")
			}
			if job.Done != nil {
				job.Done(out, err)
			}
		}
	}
}
