package keykeeper

import (
	"fmt"
	"sync"

	"github.com/decred/negwallet/txparam"
)

// OpKind tags which Keeper capability a Job exercises.
type OpKind int

const (
	OpDeriveSbbsKey OpKind = iota
	OpGeneratePublicKeys
	OpGenerateOutputs
	OpSignSender
	OpSignReceiver
	OpSignAssetKernel
	OpAllocateNonceSlot
	OpGenerateNonce
)

// Job is one unit of work submitted to the Worker. Exec runs on the worker
// goroutine against the wrapped synchronous Keeper and must not touch
// driver state directly — only the Completion it produces crosses back.
type Job struct {
	TxID    txparam.TxID
	SubTxID uint32
	Op      OpKind
	Exec    func(Keeper) (interface{}, error)
}

// Completion is what the driver sees once a Job finishes. Status mirrors
// the taxonomy in spec.md 4.2; Result is the Exec return value on Ok.
type Completion struct {
	TxID    txparam.TxID
	SubTxID uint32
	Op      OpKind
	Status  Status
	Result  interface{}
	Err     error
}

// Worker serialises Jobs onto a single goroutine under a FIFO, the way
// spec.md 5 describes a key keeper living on another thread: "consumes a
// FIFO of requests under a mutex+condvar, executes them serially, and
// posts completions back to the reactor thread via a single 'async-event'
// kernel primitive that coalesces".
type Worker struct {
	keeper Keeper

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	quit     bool
	quitOnce sync.Once

	// completions is drained by the Reactor; Wake fires (non-blocking,
	// coalescing) every time one or more completions become available.
	completions chan Completion
	Wake        chan struct{}
}

// NewWorker creates a Worker wrapping keeper. Call Start to launch its
// goroutine.
func NewWorker(keeper Keeper) *Worker {
	w := &Worker{
		keeper:      keeper,
		completions: make(chan Completion, 256),
		Wake:        make(chan struct{}, 1),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the worker's single processing goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the worker to exit after draining any in-flight job.
func (w *Worker) Stop() {
	w.quitOnce.Do(func() {
		w.mu.Lock()
		w.quit = true
		w.cond.Broadcast()
		w.mu.Unlock()
	})
}

// Submit enqueues job for execution. It never blocks the caller on the
// job's completion — that arrives later via Completions()/Wake.
func (w *Worker) Submit(job Job) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *Worker) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.quit {
			w.cond.Wait()
		}
		if w.quit && len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		completion := w.exec(job)

		// Non-blocking send: the completions channel is sized well
		// above any realistic backlog, and a full channel here would
		// indicate the reactor has stopped draining, not something
		// the worker should block on.
		select {
		case w.completions <- completion:
		default:
			log.Warnf("key keeper completion channel full, dropping "+
				"completion for tx %s op %d", completion.TxID, completion.Op)
		}

		// Coalescing wake: if a wake is already pending, don't queue
		// a second one.
		select {
		case w.Wake <- struct{}{}:
		default:
		}
	}
}

func (w *Worker) exec(job Job) (completion Completion) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("key keeper job panicked: %v", r)
			completion = Completion{
				TxID: job.TxID, SubTxID: job.SubTxID, Op: job.Op,
				Status: Unspecified, Err: &Error{Status: Unspecified, Reason: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()

	result, err := job.Exec(w.keeper)
	if err == nil {
		return Completion{
			TxID: job.TxID, SubTxID: job.SubTxID, Op: job.Op,
			Status: Ok, Result: result,
		}
	}

	if kerr, ok := err.(*Error); ok {
		return Completion{
			TxID: job.TxID, SubTxID: job.SubTxID, Op: job.Op,
			Status: kerr.Status, Err: kerr,
		}
	}

	return Completion{
		TxID: job.TxID, SubTxID: job.SubTxID, Op: job.Op,
		Status: Unspecified, Err: err,
	}
}

// Completions drains every completion currently buffered, without
// blocking. The Reactor calls this after observing a Wake.
func (w *Worker) Completions() []Completion {
	var out []Completion
	for {
		select {
		case c := <-w.completions:
			out = append(out, c)
		default:
			return out
		}
	}
}
