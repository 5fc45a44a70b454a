package txnego

import (
	"sync"

	"github.com/decred/negwallet/txparam"
)

// Reactor is the single-threaded cooperative event loop (component C10)
// that schedules Driver.Update, per spec.md 5: "single-threaded
// cooperative... The driver never blocks... update() is non-reentrant per
// txId; if it is re-invoked while a previous invocation is mid-flight...
// the new invocation is dropped (the completion will re-invoke)."
type Reactor struct {
	driver *Driver

	mu       sync.Mutex
	inFlight map[txparam.TxID]bool
	pending  map[txparam.TxID]bool
}

// NewReactor creates a Reactor driving driver.
func NewReactor(driver *Driver) *Reactor {
	return &Reactor{
		driver:   driver,
		inFlight: make(map[txparam.TxID]bool),
		pending:  make(map[txparam.TxID]bool),
	}
}

// Dispatch schedules a re-entry for txID. If an Update for txID is already
// mid-flight, the dispatch is recorded as pending and dropped rather than
// run concurrently; the in-flight call will notice the pending flag when it
// finishes and re-dispatch itself, guaranteeing the edge isn't lost.
func (r *Reactor) Dispatch(txID txparam.TxID) {
	r.mu.Lock()
	if r.inFlight[txID] {
		r.pending[txID] = true
		r.mu.Unlock()
		return
	}
	r.inFlight[txID] = true
	r.mu.Unlock()

	r.run(txID)
}

func (r *Reactor) run(txID txparam.TxID) {
	for {
		outcome, err := r.driver.Update(txID)
		if err != nil {
			log.Errorf("tx %s: update failed: %v", txID, err)
		} else if outcome.Continue && outcome.Trigger == TriggerImmediate {
			// Loop again inline rather than round-tripping through
			// Dispatch: an Immediate trigger means more work is
			// ready right now.
			r.mu.Lock()
			delete(r.pending, txID)
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		r.inFlight[txID] = false
		rerun := r.pending[txID]
		delete(r.pending, txID)
		if rerun {
			r.inFlight[txID] = true
		}
		r.mu.Unlock()

		if !rerun {
			return
		}
	}
}

// OnTip fans a chain-tip advance out to every txID the caller tells it is
// still active. The Reactor keeps no active set of its own; the daemon's
// tip loop passes the set its RPC server tracks.
func (r *Reactor) OnTip(active []txparam.TxID) {
	for _, txID := range active {
		r.Dispatch(txID)
	}
}

// OnPeerParamWrite is the Observer callback wired into the Parameter
// Store's Subscribe: any write to an "interesting" key re-dispatches that
// record.
func (r *Reactor) OnPeerParamWrite(txID txparam.TxID, subTxID uint32, key txparam.TxParameterID) {
	r.Dispatch(txID)
}

// OnKeyKeeperCompletion re-dispatches txID after an asynchronous key-keeper
// job finishes, the coalesced "wake" event from keykeeper.Worker.
func (r *Reactor) OnKeyKeeperCompletion(txID txparam.TxID) {
	r.Dispatch(txID)
}
