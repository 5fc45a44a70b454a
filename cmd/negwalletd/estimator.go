package main

import "github.com/decred/negwallet/coinselect"

// weightEstimator is a production SizeEstimator: it charges a fixed weight
// per input/output/kernel component, the same flat-weight approach the
// teacher's input.TxSizeEstimator takes for P2PKH/P2SH scripts, generalized
// here since this protocol's wire format has no script sizes to weigh.
type weightEstimator struct {
	inputs, outputs int
}

const (
	inputWeight  = 32
	outputWeight = 48
	kernelWeight = 96
)

func newWeightEstimator() coinselect.SizeEstimator {
	return &weightEstimator{}
}

func (e *weightEstimator) AddInput()  { e.inputs++ }
func (e *weightEstimator) AddOutput() { e.outputs++ }

func (e *weightEstimator) Fee(feeRatePerByte uint64) uint64 {
	total := uint64(e.inputs)*inputWeight + uint64(e.outputs)*outputWeight + kernelWeight
	return total * feeRatePerByte
}
