package rpc

// SendTxRequest starts a new sender-side negotiation record.
type SendTxRequest struct {
	PeerID    []byte
	Amount    uint64
	Fee       uint64
	AssetID   uint64
	MinHeight uint64
	Lifetime  uint64
	IsSelfTx  bool
}

// SendTxResponse carries the freshly assigned transaction id.
type SendTxResponse struct {
	TxID [16]byte
}

// CancelTxRequest asks the daemon to cancel an in-flight record.
type CancelTxRequest struct {
	TxID [16]byte
}

// CancelTxResponse is empty; a non-nil error is the only signal.
type CancelTxResponse struct{}

// GetStatusRequest asks for a record's current state.
type GetStatusRequest struct {
	TxID [16]byte
}

// GetStatusResponse reports a record's state and, if Failed, why.
type GetStatusResponse struct {
	State         string
	FailureReason string
}
