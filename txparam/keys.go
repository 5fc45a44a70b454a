package txparam

// TxParameterID enumerates every field the negotiation protocol persists
// against a transaction record. Missing keys are never an error; only
// GetMandatory fails when one is absent.
type TxParameterID uint32

const (
	// Core record fields.
	Amount TxParameterID = iota + 1
	Fee
	AssetID
	MinHeight
	MaxHeight
	Lifetime
	PeerResponseHeight
	PeerMaxHeight
	CreateTime
	IsSender
	IsSelfTx
	MyID
	PeerID
	MySecureWalletID
	PeerSecureWalletID
	Status
	State
	TransactionType

	// Coin selection / builder artefacts.
	Inputs
	Outputs
	ChangeOutputs
	NonceSlot
	PublicExcess
	PublicNonce
	PeerPublicExcess
	PeerPublicNonce
	PartialSignature
	PeerSignature
	PeerInputs
	PeerOutputs
	Offset
	PeerOffset
	PeerProtoVersion
	Kernel
	KernelID
	Signature
	Transaction
	OwnOutputCoinIDs

	// Node / peer round-trip state.
	TransactionRegistered
	KernelProofHeight
	KernelUnconfirmedHeight
	PaymentConfirmation

	// Failure bookkeeping.
	InternalFailureReason

	// firstUnusedParameterID marks the end of the built-in key space;
	// application-defined keys (e.g. for TxKind variants other than
	// Simple/Split) must start from here.
	firstUnusedParameterID
)

// interestingParams is the curated subset of keys whose changes are worth
// notifying subscribers about, per spec.md 4.1.
var interestingParams = map[TxParameterID]struct{}{
	Amount:                 {},
	Fee:                    {},
	MinHeight:              {},
	PeerID:                 {},
	MyID:                   {},
	CreateTime:             {},
	IsSender:               {},
	Status:                 {},
	TransactionType:        {},
	KernelID:               {},
	AssetID:                {},
}

// IsInteresting reports whether a write to id should trigger observer
// notification.
func IsInteresting(id TxParameterID) bool {
	_, ok := interestingParams[id]
	return ok
}

// String gives a human readable name, useful in error messages and logs.
func (id TxParameterID) String() string {
	if name, ok := paramNames[id]; ok {
		return name
	}
	return "TxParameterID(unknown)"
}

var paramNames = map[TxParameterID]string{
	Amount:                 "Amount",
	Fee:                    "Fee",
	AssetID:                "AssetID",
	MinHeight:              "MinHeight",
	MaxHeight:              "MaxHeight",
	Lifetime:               "Lifetime",
	PeerResponseHeight:     "PeerResponseHeight",
	PeerMaxHeight:          "PeerMaxHeight",
	CreateTime:             "CreateTime",
	IsSender:               "IsSender",
	IsSelfTx:               "IsSelfTx",
	MyID:                   "MyID",
	PeerID:                 "PeerID",
	MySecureWalletID:       "MySecureWalletID",
	PeerSecureWalletID:     "PeerSecureWalletID",
	Status:                 "Status",
	State:                  "State",
	TransactionType:        "TransactionType",
	Inputs:                 "Inputs",
	Outputs:                "Outputs",
	ChangeOutputs:          "ChangeOutputs",
	NonceSlot:              "NonceSlot",
	PublicExcess:           "PublicExcess",
	PublicNonce:            "PublicNonce",
	PeerPublicExcess:       "PeerPublicExcess",
	PeerPublicNonce:        "PeerPublicNonce",
	PartialSignature:       "PartialSignature",
	PeerSignature:          "PeerSignature",
	PeerInputs:             "PeerInputs",
	PeerOutputs:            "PeerOutputs",
	Offset:                 "Offset",
	PeerOffset:             "PeerOffset",
	PeerProtoVersion:       "PeerProtoVersion",
	Kernel:                 "Kernel",
	KernelID:               "KernelID",
	Signature:              "Signature",
	Transaction:            "Transaction",
	OwnOutputCoinIDs:       "OwnOutputCoinIDs",
	TransactionRegistered:  "TransactionRegistered",
	KernelProofHeight:      "KernelProofHeight",
	KernelUnconfirmedHeight: "KernelUnconfirmedHeight",
	PaymentConfirmation:    "PaymentConfirmation",
	InternalFailureReason:  "InternalFailureReason",
}
