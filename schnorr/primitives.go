// Package schnorr wraps the scalar/point arithmetic and Schnorr verify
// predicate that spec.md 6.3 treats as an assumed black box. It is the one
// place in the module that reaches directly into secp256k1 field and group
// operations; every other package (keykeeper, txbuilder) goes through here.
package schnorr

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
)

// Scalar is an element of the secp256k1 scalar field. It wraps
// secp256k1.ModNScalar (rather than aliasing it) so it can carry its own
// GobEncode/GobDecode: the upstream type has no exported fields, so without
// this every txparam.Set/Get of a Scalar would fail to encode.
type Scalar struct {
	secp256k1.ModNScalar
}

// GobEncode renders the scalar as its canonical 32-byte big-endian form.
func (s Scalar) GobEncode() ([]byte, error) {
	b := s.Bytes()
	return b[:], nil
}

// GobDecode parses the canonical 32-byte form produced by GobEncode.
func (s *Scalar) GobDecode(data []byte) error {
	overflow := s.SetByteSlice(data)
	if overflow != 0 {
		return fmt.Errorf("scalar encoding overflows the field")
	}
	return nil
}

// Point is a point on the secp256k1 curve, used both as a public excess and
// as a public nonce. Wrapped for the same reason as Scalar.
type Point struct {
	secp256k1.PublicKey
}

// GobEncode renders the point in 33-byte compressed form.
func (p Point) GobEncode() ([]byte, error) {
	return p.SerializeCompressed(), nil
}

// GobDecode parses the compressed form produced by GobEncode.
func (p *Point) GobDecode(data []byte) error {
	parsed, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return fmt.Errorf("unable to parse point: %w", err)
	}
	p.PublicKey = *parsed
	return nil
}

// RandScalar samples a uniformly random non-zero scalar.
func RandScalar() (Scalar, error) {
	var s Scalar
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return s, fmt.Errorf("unable to sample randomness: %w", err)
		}
		overflow := s.SetBytes(&buf)
		if overflow == 0 && !s.IsZero() {
			return s, nil
		}
	}
}

// HashToScalar reduces H(parts...) into the scalar field, used both for the
// Schnorr challenge c and for deterministic nonce/key derivation.
func HashToScalar(parts ...[]byte) Scalar {
	h := chainhash.HashB(bytesJoin(parts))

	var s Scalar
	s.SetByteSlice(h)
	return s
}

func bytesJoin(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ScalarBaseMult computes k*G.
func ScalarBaseMult(k Scalar) Point {
	priv := secp256k1.NewPrivateKey(&k.ModNScalar)
	return Point{*priv.PubKey()}
}

// ScalarMult computes k*P for an arbitrary point P.
func ScalarMult(k Scalar, p Point) Point {
	var pJ, resJ secp256k1.JacobianPoint
	p.AsJacobian(&pJ)

	secp256k1.ScalarMultNonConst(&k.ModNScalar, &pJ, &resJ)
	resJ.ToAffine()

	res := secp256k1.NewPublicKey(&resJ.X, &resJ.Y)
	return Point{*res}
}

// AddPoints computes a+b on the curve.
func AddPoints(a, b Point) Point {
	var aJ, bJ, sumJ secp256k1.JacobianPoint
	a.AsJacobian(&aJ)
	b.AsJacobian(&bJ)

	secp256k1.AddNonConst(&aJ, &bJ, &sumJ)
	sumJ.ToAffine()

	res := secp256k1.NewPublicKey(&sumJ.X, &sumJ.Y)
	return Point{*res}
}

// AddScalars computes a+b mod N.
func AddScalars(a, b Scalar) Scalar {
	var s Scalar
	s.Add2(&a.ModNScalar, &b.ModNScalar)
	return s
}

// Challenge computes c = H(X, R, kernelID), the binding value used both to
// sign and to verify a partial/aggregated Schnorr signature (spec.md 4.4.8
// and 8 P6).
func Challenge(X, R Point, kernelID []byte) Scalar {
	return HashToScalar(X.SerializeCompressed(), R.SerializeCompressed(), kernelID)
}

// Sign computes a Schnorr partial signature s = nonce + c*excess for the
// given per-party (excess, nonce) pair against the aggregated (X, R).
func Sign(excess, nonce Scalar, X, R Point, kernelID []byte) Scalar {
	c := Challenge(X, R, kernelID)

	var cx Scalar
	cx.Mul2(&c.ModNScalar, &excess.ModNScalar)

	return AddScalars(nonce, cx)
}

// VerifyPartial checks that a single party's partial signature s satisfies
// s*G == R_party + c*X_party, where c is computed against the *aggregated*
// (X, R). This is the predicate used by isPeerSignatureValid (spec.md
// 4.4.8) and is also what a final aggregated signature must satisfy (P6),
// with R_party/X_party substituted by the aggregated R/X.
func VerifyPartial(s Scalar, RParty, XParty, XAgg, RAgg Point, kernelID []byte) bool {
	c := Challenge(XAgg, RAgg, kernelID)

	lhs := ScalarBaseMult(s)
	rhs := AddPoints(RParty, ScalarMult(c, XParty))

	return lhs.IsEqual(&rhs.PublicKey)
}

// Signature is a standalone (non-aggregated) Schnorr signature, used for
// payment confirmations and sbbs message signing.
type Signature struct {
	R Point
	S Scalar
}

// SignMessage produces a standalone Schnorr signature over msg under key.
func SignMessage(key Scalar, msg []byte) (Signature, error) {
	nonce, err := RandScalar()
	if err != nil {
		return Signature{}, err
	}

	R := ScalarBaseMult(nonce)
	c := HashToScalar(R.SerializeCompressed(), msg)

	var cx Scalar
	cx.Mul2(&c.ModNScalar, &key.ModNScalar)

	return Signature{R: R, S: AddScalars(nonce, cx)}, nil
}

// VerifyMessage checks a standalone Schnorr signature produced by SignMessage.
func VerifyMessage(pub Point, msg []byte, sig Signature) bool {
	c := HashToScalar(sig.R.SerializeCompressed(), msg)

	lhs := ScalarBaseMult(sig.S)
	rhs := AddPoints(sig.R, ScalarMult(c, pub))

	return lhs.IsEqual(&rhs.PublicKey)
}

// PaymentConfirmationDigest computes the message a receiver signs to bind
// its acceptance of (amount, kernelID, senderPeerID), per spec.md 6.3.
func PaymentConfirmationDigest(kernelID []byte, amount uint64, senderPeerID []byte) []byte {
	var amtBuf [8]byte
	for i := 0; i < 8; i++ {
		amtBuf[i] = byte(amount >> (8 * i))
	}
	return chainhash.HashB(bytesJoin([][]byte{
		[]byte("PaymentConfirmation"),
		kernelID,
		amtBuf[:],
		senderPeerID,
	}))
}
