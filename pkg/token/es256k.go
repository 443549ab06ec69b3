package token

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/golang-jwt/jwt/v5"
)

// AlgES256K is the JOSE name for ECDSA over secp256k1 with SHA-256.
const AlgES256K = "ES256K"

const es256kScalarSize = 32

// signingMethodES256K implements [jwt.SigningMethod] for secp256k1 keys.
// Verification expects a *secp256k1.PublicKey and signing a
// *secp256k1.PrivateKey. Signatures are the 64-byte R || S concatenation.
type signingMethodES256K struct{}

// SigningMethodES256K is registered with jwt under [AlgES256K].
var SigningMethodES256K jwt.SigningMethod = signingMethodES256K{}

func init() {
	jwt.RegisterSigningMethod(AlgES256K, func() jwt.SigningMethod {
		return SigningMethodES256K
	})
}

func (signingMethodES256K) Alg() string { return AlgES256K }

func (signingMethodES256K) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.(*secp256k1.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if len(sig) != 2*es256kScalarSize {
		return jwt.ErrECDSAVerification
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:es256kScalarSize]); overflow {
		return jwt.ErrECDSAVerification
	}
	if overflow := s.SetByteSlice(sig[es256kScalarSize:]); overflow {
		return jwt.ErrECDSAVerification
	}

	hash := sha256.Sum256([]byte(signingString))
	if !secpecdsa.NewSignature(&r, &s).Verify(hash[:], pub) {
		return jwt.ErrECDSAVerification
	}
	return nil
}

func (signingMethodES256K) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	hash := sha256.Sum256([]byte(signingString))
	sig := secpecdsa.Sign(priv, hash[:])

	r, s := sig.R(), sig.S()
	rb, sb := r.Bytes(), s.Bytes()
	out := make([]byte, 0, 2*es256kScalarSize)
	out = append(out, rb[:]...)
	out = append(out, sb[:]...)
	return out, nil
}
