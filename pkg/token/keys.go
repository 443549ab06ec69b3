package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/StricklySoft/stricklysoft-realm/pkg/jwks"
)

// curveForAlg is the curve each ECDSA algorithm is defined over.
var curveForAlg = map[string]string{
	"ES256":   jwks.CurveP256,
	"ES384":   jwks.CurveP384,
	"ES512":   jwks.CurveP521,
	AlgES256K: jwks.CurveSecp256k1,
}

// verificationKey converts key into the type the jwt signing method for
// alg expects, rejecting mismatched key types and curves.
func verificationKey(alg string, key jwks.SigningKey) (any, error) {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		m, ok := key.RSA()
		if !ok {
			return nil, fmt.Errorf("%s requires an RSA key, got %q", alg, key.Type())
		}
		if !m.Exponent.IsInt64() || m.Exponent.Int64() > math.MaxInt32 || m.Exponent.Int64() < 2 {
			return nil, fmt.Errorf("RSA exponent is out of range")
		}
		return &rsa.PublicKey{N: m.Modulus, E: int(m.Exponent.Int64())}, nil

	case strings.HasPrefix(alg, "ES"):
		m, ok := key.EC()
		if !ok {
			return nil, fmt.Errorf("%s requires an EC key, got %q", alg, key.Type())
		}
		if want := curveForAlg[alg]; m.Curve.Name != want {
			return nil, fmt.Errorf("%s requires curve %s, got %s", alg, want, m.Curve.Name)
		}
		return ecPublicKey(m)

	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}

func ecPublicKey(m jwks.ECKey) (any, error) {
	var curve elliptic.Curve
	switch m.Curve.Name {
	case jwks.CurveP256:
		curve = elliptic.P256()
	case jwks.CurveP384:
		curve = elliptic.P384()
	case jwks.CurveP521:
		curve = elliptic.P521()
	case jwks.CurveSecp256k1:
		var x, y secp256k1.FieldVal
		if overflow := x.SetByteSlice(m.X.Bytes()); overflow {
			return nil, fmt.Errorf("secp256k1 x coordinate overflows the field")
		}
		if overflow := y.SetByteSlice(m.Y.Bytes()); overflow {
			return nil, fmt.Errorf("secp256k1 y coordinate overflows the field")
		}
		return secp256k1.NewPublicKey(&x, &y), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", m.Curve.Name)
	}
	return &ecdsa.PublicKey{Curve: curve, X: m.X, Y: m.Y}, nil
}
