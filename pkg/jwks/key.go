package jwks

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// KeyType is the JWK "kty" member.
type KeyType string

const (
	KeyTypeRSA KeyType = "RSA"
	KeyTypeEC  KeyType = "EC"
)

// Material is the public key material of a [SigningKey]: either [RSAKey]
// or [ECKey]. The set of implementations is closed.
type Material interface {
	keyType() KeyType
}

// RSAKey is an RSA public key.
type RSAKey struct {
	Modulus  *big.Int
	Exponent *big.Int
}

func (RSAKey) keyType() KeyType { return KeyTypeRSA }

// ECKey is an elliptic curve public key: a point on a named curve.
type ECKey struct {
	Curve *Curve
	X     *big.Int
	Y     *big.Int
}

func (ECKey) keyType() KeyType { return KeyTypeEC }

// SigningKey is a verification key published by the identity provider.
// It is immutable once constructed.
type SigningKey struct {
	ID       string
	Material Material
}

// Type returns the key type, or "" for a zero SigningKey.
func (k SigningKey) Type() KeyType {
	if k.Material == nil {
		return ""
	}
	return k.Material.keyType()
}

// RSA returns the RSA material if k is an RSA key.
func (k SigningKey) RSA() (RSAKey, bool) {
	m, ok := k.Material.(RSAKey)
	return m, ok
}

// EC returns the EC material if k is an EC key.
func (k SigningKey) EC() (ECKey, bool) {
	m, ok := k.Material.(ECKey)
	return m, ok
}

// JWK is the subset of a JSON Web Key needed to rebuild RSA and EC public
// keys.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

var (
	// ErrUnsupportedKeyType is returned for a kty other than RSA or EC.
	ErrUnsupportedKeyType = errors.New("jwks: unsupported key type")

	// ErrUnsupportedCurve is returned for an EC key on an unknown curve.
	ErrUnsupportedCurve = errors.New("jwks: unsupported curve")

	// ErrMalformedKey is returned when key material is missing or invalid.
	ErrMalformedKey = errors.New("jwks: malformed key")
)

// ParseKey rebuilds the public key described by jwk.
func ParseKey(jwk JWK) (SigningKey, error) {
	switch KeyType(jwk.Kty) {
	case KeyTypeRSA:
		n, err := decodeUint(jwk.N)
		if err != nil {
			return SigningKey{}, fmt.Errorf("%w: modulus: %v", ErrMalformedKey, err)
		}
		e, err := decodeUint(jwk.E)
		if err != nil {
			return SigningKey{}, fmt.Errorf("%w: exponent: %v", ErrMalformedKey, err)
		}
		if n.Sign() == 0 || e.Sign() == 0 {
			return SigningKey{}, fmt.Errorf("%w: zero RSA parameter", ErrMalformedKey)
		}
		return SigningKey{ID: jwk.Kid, Material: RSAKey{Modulus: n, Exponent: e}}, nil

	case KeyTypeEC:
		curve, ok := CurveByName(jwk.Crv)
		if !ok {
			return SigningKey{}, fmt.Errorf("%w: %q", ErrUnsupportedCurve, jwk.Crv)
		}
		x, err := decodeUint(jwk.X)
		if err != nil {
			return SigningKey{}, fmt.Errorf("%w: x: %v", ErrMalformedKey, err)
		}
		y, err := decodeUint(jwk.Y)
		if err != nil {
			return SigningKey{}, fmt.Errorf("%w: y: %v", ErrMalformedKey, err)
		}
		if !curve.IsOnCurve(x, y) {
			return SigningKey{}, fmt.Errorf("%w: point is not on %s", ErrMalformedKey, curve.Name)
		}
		return SigningKey{ID: jwk.Kid, Material: ECKey{Curve: curve, X: x, Y: y}}, nil

	default:
		return SigningKey{}, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, jwk.Kty)
	}
}

// Set is a decoded key set document. Entries that fail to decode are
// kept as nil so that one bad entry never hides the rest.
type Set struct {
	entries []*JWK
}

// ParseSet decodes a {"keys": [...]} document. It fails only if the
// document itself is not valid JSON of that shape.
func ParseSet(data []byte) (*Set, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jwks: failed to parse key set: %w", err)
	}
	s := &Set{entries: make([]*JWK, 0, len(doc.Keys))}
	for _, raw := range doc.Keys {
		var jwk JWK
		if err := json.Unmarshal(raw, &jwk); err != nil {
			s.entries = append(s.entries, nil)
			continue
		}
		s.entries = append(s.entries, &jwk)
	}
	return s, nil
}

// Len returns the number of entries in the document, decodable or not.
func (s *Set) Len() int { return len(s.entries) }

// Find returns the first entry whose kid matches keyID and whose material
// decodes. Malformed entries and unsupported key types are skipped.
func (s *Set) Find(keyID string) (SigningKey, bool) {
	for _, jwk := range s.entries {
		if jwk == nil || jwk.Kid == "" || jwk.Kid != keyID || jwk.Kty == "" {
			continue
		}
		key, err := ParseKey(*jwk)
		if err != nil {
			continue
		}
		return key, true
	}
	return SigningKey{}, false
}

// Keys returns every decodable key in document order.
func (s *Set) Keys() []SigningKey {
	keys := make([]SigningKey, 0, len(s.entries))
	for _, jwk := range s.entries {
		if jwk == nil {
			continue
		}
		if key, err := ParseKey(*jwk); err == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// decodeUint decodes a base64url unsigned big-endian integer. Padding is
// tolerated.
func decodeUint(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("value is missing")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// EncodeUint is the inverse of the decoding applied to JWK integers.
func EncodeUint(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}
