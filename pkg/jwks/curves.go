package jwks

import (
	"fmt"
	"math/big"
)

// Curve is a short Weierstrass curve y² = x³ + ax + b over the prime
// field of order P, with generator (Gx, Gy) of prime order N and
// cofactor H.
type Curve struct {
	Name    string
	P       *big.Int
	A       *big.Int
	B       *big.Int
	Gx      *big.Int
	Gy      *big.Int
	N       *big.Int
	H       int
	BitSize int
}

// Curve names as they appear in the JWK "crv" member.
const (
	CurveP256      = "P-256"
	CurveSecp256k1 = "secp256k1"
	CurveP384      = "P-384"
	CurveP521      = "P-521"
)

var (
	p256 = &Curve{
		Name:    CurveP256,
		P:       decimal("115792089210356248762697446949407573530086143415290314195533631308867097853951"),
		A:       decimal("115792089210356248762697446949407573530086143415290314195533631308867097853948"),
		B:       decimal("41058363725152142129326129780047268409114441015993725554835256314039467401291"),
		Gx:      decimal("48439561293906451759052585252797914202762949526041747995844080717082404635286"),
		Gy:      decimal("36134250956749795798585127919587881956611106672985015071877198253568414405109"),
		N:       decimal("115792089210356248762697446949407573529996955224135760342422259061068512044369"),
		H:       1,
		BitSize: 256,
	}

	secp256k1Curve = &Curve{
		Name:    CurveSecp256k1,
		P:       decimal("115792089237316195423570985008687907853269984665640564039457584007908834671663"),
		A:       decimal("0"),
		B:       decimal("7"),
		Gx:      decimal("55066263022277343669578718895168534326250603453777594175500187360389116729240"),
		Gy:      decimal("32670510020758816978083085130507043184471273380659243275938904335757337482424"),
		N:       decimal("115792089237316195423570985008687907852837564279074904382605163141518161494337"),
		H:       1,
		BitSize: 256,
	}

	p384 = &Curve{
		Name:    CurveP384,
		P:       decimal("39402006196394479212279040100143613805079739270465446667948293404245721771496870329047266088258938001861606973112319"),
		A:       decimal("39402006196394479212279040100143613805079739270465446667948293404245721771496870329047266088258938001861606973112316"),
		B:       decimal("27580193559959705877849011840389048093056905856361568521428707301988689241309860865136260764883745107765439761230575"),
		Gx:      decimal("26247035095799689268623156744566981891852923491109213387815615900925518854738050089022388053975719786650872476732087"),
		Gy:      decimal("8325710961489029985546751289520108179287853048861315594709205902480503199884419224438643760392947333078086511627871"),
		N:       decimal("39402006196394479212279040100143613805079739270465446667946905279627659399113263569398956308152294913554433653942643"),
		H:       1,
		BitSize: 384,
	}

	p521 = &Curve{
		Name:    CurveP521,
		P:       decimal("6864797660130609714981900799081393217269435300143305409394463459185543183397656052122559640661454554977296311391480858037121987999716643812574028291115057151"),
		A:       decimal("6864797660130609714981900799081393217269435300143305409394463459185543183397656052122559640661454554977296311391480858037121987999716643812574028291115057148"),
		B:       decimal("1093849038073734274511112390766805569936207598951683748994586394495953116150735016013708737573759623248592132296706313309438452531591012912142327488478985984"),
		Gx:      decimal("2661740802050217063228768716723360960729859168756973147706671368418802944996427808491545080627771902352094241225065558662157113545570916814161637315895999846"),
		Gy:      decimal("3757180025770020463545507224491183603594455134769762486694567779615544477440556316691234405012945539562144444537289428522585666729196580810124344277578376784"),
		N:       decimal("6864797660130609714981900799081393217269435300143305409394463459185543183397655394245057746333217197532963996371363321113864768612440380340372808892707005449"),
		H:       1,
		BitSize: 521,
	}

	curves = map[string]*Curve{
		CurveP256:      p256,
		CurveSecp256k1: secp256k1Curve,
		CurveP384:      p384,
		CurveP521:      p521,
	}
)

// CurveByName returns the named curve, or false if it is not supported.
// The returned value is shared and must not be modified.
func CurveByName(name string) (*Curve, bool) {
	c, ok := curves[name]
	return c, ok
}

// SupportedCurves lists the supported curve names.
func SupportedCurves() []string {
	return []string{CurveP256, CurveSecp256k1, CurveP384, CurveP521}
}

// ByteSize is the length in bytes of a field element.
func (c *Curve) ByteSize() int {
	return (c.BitSize + 7) / 8
}

// IsOnCurve reports whether (x, y) is a point on c with both coordinates
// reduced modulo P.
func (c *Curve) IsOnCurve(x, y *big.Int) bool {
	if x == nil || y == nil {
		return false
	}
	if x.Sign() < 0 || x.Cmp(c.P) >= 0 || y.Sign() < 0 || y.Cmp(c.P) >= 0 {
		return false
	}

	// y² mod p
	lhs := new(big.Int).Mul(y, y)
	lhs.Mod(lhs, c.P)

	// x³ + ax + b mod p
	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	ax := new(big.Int).Mul(c.A, x)
	rhs.Add(rhs, ax)
	rhs.Add(rhs, c.B)
	rhs.Mod(rhs, c.P)

	return lhs.Cmp(rhs) == 0
}

func (c *Curve) String() string {
	return c.Name
}

func decimal(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("jwks: invalid curve constant %q", s))
	}
	return n
}
