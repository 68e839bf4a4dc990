package admission

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProofClaims is the payload of a proof-of-action token. The registered
// subject is the user, the token id is the single-use action identifier and
// the kid header names the signing key version.
type ProofClaims struct {
	ActionType string `json:"act"`
	DeltaCap   int64  `json:"cap"`
	jwt.RegisteredClaims
}

// Issuer mints proof-of-action tokens. The guard never calls it; it backs the
// load generator and tests, standing in for the external issuing service.
type Issuer struct {
	version string
	key     []byte
	now     func() time.Time
}

// NewIssuer creates an issuer signing with key under version.
func NewIssuer(version string, key []byte, now func() time.Time) (*Issuer, error) {
	if version == "" || len(key) == 0 {
		return nil, ErrInvalidSignature
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{version: version, key: key, now: now}, nil
}

// Issue signs a proof for one action.
func (i *Issuer) Issue(userID, actionType, actionTokenID string, deltaCap int64, ttl time.Duration) (string, error) {
	now := i.now()
	claims := ProofClaims{
		ActionType: actionType,
		DeltaCap:   deltaCap,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        actionTokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.version

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return signed, nil
}

// verifier checks proof signatures and timing.
type verifier struct {
	keys   map[string][]byte
	parser *jwt.Parser
	maxTTL time.Duration
	skew   time.Duration
	now    func() time.Time
}

func newVerifier(keys map[string][]byte, skew, maxTTL time.Duration, now func() time.Time) *verifier {
	return &verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(skew),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(now),
		),
		maxTTL: maxTTL,
		skew:   skew,
		now:    now,
	}
}

func (v *verifier) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// verify parses proof and returns its claims when the signature is valid
// for its key version and the token is inside its validity window.
func (v *verifier) verify(proof string) (*ProofClaims, error) {
	if proof == "" {
		return nil, ErrMissingProof
	}
	claims := &ProofClaims{}
	if _, err := v.parser.ParseWithClaims(proof, claims, v.keyFunc); err != nil {
		return nil, err
	}

	exp := claims.ExpiresAt.Time
	if claims.IssuedAt != nil && exp.Sub(claims.IssuedAt.Time) > v.maxTTL {
		return nil, fmt.Errorf("%w: %s", ErrProofTooLong, exp.Sub(claims.IssuedAt.Time))
	}
	if exp.Sub(v.now()) > v.maxTTL+v.skew {
		return nil, fmt.Errorf("%w: expires in %s", ErrProofTooLong, exp.Sub(v.now()))
	}
	return claims, nil
}
