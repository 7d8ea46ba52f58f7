package confirmation

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// Claims is the wire form of a confirmation token: the owner reference, the
// element it covers, and the value claimed at issue time.
type Claims struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Element   string `json:"element"`
	Name      string `json:"name"`
	Index     int    `json:"index"`
	Value     string `json:"value"`
	Locale    string `json:"locale,omitempty"`
	Group     string `json:"group,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies confirmation tokens. HS256 only.
type Codec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewCodec(signingKey string, issuer string, ttl time.Duration) *Codec {
	return &Codec{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl}
}

// TTL is how long issued tokens remain resolvable.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the candidate and returns the token string plus
// its jti, which keys the token store.
func (c *Codec) Issue(cand Candidate, now time.Time) (string, string, error) {
	jti := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OwnerType: string(cand.Owner.Type),
		OwnerID:   cand.Owner.ID,
		Element:   string(cand.Element.Type),
		Name:      cand.Element.Name,
		Index:     cand.Element.Index,
		Value:     cand.Value,
		Locale:    cand.Locale,
		Group:     cand.Group.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.issuer,
			ID:        jti,
		},
	})

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "signing confirmation token failed")
	}
	return signed, jti, nil
}

// Parse verifies signature and expiry and returns the claims. An expired
// token is reported with CodeInvalidState so callers can map it to the
// "invalid" outcome instead of a hard failure.
func (c *Codec) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty token")
	}

	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "confirmation token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid confirmation token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid confirmation token")
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid confirmation token issuer")
	}
	return claims, nil
}

// Owner reconstructs the owner reference carried by the claims.
func (cl *Claims) TokenOwner() Owner {
	return Owner{Type: OwnerType(cl.OwnerType), ID: cl.OwnerID}
}

// Ref reconstructs the element reference carried by the claims.
func (cl *Claims) Ref() ElementRef {
	return ElementRef{Type: ElementType(cl.Element), Name: cl.Name, Index: cl.Index}
}

// GroupPath parses the group claim, if any.
func (cl *Claims) GroupPath() domain.GroupPath {
	if cl.Group == "" {
		return ""
	}
	path, err := domain.ParseGroupPath(cl.Group)
	if err != nil {
		return ""
	}
	return path
}
