// Package session issues and verifies the signed bearer tokens that carry a
// user's identity between requests. Tokens are HS256 JWTs; nothing about a
// session is stored server side, so a token stays valid until it expires.
package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// DefaultTTL is the absolute lifetime of an issued token.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrMissingKey   = errors.New("session signing key is not configured")
)

type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Claims is the verified token payload.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a single process-wide key.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: cfg.Secret, ttl: ttl, issuer: cfg.Issuer, now: time.Now}, nil
}

// TTL reports the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the subject that expires TTL from now.
func (c *Codec) Issue(userID int64, email string) (string, error) {
	now := c.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utilities.NewTokenID(),
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(c.ttl))),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// ceilSecond rounds t up to a whole second. exp is carried in seconds and
// a token must not expire before now+TTL.
func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}

// Verify checks signature, algorithm, issuer and expiry. It returns
// ErrTokenExpired once now reaches the exp claim and ErrTokenInvalid for
// everything else that is wrong with the token.
func (c *Codec) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.UserID == 0 || claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
