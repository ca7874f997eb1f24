package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds how long a minted signaling token stays valid. A
// token is minted per connection attempt, not cached, so it can stay short.
const DefaultTokenTTL = 5 * time.Minute

// JWTProvider mints HS256 tokens with a stable `sid` claim.
type JWTProvider struct {
	secret []byte
	sid    string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTProvider(secret, sid string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		sid:    sid,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
}

func (p *JWTProvider) Credential() (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": p.sid,
		"iat": now.Unix(),
		"exp": now.Add(p.ttl).Unix(),
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign signaling token: %w", err)
	}
	return signed, nil
}
