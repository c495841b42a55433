package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

type Claims struct {
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	TokenVersion int    `json:"ver"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func (s *Service) signToken(user *User, audience string, ttl time.Duration) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Email:        user.Email,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Service) GenerateTokenPair(user *User) (*TokenPair, error) {
	access, accessExp, err := s.signToken(user, audienceAccess, s.config.AccessTokenDuration)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{AccessToken: access, AccessExpiresAt: accessExp}
	if !s.config.RefreshTokenEnabled {
		return pair, nil
	}

	refresh, refreshExp, err := s.signToken(user, audienceRefresh, s.config.RefreshTokenDuration)
	if err != nil {
		return nil, err
	}
	pair.RefreshToken = refresh
	pair.RefreshExpiresAt = refreshExp
	return pair, nil
}

// ValidateToken checks signature, expiry, issuer and audience. It does not
// consult the user store; see Authenticate for that.
func (s *Service) ValidateToken(tokenString, audience string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
