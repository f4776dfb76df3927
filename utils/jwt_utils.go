package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"visitrack/api/models"
)

const (
	issuer          = "visitrack-api"
	audienceAdmin   = "admin"
	audienceVisitor = "visitor"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify an admin user of the stats API.
type Claims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// VisitorClaims bind a browser to the session it started.
type VisitorClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 tokens with a single secret.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// GenerateJWT generates an admin token valid for ttl.
func (t *TokenIssuer) GenerateJWT(user *models.User, ttl time.Duration) (string, error) {
	now := t.now()
	claims := &Claims{UserID: user.ID, Email: user.Email}
	claims.RegisteredClaims = t.registered(now, ttl, audienceAdmin, strconv.Itoa(user.ID))
	return t.sign(claims)
}

// ValidateJWT parses an admin token.
func (t *TokenIssuer) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := t.parse(tokenString, claims, audienceAdmin); err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateVisitorToken issues the token a page presents on follow-up calls
// for its session.
func (t *TokenIssuer) GenerateVisitorToken(sessionID string, ttl time.Duration) (string, error) {
	claims := &VisitorClaims{SessionID: sessionID}
	claims.RegisteredClaims = t.registered(t.now(), ttl, audienceVisitor, sessionID)
	return t.sign(claims)
}

func (t *TokenIssuer) ValidateVisitorToken(tokenString string) (*VisitorClaims, error) {
	claims := &VisitorClaims{}
	if err := t.parse(tokenString, claims, audienceVisitor); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}

func (t *TokenIssuer) registered(now time.Time, ttl time.Duration, audience, subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
	}
}

func (t *TokenIssuer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (t *TokenIssuer) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}
	return nil
}
