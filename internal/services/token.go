package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/taskforge/apiserver/types"
)

// ErrUnauthenticated is returned for every token-verification failure:
// bad signature, unknown subject, or a token that has been logged out.
// Callers must not be able to tell which check failed.
var ErrUnauthenticated = errors.New("please authenticate")

// TokenRepository defines the persistence operations behind session tokens.
type TokenRepository interface {
	GetByToken(ctx context.Context, id int, token string) (types.User, error)
	AddToken(ctx context.Context, userID int, token string) error
	RemoveToken(ctx context.Context, userID int, token string) error
	RemoveAllTokens(ctx context.Context, userID int) error
}

// TokenService issues and verifies session tokens. A token is valid only
// while it is both correctly signed and present in the owning user's live
// token set; removing it from the set is the revocation mechanism.
type TokenService struct {
	repo   TokenRepository
	secret []byte
}

func NewTokenService(repo TokenRepository, secret string) *TokenService {
	return &TokenService{
		repo:   repo,
		secret: []byte(secret),
	}
}

// Issue signs a token for the user and appends it to their token set.
// Tokens carry no expiry; a session ends only when the token is revoked.
func (s *TokenService) Issue(ctx context.Context, userID int) (string, error) {
	// The jti claim keeps tokens distinct even when two sessions open
	// within the same second.
	claims := jwt.RegisteredClaims{
		Subject:  strconv.Itoa(userID),
		IssuedAt: jwt.NewNumericDate(time.Now()),
		ID:       uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	if err := s.repo.AddToken(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

// Verify resolves a bearer token to its user. The signature check alone is
// not enough: a logged-out token still verifies cryptographically, so the
// exact token string must also be found in the subject's token set.
func (s *TokenService) Verify(ctx context.Context, tokenString string) (types.User, error) {
	userID, err := s.parseSubject(tokenString)
	if err != nil {
		return types.User{}, ErrUnauthenticated
	}

	user, err := s.repo.GetByToken(ctx, userID, tokenString)
	if err != nil {
		return types.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Revoke removes one token from the user's set, ending a single session.
func (s *TokenService) Revoke(ctx context.Context, userID int, token string) error {
	return s.repo.RemoveToken(ctx, userID, token)
}

// RevokeAll empties the user's token set, ending every session.
func (s *TokenService) RevokeAll(ctx context.Context, userID int) error {
	return s.repo.RemoveAllTokens(ctx, userID)
}

func (s *TokenService) parseSubject(tokenString string) (int, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return 0, errors.New("invalid subject")
	}
	return userID, nil
}
