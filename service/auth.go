package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zlnvch/codeverse/crypto"
	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/store"
)

func (s *Service) Register(ctx context.Context, username string, password string) (models.User, error) {
	if err := ValidateUsername(username); err != nil {
		return models.User{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return models.User{}, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.CreateUser(ctx, models.User{
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrItemExists) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}

	return user, nil
}

// Login verifies a password credential and issues an access/refresh token
// pair. Unknown username, password-less account and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username string, password string) (models.User, string, models.RefreshToken, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, "", models.RefreshToken{}, ErrUnauthenticated
		}
		return models.User{}, "", models.RefreshToken{}, err
	}

	if !user.HasPassword() || !crypto.VerifyPassword(password, user.PasswordHash) {
		return models.User{}, "", models.RefreshToken{}, ErrUnauthenticated
	}

	accessToken, err := s.IssueAccessToken(user, 0)
	if err != nil {
		return models.User{}, "", models.RefreshToken{}, err
	}

	refreshToken, err := s.IssueRefreshToken(ctx, user.Id)
	if err != nil {
		return models.User{}, "", models.RefreshToken{}, err
	}

	return user, accessToken, refreshToken, nil
}

// IssueAccessToken signs a short-lived token for the user. A ttl of zero
// or less falls back to the configured default lifetime.
func (s *Service) IssueAccessToken(user models.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.AccessTokenTTL
	}

	now := s.Now()
	claims := jwt.MapClaims{
		"sub": user.Username,
		"uid": user.Id,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

// ValidateAccessToken returns the username the token was issued for.
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.Now() }),
	)
	if err != nil {
		return "", ErrUnauthenticated
	}

	if !token.Valid {
		return "", ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthenticated
	}

	username, ok := claims["sub"].(string)
	if !ok || username == "" {
		return "", ErrUnauthenticated
	}

	return username, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (models.User, error) {
	if len(tokenString) == 0 {
		return models.User{}, ErrUnauthenticated
	}

	username, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			// Token outlived the account.
			return models.User{}, ErrUnauthenticated
		}
		return models.User{}, err
	}

	return user, nil
}
