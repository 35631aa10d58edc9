package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/mq"
	"github.com/zlnvch/codeverse/store"
)

func (s *Service) IssueRefreshToken(ctx context.Context, userId string) (models.RefreshToken, error) {
	tokenId, err := uuid.NewV4()
	if err != nil {
		return models.RefreshToken{}, err
	}

	now := s.Now()
	token := models.RefreshToken{
		Token:    tokenId.String(),
		UserId:   userId,
		IssuedAt: now,
		Expires:  now.Add(s.RefreshTokenTTL),
	}

	if err := s.Store.SaveRefreshToken(ctx, token); err != nil {
		return models.RefreshToken{}, err
	}

	return token, nil
}

// RedeemRefreshToken exchanges a live refresh token for a fresh access
// token. Tokens are reusable until they expire or are revoked; redeeming
// does not rotate them.
func (s *Service) RedeemRefreshToken(ctx context.Context, tokenString string) (models.User, string, error) {
	token, err := s.Store.GetRefreshToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, "", ErrUnauthenticated
		}
		return models.User{}, "", err
	}

	if token.Revoked || token.ExpiredAt(s.Now()) {
		return models.User{}, "", ErrUnauthenticated
	}

	user, err := s.Store.GetUser(ctx, token.UserId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, "", ErrUnauthenticated
		}
		return models.User{}, "", err
	}

	accessToken, err := s.IssueAccessToken(user, 0)
	if err != nil {
		return models.User{}, "", err
	}

	return user, accessToken, nil
}

// RevokeRefreshToken invalidates a single refresh token. Revoking an
// unknown token returns ErrNotFound; revoking twice is not an error.
func (s *Service) RevokeRefreshToken(ctx context.Context, tokenString string) error {
	found, err := s.Store.RevokeRefreshToken(ctx, tokenString)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every refresh token of the user and queues a
// session-teardown event so all instances drop the user's live websockets.
func (s *Service) RevokeAllForUser(ctx context.Context, userId string) error {
	if err := s.Store.RevokeUserRefreshTokens(ctx, userId); err != nil {
		return err
	}

	// Async side-effect: return to caller once tokens are dead.
	go func() {
		event := mq.AccountEvent{Type: mq.EventRevokeSessions, UserId: userId}
		if body, err := event.Encode(); err == nil {
			s.MQ.Send(context.Background(), body)
		}
	}()

	return nil
}

// DeleteAccount removes the user's profile and queues the purge of
// everything else they own. The purge runs on the account events consumer
// because throttled batch deletes are too slow for a request handler.
func (s *Service) DeleteAccount(ctx context.Context, user models.User) error {
	if err := s.Store.DeleteUser(ctx, user.Id); err != nil {
		return err
	}

	go func() {
		event := mq.AccountEvent{Type: mq.EventPurgeUser, UserId: user.Id}
		if body, err := event.Encode(); err == nil {
			s.MQ.Send(context.Background(), body)
		}
	}()

	return nil
}
