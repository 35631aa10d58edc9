package service

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/zlnvch/codeverse/cache"
	"github.com/zlnvch/codeverse/mq"
	"github.com/zlnvch/codeverse/store"
	"github.com/zlnvch/codeverse/worker"
)

// Service errors, mapped to HTTP status codes and ws error replies at the
// API layer. Credential failures all collapse into ErrUnauthenticated so
// responses never reveal whether a username exists or a token was revoked
// versus expired.
var (
	ErrUnauthenticated = errors.New("authentication failed")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid input")
	ErrUsernameTaken   = errors.New("username already taken")
)

type Service struct {
	Store           store.CodeverseStore
	Cache           cache.CodeverseCache
	MQ              mq.MessageQueue
	DocSaver        *worker.DocSaver
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Logger          *zap.Logger

	// Now is the clock used for token issuance and expiry checks.
	// Tests override it to pin time.
	Now func() time.Time
}

func NewService(
	store store.CodeverseStore,
	cache cache.CodeverseCache,
	mq mq.MessageQueue,
	docSaver *worker.DocSaver,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
	logger *zap.Logger,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		DocSaver:        docSaver,
		OAuthConfigs:    oauthConfigs,
		JWTSecret:       jwtSecret,
		AccessTokenTTL:  accessTokenTTL,
		RefreshTokenTTL: refreshTokenTTL,
		Logger:          logger,
		Now:             time.Now,
	}, nil
}
