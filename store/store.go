package store

import (
	"context"
	"errors"

	"github.com/zlnvch/codeverse/models"
)

type CodeverseStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userId string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	DeleteUser(ctx context.Context, userId string) error

	CreateDocument(ctx context.Context, doc models.Document) (models.Document, error)
	GetDocument(ctx context.Context, docId string) (models.Document, error)
	UpdateDocument(ctx context.Context, doc models.Document) (models.Document, error)
	SaveDocumentContent(ctx context.Context, docId string, content string) error
	DeleteDocument(ctx context.Context, docId string) error
	ListOwnedDocuments(ctx context.Context, userId string) ([]models.Document, error)
	ListSharedDocuments(ctx context.Context, userId string) ([]models.Document, error)
	AddShare(ctx context.Context, docId string, userId string) error
	RemoveUserGrants(ctx context.Context, userId string) error

	SaveRefreshToken(ctx context.Context, token models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeUserRefreshTokens(ctx context.Context, userId string) error
}

// Custom error types for clarity
var (
	ErrItemNotFound = errors.New("item does not exist")
	ErrItemExists   = errors.New("item already exists")
)
