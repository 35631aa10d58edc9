package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/codeverse/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockStore) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(models.Document), args.Error(1)
}

func (m *MockStore) GetDocument(ctx context.Context, docId string) (models.Document, error) {
	args := m.Called(ctx, docId)
	return args.Get(0).(models.Document), args.Error(1)
}

func (m *MockStore) UpdateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(models.Document), args.Error(1)
}

func (m *MockStore) SaveDocumentContent(ctx context.Context, docId string, content string) error {
	args := m.Called(ctx, docId, content)
	return args.Error(0)
}

func (m *MockStore) DeleteDocument(ctx context.Context, docId string) error {
	args := m.Called(ctx, docId)
	return args.Error(0)
}

func (m *MockStore) ListOwnedDocuments(ctx context.Context, userId string) ([]models.Document, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]models.Document), args.Error(1)
}

func (m *MockStore) ListSharedDocuments(ctx context.Context, userId string) ([]models.Document, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]models.Document), args.Error(1)
}

func (m *MockStore) AddShare(ctx context.Context, docId string, userId string) error {
	args := m.Called(ctx, docId, userId)
	return args.Error(0)
}

func (m *MockStore) RemoveUserGrants(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockStore) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockStore) GetRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(models.RefreshToken), args.Error(1)
}

func (m *MockStore) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) RevokeUserRefreshTokens(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
