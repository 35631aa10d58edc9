package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) PSubscribe(ctx context.Context, pattern string, handler func(channel string, message []byte)) error {
	args := m.Called(ctx, pattern, handler)
	return args.Error(0)
}

func (m *MockCache) SetDocumentContent(ctx context.Context, docId string, content string) error {
	args := m.Called(ctx, docId, content)
	return args.Error(0)
}

func (m *MockCache) GetDocumentContent(ctx context.Context, docId string) (string, bool, error) {
	args := m.Called(ctx, docId)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCache) InvalidateDocuments(ctx context.Context, docIds []string) error {
	args := m.Called(ctx, docIds)
	return args.Error(0)
}
