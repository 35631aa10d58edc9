package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/store"
	"github.com/zlnvch/codeverse/worker"
)

func (s *Service) CreateDocument(ctx context.Context, owner models.User, title string, language string, content string) (models.Document, error) {
	if err := ValidateDocumentTitle(title); err != nil {
		return models.Document{}, err
	}
	if err := ValidateLanguage(language); err != nil {
		return models.Document{}, err
	}
	if err := ValidateContent(content); err != nil {
		return models.Document{}, err
	}

	return s.Store.CreateDocument(ctx, models.Document{
		OwnerId:  owner.Id,
		Title:    title,
		Language: language,
		Content:  content,
	})
}

func (s *Service) GetDocument(ctx context.Context, user models.User, docId string) (models.Document, error) {
	doc, err := s.Store.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Document{}, ErrNotFound
		}
		return models.Document{}, err
	}

	if !CanRead(user, doc) {
		return models.Document{}, ErrNotAuthorized
	}

	return doc, nil
}

// ListDocuments returns the documents the user owns and the ones shared
// with them, separately.
func (s *Service) ListDocuments(ctx context.Context, user models.User) ([]models.Document, []models.Document, error) {
	owned, err := s.Store.ListOwnedDocuments(ctx, user.Id)
	if err != nil {
		return nil, nil, err
	}

	shared, err := s.Store.ListSharedDocuments(ctx, user.Id)
	if err != nil {
		return nil, nil, err
	}

	return owned, shared, nil
}

func (s *Service) UpdateDocument(ctx context.Context, user models.User, docId string, title string, language string, content string) (models.Document, error) {
	if err := ValidateDocumentTitle(title); err != nil {
		return models.Document{}, err
	}
	if err := ValidateLanguage(language); err != nil {
		return models.Document{}, err
	}
	if err := ValidateContent(content); err != nil {
		return models.Document{}, err
	}

	doc, err := s.GetDocument(ctx, user, docId)
	if err != nil {
		return models.Document{}, err
	}

	if !CanWrite(user, doc) {
		return models.Document{}, ErrNotAuthorized
	}

	doc.Title = title
	doc.Language = language
	doc.Content = content

	updated, err := s.Store.UpdateDocument(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Document{}, ErrNotFound
		}
		return models.Document{}, err
	}

	// Write-through so realtime readers see the REST update.
	if err := s.Cache.SetDocumentContent(ctx, docId, updated.Content); err != nil {
		s.Logger.Warn("failed to cache document content", zap.String("docId", docId), zap.Error(err))
	}

	return updated, nil
}

func (s *Service) DeleteDocument(ctx context.Context, user models.User, docId string) error {
	doc, err := s.GetDocument(ctx, user, docId)
	if err != nil {
		return err
	}

	if !CanDelete(user, doc) {
		return ErrNotAuthorized
	}

	if err := s.Store.DeleteDocument(ctx, docId); err != nil {
		return err
	}

	if err := s.Cache.InvalidateDocuments(ctx, []string{docId}); err != nil {
		s.Logger.Warn("failed to invalidate deleted document", zap.String("docId", docId), zap.Error(err))
	}

	return nil
}

// GetDocumentContent serves the realtime document fetch. Cache first; on a
// miss read the store and seed the cache for the next collaborator joining
// the same document.
func (s *Service) GetDocumentContent(ctx context.Context, user models.User, docId string) (string, error) {
	doc, err := s.GetDocument(ctx, user, docId)
	if err != nil {
		return "", err
	}

	content, found, err := s.Cache.GetDocumentContent(ctx, docId)
	if err != nil {
		s.Logger.Warn("document content cache read failed", zap.String("docId", docId), zap.Error(err))
	}
	if found {
		return content, nil
	}

	if err := s.Cache.SetDocumentContent(ctx, docId, doc.Content); err != nil {
		s.Logger.Warn("failed to seed document content cache", zap.String("docId", docId), zap.Error(err))
	}

	return doc.Content, nil
}

// StageContent records the latest realtime content of a document: the
// cache gets it immediately, the store eventually via the DocSaver.
// Write access was already checked at the websocket boundary.
func (s *Service) StageContent(ctx context.Context, docId string, content string) error {
	if err := ValidateContent(content); err != nil {
		return err
	}

	if err := s.Cache.SetDocumentContent(ctx, docId, content); err != nil {
		s.Logger.Warn("failed to cache staged content", zap.String("docId", docId), zap.Error(err))
	}

	select {
	case s.DocSaver.UpdateCh <- worker.ContentUpdate{DocId: docId, Content: content}:
	default:
		// Saver backlog full; the cache still has the latest content and a
		// later update will carry it to the store.
	}

	return nil
}
