package service

import (
	"context"
	"errors"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/store"
)

// Access predicates. Owners hold every permission; a sharing grant gives
// read and write but never share or delete.

func CanRead(user models.User, doc models.Document) bool {
	return doc.OwnerId == user.Id || doc.IsSharedWith(user.Id)
}

func CanWrite(user models.User, doc models.Document) bool {
	return doc.OwnerId == user.Id || doc.IsSharedWith(user.Id)
}

func CanShare(user models.User, doc models.Document) bool {
	return doc.OwnerId == user.Id
}

func CanDelete(user models.User, doc models.Document) bool {
	return doc.OwnerId == user.Id
}

// GrantShare gives granteeUsername read/write access to the document.
// Re-granting an existing share is a no-op.
func (s *Service) GrantShare(ctx context.Context, granter models.User, docId string, granteeUsername string) error {
	doc, err := s.Store.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrNotFound
		}
		return err
	}

	if !CanShare(granter, doc) {
		return ErrNotAuthorized
	}

	grantee, err := s.Store.GetUserByUsername(ctx, granteeUsername)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrNotFound
		}
		return err
	}

	if grantee.Id == doc.OwnerId {
		return ErrInvalid
	}

	return s.Store.AddShare(ctx, docId, grantee.Id)
}
