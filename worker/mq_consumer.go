package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/cache"
	"github.com/zlnvch/codeverse/mq"
	"github.com/zlnvch/codeverse/store"
)

// UserLoggedOutChannel carries session-teardown signals between instances.
// Every instance subscribes and closes the named user's local sessions.
const UserLoggedOutChannel = "user-logged-out"

type UserLoggedOutMessage struct {
	UserId string `json:"userId"`
}

// AccountEventsConsumer drains the account events queue. Session revocation
// fans out over the cache pub/sub; account purges run the slow, throttled
// deletes that must not block an HTTP handler.
type AccountEventsConsumer struct {
	accountEventsQueue mq.MessageQueue
	codeverseStore     store.CodeverseStore
	codeverseCache     cache.CodeverseCache
	logger             *zap.Logger
}

func NewAccountEventsConsumer(accountEventsQueue mq.MessageQueue, codeverseStore store.CodeverseStore, codeverseCache cache.CodeverseCache, logger *zap.Logger) *AccountEventsConsumer {
	return &AccountEventsConsumer{
		accountEventsQueue: accountEventsQueue,
		codeverseStore:     codeverseStore,
		codeverseCache:     codeverseCache,
		logger:             logger,
	}
}

// Allow up to 5 minutes for the throttled purge of all the user's data
const visibilityTimeout = 300

func (consumer AccountEventsConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := consumer.accountEventsQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			consumer.logger.Warn("account events receive error", zap.Error(err))
			continue
		}

		if msg == nil {
			continue
		}

		event, err := mq.DecodeAccountEvent(msg.Body)
		if err != nil {
			consumer.logger.Warn("undecodable account event", zap.Error(err))
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)

		switch event.Type {
		case mq.EventRevokeSessions:
			err = consumer.publishLogout(ctx, event.UserId)
		case mq.EventPurgeUser:
			err = consumer.purgeUser(ctx, event.UserId)
		default:
			consumer.logger.Warn("unknown account event type", zap.String("type", event.Type))
			cancel()
			continue
		}
		cancel()

		if err != nil {
			consumer.logger.Error("account event handling failed",
				zap.String("type", event.Type),
				zap.String("userId", event.UserId),
				zap.Error(err))
			continue
		}

		if err := consumer.accountEventsQueue.Delete(context.Background(), msg); err != nil {
			consumer.logger.Warn("account events delete error", zap.Error(err))
		}
	}
}

func (consumer AccountEventsConsumer) publishLogout(ctx context.Context, userId string) error {
	body, err := json.Marshal(UserLoggedOutMessage{UserId: userId})
	if err != nil {
		return err
	}
	return consumer.codeverseCache.Publish(ctx, UserLoggedOutChannel, body)
}

// purgeUser removes everything an account left behind: owned documents,
// grants received from others, and refresh tokens. The profile row itself
// was already deleted by the HTTP handler before the event was queued.
func (consumer AccountEventsConsumer) purgeUser(ctx context.Context, userId string) error {
	docs, err := consumer.codeverseStore.ListOwnedDocuments(ctx, userId)
	if err != nil {
		return err
	}

	docIds := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := consumer.codeverseStore.DeleteDocument(ctx, doc.Id); err != nil {
			return err
		}
		docIds = append(docIds, doc.Id)
	}

	if err := consumer.codeverseStore.RemoveUserGrants(ctx, userId); err != nil {
		return err
	}

	if err := consumer.codeverseStore.RevokeUserRefreshTokens(ctx, userId); err != nil {
		return err
	}

	if err := consumer.codeverseCache.InvalidateDocuments(ctx, docIds); err != nil {
		consumer.logger.Warn("failed to invalidate purged documents", zap.Error(err))
	}

	// Kick any sessions that were still editing the purged documents.
	return consumer.publishLogout(ctx, userId)
}
