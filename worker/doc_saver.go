package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/store"
)

type ContentUpdate struct {
	DocId   string
	Content string
}

// DocSaver is a write-behind batcher for document content. Realtime edits
// arrive far faster than DynamoDB should be written, so only the latest
// content per document is kept and flushed on a ticker, on a size
// threshold, or on shutdown.
type DocSaver struct {
	UpdateCh           chan ContentUpdate
	codeverseStore     store.CodeverseStore
	logger             *zap.Logger
	tickerMilliseconds int
}

func NewDocSaver(codeverseStore store.CodeverseStore, logger *zap.Logger, tickerMilliseconds int) *DocSaver {
	return &DocSaver{
		UpdateCh:           make(chan ContentUpdate, 1024),
		codeverseStore:     codeverseStore,
		logger:             logger,
		tickerMilliseconds: tickerMilliseconds,
	}
}

const flushThreshold = 100

func (b *DocSaver) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// Latest content per document; newer updates overwrite pending ones.
	pending := make(map[string]string)

	flush := func() {
		for docId, content := range pending {
			go func(docId string, content string) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.codeverseStore.SaveDocumentContent(ctx, docId, content); err != nil {
					b.logger.Warn("failed to persist document content",
						zap.String("docId", docId),
						zap.Error(err))
				}
			}(docId, content)
		}
		pending = make(map[string]string)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			pending[update.DocId] = update.Content

			if len(pending) >= flushThreshold {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
