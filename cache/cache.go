package cache

import "context"

// CodeverseCache is the shared cache and pub/sub fabric between instances.
// Pub/sub carries realtime relay envelopes and session-teardown signals;
// the key/value side is a write-through cache for document content.
type CodeverseCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error
	PSubscribe(ctx context.Context, pattern string, handler func(channel string, message []byte)) error

	SetDocumentContent(ctx context.Context, docId string, content string) error
	GetDocumentContent(ctx context.Context, docId string) (string, bool, error)
	InvalidateDocuments(ctx context.Context, docIds []string) error
}
