package ws

import (
	"fmt"
	"strings"
)

// Realtime topics are dot-separated hierarchical paths scoped per document:
//
//	code.document.<docId>.changed   raw edit events
//	code.cursor.<docId>.moved       cursor movement events
//
// Clients may subscribe with the non-parameterized aliases
// code.document.update / code.cursor.update plus a document id, which the
// gateway resolves to the concrete topic after the access check.
const (
	DocumentUpdateAlias = "code.document.update"
	CursorUpdateAlias   = "code.cursor.update"

	documentTopicPrefix = "code.document."
	cursorTopicPrefix   = "code.cursor."
	documentTopicSuffix = ".changed"
	cursorTopicSuffix   = ".moved"
)

func DocumentChangedTopic(docId string) string {
	return documentTopicPrefix + docId + documentTopicSuffix
}

func CursorMovedTopic(docId string) string {
	return cursorTopicPrefix + docId + cursorTopicSuffix
}

// MatchTopic reports whether a concrete topic matches a subscription
// pattern. Matching is segment-wise; a "*" segment in the pattern matches
// exactly one topic segment. No other wildcarding is supported.
func MatchTopic(pattern string, topic string) bool {
	if pattern == topic {
		return true
	}

	patternSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")
	if len(patternSegs) != len(topicSegs) {
		return false
	}

	for i, seg := range patternSegs {
		if seg == "*" {
			continue
		}
		if seg != topicSegs[i] {
			return false
		}
	}

	return true
}

// ParseDocumentTopic extracts the document id from a concrete change or
// cursor topic.
func ParseDocumentTopic(topic string) (string, bool) {
	var rest string
	var suffix string

	switch {
	case strings.HasPrefix(topic, documentTopicPrefix):
		rest = topic[len(documentTopicPrefix):]
		suffix = documentTopicSuffix
	case strings.HasPrefix(topic, cursorTopicPrefix):
		rest = topic[len(cursorTopicPrefix):]
		suffix = cursorTopicSuffix
	default:
		return "", false
	}

	docId, found := strings.CutSuffix(rest, suffix)
	if !found || docId == "" || strings.Contains(docId, ".") {
		return "", false
	}

	return docId, true
}

// ResolveSubscribeTopic turns a client subscribe request into the concrete
// topic to register and the document id to authorize against. The request
// either names an alias plus a document id, or a concrete topic.
func ResolveSubscribeTopic(topic string, documentId string) (string, string, error) {
	switch topic {
	case DocumentUpdateAlias:
		if documentId == "" {
			return "", "", fmt.Errorf("subscribe to %s requires a documentId", topic)
		}
		return DocumentChangedTopic(documentId), documentId, nil
	case CursorUpdateAlias:
		if documentId == "" {
			return "", "", fmt.Errorf("subscribe to %s requires a documentId", topic)
		}
		return CursorMovedTopic(documentId), documentId, nil
	}

	docId, ok := ParseDocumentTopic(topic)
	if !ok {
		return "", "", fmt.Errorf("unknown topic: %s", topic)
	}
	if documentId != "" && documentId != docId {
		return "", "", fmt.Errorf("topic %s does not belong to document %s", topic, documentId)
	}

	return topic, docId, nil
}
