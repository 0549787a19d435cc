// Package photo validates and stores storefront photos.
package photo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
)

// DefaultMaxBytes bounds an uploaded photo.
const DefaultMaxBytes = 5 << 20

// Inspect checks that data is a non-empty image of at most maxBytes and
// returns its sniffed content type. The declared content type of an upload is
// ignored.
func Inspect(data []byte, maxBytes int) (string, error) {
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "photo is empty")
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return "", dErrors.New(dErrors.CodePayloadTooLarge, fmt.Sprintf("photo exceeds %d bytes", maxBytes))
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", dErrors.New(dErrors.CodeValidation, "photo must be an image")
	}
	return contentType, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

func objectKey(prefix string, sessionID id.SessionID, contentType string) string {
	key := sessionID.String() + "/" + uuid.NewString() + extension(contentType)
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// Object is a stored photo.
type Object struct {
	Data        []byte
	ContentType string
}

// InMemoryStore keeps photos in memory. Used in development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]Object)}
}

func (s *InMemoryStore) Store(_ context.Context, sessionID id.SessionID, data []byte, contentType string) (string, error) {
	ref := "mem://" + objectKey("storefronts", sessionID, contentType)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return ref, nil
}

// Get returns the photo stored under ref.
func (s *InMemoryStore) Get(ref string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	return obj, ok
}
