package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrDocNotFound is returned when no document lives at the requested path.
	ErrDocNotFound = errors.New("document not found")
	// ErrDocExists is returned by Create when the path is already taken.
	ErrDocExists = errors.New("document already exists")
)

// DocumentStore is the backing key-value document tree. Paths are
// slash-separated; a document at an interior path is the nested object made of
// everything below it. The store is a pure serialization target: callers own
// all typing and validation of what goes in and out.
type DocumentStore interface {
	// Get unmarshals the document at path into out.
	Get(ctx context.Context, path string, out interface{}) error
	// List returns the direct children of path, keyed by child name.
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)
	// Set writes doc at path, replacing any existing document.
	Set(ctx context.Context, path string, doc interface{}) error
	// Create writes doc at path only if nothing exists there yet;
	// returns ErrDocExists otherwise. First successful write wins.
	Create(ctx context.Context, path string, doc interface{}) error
	// Update merges fields into the document at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Delete removes the document (and everything below it) at path.
	Delete(ctx context.Context, path string) error
}

// DocPath joins path segments into a store path.
func DocPath(segments ...string) string {
	return strings.Join(segments, "/")
}
