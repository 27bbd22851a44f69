// Package kb persists knowledge bases, their membership documents, and the
// document registry that backs the 409-conflict rule on document deletion.
package kb

import (
	"errors"
	"time"
)

// KnowledgeBase is a user-owned container pointing to exactly one VectorIndex.
type KnowledgeBase struct {
	ID        int64
	UserID    int64
	IndexID   int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is a membership row linking a document to a KB. It is opaque to
// the provisioner except that its existence prevents document deletion.
type Document struct {
	ID        int64
	KBID      int64
	DocID     int64
	KBDocID   *int64
	CreatedAt time.Time
}

// RegistryOpStatus is the outcome of a document's most recent
// ingestion/deletion operation against the remote store.
type RegistryOpStatus string

const (
	OpStatusPending RegistryOpStatus = "PENDING"
	OpStatusSuccess RegistryOpStatus = "SUCCESS"
	OpStatusFailed  RegistryOpStatus = "FAILED"
)

// RegistryEntry tracks one uploaded document independent of any KB
// membership: its storage location, lock state, and last operation outcome.
// A document is deletable only when LockStatus is false and OpStatus is
// SUCCESS; a document still linked to a KB (a Document row referencing it
// exists) cannot be deleted regardless of lock/op state.
type RegistryEntry struct {
	ID         int64
	UserID     int64
	FileName   string
	ObjectKey  string
	LockStatus bool
	OpStatus   RegistryOpStatus
	CreatedAt  time.Time
}

var (
	// ErrNotFound is returned when the target KB/document does not exist
	// for the requesting user.
	ErrNotFound = errors.New("kb: not found")

	// ErrConflict is returned when an operation is forbidden by an
	// invariant — e.g. deleting a document that is a member of a KB.
	ErrConflict = errors.New("kb: conflict")
)
