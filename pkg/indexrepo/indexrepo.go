// Package indexrepo persists VectorIndex records and their status, and
// implements the pool's atomic reservation primitive.
package indexrepo

import (
	"errors"
	"time"
)

// Status is the VectorIndex lifecycle state. Transitions are monotonic per
// the state machine: PROVISIONING -> AVAILABLE -> ASSIGNED -> CLEANUP ->
// (row removed), with FAILED as a rollback sink and DESTROYED reserved for a
// future soft-delete path.
type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusAvailable    Status = "AVAILABLE"
	StatusAssigned     Status = "ASSIGNED"
	StatusCleanup      Status = "CLEANUP"
	StatusDestroyed    Status = "DESTROYED"
	StatusFailed       Status = "FAILED"
)

// VectorIndex represents one remote vector index record.
type VectorIndex struct {
	ID        int64
	IndexARN  string
	BucketARN string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolStats is a derived, non-persistent snapshot of index counts by status.
type PoolStats struct {
	AvailableCount    int
	ProvisioningCount int
	AssignedCount     int
	CleanupCount      int
	FailedCount       int
}

// ErrNoCapacity is returned by ReserveAvailableIndex when no AVAILABLE row exists.
var ErrNoCapacity = errors.New("indexrepo: no capacity")

// ErrNotFound is returned when an operation targets a row that does not exist.
var ErrNotFound = errors.New("indexrepo: not found")
