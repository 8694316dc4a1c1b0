// Package kvstore is the only owner of persisted bot state. It exposes typed,
// partitioned access to a hash/set oriented key-value store and contains
// transport failures so callers degrade to empty results instead of crashing.
package kvstore

import (
	"fmt"
	"strings"

	"bansync/pkg/platform/sentinel"
)

// Partition is a logical namespace inside the store.
type Partition string

const (
	PartitionBlacklist Partition = "blacklist"
	PartitionWhitelist Partition = "whitelist"
	PartitionSync      Partition = "sync"
	PartitionWarnings  Partition = "warnings"
)

// ErrStoreUnavailable wraps every transport failure raised by a backend.
var ErrStoreUnavailable = fmt.Errorf("store %w", sentinel.ErrUnavailable)

// IsValid checks that the partition is one of the known namespaces.
func (p Partition) IsValid() bool {
	switch p {
	case PartitionBlacklist, PartitionWhitelist, PartitionSync, PartitionWarnings:
		return true
	}
	return false
}

func (p Partition) String() string {
	return string(p)
}

func (p Partition) key(key string) string {
	return string(p) + ":" + key
}

func (p Partition) pattern() string {
	return string(p) + ":*"
}

func (p Partition) strip(fullKey string) string {
	return strings.TrimPrefix(fullKey, string(p)+":")
}
