// Package store reads the blacklist partition and derives its content
// fingerprint.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"bansync/internal/blacklist/models"
)

// Snapshot is the full blacklist at one instant, keyed by identity.
type Snapshot map[string]models.Entry

// Identities returns the snapshot keys in canonical (lexicographic) order.
func (s Snapshot) Identities() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns the entries in canonical order.
func (s Snapshot) Entries() []models.Entry {
	ids := s.Identities()
	out := make([]models.Entry, len(ids))
	for i, id := range ids {
		out[i] = s[id]
	}
	return out
}

// Fingerprint is the lowercase hex SHA-256 of the canonical serialization.
// Two snapshots share a fingerprint iff they hold the same identities with the
// same field values, whatever order they were read in.
func Fingerprint(s Snapshot) string {
	h := sha256.New()
	for _, id := range s.Identities() {
		e := s[id]
		writeField(h, id)
		writeField(h, e.DisplayName)
		writeField(h, e.Reason)
		writeField(h, e.EvidenceLink)
		writeField(h, e.EvidenceFolderID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes every value so ("ab","c") and ("a","bc") differ.
func writeField(h hash.Hash, v string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(v)))
	h.Write(n[:])
	h.Write([]byte(v))
}
