// Package models holds the blacklist domain types.
package models

import "errors"

// Hash field names. They match the records written by earlier deployments so
// existing stores stay readable.
const (
	FieldUsername  = "username"
	FieldReason    = "reason"
	FieldProofLink = "proof_link"
	FieldFolderID  = "folder_id"
)

// ErrInvalidEntry is returned when an entry is missing its identity.
var ErrInvalidEntry = errors.New("blacklist entry requires an identity")

// Entry is one blacklisted user.
type Entry struct {
	Identity         string
	DisplayName      string
	Reason           string
	EvidenceLink     string
	EvidenceFolderID string
}

// Validate checks the entry can be persisted.
func (e Entry) Validate() error {
	if e.Identity == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Fields renders the entry as a stored hash.
func (e Entry) Fields() map[string]string {
	return map[string]string{
		FieldUsername:  e.DisplayName,
		FieldReason:    e.Reason,
		FieldProofLink: e.EvidenceLink,
		FieldFolderID:  e.EvidenceFolderID,
	}
}

// EntryFromFields rebuilds an entry from a stored hash. Unknown fields are
// ignored and missing ones read as empty.
func EntryFromFields(identity string, fields map[string]string) Entry {
	return Entry{
		Identity:         identity,
		DisplayName:      fields[FieldUsername],
		Reason:           fields[FieldReason],
		EvidenceLink:     fields[FieldProofLink],
		EvidenceFolderID: fields[FieldFolderID],
	}
}
