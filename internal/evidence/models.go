package evidence

import (
	"context"
	"io"
	"strings"
)

// RemoteFile is a file held by the cloud file store.
type RemoteFile struct {
	ID       string
	Name     string
	MimeType string
}

// FileStore is the cloud file store the pipeline uploads evidence to.
// Created folders and files must be publicly readable by link.
type FileStore interface {
	CreateFolder(ctx context.Context, name string) (string, error)
	UploadFile(ctx context.Context, folderID, name, mimeType string, r io.Reader) (string, error)
	ListFiles(ctx context.Context, folderID string, imagesOnly bool) ([]RemoteFile, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
	FolderLink(folderID string) string
	FileLink(fileID string) string
}

// Attachment is an image posted with a blacklist command.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// Skipped describes an attachment that was not uploaded.
type Skipped struct {
	URL    string
	Reason string
}

// Result is what Upload stored.
type Result struct {
	FolderID   string
	FolderLink string
	Uploaded   []string
	Skipped    []Skipped
}

const folderLinkPrefix = "https://drive.google.com/drive/folders/"

// FolderIDFromLink extracts the folder ID from a folder link. A bare ID, with
// or without backticks, is returned as is.
func FolderIDFromLink(link string) string {
	link = strings.Trim(strings.TrimSpace(link), "`")
	if rest, ok := strings.CutPrefix(link, folderLinkPrefix); ok {
		if i := strings.IndexAny(rest, "?/#"); i >= 0 {
			rest = rest[:i]
		}
		return rest
	}
	return link
}
