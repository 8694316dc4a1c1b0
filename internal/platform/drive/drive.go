// Package drive implements the evidence file store over Google Drive v3.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"bansync/internal/evidence"
	"bansync/pkg/platform/sentinel"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "files(id, name, mimeType)"
)

// Client stores evidence in Drive. Every folder and file it creates is
// shared with anyone holding the link.
type Client struct {
	svc    *drive.Service
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New wraps an existing Drive service.
func New(svc *drive.Service, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, errors.New("drive service is required")
	}
	c := &Client{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithTokenSource builds the Drive service from an OAuth token source.
// Extra client options are appended, which lets tests point at a local endpoint.
func NewWithTokenSource(ctx context.Context, ts oauth2.TokenSource, clientOpts []option.ClientOption, opts ...Option) (*Client, error) {
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, clientOpts...)
	svc, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return New(svc, opts...)
}

func (c *Client) CreateFolder(ctx context.Context, name string) (string, error) {
	f, err := c.svc.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", wrap("create folder", err)
	}
	if err := c.share(ctx, f.Id); err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "evidence folder created", "folder_id", f.Id, "name", name)
	return f.Id, nil
}

func (c *Client) UploadFile(ctx context.Context, folderID, name, mimeType string, r io.Reader) (string, error) {
	meta := &drive.File{Name: name, Parents: []string{folderID}}
	f, err := c.svc.Files.Create(meta).
		Media(r, googleapi.ContentType(mimeType)).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", wrap("upload file", err)
	}
	if err := c.share(ctx, f.Id); err != nil {
		return "", err
	}
	return f.Id, nil
}

func (c *Client) share(ctx context.Context, id string) error {
	_, err := c.svc.Permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
		Context(ctx).Do()
	if err != nil {
		return wrap("share "+id, err)
	}
	return nil
}

func (c *Client) ListFiles(ctx context.Context, folderID string, imagesOnly bool) ([]evidence.RemoteFile, error) {
	q := fmt.Sprintf("'%s' in parents", escapeQuery(folderID))
	if imagesOnly {
		q += " and mimeType contains 'image/'"
	}
	var out []evidence.RemoteFile
	err := c.svc.Files.List().Q(q).Fields("nextPageToken", fileFields).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, evidence.RemoteFile{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
			}
			return nil
		})
	if err != nil {
		return nil, wrap("list files", err)
	}
	return out, nil
}

func (c *Client) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return wrap("download "+fileID, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	return nil
}

func (c *Client) FolderLink(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}

func (c *Client) FileLink(fileID string) string {
	return "https://drive.google.com/file/d/" + fileID + "/view"
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// wrap maps Drive API failures onto the shared sentinels.
func wrap(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrNotFound, err)
		case apiErr.Code >= http.StatusInternalServerError, apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ evidence.FileStore = (*Client)(nil)
