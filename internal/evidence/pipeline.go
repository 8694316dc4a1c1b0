// Package evidence stores blacklist evidence images in the cloud file store
// and fetches them back for direct viewing.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	platformstrings "bansync/pkg/platform/strings"
)

const (
	DefaultMaxFiles      = 5
	DefaultMaxViewImages = 10
	DefaultFetchTimeout  = 30 * time.Second
	folderPrefix         = "blacklist-"
)

// DefaultAllowedTypes are the image types accepted as evidence.
var DefaultAllowedTypes = []string{"image/png", "image/jpeg", "image/gif"}

// ErrNoImages is returned by View when the folder holds no images.
var ErrNoImages = errors.New("no images found in the folder")

// Pipeline downloads attachments, validates them, stages them to a temp file
// and uploads them into a per-user folder.
type Pipeline struct {
	files    FileStore
	http     *resty.Client
	allowed  map[string]struct{}
	maxFiles int
	maxView  int
	tempDir  string
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient swaps the attachment fetcher.
func WithHTTPClient(c *resty.Client) Option {
	return func(p *Pipeline) {
		p.http = c
	}
}

// WithAllowedTypes replaces the accepted content types.
func WithAllowedTypes(types []string) Option {
	return func(p *Pipeline) {
		if set := platformstrings.LowerSet(types); set != nil {
			p.allowed = set
		}
	}
}

func WithMaxFiles(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxFiles = n
		}
	}
}

func WithMaxViewImages(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxView = n
		}
	}
}

// WithTempDir sets where attachments are staged. Empty uses os.TempDir.
func WithTempDir(dir string) Option {
	return func(p *Pipeline) {
		p.tempDir = dir
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline over files.
func New(files FileStore, opts ...Option) (*Pipeline, error) {
	if files == nil {
		return nil, errors.New("file store is required")
	}
	p := &Pipeline{
		files:    files,
		http:     resty.New().SetTimeout(DefaultFetchTimeout),
		maxFiles: DefaultMaxFiles,
		maxView:  DefaultMaxViewImages,
		logger:   slog.Default(),
	}
	WithAllowedTypes(DefaultAllowedTypes)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FolderName is the evidence folder for a user.
func FolderName(username string) string {
	return folderPrefix + username
}

// Upload creates the user's evidence folder and uploads up to the configured
// number of attachments. Attachments that fail to download or are not allowed
// images are skipped, not fatal. Only folder creation failure is an error.
func (p *Pipeline) Upload(ctx context.Context, username string, attachments []Attachment) (Result, error) {
	folderID, err := p.files.CreateFolder(ctx, FolderName(username))
	if err != nil {
		p.observe("folder_failed")
		return Result{}, fmt.Errorf("create evidence folder: %w", err)
	}
	res := Result{FolderID: folderID, FolderLink: p.files.FolderLink(folderID)}

	if len(attachments) > p.maxFiles {
		for _, a := range attachments[p.maxFiles:] {
			res.Skipped = append(res.Skipped, Skipped{URL: a.URL, Reason: "too many files"})
		}
		attachments = attachments[:p.maxFiles]
	}

	for i, a := range attachments {
		fileID, err := p.uploadOne(ctx, folderID, i, a)
		if err != nil {
			p.logger.WarnContext(ctx, "evidence attachment skipped", "url", a.URL, "error", err)
			res.Skipped = append(res.Skipped, Skipped{URL: a.URL, Reason: err.Error()})
			p.observe("skipped")
			continue
		}
		res.Uploaded = append(res.Uploaded, fileID)
		p.observe("uploaded")
	}
	return res, nil
}

func (p *Pipeline) uploadOne(ctx context.Context, folderID string, index int, a Attachment) (string, error) {
	resp, err := p.http.R().SetContext(ctx).Get(a.URL)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %d", resp.StatusCode())
	}
	contentType := mediaType(resp.Header().Get("Content-Type"))
	if _, ok := p.allowed[contentType]; !ok {
		return "", fmt.Errorf("content type %q is not an allowed image", contentType)
	}

	staged, err := p.stage(resp.Body(), contentType)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	name := uploadName(a, index, contentType)
	fileID, err := p.files.UploadFile(ctx, folderID, name, contentType, staged)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return fileID, nil
}

// stage writes body to a temp file and rewinds it for upload.
func (p *Pipeline) stage(body []byte, contentType string) (*os.File, error) {
	f, err := os.CreateTemp(p.tempDir, "evidence-*"+extension(contentType))
	if err != nil {
		return nil, fmt.Errorf("stage attachment: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("stage attachment: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("stage attachment: %w", err)
	}
	return f, nil
}

// View downloads up to the configured number of images from a folder into a
// fresh temp directory. The caller owns the directory and must remove it.
func (p *Pipeline) View(ctx context.Context, folderID string) (string, []string, error) {
	folderID = FolderIDFromLink(folderID)
	if folderID == "" {
		return "", nil, ErrNoImages
	}
	images, err := p.files.ListFiles(ctx, folderID, true)
	if err != nil {
		return "", nil, fmt.Errorf("list evidence: %w", err)
	}
	if len(images) == 0 {
		return "", nil, ErrNoImages
	}
	if len(images) > p.maxView {
		images = images[:p.maxView]
	}

	dir, err := os.MkdirTemp(p.tempDir, "evidence-view-*")
	if err != nil {
		return "", nil, fmt.Errorf("create view dir: %w", err)
	}
	paths := make([]string, 0, len(images))
	for _, img := range images {
		path := filepath.Join(dir, filepath.Base(img.Name))
		if err := p.download(ctx, img.ID, path); err != nil {
			_ = os.RemoveAll(dir)
			return "", nil, err
		}
		paths = append(paths, path)
	}
	return dir, paths, nil
}

func (p *Pipeline) download(ctx context.Context, fileID, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := p.files.DownloadFile(ctx, fileID, f); err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	return nil
}

func (p *Pipeline) observe(result string) {
	p.metrics.observe(result)
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return strings.ToLower(mt)
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	}
	return ""
}

func uploadName(a Attachment, index int, contentType string) string {
	if a.Filename != "" {
		return filepath.Base(a.Filename)
	}
	return fmt.Sprintf("evidence-%d%s", index+1, extension(contentType))
}
