package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"bansync/pkg/platform/sentinel"
)

type memoryFile struct {
	RemoteFile
	folderID string
	data     []byte
}

// MemoryFileStore is an in-process FileStore for tests and local runs
// without cloud credentials.
type MemoryFileStore struct {
	mu      sync.Mutex
	seq     int
	folders map[string]string
	files   map[string]*memoryFile
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{
		folders: make(map[string]string),
		files:   make(map[string]*memoryFile),
	}
}

func (m *MemoryFileStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MemoryFileStore) CreateFolder(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("folder")
	m.folders[id] = name
	return id, nil
}

func (m *MemoryFileStore) UploadFile(_ context.Context, folderID, name, mimeType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return "", fmt.Errorf("folder %s: %w", folderID, sentinel.ErrNotFound)
	}
	id := m.nextID("file")
	m.files[id] = &memoryFile{
		RemoteFile: RemoteFile{ID: id, Name: name, MimeType: mimeType},
		folderID:   folderID,
		data:       data,
	}
	return id, nil
}

func (m *MemoryFileStore) ListFiles(_ context.Context, folderID string, imagesOnly bool) ([]RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RemoteFile
	for _, f := range m.files {
		if f.folderID != folderID {
			continue
		}
		if imagesOnly && !strings.HasPrefix(f.MimeType, "image/") {
			continue
		}
		out = append(out, f.RemoteFile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryFileStore) DownloadFile(_ context.Context, fileID string, w io.Writer) error {
	m.mu.Lock()
	f, ok := m.files[fileID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("file %s: %w", fileID, sentinel.ErrNotFound)
	}
	_, err := io.Copy(w, bytes.NewReader(f.data))
	return err
}

// FolderName returns the name a folder was created with.
func (m *MemoryFileStore) FolderName(folderID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders[folderID]
}

func (m *MemoryFileStore) FolderLink(folderID string) string {
	return folderLinkPrefix + folderID
}

func (m *MemoryFileStore) FileLink(fileID string) string {
	return "https://drive.google.com/file/d/" + fileID + "/view"
}
