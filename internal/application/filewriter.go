package application

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// localFileWriter implements pipeline.FileWriter over the real
// filesystem: write to a sibling temp file, then atomically rename into
// place so a concurrent reader never observes a partially-written file.
type localFileWriter struct {
	root string
}

func newLocalFileWriter(root string) *localFileWriter {
	return &localFileWriter{root: root}
}

func (w *localFileWriter) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

func (w *localFileWriter) WriteTemp(path string, data []byte) (string, error) {
	target := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	tempPath := target + ".sentinelfs-tmp-" + uuid.NewString()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", err
	}
	return tempPath, nil
}

func (w *localFileWriter) Rename(tempPath, targetPath string) error {
	return os.Rename(tempPath, w.resolve(targetPath))
}

func (w *localFileWriter) Remove(path string) error {
	err := os.Remove(w.resolve(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
