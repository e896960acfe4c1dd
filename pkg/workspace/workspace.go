package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// IWorkspace owns the per-request temp file layout of the detection
// service: one uniquely named input file per upload and one uniquely named
// output directory per inference call. Unique names come from uuid v4, so
// concurrent requests never collide on disk.
type IWorkspace interface {
	SaveUpload(filename string, src io.Reader) (string, error)
	NewOutputDir() (string, error)
	RemoveInput(path string)
	RemoveOutputDir(dir string)
	Retain() bool
	Cleanup()
}

type workspace struct {
	log        *logrus.Logger
	uploadRoot string
	outputRoot string
	retain     bool
}

func New(log *logrus.Logger, uploadRoot, outputRoot string, retain bool) (IWorkspace, error) {
	if err := os.MkdirAll(uploadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	return &workspace{
		log:        log,
		uploadRoot: uploadRoot,
		outputRoot: outputRoot,
		retain:     retain,
	}, nil
}

// SaveUpload persists an uploaded file under a fresh uuid, keeping only the
// original extension. Returns the path the file was written to.
func (w *workspace) SaveUpload(filename string, src io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(w.uploadRoot, uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp upload: %w", err)
	}

	return path, nil
}

// NewOutputDir creates a unique per-request directory for the runner to
// save its annotated output into.
func (w *workspace) NewOutputDir() (string, error) {
	dir := filepath.Join(w.outputRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	return dir, nil
}

// RemoveInput deletes a temp upload. Best effort: a failed delete is logged
// and never surfaced to the request.
func (w *workspace) RemoveInput(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.Warnf("failed to remove temp input %s: %v", path, err)
	}
}

// RemoveOutputDir deletes a per-request output directory. Only called when
// output retention is disabled.
func (w *workspace) RemoveOutputDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		w.log.Warnf("failed to remove output dir %s: %v", dir, err)
	}
}

// Retain reports whether annotated outputs are kept after the response has
// been served.
func (w *workspace) Retain() bool {
	return w.retain
}

// Cleanup removes both temp roots. Runs at shutdown; errors are logged and
// swallowed.
func (w *workspace) Cleanup() {
	for _, root := range []string{w.uploadRoot, w.outputRoot} {
		if err := os.RemoveAll(root); err != nil {
			w.log.Warnf("failed to clean up %s: %v", root, err)
		}
	}
}
