package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ArtifactStore writes screenshot files to a flat directory, one PNG per
// artifact id. Writes go through a temp file and rename so readers never see
// a partial artifact.
type ArtifactStore struct {
	dir    string
	logger *zap.Logger
}

func NewArtifactStore(dir string, logger *zap.Logger) (*ArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactStore{dir: dir, logger: logger}, nil
}

// Dir returns the artifact directory.
func (as *ArtifactStore) Dir() string {
	return as.dir
}

// Path resolves the file path for an artifact id. IDs containing path
// separators or traversal segments are rejected.
func (as *ArtifactStore) Path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid artifact id: %q", id)
	}
	return filepath.Join(as.dir, id+".png"), nil
}

// Write stores the PNG bytes and returns the file path.
func (as *ArtifactStore) Write(id string, data []byte) (string, error) {
	path, err := as.Path(id)
	if err != nil {
		return "", err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		as.logger.Error("Failed to write temporary artifact file",
			zap.String("temp_path", tempPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		as.logger.Error("Failed to rename temp artifact file",
			zap.String("temp_path", tempPath),
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	as.logger.Debug("Artifact file written",
		zap.String("artifact_id", id),
		zap.Int("size_bytes", len(data)))

	return path, nil
}

// Read returns the PNG bytes for an artifact id.
func (as *ArtifactStore) Read(id string) ([]byte, error) {
	path, err := as.Path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found %s: %w", id, err)
		}
		as.logger.Error("Failed to read artifact file",
			zap.String("path", path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether the artifact file is present.
func (as *ArtifactStore) Exists(id string) bool {
	path, err := as.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the artifact file. Missing files are not an error.
func (as *ArtifactStore) Delete(id string) error {
	path, err := as.Path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		as.logger.Error("Failed to delete artifact file",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	as.logger.Debug("Artifact file deleted", zap.String("artifact_id", id))
	return nil
}
