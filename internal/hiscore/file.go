package hiscore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

// FileVersion is the current hiscore file format version.
const FileVersion = 1

// File is the on-disk hiscore document.
type File struct {
	Version int     `json:"version"`
	Raw     []Entry `json:"raw"`
	Trimmed []Entry `json:"trimmed"`
}

// WorkerPath returns the hiscore file of one worker in dir.
func WorkerPath(dir string, worker int) string {
	return filepath.Join(dir, fmt.Sprintf("hiscore-%d.json", worker))
}

// GlobalPath returns the consolidated hiscore file in dir.
func GlobalPath(dir string) string {
	return filepath.Join(dir, "hiscore.json")
}

// readFile parses a hiscore file without locking. A missing file is an
// empty document when allowMissing is set.
func readFile(path string, allowMissing bool) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return &File{Version: FileVersion}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if f.Version > FileVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrCorrupt, path, f.Version)
	}
	for i := range f.Raw {
		f.Raw[i].ensureFingerprint()
	}
	for i := range f.Trimmed {
		f.Trimmed[i].ensureFingerprint()
	}
	return &f, nil
}

func writeFile(path string, f *File) error {
	f.Version = FileVersion
	if f.Raw == nil {
		f.Raw = []Entry{}
	}
	if f.Trimmed == nil {
		f.Trimmed = []Entry{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hiscore file: %w", err)
	}
	return protomodel.WriteFileAtomic(path, data)
}
