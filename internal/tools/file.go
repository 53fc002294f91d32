package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/security"
)

// Files performs filesystem operations inside the configured
// whitelist. Every operation validates its path first and then uses
// only the canonical path the validator returned.
type Files struct {
	validator *security.Path
	logger    log.Logger
	maxBytes  int64
	fileMode  os.FileMode
}

// FilesConfig carries the policy knobs for the file accessor.
type FilesConfig struct {
	// MaxBytes caps both reads and writes.
	MaxBytes int64
	// FileMode is applied to newly written files.
	FileMode os.FileMode
}

// NewFiles creates the file accessor.
func NewFiles(validator *security.Path, logger log.Logger, cfg FilesConfig) *Files {
	return &Files{
		validator: validator,
		logger:    logger,
		maxBytes:  cfg.MaxBytes,
		fileMode:  cfg.FileMode,
	}
}

// Entry describes one file or directory in a listing or stat result.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// Read returns the contents of a whitelisted file. The size limit is
// checked against the file's metadata before any bytes are read, so an
// oversized file costs a stat, not a full read.
func (f *Files) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decision, err := f.validator.Validate(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(decision.Real)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", decision.Real, err)
	}
	if info.IsDir() {
		return nil, &security.ValidationError{Field: "path", Detail: "is a directory"}
	}
	if info.Size() > f.maxBytes {
		return nil, security.Errorf(security.ReasonSizeExceeded,
			"file is %d bytes, limit is %d", info.Size(), f.maxBytes)
	}

	data, err := os.ReadFile(decision.Real)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", decision.Real, err)
	}
	return data, nil
}

// Write atomically writes content to a whitelisted path. The data goes
// to a temp file in the destination directory, permissions are set
// before the rename, and the rename makes the content visible in one
// step. Readers never observe a partial file.
func (f *Files) Write(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if int64(len(content)) > f.maxBytes {
		return security.Errorf(security.ReasonSizeExceeded,
			"content is %d bytes, limit is %d", len(content), f.maxBytes)
	}

	decision, err := f.validator.Validate(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(decision.Real)
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	// Any failure from here on removes the temp file so a failed write
	// leaves the destination untouched.
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(f.fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, decision.Real); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}

	f.logger.Debug("file written",
		"path", decision.Real,
		"bytes", len(content),
	)
	return nil
}

// List returns the entries of a whitelisted directory, sorted by name.
// Entries that are symlinks escaping the whitelist are omitted rather
// than failing the whole listing.
func (f *Files) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decision, err := f.validator.Validate(path)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(decision.Real)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", decision.Real, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		full := filepath.Join(decision.Real, de.Name())
		if de.Type()&fs.ModeSymlink != 0 {
			if _, err := f.validator.Validate(full); err != nil {
				continue
			}
		}
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		entries = append(entries, entryFromInfo(de.Name(), full, info))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes a whitelisted file. Directories are refused.
func (f *Files) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decision, err := f.validator.Validate(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(decision.Real)
	if err != nil {
		return fmt.Errorf("stat %s: %w", decision.Real, err)
	}
	if info.IsDir() {
		return &security.ValidationError{Field: "path", Detail: "is a directory"}
	}

	if err := os.Remove(decision.Real); err != nil {
		return fmt.Errorf("removing %s: %w", decision.Real, err)
	}
	f.logger.Debug("file deleted", "path", decision.Real)
	return nil
}

// Stat returns metadata for a whitelisted file or directory.
func (f *Files) Stat(ctx context.Context, path string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	decision, err := f.validator.Validate(path)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(decision.Real)
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", decision.Real, err)
	}
	return entryFromInfo(info.Name(), decision.Real, info), nil
}

// Exists reports whether a whitelisted path exists. A path outside the
// whitelist is an error, not a false, so callers cannot probe the
// filesystem through it.
func (f *Files) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	decision, err := f.validator.Validate(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(decision.Real)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", decision.Real, err)
}

func entryFromInfo(name, path string, info fs.FileInfo) Entry {
	return Entry{
		Name:    name,
		Path:    path,
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}
