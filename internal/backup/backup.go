// Package backup keeps xz-compressed copies of input documents before they
// are overwritten.
//
// Backups are named after the input and the BLAKE3 digest of its content,
// <base>-<digest[:12]>.eaf.xz, so the same content is stored once.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/eafsr/core/cas"
	"github.com/FocuswithJustin/eafsr/core/errors"
	"github.com/FocuswithJustin/eafsr/internal/validation"
)

// DigestLen is the number of digest characters kept in backup names.
const DigestLen = 12

// Injectable functions for testing
var (
	xzNewWriter = xz.NewWriter
	xzNewReader = xz.NewReader
	osStat      = os.Stat
)

// Name returns the backup file name for data read from the file at path.
func Name(path string, data []byte) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s.eaf.xz", base, cas.Short(cas.Blake3Hash(data), DigestLen))
}

// Write stores data compressed under dir and returns the backup path. An
// existing backup with the same name is left alone and created is false.
func Write(dir, path string, data []byte) (backupPath string, created bool, err error) {
	name := Name(path, data)
	if err := validation.ValidateFilename(name); err != nil {
		return "", false, &errors.ValidationError{Field: "backup", Value: name, Message: err.Error(), Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, errors.NewIO("mkdir", dir, err)
	}

	backupPath = filepath.Join(dir, name)
	if _, err := osStat(backupPath); err == nil {
		return backupPath, false, nil
	}

	file, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return "", false, errors.NewIO("create", dir, err)
	}
	tmpPath := file.Name()
	cleanup := func() {
		file.Close()
		os.Remove(tmpPath)
	}

	w, err := xzNewWriter(file)
	if err != nil {
		cleanup()
		return "", false, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		cleanup()
		return "", false, errors.NewIO("write", backupPath, err)
	}
	if err := w.Close(); err != nil {
		cleanup()
		return "", false, errors.NewIO("write", backupPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", false, errors.NewIO("write", backupPath, err)
	}
	if err := os.Rename(tmpPath, backupPath); err != nil {
		os.Remove(tmpPath)
		return "", false, errors.NewIO("rename", backupPath, err)
	}
	return backupPath, true, nil
}

// Read decompresses the backup at path.
func Read(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer file.Close()

	r, err := xzNewReader(file)
	if err != nil {
		return nil, &errors.ParseError{Format: "xz", Path: path, Message: err.Error(), Err: err}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &errors.ParseError{Format: "xz", Path: path, Message: err.Error(), Err: err}
	}
	return data, nil
}
