package util

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// Persist xdr-encodes v and atomically replaces filename with the result.
func Persist(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	return WriteFile(filename, w.Bytes())
}

func Load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}

// WriteFile atomically replaces filename with data.
func WriteFile(filename string, data []byte) error {
	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
