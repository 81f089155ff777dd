// Package loader reads the game-log and handle-map input files.
package loader

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rklstats/rosterlink/internal/model"
)

// Games reads a JSON array of game records from path. Files ending in .gz or
// .zst are decompressed transparently.
func Games(path string) ([]*model.GameRecord, error) {
	r, closeFn, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var games []*model.GameRecord
	if err := json.NewDecoder(r).Decode(&games); err != nil {
		return nil, fmt.Errorf("decode games %s: %w", path, err)
	}
	return games, nil
}

// Handles reads a handle → user id JSON object from path. A missing file is
// not an error: runs commonly start with no prior mapping.
func Handles(path string) (map[string]string, error) {
	r, closeFn, err := openReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer closeFn()

	handles := make(map[string]string)
	if err := json.NewDecoder(r).Decode(&handles); err != nil {
		return nil, fmt.Errorf("decode handles %s: %w", path, err)
	}
	lowered := make(map[string]string, len(handles))
	for h, id := range handles {
		lowered[strings.ToLower(h)] = id
	}
	return lowered, nil
}

// openReader opens path, wrapping it in a gzip or zstd decoder by extension.
func openReader(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		return dec, func() { dec.Close(); f.Close() }, nil
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return gz, func() { gz.Close(); f.Close() }, nil
	default:
		return f, func() { f.Close() }, nil
	}
}
