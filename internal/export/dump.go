package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pipetrack/internal/fileutil"
	"pipetrack/internal/store"
)

// Format selects the structured dump encoding.
type Format string

// Supported dump formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath infers the dump format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: cannot infer dump format from %q (use .json, .yaml or .yml)", store.ErrInvalidInput, path)
	}
}

// EncodeDump writes dump to w in the given format.
func EncodeDump(w io.Writer, dump *store.Dump, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unsupported dump format %q", store.ErrInvalidInput, format)
	}
}

// DecodeDump reads a dump from r.
func DecodeDump(r io.Reader, format Format) (*store.Dump, error) {
	var dump store.Dump
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&dump); err != nil {
			return nil, fmt.Errorf("%w: decode json dump: %v", store.ErrInvalidInput, err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&dump); err != nil {
			return nil, fmt.Errorf("%w: decode yaml dump: %v", store.ErrInvalidInput, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported dump format %q", store.ErrInvalidInput, format)
	}
	return &dump, nil
}

// WriteDump snapshots src and writes it to path atomically. The format
// follows the file extension.
func WriteDump(ctx context.Context, src Snapshotter, path string) (*store.Dump, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	dump, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dump dir: %w", err)
		}
	}
	if err := fileutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return EncodeDump(w, dump, format)
	}); err != nil {
		return nil, fmt.Errorf("write dump: %w", err)
	}
	return dump, nil
}

// ReadDump loads a dump written by WriteDump.
func ReadDump(path string) (*store.Dump, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()
	return DecodeDump(f, format)
}
