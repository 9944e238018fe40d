package network

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// Format is the encoding of a network file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension. Anything other than
// .json is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses a network document.
func Decode(data []byte, f Format) (domain.Network, error) {
	var net domain.Network
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &net)
	default:
		err = yaml.Unmarshal(data, &net)
	}
	if err != nil {
		return domain.Network{}, fmt.Errorf("decode %s network: %w", f, err)
	}
	return net, nil
}

// Encode renders a network document.
func Encode(net domain.Network, f Format) ([]byte, error) {
	if f == FormatJSON {
		return json.MarshalIndent(net, "", "  ")
	}
	return yaml.Marshal(net)
}

// File is a Store over a YAML or JSON document on disk. Updates are kept in
// memory until Flush rewrites the file.
type File struct {
	path   string
	format Format
	mem    *Memory

	mu    sync.Mutex
	dirty bool
}

// OpenFile reads the network at path.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network file: %w", err)
	}
	f := FormatFor(path)
	net, err := Decode(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, format: f, mem: NewMemory(net)}, nil
}

// Path is the file the store was opened from.
func (f *File) Path() string { return f.path }

func (f *File) Load(ctx context.Context) (domain.Network, error) {
	if err := ctx.Err(); err != nil {
		return domain.Network{}, err
	}
	return f.mem.Load(ctx)
}

func (f *File) UpdateSegment(ctx context.Context, s domain.PipeSegment) error {
	if err := f.mem.UpdateSegment(ctx, s); err != nil {
		return err
	}
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
	return nil
}

// Flush writes pending updates through a temporary file renamed over the
// original.
func (f *File) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	net, err := f.mem.Load(ctx)
	if err != nil {
		return err
	}
	if err := WriteFile(f.path, net); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// WriteFile encodes net in the format implied by path and replaces the file.
func WriteFile(path string, net domain.Network) error {
	data, err := Encode(net, FormatFor(path))
	if err != nil {
		return fmt.Errorf("encode network: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write network file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write network file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write network file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
