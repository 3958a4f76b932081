// Package bundle locates and resolves packaged app bundles (.happ files).
//
// A bundle file is a gzip stream wrapping a msgpack document with two keys:
// "manifest" and "resources". Resolution reads the whole file and keeps the
// manifest as raw msgpack so it is sent to the conductor unchanged.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// Extension is the file extension of app bundles.
const Extension = ".happ"

// maxBundleSize bounds the decompressed size of a single bundle.
const maxBundleSize = 256 << 20

var (
	ErrNotFound  = errors.New("bundle not found")
	ErrAmbiguous = errors.New("more than one bundle in directory")
	ErrExtension = errors.New("bundle file must have " + Extension + " extension")
	ErrMalformed = errors.New("malformed bundle")
)

// Bundle is a resolved app bundle ready to embed in an install request.
type Bundle struct {
	Manifest  msgpack.RawMessage `msgpack:"manifest"`
	Resources map[string][]byte  `msgpack:"resources"`
}

type manifestHeader struct {
	ManifestVersion string `msgpack:"manifest_version"`
	Name            string `msgpack:"name"`
}

// Name returns the app name declared in the manifest, or "" when the
// manifest carries none.
func (b *Bundle) Name() string {
	if b == nil || len(b.Manifest) == 0 {
		return ""
	}
	var h manifestHeader
	if err := msgpack.Unmarshal(b.Manifest, &h); err != nil {
		return ""
	}
	return h.Name
}

// ResourcePaths returns the resource keys in sorted order.
func (b *Bundle) ResourcePaths() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.Resources))
	for p := range b.Resources {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Locate turns a user supplied path into a bundle file path. A directory
// must contain exactly one bundle; a file must carry the bundle extension.
// An empty path means the working directory.
func Locate(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("locate bundle: %w", err)
		}
		path = wd
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("locate bundle: %w", err)
	}
	if !info.IsDir() {
		if filepath.Ext(path) != Extension {
			return "", fmt.Errorf("%w: %s", ErrExtension, path)
		}
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*"+Extension))
	if err != nil {
		return "", fmt.Errorf("locate bundle: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s file in %s", ErrNotFound, Extension, path)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(matches, ", "))
	}
}

// Resolve reads and decodes the bundle file at path.
func Resolve(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	b, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Decode reads a gzip-compressed msgpack bundle from r.
func Decode(r io.Reader) (*Bundle, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %w", ErrMalformed, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxBundleSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrMalformed, err)
	}
	if len(data) > maxBundleSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrMalformed, maxBundleSize)
	}

	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrMalformed, err)
	}
	if isNilRaw(b.Manifest) {
		return nil, fmt.Errorf("%w: missing manifest", ErrMalformed)
	}
	if b.Resources == nil {
		b.Resources = make(map[string][]byte)
	}
	return &b, nil
}

func isNilRaw(raw msgpack.RawMessage) bool {
	return len(raw) == 0 || (len(raw) == 1 && raw[0] == 0xc0)
}

// Encode writes b as a gzip-compressed msgpack bundle.
func Encode(w io.Writer, b *Bundle) error {
	if b == nil {
		return fmt.Errorf("encode bundle: nil bundle")
	}
	body, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	zw := gzip.NewWriter(w)
	if _, err := io.Copy(zw, bytes.NewReader(body)); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	return nil
}

// NewManifest builds a minimal version 1 manifest for name. It is used to
// pack bundles in tests and fixtures.
func NewManifest(name string) (msgpack.RawMessage, error) {
	raw, err := msgpack.Marshal(manifestHeader{ManifestVersion: "1", Name: name})
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return raw, nil
}
