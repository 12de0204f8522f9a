// Package artifact implements the archive-based file transport between a
// host directory and a sandbox: packing/unpacking the single-entry tar
// stream used by Backend.Put/Get, and staging retrieved bytes onto the
// host with name disambiguation.
//
// Grounded on the teacher's own tar-based container file transport
// (agents/shared/docker/client.go CopyFileToContainer) and on
// original_source/sandbox/session.py's _extract_from_tar / _creat_local_file,
// which this package reproduces as idiomatic Go using the standard
// archive/tar package — the same package docker/docker and client-go
// themselves use for container file transport, so there is no ecosystem
// library to prefer over it here.
package artifact

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Pack produces a one-entry tar stream containing data under name.
func Pack(name string, data []byte, mode int64) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if hdr.Mode == 0 {
		hdr.Mode = 0o644
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("pack artifact: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("pack artifact: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("pack artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack extracts the first regular-file entry from an archive stream.
// Multi-entry archives have their remaining entries ignored.
func Unpack(archive io.Reader) (name string, data []byte, err error) {
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", nil, fmt.Errorf("unpack artifact: empty archive")
		}
		if err != nil {
			return "", nil, fmt.Errorf("unpack artifact: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return "", nil, fmt.Errorf("unpack artifact: %w", err)
		}
		return filepath.Base(hdr.Name), data, nil
	}
}

// NormalizeSandboxPath resolves a code-relative path to an absolute
// sandbox path: a path that does not start with "/" is rooted under
// /sandbox.
func NormalizeSandboxPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/sandbox/" + p
}

// Stage writes data under outputDir/logicalName, disambiguating by
// appending _1, _2, … before the extension until a free path is found.
// It creates outputDir if missing and returns the final path written.
func Stage(outputDir, logicalName string, data []byte) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("stage artifact: %w", err)
	}
	candidate := filepath.Join(outputDir, logicalName)
	ext := filepath.Ext(logicalName)
	base := strings.TrimSuffix(logicalName, ext)
	for i := 1; fileExists(candidate); i++ {
		candidate = filepath.Join(outputDir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
	if err := os.WriteFile(candidate, data, 0o644); err != nil {
		return "", fmt.Errorf("stage artifact: %w", err)
	}
	return candidate, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
