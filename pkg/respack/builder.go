// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package respack packages downloaded emoji into a Minecraft resource pack
// and serves it to game clients.
package respack

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/aiku/craftbridge/pkg/atomicfile"
)

const (
	// ManifestName is the pack descriptor every resource pack starts with.
	ManifestName = "pack.mcmeta"
	// DefaultPackFormat matches Minecraft 1.20.3 and 1.20.4.
	DefaultPackFormat = 22
	// DefaultDescription is shown in the client's resource pack list.
	DefaultDescription = "Mattermost emoji for Emogg"
	// EmojiAssetDir is where the Emogg mod looks for custom emoji.
	EmojiAssetDir = "assets/emogg/emoji"
)

// entryTime is stamped on every archive entry so identical input yields
// identical bytes.
var entryTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Manifest describes the pack.
type Manifest struct {
	PackFormat  int
	Description string
}

// DefaultManifest returns the manifest used when none is configured.
func DefaultManifest() Manifest {
	return Manifest{PackFormat: DefaultPackFormat, Description: DefaultDescription}
}

func (m Manifest) marshal() ([]byte, error) {
	type pack struct {
		PackFormat  int    `json:"pack_format"`
		Description string `json:"description"`
	}
	return json.MarshalIndent(struct {
		Pack pack `json:"pack"`
	}{pack{PackFormat: m.PackFormat, Description: m.Description}}, "", "  ")
}

// Bundle is a built archive. Its file is named after its digest and never
// rewritten, so a rebuild produces a new Bundle at a new Path.
type Bundle struct {
	Path    string
	SHA1    string
	Size    int64
	Files   int
	BuiltAt time.Time
}

// Builder writes resource pack archives.
type Builder struct {
	// Prefix is the directory inside the archive that source files are
	// placed under.
	Prefix string
	now    func() time.Time
}

// NewBuilder returns a builder that places files under prefix.
func NewBuilder(prefix string) *Builder {
	return &Builder{Prefix: prefix, now: time.Now}
}

// Build archives every regular file under sourceDir, in lexical order, with
// the manifest as the first entry. The archive is written next to
// archivePath under DigestPath(archivePath, sha1), so earlier bundles stay
// intact. Files still being written by a concurrent download are skipped by
// their temp-file naming.
func (b *Builder) Build(sourceDir, archivePath string, manifest Manifest) (*Bundle, error) {
	files, err := collectFiles(sourceDir)
	if err != nil {
		return nil, err
	}
	meta, err := manifest.marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	hash := sha1.New()
	var (
		size int64
		sum  string
	)
	path, err := atomicfile.WriteNamed(archivePath, 0o644, func(w io.Writer) error {
		cw := &countingWriter{w: io.MultiWriter(w, hash)}
		zw := zip.NewWriter(cw)
		if err := writeEntry(zw, ManifestName, meta); err != nil {
			return err
		}
		for _, rel := range files {
			name := rel
			if b.Prefix != "" {
				name = b.Prefix + "/" + rel
			}
			if err := copyEntry(zw, name, filepath.Join(sourceDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
		}
		if err := zw.Close(); err != nil {
			return err
		}
		size = cw.n
		return nil
	}, func() string {
		sum = hex.EncodeToString(hash.Sum(nil))
		return DigestPath(archivePath, sum)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write resource pack: %w", err)
	}

	return &Bundle{
		Path:    path,
		SHA1:    sum,
		Size:    size,
		Files:   len(files),
		BuiltAt: b.now(),
	}, nil
}

// DigestPath inserts the digest before archivePath's extension:
// resourcepack.zip becomes resourcepack-<sha1>.zip.
func DigestPath(archivePath, digest string) string {
	ext := filepath.Ext(archivePath)
	return strings.TrimSuffix(archivePath, ext) + "-" + digest + ext
}

// collectFiles returns slash-separated paths of regular files under dir,
// sorted. Hidden files are skipped. A missing dir yields no files.
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.Name()[0] == '.' && path != dir {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func entryHeader(name string) *zip.FileHeader {
	return &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entryTime}
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(entryHeader(name))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func copyEntry(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.CreateHeader(entryHeader(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
