// Package bundle exports a run's downloaded images as a single tar.zst
// archive, with a manifest describing which prompt produced which file.
package bundle

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/paperbrush/mjrunner/lib/task"
)

// ManifestEntry ties one archived file back to its prompt.
type ManifestEntry struct {
	File     string `json:"file"`
	Prompt   string `json:"prompt"`
	Seq      int    `json:"seq"`
	Position int    `json:"position"`
}

// Manifest is the archive's index, stored as manifest.json at its root.
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Entries   []ManifestEntry `json:"entries"`
}

// BuildManifest assembles the manifest from the run's accepted tasks.
func BuildManifest(runID string, tasks []*task.PromptTask) Manifest {
	m := Manifest{RunID: runID, CreatedAt: time.Now().UTC()}
	for _, t := range tasks {
		for _, img := range t.Images {
			m.Entries = append(m.Entries, ManifestEntry{
				File:     filepath.Base(img.Path),
				Prompt:   t.Prompt,
				Seq:      t.Seq,
				Position: img.Position,
			})
		}
	}
	return m
}

// Export writes a tar.zst of the image files under sourceDir to w, with the
// manifest as the first entry. Non-image files in the directory (the state
// database, probe files) are left out.
func Export(w io.Writer, sourceDir string, manifest Manifest) error {
	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	tw := tar.NewWriter(zw)

	if err := writeManifest(tw, manifest); err != nil {
		return err
	}

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if !info.Mode().IsRegular() || !isImage(path) {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("rel path for %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("header for %s: %w", path, err)
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", path, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("copy %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// ExportFile is Export writing to a new file at destPath.
func ExportFile(destPath, sourceDir string, manifest Manifest) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if err := Export(f, sourceDir, manifest); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	return f.Close()
}

// ReadManifest pulls the manifest back out of an archive.
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return m, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return m, fmt.Errorf("archive has no manifest")
		}
		if err != nil {
			return m, fmt.Errorf("read tar header: %w", err)
		}
		if header.Name != manifestName {
			continue
		}
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return m, fmt.Errorf("parse manifest: %w", err)
		}
		return m, nil
	}
}

const manifestName = "manifest.json"

func writeManifest(tw *tar.Writer, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	header := &tar.Header{
		Name:    manifestName,
		Mode:    0o644,
		Size:    int64(len(raw)),
		ModTime: m.CreatedAt,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return true
	}
	return false
}
