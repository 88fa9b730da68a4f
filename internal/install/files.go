// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package install

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/manager"
)

// stageTemplate extracts the downloaded archive and copies the server
// files into the template directory, then cleans up the temporaries.
func (in *Installer) stageTemplate(archive string) error {
	extractDir := filepath.Join(in.paths.DownloadsDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return err
	}

	if err := extractZip(archive, extractDir); err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
	}

	jar := findFile(extractDir, manager.JarFileName)
	assets := findFile(extractDir, manager.AssetsFileName)
	if jar == "" || assets == "" {
		return errors.New("required server files not found in downloaded archive")
	}

	if err := os.MkdirAll(in.paths.TemplateDir, 0o755); err != nil {
		return err
	}
	if err := copyFile(jar, filepath.Join(in.paths.TemplateDir, manager.JarFileName)); err != nil {
		return err
	}
	if err := copyFile(assets, filepath.Join(in.paths.TemplateDir, manager.AssetsFileName)); err != nil {
		return err
	}
	if aot := filepath.Join(filepath.Dir(jar), manager.AOTFileName); fileExists(aot) {
		if err := copyFile(aot, filepath.Join(in.paths.TemplateDir, manager.AOTFileName)); err != nil {
			logging.Warn().Err(err).Msg("failed to copy AOT cache into template")
		}
	}

	// Best-effort cleanup; a leftover temp dir is harmless.
	if err := os.RemoveAll(extractDir); err != nil {
		logging.Warn().Err(err).Msg("failed to remove extraction directory")
	}
	if err := os.Remove(archive); err != nil {
		logging.Warn().Err(err).Msg("failed to remove downloaded archive")
	}
	return nil
}

// PopulateInstance copies the server files from the template directory
// into the instance's directory. The template must have been staged by a
// completed download.
func (in *Installer) PopulateInstance(instanceID int64) error {
	jarSrc := filepath.Join(in.paths.TemplateDir, manager.JarFileName)
	assetsSrc := filepath.Join(in.paths.TemplateDir, manager.AssetsFileName)
	if !fileExists(jarSrc) || !fileExists(assetsSrc) {
		return errors.New("server template is empty; download the server files first")
	}

	if err := manager.EnsureInstanceDir(in.paths.DataDir, instanceID); err != nil {
		return err
	}
	dir := manager.InstanceDir(in.paths.DataDir, instanceID)

	if err := copyFile(jarSrc, filepath.Join(dir, manager.JarFileName)); err != nil {
		return err
	}
	if err := copyFile(assetsSrc, filepath.Join(dir, manager.AssetsFileName)); err != nil {
		return err
	}
	if aotSrc := filepath.Join(in.paths.TemplateDir, manager.AOTFileName); fileExists(aotSrc) {
		if err := copyFile(aotSrc, filepath.Join(dir, manager.AOTFileName)); err != nil {
			logging.Warn().Err(err).Int64("instance", instanceID).Msg("failed to copy AOT cache")
		}
	}

	logging.Info().Int64("instance", instanceID).Str("dir", dir).Msg("instance populated from template")
	return nil
}

// extractZip unpacks archive into dir, refusing entries that escape it.
func extractZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// findFile walks root for the first file with the given base name.
func findFile(root, name string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name && found == "" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
