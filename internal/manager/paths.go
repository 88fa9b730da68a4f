// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known file names inside an instance directory. The download
// pipeline produces them; the supervisor checks them before launch.
const (
	JarFileName    = "HytaleServer.jar"
	AssetsFileName = "Assets.zip"
	AOTFileName    = "HytaleServer.aot"
	LogsDirName    = "logs"
)

// InstanceDir returns the directory for an instance under the data dir.
func InstanceDir(dataDir string, id int64) string {
	return filepath.Join(dataDir, fmt.Sprintf("server_%d", id))
}

// JarPath returns the server jar path for an instance.
func JarPath(dataDir string, id int64) string {
	return filepath.Join(InstanceDir(dataDir, id), JarFileName)
}

// AssetsPath returns the asset pack path for an instance.
func AssetsPath(dataDir string, id int64) string {
	return filepath.Join(InstanceDir(dataDir, id), AssetsFileName)
}

// AOTPath returns the ahead-of-time cache path for an instance.
func AOTPath(dataDir string, id int64) string {
	return filepath.Join(InstanceDir(dataDir, id), AOTFileName)
}

// LogsDir returns the instance's log directory, tailed as the fallback
// output source.
func LogsDir(dataDir string, id int64) string {
	return filepath.Join(InstanceDir(dataDir, id), LogsDirName)
}

// EnsureInstanceDir creates the instance directory structure.
func EnsureInstanceDir(dataDir string, id int64) error {
	if err := os.MkdirAll(LogsDir(dataDir, id), 0o755); err != nil {
		return fmt.Errorf("create instance directory: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
