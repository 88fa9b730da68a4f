// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package install obtains the Hytale server files through the official
// downloader binary and populates instance directories from the local
// template. The downloader is itself a child process whose output is
// scanned for device-code auth prompts and progress, same technique the
// console monitor uses on the game server.
package install

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/models"
)

// ErrBusy is returned when a download job is already running; only one
// may run at a time.
var ErrBusy = errors.New("a download is already in progress")

// maxStatusMessages bounds the raw downloader transcript kept in status.
const maxStatusMessages = 100

// Downloader output patterns.
var (
	verifyURLPattern = regexp.MustCompile(`(https://oauth\.accounts\.hytale\.com/oauth2/device/verify\?user_code=\S+)`)
	grantCodePattern = regexp.MustCompile(`Authorization code:\s*([A-Za-z0-9]+)`)
	progressPattern  = regexp.MustCompile(`\[([=\s]*)\]\s*([\d.]+)%\s*\(([^)]+)\)`)
	versionPattern   = regexp.MustCompile(`successfully downloaded.*\(version\s+([^)]+)\)`)
)

// Status is a point-in-time snapshot of the download job.
type Status struct {
	Active     bool     `json:"active"`
	Complete   bool     `json:"complete"`
	Success    bool     `json:"success"`
	Percentage float64  `json:"percentage"`
	Details    string   `json:"details"`
	AuthURL    string   `json:"auth_url,omitempty"`
	AuthCode   string   `json:"auth_code,omitempty"`
	Version    string   `json:"version,omitempty"`
	Error      string   `json:"error,omitempty"`
	Messages   []string `json:"messages"`
}

// Broadcaster publishes progress snapshots to viewers.
type Broadcaster interface {
	Publish(messageType string, instanceID int64, data interface{})
}

// Installer runs downloads and template population.
type Installer struct {
	paths config.PathsConfig
	bc    Broadcaster

	mu     sync.Mutex
	active bool
	status Status
}

// New creates an Installer.
func New(paths config.PathsConfig, bc Broadcaster) *Installer {
	return &Installer{paths: paths, bc: bc}
}

// Status returns the current download status snapshot.
func (in *Installer) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	st := in.status
	st.Messages = append([]string(nil), in.status.Messages...)
	return st
}

// StartDownload launches the downloader job in the background. Returns
// ErrBusy when one is already running.
func (in *Installer) StartDownload(ctx context.Context) error {
	in.mu.Lock()
	if in.active {
		in.mu.Unlock()
		return ErrBusy
	}
	in.active = true
	in.status = Status{Active: true}
	in.mu.Unlock()

	go in.runDownload(ctx)
	return nil
}

func (in *Installer) runDownload(ctx context.Context) {
	err := in.download(ctx)

	in.mu.Lock()
	in.active = false
	in.status.Active = false
	in.status.Complete = true
	in.status.Success = err == nil
	if err != nil {
		in.status.Error = err.Error()
	}
	snapshot := in.status
	in.mu.Unlock()

	if err != nil {
		logging.Error().Err(err).Msg("server download failed")
	} else {
		logging.Info().Str("version", snapshot.Version).Msg("server download complete")
	}
	in.publish()
}

// download runs the downloader process and stages the results into the
// template directory.
func (in *Installer) download(ctx context.Context) error {
	downloader := downloaderPath(in.paths.DownloadsDir)
	if !fileExists(downloader) {
		return errors.New("hytale downloader not found; reinstall the console")
	}

	cmd := exec.CommandContext(ctx, downloader, "download", "--output", in.paths.DownloadsDir, "server")
	cmd.Dir = in.paths.DownloadsDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return err
	}

	version := in.scanOutput(stdout)

	if err := cmd.Wait(); err != nil {
		return errors.New("downloader exited with error: " + err.Error())
	}

	archive := in.findArchive(version)
	if archive == "" {
		return errors.New("downloaded archive not found")
	}
	return in.stageTemplate(archive)
}

// scanOutput consumes downloader output, updating status as auth
// prompts, progress, and the version line appear. Returns the detected
// version, possibly "".
func (in *Installer) scanOutput(r io.Reader) string {
	var version string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		in.mu.Lock()
		if len(in.status.Messages) < maxStatusMessages {
			in.status.Messages = append(in.status.Messages, line)
		}
		if match := verifyURLPattern.FindStringSubmatch(line); match != nil {
			in.status.AuthURL = match[1]
		}
		if match := grantCodePattern.FindStringSubmatch(line); match != nil {
			in.status.AuthCode = match[1]
		}
		if match := progressPattern.FindStringSubmatch(line); match != nil {
			if pct, err := strconv.ParseFloat(match[2], 64); err == nil {
				in.status.Percentage = pct
			}
			in.status.Details = match[3]
			// Download running means auth is done; clear the prompt.
			in.status.AuthURL = ""
			in.status.AuthCode = ""
		}
		if match := versionPattern.FindStringSubmatch(line); match != nil {
			version = match[1]
			in.status.Version = version
		}
		if strings.Contains(strings.ToLower(line), "validating checksum") {
			in.status.Percentage = 99
			in.status.Details = "Almost done..."
		}
		in.mu.Unlock()

		in.publish()
	}
	return version
}

// publish pushes the current snapshot to viewers. Install progress is
// global, not per instance.
func (in *Installer) publish() {
	in.bc.Publish(models.MessageInstallProgress, 0, in.Status())
}

// findArchive locates the downloaded zip: the version-named file when
// known, otherwise the first zip in the downloads directory.
func (in *Installer) findArchive(version string) string {
	if version != "" {
		candidate := filepath.Join(in.paths.DownloadsDir, version+".zip")
		if fileExists(candidate) {
			return candidate
		}
	}

	entries, err := os.ReadDir(in.paths.DownloadsDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".zip") || name == "hytale-downloader.zip" {
			continue
		}
		return filepath.Join(in.paths.DownloadsDir, name)
	}
	return ""
}

// downloaderPath picks the platform binary inside the downloads dir.
func downloaderPath(dir string) string {
	name := "hytale-downloader-" + runtime.GOOS + "-" + runtime.GOARCH
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
