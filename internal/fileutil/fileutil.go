// Package fileutil holds the small file and display helpers shared by the
// uploader, the download path and the CLI.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Common path constants.
const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
	downloadPrefix         = "xtts_render_"
	fallbackSampleName     = "sample"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
)

// Formatting constants.
const (
	secondsInMinute = 60
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio sample extensions the service is known to accept.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
	extWEBM = ".webm"
)

const errFmtFailedToCreateDir = "failed to create directory %s: %w"

// EnsureDir creates path and its parents if they do not exist.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, err)
	}

	return nil
}

// DownloadName is the file name a rendered result is saved under.
func DownloadName(id, format string) string {
	return downloadPrefix + SanitizeFilename(id) + "." + format
}

// SanitizeFilename replaces characters that are invalid in most filesystems
// and strips any directory part. An empty result becomes "sample".
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	name := replacer.Replace(strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." {
		return fallbackSampleName
	}

	return name
}

// LooksLikeAudio reports whether filename carries a common audio extension.
// It is a hint only; the service has the final say.
func LooksLikeAudio(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC, extWEBM:
		return true
	default:
		return false
	}
}

// FormatDuration renders d as "45.2s" or "5m 30.5s". Zero renders as "?".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "?"
	}

	seconds := d.Seconds()
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	minutes := int(seconds / secondsInMinute)

	return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*secondsInMinute))
}

// FormatSize renders a byte count as "500 B", "2.0 KB" or "1.5 MB".
func FormatSize(size int) string {
	switch {
	case size >= megabyte:
		return fmt.Sprintf(formatMB, float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf(formatKB, float64(size)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, size)
	}
}
