// Package chromium is responsible for launching a Chrome browser process and managing its lifetime.
package chromium

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// ErrExecutableNotFound is returned when no Chrome or Chromium binary could be
// located.
var ErrExecutableNotFound = errors.New("chrome/chromium executable not found")

// DefaultLaunchTimeout bounds how long Launch waits for the DevTools endpoint.
const DefaultLaunchTimeout = 30 * time.Second

// LaunchOptions configures how the browser process is started.
type LaunchOptions struct {
	// ExecutablePath overrides browser discovery.
	ExecutablePath string
	Headless       bool
	// Args are appended to the default flags.
	Args []string
	Env  []string
	// UserDataDir is used as the profile directory when set. Otherwise a
	// temporary one is created and removed once the browser exits.
	UserDataDir string
	// Timeout bounds the wait for the DevTools endpoint.
	Timeout time.Duration
	// WindowWidth and WindowHeight set the initial window size.
	WindowWidth, WindowHeight int64
}

// NewLaunchOptions returns headless options with default timeouts.
func NewLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:     true,
		Timeout:      DefaultLaunchTimeout,
		WindowWidth:  1280,
		WindowHeight: 800,
	}
}

func (o LaunchOptions) args(userDataDir string) []string {
	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + userDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-extensions",
		"--disable-sync",
		"--disable-translate",
		"--disable-gpu",
		"--hide-scrollbars",
		"--mute-audio",
		"--no-sandbox",
	}
	if o.Headless {
		args = append(args, "--headless")
	}
	if o.WindowWidth > 0 && o.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.WindowWidth, o.WindowHeight))
	}
	args = append(args, o.Args...)

	return append(args, "about:blank")
}

// ExecutablePath returns override if it names an existing file, or else the
// first Chrome or Chromium found on PATH or in a well known install location.
func ExecutablePath(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrExecutableNotFound, override, err)
		}
		return override, nil
	}

	for _, name := range []string{
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"chrome",
		"headless_shell",
	} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, path := range knownLocations(runtime.GOOS) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", ErrExecutableNotFound
}

func knownLocations(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/snap/bin/chromium",
		}
	}
}
