package chromium

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/torwell84/torwell-verify/browserprocess"
	"github.com/torwell84/torwell-verify/log"
	"github.com/torwell84/torwell-verify/storage"
)

// errProcessEnded is returned when the browser exits before it announced its
// DevTools endpoint.
var errProcessEnded = errors.New("browser process ended unexpectedly")

// BrowserProcess is a running browser.
type BrowserProcess struct {
	// launchCtx carries the run ID the process is registered under.
	launchCtx context.Context
	cancel    context.CancelFunc

	process     *os.Process
	processDone chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	// The directory where user data for the browser is stored.
	userDataDir *storage.Dir

	terminateOnce sync.Once
	logger        *log.Logger
}

// Launch starts a browser and waits until it announces its DevTools endpoint.
// The process outlives ctx; it is stopped by Terminate, or forcibly through
// the browserprocess register of the run ID carried by ctx.
func Launch(ctx context.Context, opts LaunchOptions, logger *log.Logger) (*BrowserProcess, error) {
	path, err := ExecutablePath(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	dataDir := storage.NewDir(nil)
	if err := dataDir.Make("", "torwell-verify-chromium-", opts.UserDataDir); err != nil {
		return nil, err
	}

	procCtx, procCancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd, err := execute(procCtx, path, opts.args(dataDir.Dir), opts.Env, dataDir, logger)
	if err != nil {
		procCancel()
		if cerr := dataDir.Cleanup(); cerr != nil {
			logger.Errorf("browser", "cleaning up the user data directory: %v", cerr)
		}
		return nil, fmt.Errorf("launching %q: %w", path, err)
	}
	browserprocess.Register(ctx, logger, cmd.Process.Pid)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	parseCtx, parseCancel := context.WithTimeout(ctx, timeout)
	defer parseCancel()

	wsURL, err := parseDevToolsURL(parseCtx, cmd)
	if err != nil {
		procCancel()
		<-cmd.done
		browserprocess.Unregister(ctx, cmd.Process.Pid)
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}
	// Keep draining stderr so the browser never blocks on a full pipe.
	go func() { _, _ = io.Copy(io.Discard, cmd.stderr) }()

	logger.Debugf("browser", "launched %q pid:%d wsURL:%q", path, cmd.Process.Pid, wsURL)

	return &BrowserProcess{
		launchCtx:   ctx,
		cancel:      procCancel,
		process:     cmd.Process,
		processDone: cmd.done,
		wsURL:       wsURL,
		userDataDir: dataDir,
		logger:      logger,
	}, nil
}

// Terminate kills the browser process and waits up to timeout for it to exit
// and for its user data directory to be removed. It reports whether the
// process exited in time.
func (p *BrowserProcess) Terminate(timeout time.Duration) bool {
	p.terminateOnce.Do(func() {
		p.logger.Debugf("Browser:Terminate", "pid:%d", p.Pid())
		p.cancel()
	})

	select {
	case <-p.processDone:
		browserprocess.Unregister(p.launchCtx, p.Pid())
		return true
	case <-time.After(timeout):
		p.logger.Warnf("Browser:Terminate", "pid:%d did not exit within %s", p.Pid(), timeout)
		return false
	}
}

// Done is closed once the process has exited and its user data directory
// has been cleaned up.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.processDone
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *BrowserProcess) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID.
func (p *BrowserProcess) Pid() int {
	return p.process.Pid
}

// UserDataDir returns the browser's profile directory.
func (p *BrowserProcess) UserDataDir() string {
	return p.userDataDir.Dir
}

type command struct {
	*exec.Cmd
	done   chan struct{}
	stderr io.Reader
}

func execute(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	if os.IsNotExist(err) {
		return command{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}

	done := make(chan struct{})
	go func() {
		defer func() {
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v",
				cmd.Process.Pid, err)
		}
	}()

	return command{cmd, done, stderr}, nil
}

// parseDevToolsURL grabs the WebSocket address from the browser's stderr and
// returns it. If the process ends abruptly, it returns the first error the
// browser logged.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	parser := &devToolsURLParser{
		sc: bufio.NewScanner(cmd.stderr),
	}
	done := make(chan struct{})
	go func() {
		for parser.scan() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-cmd.done:
		return "", errProcessEnded
	}

	if parser.url != "" {
		return parser.url, nil
	}
	if err := parser.err(); err != nil {
		return "", err
	}

	// stderr was closed cleanly without an address.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-cmd.done:
		return "", errProcessEnded
	}
}

type devToolsURLParser struct {
	sc *bufio.Scanner

	errs []error
	url  string
}

func (p *devToolsURLParser) scan() bool {
	if !p.sc.Scan() {
		return false
	}

	const urlPrefix = "DevTools listening on "

	line := p.sc.Text()
	if strings.HasPrefix(line, urlPrefix) {
		p.url = strings.TrimPrefix(strings.TrimSpace(line), urlPrefix)
	}
	if strings.Contains(line, ":ERROR:") {
		if i := strings.Index(line, "] "); i > 0 {
			p.errs = append(p.errs, errors.New(line[i+2:]))
		}
	}

	return p.url == ""
}

func (p *devToolsURLParser) err() error {
	if len(p.errs) > 0 {
		return p.errs[0]
	}

	err := p.sc.Err()
	if errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("browser process shutdown unexpectedly before establishing a connection: %w", err)
	}

	return err //nolint:wrapcheck
}
