// Package lifecycle starts and stops a background landale daemon.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/daemon"
	"github.com/bryanveloso/landale-sub014/internal/inbox"
	"github.com/bryanveloso/landale-sub014/internal/lock"
	"github.com/bryanveloso/landale-sub014/internal/status"
	"github.com/bryanveloso/landale-sub014/internal/uds"
	"github.com/bryanveloso/landale-sub014/internal/yaml"
)

const pollInterval = 100 * time.Millisecond

// ErrNotReady is returned when a started daemon never answers a ping.
var ErrNotReady = errors.New("daemon did not become ready")

type UpOptions struct {
	Dir string
	// Reset discards inbox files left over from a previous run.
	Reset bool
	Wait  time.Duration
	// Start launches the daemon process. Nil runs "landale daemon" detached.
	Start func(dir string) error
}

// Up checks the data directory, launches the daemon and waits until its
// control socket answers or ctx ends.
func Up(ctx context.Context, w io.Writer, opts UpOptions) error {
	if opts.Reset {
		n, err := resetInbox(opts.Dir)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintf(w, "Discarded %d inbox file(s).\n", n)
	}

	if err := startupRecovery(opts.Dir); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	start := opts.Start
	if start == nil {
		start = startDaemon
	}
	if err := start(opts.Dir); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	wait := opts.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	sock := filepath.Join(opts.Dir, uds.DefaultSocketName)
	deadline := time.Now().Add(wait)
	for {
		if st := status.Ping(ctx, sock); st.Running {
			fmt.Fprintf(w, "landale is up (show %s, version %d).\n", st.CurrentShow, st.Version)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %v; see %s", ErrNotReady, wait,
				filepath.Join(opts.Dir, "logs", "daemon.log"))
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// Down asks a running daemon to stop and waits for its socket to go away.
func Down(ctx context.Context, w io.Writer, dir string, timeout time.Duration) error {
	sock := filepath.Join(dir, uds.DefaultSocketName)
	if _, err := os.Stat(sock); os.IsNotExist(err) {
		fmt.Fprintln(w, "Daemon is not running.")
		return nil
	}

	client := uds.NewClient(sock, 5*time.Second)
	if err := client.Call(ctx, uds.CmdShutdown, nil, nil); err != nil {
		var detail *uds.ErrorDetail
		if errors.As(err, &detail) {
			return fmt.Errorf("shutdown rejected: %w", err)
		}
		if errors.Is(err, uds.ErrDaemonUnreachable) && !lockHeld(dir) {
			_ = os.Remove(sock)
			fmt.Fprintln(w, "Daemon is not running; removed stale socket.")
			return nil
		}
		return fmt.Errorf("daemon holds the lock but did not answer: %w", err)
	}

	fmt.Fprintln(w, "Shutdown accepted. Waiting for daemon to stop...")
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sock); os.IsNotExist(err) {
			fmt.Fprintln(w, "landale stopped.")
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("shutdown timeout after %v", timeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// startupRecovery ensures the directory layout, refuses to start over a
// running daemon and repairs a config that no longer parses.
func startupRecovery(dir string) error {
	for _, d := range []string{inbox.DirName, "logs", "locks", yaml.QuarantineDirName} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}

	fl := lock.NewFileLock(lockPath(dir))
	if err := fl.TryLock(); err != nil {
		return fmt.Errorf("daemon lock check: %w", err)
	}
	_ = fl.Unlock()

	if _, err := daemon.LoadConfig(dir); err != nil {
		return err
	}
	return nil
}

func lockPath(dir string) string {
	return filepath.Join(dir, "locks", "daemon.lock")
}

func lockHeld(dir string) bool {
	fl := lock.NewFileLock(lockPath(dir))
	if err := fl.TryLock(); err != nil {
		return errors.Is(err, lock.ErrHeld)
	}
	_ = fl.Unlock()
	return false
}

// resetInbox removes pending inbox files. Quarantined files are kept.
func resetInbox(dir string) (int, error) {
	inboxDir := filepath.Join(dir, inbox.DirName)
	entries, err := os.ReadDir(inboxDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(inboxDir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// startDaemon runs "landale --dir <dir> daemon" in its own session.
func startDaemon(dir string) error {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "landale"
	}
	cmd := exec.Command(execPath, "--dir", dir, "daemon")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
