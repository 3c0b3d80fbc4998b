package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sys/unix"
)

const (
	// detachedEnv marks the re-executed child so it does not detach again.
	detachedEnv = "RABBIT_FENCE_DETACHED"

	// readyFD is the descriptor the child reports startup success on.
	readyFD = 3

	// readyTimeout bounds how long the parent waits for the child to start.
	readyTimeout = 30 * time.Second
)

// Detach re-executes the current binary in a new session without a
// controlling terminal. It returns true in the parent, which should exit,
// and false in the detached child. The parent only succeeds once the child
// reported itself ready via NotifyReady.
func Detach() (bool, error) {
	if os.Getenv(detachedEnv) != "" {
		unix.Umask(0o022)
		return false, os.Chdir("/")
	}
	exe, err := os.Executable()
	if err != nil {
		return true, err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachedEnv+"=1")
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ready, notify, err := os.Pipe()
	if err != nil {
		return true, err
	}
	defer ready.Close()
	cmd.ExtraFiles = []*os.File{notify}

	err = cmd.Start()
	notify.Close()
	if err != nil {
		return true, err
	}
	log.Debug("Detached into background", "pid", cmd.Process.Pid)

	if err := waitReady(ready, readyTimeout); err != nil {
		return true, fmt.Errorf("detached daemon %d: %w", cmd.Process.Pid, err)
	}
	return true, cmd.Process.Release()
}

// NotifyReady tells the waiting parent that the detached daemon started. It
// is a no-op in a process that was not detached.
func NotifyReady() {
	if os.Getenv(detachedEnv) == "" {
		return
	}
	os.Unsetenv(detachedEnv)

	pipe := os.NewFile(readyFD, "ready")
	if pipe == nil {
		return
	}
	defer pipe.Close()

	if _, err := pipe.Write([]byte("ready\n")); err != nil {
		log.Warn("Failed to report readiness", "err", err)
	}
}

// waitReady blocks until the child writes to the readiness pipe. A pipe
// closed without data means the child died during startup.
func waitReady(r io.Reader, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		n, err := r.Read(buf)
		switch {
		case n > 0:
			done <- nil
		case err == nil || errors.Is(err, io.EOF):
			done <- errors.New("exited before becoming ready")
		default:
			done <- err
		}
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("not ready after %v", timeout)
	}
}

// DropPrivileges switches the process to the named account. It is a no-op
// when no account is given or the process is not running as root.
func DropPrivileges(name string) error {
	if name == "" {
		return nil
	}
	if os.Geteuid() != 0 {
		log.Debug("Not running as root, keeping credentials", "uid", os.Geteuid())
		return nil
	}
	account, err := user.Lookup(name)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(account.Uid)
	if err != nil {
		return fmt.Errorf("uid of %s: %w", name, err)
	}
	gid, err := strconv.Atoi(account.Gid)
	if err != nil {
		return fmt.Errorf("gid of %s: %w", name, err)
	}
	// Group first, afterwards we would no longer be allowed to
	if err := unix.Setgroups([]int{gid}); err != nil {
		return err
	}
	if err := unix.Setgid(gid); err != nil {
		return err
	}
	if err := unix.Setuid(uid); err != nil {
		return err
	}
	log.Info("Dropped privileges", "user", name, "uid", uid, "gid", gid)
	return nil
}
