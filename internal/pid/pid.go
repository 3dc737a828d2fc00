// Package pid keeps two healthsynth processes from writing to the same
// store at once.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/healthsynth/internal/errors"
)

const (
	pidFile = "healthsynth.pid"
)

// Path returns the PID file location.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the PID file. It fails with
// ErrAlreadyRunning while the process recorded there is alive; a stale
// or unreadable file is replaced.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if owner, ok := running(path); ok && owner != os.Getpid() {
		return errFactory.WithData(errors.ErrAlreadyRunning, owner)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file if it belongs to this process.
func Remove() error {
	errFactory := errors.New()
	path := Path()

	owner, err := read(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && owner != os.Getpid() {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func read(path string) (int, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(bytes)))
}

// running reports the recorded PID and whether that process is alive.
func running(path string) (int, bool) {
	owner, err := read(path)
	if err != nil || owner <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(owner)
	if err != nil {
		return 0, false
	}

	return owner, process.Signal(syscall.Signal(0)) == nil
}
