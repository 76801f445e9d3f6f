// Package launch builds the emulator command line from a LaunchConfig and
// supervises the child process. It never speaks QMP or RSP; the backend
// wires protocol clients up after the child is running.
package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lunixbochs/vtclean"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

const (
	DefaultBinary  = "qemu-system-i386"
	DefaultMemory  = 16
	DefaultGDBPort = 1234

	// startWait is how long a child gets to crash before Start returns.
	startWait = 500 * time.Millisecond
)

// hostAudioBackend picks the native audiodev for windowed runs.
func hostAudioBackend() string {
	switch runtime.GOOS {
	case "darwin":
		return "coreaudio"
	case "linux":
		return "pa"
	}
	return "sdl"
}

// Argv assembles the qemu argument vector. Deterministic order: memory,
// drives, display, audio, debug stub, control socket, monitor, replay,
// snapshot, extras.
func Argv(cfg *models.LaunchConfig) ([]string, error) {
	if cfg.HDA == "" {
		return nil, models.Argumentf("launch needs a hard disk image")
	}
	mem := cfg.MemoryMB
	if mem <= 0 {
		mem = DefaultMemory
	}
	args := []string{"-m", fmt.Sprintf("%d", mem)}

	hda := fmt.Sprintf("file=%s,format=qcow2,if=ide,index=0,media=disk", cfg.HDA)
	if cfg.Mode == models.ModeRecord || cfg.Mode == models.ModeReplay {
		// replay must see a pristine disk on every run
		hda += ",snapshot=on"
	}
	args = append(args, "-drive", hda)

	// game ISO takes the primary optical slot; the shared utility ISO
	// rides secondary, or primary when it is alone
	switch {
	case cfg.GameISO != "" && cfg.SharedISO != "":
		args = append(args,
			"-drive", opticalDrive(cfg.GameISO, 2),
			"-drive", opticalDrive(cfg.SharedISO, 3))
	case cfg.GameISO != "":
		args = append(args, "-drive", opticalDrive(cfg.GameISO, 2))
	case cfg.SharedISO != "":
		args = append(args, "-drive", opticalDrive(cfg.SharedISO, 2))
	}

	switch {
	case cfg.Headless:
		args = append(args, "-display", "none")
	case cfg.VNC != 0:
		display := cfg.VNC
		if display >= 5900 {
			display -= 5900
		}
		args = append(args, "-vnc", fmt.Sprintf(":%d", display))
	default:
		display := cfg.Display
		if display == "" {
			display = "sdl"
		}
		args = append(args, "-display", display)
	}

	audio := hostAudioBackend()
	if cfg.Headless {
		audio = "none"
	}
	args = append(args,
		"-audiodev", audio+",id=snd0",
		"-device", "sb16,audiodev=snd0")

	port := cfg.GDBPort
	if port <= 0 {
		port = DefaultGDBPort
	}
	args = append(args, "-gdb", fmt.Sprintf("tcp::%d", port))

	if cfg.QMPSocket != "" {
		args = append(args, "-qmp", fmt.Sprintf("unix:%s,server,nowait", cfg.QMPSocket))
	}

	if cfg.Monitor && (cfg.Mode == "" || cfg.Mode == models.ModeInteractive || cfg.Mode == models.ModeRecord) {
		args = append(args, "-monitor", "stdio")
	}

	switch cfg.Mode {
	case models.ModeRecord:
		args = append(args, "-icount", "shift=auto,rr=record,rrfile="+cfg.ReplayFile)
	case models.ModeReplay:
		args = append(args, "-icount", "shift=auto,rr=replay,rrfile="+cfg.ReplayFile)
	}

	if cfg.Snapshot != "" {
		args = append(args, "-loadvm", cfg.Snapshot)
	}
	args = append(args, cfg.ExtraArgs...)
	return args, nil
}

func opticalDrive(path string, index int) string {
	return fmt.Sprintf("file=%s,format=raw,if=ide,index=%d,media=cdrom", path, index)
}

// stderrRing keeps the tail of the child's stderr for crash reports.
type stderrRing struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (r *stderrRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
	return len(p), nil
}

func (r *stderrRing) Tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return vtclean.Clean(strings.TrimSpace(string(r.buf)), false)
}

// Launcher owns one child process.
type Launcher struct {
	Binary string
	Args   []string

	cmd    *exec.Cmd
	stderr *stderrRing

	mu     sync.Mutex
	waited bool
	werr   error
	done   chan struct{}
}

// New prepares a launcher from a config without spawning anything.
func New(cfg *models.LaunchConfig) (*Launcher, error) {
	args, err := Argv(cfg)
	if err != nil {
		return nil, err
	}
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return &Launcher{Binary: binary, Args: args}, nil
}

// Start spawns the child, then waits briefly to catch immediate exits;
// an early death comes back as a ConnectionError carrying the scrubbed
// stderr tail.
func (l *Launcher) Start(ctx context.Context) error {
	l.stderr = &stderrRing{max: 8192}
	cmd := exec.Command(l.Binary, l.Args...)
	cmd.Stderr = l.stderr
	if err := cmd.Start(); err != nil {
		return models.Connectionf(err, "spawn %s", l.Binary)
	}
	l.cmd = cmd
	l.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		l.waited = true
		l.werr = err
		l.mu.Unlock()
		close(l.done)
	}()
	logx.Infof("launch", "%s pid %d", l.Binary, cmd.Process.Pid)

	select {
	case <-l.done:
		tail := l.stderr.Tail()
		if tail != "" {
			return models.Connectionf(nil, "%s exited immediately: %s", l.Binary, tail)
		}
		return models.Connectionf(l.werr, "%s exited immediately", l.Binary)
	case <-time.After(startWait):
	case <-ctx.Done():
		l.Kill()
		return ctx.Err()
	}
	return nil
}

func (l *Launcher) Pid() int {
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

func (l *Launcher) Running() bool {
	if l.cmd == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.waited
}

// Wait blocks until the child exits.
func (l *Launcher) Wait() error {
	if l.done == nil {
		return nil
	}
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.werr
}

// Stop asks the child to terminate and escalates to SIGKILL after the
// grace period.
func (l *Launcher) Stop(grace time.Duration) error {
	if !l.Running() {
		return nil
	}
	l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.done:
		return nil
	case <-time.After(grace):
	}
	return l.Kill()
}

func (l *Launcher) Kill() error {
	if !l.Running() {
		return nil
	}
	err := l.cmd.Process.Kill()
	if err != nil && err != os.ErrProcessDone {
		return err
	}
	<-l.done
	return nil
}

// Stderr returns the scrubbed tail of the child's stderr so far.
func (l *Launcher) Stderr() string {
	if l.stderr == nil {
		return ""
	}
	return l.stderr.Tail()
}
