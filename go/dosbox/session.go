package dosbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

const (
	// DefaultTimeout bounds one emulator run end to end.
	DefaultTimeout = 30 * time.Second

	// stableWindow is how long an artifact must stop growing before it
	// counts as complete.
	stableWindow = 200 * time.Millisecond

	// pollInterval drives the fallback check when the fs watcher is
	// unavailable, and paces stability rechecks.
	pollInterval = 250 * time.Millisecond
)

// Session is one short-lived emulator run: a scratch directory holding
// the synthesized conf, debug script, log, and any dump artifacts. The
// scratch dir is uuid-named so concurrent runs never collide.
type Session struct {
	ID  string
	Dir string

	Binary  string
	Timeout time.Duration

	// WaitFor is the artifact the run exists to produce; the child is
	// killed as soon as it is complete. Empty means the log is the
	// artifact and the run is left to its timeout.
	WaitFor string

	mu  sync.Mutex
	cmd *exec.Cmd
	// closed once the reaper goroutine has finished cmd.Wait
	done chan struct{}
}

// NewSession carves out a scratch dir under the workspace sessions root.
func NewSession(sessionsDir, binary string, timeout time.Duration) (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(sessionsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if binary == "" {
		binary = "dosbox-x"
	}
	return &Session{ID: id, Dir: dir, Binary: binary, Timeout: timeout}, nil
}

func (s *Session) ConfPath() string   { return filepath.Join(s.Dir, "session.conf") }
func (s *Session) ScriptPath() string { return filepath.Join(s.Dir, "debug.cmd") }
func (s *Session) LogPath() string    { return filepath.Join(s.Dir, "session.log") }

// Path resolves an artifact name inside the scratch dir.
func (s *Session) Path(name string) string { return filepath.Join(s.Dir, name) }

// Run spawns dosbox-x against the session conf with the debugger armed
// and blocks until the wanted artifact is complete, the child exits, or
// the deadline expires. The child never outlives Run.
func (s *Session) Run(ctx context.Context) error {
	cmd := exec.Command(s.Binary, "-conf", s.ConfPath(), "-startdebugger")
	cmd.Dir = s.Dir
	if err := cmd.Start(); err != nil {
		return models.Connectionf(err, "spawn %s", s.Binary)
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.mu.Unlock()
	logx.Debugf("dosbox", "session %s pid %d", s.ID, cmd.Process.Pid)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(done)
	}()

	ready := s.watchReady(ctx)
	deadline := time.After(s.Timeout)

	defer func() {
		select {
		case <-done:
		default:
			cmd.Process.Kill()
			<-done
		}
	}()

	select {
	case <-ready:
		return nil
	case <-exited:
		// the emulator quit on its own; whatever it produced is there
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		// a late artifact may have landed between checks
		if s.WaitFor != "" && s.artifactReady() {
			return nil
		}
		return models.Timeout("dosbox session "+s.ID, s.Timeout)
	}
}

// artifactReady reports whether the wanted artifact exists and has
// stopped growing.
func (s *Session) artifactReady() bool {
	path := s.Path(s.WaitFor)
	st1, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(stableWindow)
	st2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st1.Size() == st2.Size() && st2.Size() > 0
}

// watchReady resolves once the wanted artifact is complete. fsnotify
// events on the scratch dir trigger the check; a plain poll covers
// platforms where the watcher fails to start.
func (s *Session) watchReady(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	if s.WaitFor == "" {
		return ready
	}
	trigger := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(s.Dir); werr != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		logx.Warnf("dosbox", "fs watcher unavailable, polling: %v", err)
		watcher = nil
	}

	go func() {
		if watcher != nil {
			defer watcher.Close()
		}
		defer close(ready)
		for {
			if s.artifactReady() {
				return
			}
			if watcher != nil {
				select {
				case ev := <-watcher.Events:
					if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
						continue
					}
				case <-watcher.Errors:
				case <-time.After(pollInterval):
				case <-ctx.Done():
					return
				case <-trigger:
				}
			} else {
				select {
				case <-time.After(pollInterval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ready
}

// Kill terminates an in-flight run's child. A no-op before Run or once
// the reaper has seen the child exit.
func (s *Session) Kill() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil || done == nil {
		return
	}
	select {
	case <-done:
	default:
		cmd.Process.Kill()
	}
}

// Cleanup removes the scratch dir.
func (s *Session) Cleanup() {
	if s.Dir != "" {
		os.RemoveAll(s.Dir)
	}
}

// Harvest reads an artifact out of the scratch dir.
func (s *Session) Harvest(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, models.Protocolf(err, "session %s produced no %s", s.ID, name)
	}
	return data, nil
}

// AutotypeLine renders the keystroke-injection autoexec line: wait
// before typing, then one key every period seconds.
func AutotypeLine(keys []string, wait, period float64) string {
	line := fmt.Sprintf("AUTOTYPE -w %.1f -p %.2f", wait, period)
	for _, k := range keys {
		line += " " + k
	}
	return line
}
