package models

import (
	"os"
	"path/filepath"

	"github.com/shibukawa/configdir"
)

type LaunchMode string

const (
	ModeInteractive LaunchMode = "interactive"
	ModeHeadless    LaunchMode = "headless"
	ModeRecord      LaunchMode = "record"
	ModeReplay      LaunchMode = "replay"
)

// LaunchConfig is the single launch-parameter surface shared by the CLI,
// the HTTP API, and launch defaults. Zero fields take backend defaults.
type LaunchConfig struct {
	Binary   string `json:"binary,omitempty"`
	MemoryMB int    `json:"memoryMb,omitempty"`

	// drive topology: one hard disk, game ISO on the primary optical
	// slot, shared utility ISO on the secondary
	HDA       string `json:"hda,omitempty"`
	GameISO   string `json:"gameIso,omitempty"`
	SharedISO string `json:"sharedIso,omitempty"`

	Headless bool `json:"headless,omitempty"`
	// VNC display; values >= 5900 are ports (display = port - 5900)
	VNC     int    `json:"vnc,omitempty"`
	Display string `json:"display,omitempty"`

	GDBPort   int  `json:"gdbPort,omitempty"`
	QMPSocket string `json:"qmpSocket,omitempty"`
	Monitor   bool `json:"monitor,omitempty"`

	Mode       LaunchMode `json:"mode,omitempty"`
	ReplayFile string     `json:"replayFile,omitempty"`
	Snapshot   string     `json:"snapshot,omitempty"`

	ExtraArgs []string `json:"extraArgs,omitempty"`

	// session-backend side
	DOSBoxBinary string `json:"dosboxBinary,omitempty"`
	MountDir     string `json:"mountDir,omitempty"`
	GameDir      string `json:"gameDir,omitempty"`
	GameExe      string `json:"gameExe,omitempty"`
	TimeoutSec   int    `json:"timeoutSec,omitempty"`
}

func (c *LaunchConfig) Validate() error {
	switch c.Mode {
	case "", ModeInteractive, ModeHeadless:
	case ModeRecord, ModeReplay:
		if c.ReplayFile == "" {
			return Argumentf("mode %s needs a replay file", c.Mode)
		}
	default:
		return Argumentf("bad mode %q", c.Mode)
	}
	if c.Headless && c.VNC != 0 {
		return Argumentf("headless and vnc are exclusive")
	}
	if c.MemoryMB < 0 {
		return Argumentf("bad memory size %d", c.MemoryMB)
	}
	return nil
}

// Workspace roots every durable path: capture artifacts, golden sets,
// save states, per-session scratch dirs, and the default control socket.
type Workspace struct {
	Root string
}

// DefaultWorkspace resolves the per-user data folder, falling back to a
// dot directory when the platform query comes up empty.
func DefaultWorkspace() *Workspace {
	dirs := configdir.New("", "doscope")
	folders := dirs.QueryFolders(configdir.Global)
	if len(folders) > 0 && folders[0].Path != "" {
		return &Workspace{Root: folders[0].Path}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Workspace{Root: filepath.Join(home, ".doscope")}
}

func (w *Workspace) CapturesDir() string { return filepath.Join(w.Root, "captures") }
func (w *Workspace) GoldenDir() string   { return filepath.Join(w.Root, "golden") }
func (w *Workspace) StatesDir() string   { return filepath.Join(w.Root, "states") }
func (w *Workspace) SessionsDir() string { return filepath.Join(w.Root, "sessions") }
func (w *Workspace) QMPSocket() string   { return filepath.Join(w.Root, "qmp.sock") }

func (w *Workspace) EnsureDirs() error {
	for _, dir := range []string{w.Root, w.CapturesDir(), w.GoldenDir(), w.StatesDir(), w.SessionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
