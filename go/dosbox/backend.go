package dosbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// autotypePeriod is the per-key spacing the captures were tuned on.
const autotypePeriod = 0.15

// Backend implements the contract with one emulator run per operation.
// There is no live connection: the generated debugger script does the
// work and the artifacts are read back after the run.
type Backend struct {
	models.Emitter

	Workspace *models.Workspace
	Binary    string

	lane *models.Lane

	mu  sync.Mutex
	cfg models.LaunchConfig
	// the child of an in-flight session, reaped by Shutdown
	active *Session
}

func New(ws *models.Workspace, binary string) *Backend {
	if binary == "" {
		binary = "dosbox-x"
	}
	return &Backend{Workspace: ws, Binary: binary, lane: models.NewLane()}
}

func (b *Backend) Kind() string { return "dosbox" }

// Status is always disconnected: sessions are too short-lived to count
// as a connection.
func (b *Backend) Status() models.StatusInfo {
	return models.StatusInfo{Backend: "dosbox", Status: models.Disconnected}
}

func (b *Backend) Events() (<-chan models.Event, func()) {
	return b.Subscribe()
}

// Launch records the game parameters later sessions boot with. Nothing
// is spawned until an operation needs a run.
func (b *Backend) Launch(ctx context.Context, cfg *models.LaunchConfig) error {
	if cfg.MountDir == "" {
		return models.Argumentf("dosbox launch needs a mount directory")
	}
	b.mu.Lock()
	b.cfg = *cfg
	b.mu.Unlock()
	return nil
}

func (b *Backend) Connect(ctx context.Context) error {
	return models.NotSupported("dosbox", "connect: sessions have nothing to attach to")
}

func (b *Backend) Disconnect() error { return nil }

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active != nil {
		active.Kill()
	}
	return nil
}

func (b *Backend) timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.TimeoutSec > 0 {
		return time.Duration(b.cfg.TimeoutSec) * time.Second
	}
	return DefaultTimeout
}

// sessionSpec describes one run: the debugger script (built against the
// session so dump paths land in its scratch dir), the artifact to wait
// for, and an optional autotype key sequence.
type sessionSpec struct {
	script  func(s *Session) *Script
	waitFor string
	keys    []string
	keyWait float64
	period  float64
}

// newSession carves out a scratch dir and writes the conf and script
// for one run: defaults plus log and debugrunfile wiring, autoexec
// mounting the drive, optionally typing keys, and booting the game.
func (b *Backend) newSession(spec sessionSpec) (*Session, error) {
	s, err := NewSession(b.Workspace.SessionsDir(), b.Binary, b.timeout())
	if err != nil {
		return nil, err
	}
	s.WaitFor = spec.waitFor

	if err := spec.script(s).WriteFile(s.ScriptPath()); err != nil {
		s.Cleanup()
		return nil, err
	}

	b.mu.Lock()
	cfg := b.cfg
	b.mu.Unlock()

	conf := DefaultConf(s.LogPath())
	conf.Set("debugger", "debugrunfile", s.ScriptPath())
	mount := cfg.MountDir
	if mount == "" {
		mount = s.Dir
	}
	auto := []string{`MOUNT C "` + mount + `"`, "C:"}
	if cfg.GameISO != "" {
		auto = append(auto, `IMGMOUNT D "`+cfg.GameISO+`" -t cdrom`)
	}
	if len(spec.keys) > 0 {
		period := spec.period
		if period <= 0 {
			period = autotypePeriod
		}
		wait := spec.keyWait
		if wait <= 0 {
			wait = 5.0
		}
		auto = append(auto, AutotypeLine(spec.keys, wait, period))
	}
	if cfg.GameDir != "" {
		auto = append(auto, "CD \\"+strings.ToUpper(cfg.GameDir))
	}
	if cfg.GameExe != "" {
		auto = append(auto, strings.ToUpper(cfg.GameExe))
	}
	conf.Autoexec(auto...)
	if err := conf.WriteFile(s.ConfPath()); err != nil {
		s.Cleanup()
		return nil, err
	}
	return s, nil
}

func (b *Backend) run(ctx context.Context, s *Session) error {
	b.mu.Lock()
	b.active = s
	b.mu.Unlock()
	err := s.Run(ctx)
	b.mu.Lock()
	if b.active == s {
		b.active = nil
	}
	b.mu.Unlock()
	return err
}

// MemRead runs a session whose script continues into the game and dumps
// the range to a file. The bytes reflect guest memory at the moment the
// script's dump command ran, which is as precise as a batch debugger
// gets.
func (b *Backend) MemRead(ctx context.Context, addr models.Address, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if size < 0 {
		return nil, models.Argumentf("bad read size %d", size)
	}
	var out []byte
	err := b.lane.Do(ctx, "memread", func() error {
		const dump = "memdump.bin"
		s, err := b.newSession(sessionSpec{
			waitFor: dump,
			script: func(s *Session) *Script {
				return NewScript().Continue().MemDumpBin(addr, size, s.Path(dump)).ShowRegs()
			},
		})
		if err != nil {
			return err
		}
		defer s.Cleanup()
		if err := b.run(ctx, s); err != nil {
			return err
		}
		out, err = s.Harvest(dump)
		if err != nil {
			return err
		}
		if len(out) > size {
			out = out[:size]
		}
		return nil
	})
	return out, err
}

func (b *Backend) MemWrite(ctx context.Context, addr models.Address, p []byte) error {
	return models.NotSupported("dosbox", "live memory write")
}

// RegRead runs an SR-only session and parses the log's final dump.
func (b *Backend) RegRead(ctx context.Context) (*models.Registers, error) {
	var regs *models.Registers
	err := b.lane.Do(ctx, "regread", func() error {
		s, err := b.newSession(sessionSpec{
			script: func(*Session) *Script { return NewScript().Continue().ShowRegs() },
		})
		if err != nil {
			return err
		}
		defer s.Cleanup()
		if err := b.run(ctx, s); err != nil && !models.IsTimeout(err) {
			return err
		}
		regs, err = ParseLogRegisters(s.LogPath())
		return err
	})
	return regs, err
}

// SendKeys boots the game with an AUTOTYPE line; delay spaces the keys.
func (b *Backend) SendKeys(ctx context.Context, keys []string, delay time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	return b.lane.Do(ctx, "sendkeys", func() error {
		period := autotypePeriod
		if delay > 0 {
			period = delay.Seconds()
		}
		s, err := b.newSession(sessionSpec{
			script: func(*Session) *Script { return NewScript().Continue() },
			keys:   keys,
			period: period,
		})
		if err != nil {
			return err
		}
		defer s.Cleanup()
		return b.run(ctx, s)
	})
}

// Screenshot is not live on a batch emulator: the debugger has no
// screendump command the harvester can trigger deterministically.
func (b *Backend) Screenshot(ctx context.Context) (*models.Screenshot, error) {
	return nil, models.NotSupported("dosbox", "live screenshot")
}

func (b *Backend) BreakAdd(ctx context.Context, bp *models.Breakpoint) (*models.Breakpoint, error) {
	return nil, models.NotSupported("dosbox", "live breakpoints (script them into a capture)")
}

func (b *Backend) BreakDel(ctx context.Context, id int) error {
	return models.NotSupported("dosbox", "live breakpoints")
}

func (b *Backend) BreakList(ctx context.Context) ([]*models.Breakpoint, error) {
	return nil, models.NotSupported("dosbox", "live breakpoints")
}

func (b *Backend) Pause(ctx context.Context) error {
	return models.NotSupported("dosbox", "pause")
}

func (b *Backend) Resume(ctx context.Context) error {
	return models.NotSupported("dosbox", "resume")
}

func (b *Backend) Step(ctx context.Context) (*models.Registers, error) {
	return nil, models.NotSupported("dosbox", "step")
}

func (b *Backend) SnapshotSave(ctx context.Context, name string) error {
	return models.NotSupported("dosbox", "snapshot save")
}

func (b *Backend) SnapshotLoad(ctx context.Context, name string) error {
	return models.NotSupported("dosbox", "snapshot load")
}

func (b *Backend) SnapshotList(ctx context.Context) ([]models.Snapshot, error) {
	return nil, models.NotSupported("dosbox", "snapshot list")
}

// States lists the on-disk .dsx save-state files, naturally ordered.
func (b *Backend) States(ctx context.Context) ([]models.SaveState, error) {
	dir := b.Workspace.StatesDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []models.SaveState
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".dsx") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			logx.Warnf("dosbox", "stat %s: %v", e.Name(), err)
			continue
		}
		out = append(out, models.SaveState{
			Name:    strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return sortorder.NaturalLess(out[i].Name, out[j].Name)
	})
	return out, nil
}
