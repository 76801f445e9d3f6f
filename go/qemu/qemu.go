// Package qemu is the socket-based backend: a launched (or adopted) qemu
// child controlled over QMP for machine-level verbs and over the GDB
// remote serial protocol for memory, registers, and execution control.
package qemu

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/doscope/doscope/go/launch"
	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
	"github.com/doscope/doscope/go/qmp"
	"github.com/doscope/doscope/go/rsp"
)

const (
	connectAttempts = 20
	connectInterval = 500 * time.Millisecond

	// stopSettle bounds the wait for the stop packet after an interrupt
	stopSettle = 5 * time.Second
)

type Backend struct {
	models.Emitter

	// QMPPath and GDBAddr are where Connect looks for an already-running
	// emulator; Launch fills them from its config.
	QMPPath string
	GDBAddr string

	lane *models.Lane

	mu     sync.Mutex
	status models.Status
	detail string
	qmp    *qmp.Client
	gdb    *rsp.Client
	child  *launch.Launcher

	breaks map[int]*models.Breakpoint
	nextID int
}

func New(qmpPath, gdbAddr string) *Backend {
	return &Backend{
		QMPPath: qmpPath,
		GDBAddr: gdbAddr,
		lane:    models.NewLane(),
		breaks:  make(map[int]*models.Breakpoint),
		nextID:  1,
	}
}

func (b *Backend) Kind() string { return "qemu" }

func (b *Backend) Status() models.StatusInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Backend) statusLocked() models.StatusInfo {
	info := models.StatusInfo{
		Backend: "qemu",
		Status:  b.status,
		Detail:  b.detail,
		QMPLive: b.qmp != nil,
		GDBLive: b.gdb != nil,
	}
	if b.child != nil {
		info.Pid = b.child.Pid()
	}
	return info
}

func (b *Backend) Events() (<-chan models.Event, func()) {
	return b.Subscribe()
}

func (b *Backend) setStatus(s models.Status, detail string) {
	b.mu.Lock()
	changed := b.status != s || b.detail != detail
	b.status = s
	b.detail = detail
	info := b.statusLocked()
	b.mu.Unlock()
	if changed {
		b.EmitStatus(info)
	}
}

// clients snapshots the connected pair. Partial connection never escapes
// connect/launch, so either both are live or both are nil.
func (b *Backend) clients() (*qmp.Client, *rsp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.qmp == nil || b.gdb == nil {
		return nil, nil, models.Connectionf(nil, "qemu backend not connected")
	}
	return b.qmp, b.gdb, nil
}

// Connect attaches to an already-running emulator. The child is not
// owned: Disconnect and Shutdown leave it alive.
func (b *Backend) Connect(ctx context.Context) error {
	return b.lane.Do(ctx, "connect", func() error {
		return b.connect(ctx)
	})
}

func (b *Backend) connect(ctx context.Context) error {
	qc, err := qmp.Dial(ctx, b.QMPPath)
	if err != nil {
		b.setStatus(models.Disconnected, err.Error())
		return err
	}
	gc, err := rsp.Dial(ctx, b.GDBAddr)
	if err != nil {
		// partial connect: tear the control link back down and surface
		// the attempt as status=error
		qc.Close()
		b.setStatus(models.Error, err.Error())
		return err
	}
	b.mu.Lock()
	b.qmp = qc
	b.gdb = gc
	b.mu.Unlock()
	b.setStatus(models.Running, "")
	return nil
}

// Launch spawns a fresh emulator and poll-connects both clients. The
// child is owned and dies with Shutdown.
func (b *Backend) Launch(ctx context.Context, cfg *models.LaunchConfig) error {
	return b.lane.Do(ctx, "launch", func() error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.QMPSocket == "" {
			cfg.QMPSocket = b.QMPPath
		}
		b.QMPPath = cfg.QMPSocket
		if cfg.GDBPort > 0 {
			b.GDBAddr = fmt.Sprintf("localhost:%d", cfg.GDBPort)
		} else if b.GDBAddr == "" {
			b.GDBAddr = fmt.Sprintf("localhost:%d", launch.DefaultGDBPort)
		}
		os.Remove(cfg.QMPSocket)

		child, err := launch.New(cfg)
		if err != nil {
			return err
		}
		b.setStatus(models.Launching, "")
		if err := child.Start(ctx); err != nil {
			b.setStatus(models.Disconnected, err.Error())
			return err
		}

		var lastErr error
		for i := 0; i < connectAttempts; i++ {
			if !child.Running() {
				tail := child.Stderr()
				err := models.Connectionf(nil, "emulator died during connect: %s", tail)
				b.setStatus(models.Disconnected, tail)
				return err
			}
			if lastErr = b.connect(ctx); lastErr == nil {
				b.mu.Lock()
				b.child = child
				b.mu.Unlock()
				return nil
			}
			select {
			case <-time.After(connectInterval):
			case <-ctx.Done():
				child.Kill()
				return ctx.Err()
			}
		}
		child.Kill()
		b.setStatus(models.Disconnected, lastErr.Error())
		return models.Connectionf(lastErr, "emulator never came up after %d attempts", connectAttempts)
	})
}

// Disconnect closes both clients and leaves any child alive.
func (b *Backend) Disconnect() error {
	b.mu.Lock()
	qc, gc := b.qmp, b.gdb
	b.qmp, b.gdb = nil, nil
	b.mu.Unlock()
	if qc != nil {
		qc.Close()
	}
	if gc != nil {
		gc.Close()
	}
	b.setStatus(models.Disconnected, "")
	return nil
}

// Shutdown quits the emulator (best-effort), disconnects, and reaps an
// owned child.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	qc := b.qmp
	child := b.child
	b.child = nil
	b.mu.Unlock()
	if qc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := qc.Quit(ctx); err != nil {
			logx.Warnf("qemu", "quit: %v", err)
		}
		cancel()
	}
	b.Disconnect()
	if child != nil {
		child.Stop(2 * time.Second)
	}
	b.setStatus(models.Shutdown, "")
	return nil
}

// pauseForAccess stops a running guest so the debug stub answers
// consistently; the returned func restores execution.
func (b *Backend) pauseForAccess(ctx context.Context, qc *qmp.Client) (func(), error) {
	b.mu.Lock()
	paused := b.status == models.Paused
	b.mu.Unlock()
	if paused {
		return func() {}, nil
	}
	if err := qc.Stop(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := qc.Cont(ctx); err != nil {
			logx.Warnf("qemu", "resume after access: %v", err)
		}
	}, nil
}

func (b *Backend) MemRead(ctx context.Context, addr models.Address, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if size < 0 {
		return nil, models.Argumentf("bad read size %d", size)
	}
	var out []byte
	err := b.lane.Do(ctx, "memread", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		resume, err := b.pauseForAccess(ctx, qc)
		if err != nil {
			return err
		}
		defer resume()
		out, err = gc.MemRead(ctx, addr.Linear(), size)
		return err
	})
	return out, err
}

func (b *Backend) MemWrite(ctx context.Context, addr models.Address, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return b.lane.Do(ctx, "memwrite", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		resume, err := b.pauseForAccess(ctx, qc)
		if err != nil {
			return err
		}
		defer resume()
		return gc.MemWrite(ctx, addr.Linear(), p)
	})
}

func (b *Backend) RegRead(ctx context.Context) (*models.Registers, error) {
	var regs *models.Registers
	err := b.lane.Do(ctx, "regread", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		resume, err := b.pauseForAccess(ctx, qc)
		if err != nil {
			return err
		}
		defer resume()
		regs, err = gc.Registers(ctx)
		return err
	})
	return regs, err
}

func (b *Backend) SendKeys(ctx context.Context, keys []string, delay time.Duration) error {
	return b.lane.Do(ctx, "sendkeys", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		return qc.SendKeys(ctx, keys, delay)
	})
}

// Screenshot dumps the display to a throwaway file and reads it back.
// QEMU produces PPM.
func (b *Backend) Screenshot(ctx context.Context) (*models.Screenshot, error) {
	var shot *models.Screenshot
	err := b.lane.Do(ctx, "screenshot", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		f, err := os.CreateTemp("", "doscope-screen-*.ppm")
		if err != nil {
			return err
		}
		path := f.Name()
		f.Close()
		defer os.Remove(path)
		if err := qc.Screendump(ctx, path); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		shot = &models.Screenshot{Data: data, Format: "ppm"}
		return nil
	})
	return shot, err
}

func (b *Backend) BreakAdd(ctx context.Context, bp *models.Breakpoint) (*models.Breakpoint, error) {
	if bp.Kind != models.BreakExec {
		return nil, models.NotSupported("qemu", bp.Kind.String()+" breakpoints")
	}
	var added *models.Breakpoint
	err := b.lane.Do(ctx, "breakadd", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		resume, err := b.pauseForAccess(ctx, qc)
		if err != nil {
			return err
		}
		defer resume()
		if err := gc.BreakSet(ctx, bp.Addr.Linear()); err != nil {
			return err
		}
		b.mu.Lock()
		cp := *bp
		cp.ID = b.nextID
		b.nextID++
		b.breaks[cp.ID] = &cp
		b.mu.Unlock()
		added = &cp
		return nil
	})
	return added, err
}

func (b *Backend) BreakDel(ctx context.Context, id int) error {
	return b.lane.Do(ctx, "breakdel", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		b.mu.Lock()
		bp, ok := b.breaks[id]
		b.mu.Unlock()
		if !ok {
			return models.Argumentf("no breakpoint %d", id)
		}
		resume, err := b.pauseForAccess(ctx, qc)
		if err != nil {
			return err
		}
		defer resume()
		if err := gc.BreakClear(ctx, bp.Addr.Linear()); err != nil {
			return err
		}
		b.mu.Lock()
		delete(b.breaks, id)
		b.mu.Unlock()
		return nil
	})
}

func (b *Backend) BreakList(ctx context.Context) ([]*models.Breakpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Breakpoint, 0, len(b.breaks))
	for _, bp := range b.breaks {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) Pause(ctx context.Context) error {
	return b.lane.Do(ctx, "pause", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		if err := qc.Stop(ctx); err != nil {
			return err
		}
		b.setStatus(models.Paused, "")
		return nil
	})
}

func (b *Backend) Resume(ctx context.Context) error {
	return b.lane.Do(ctx, "resume", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		if err := qc.Cont(ctx); err != nil {
			return err
		}
		b.setStatus(models.Running, "")
		return nil
	})
}

func (b *Backend) Step(ctx context.Context) (*models.Registers, error) {
	var regs *models.Registers
	err := b.lane.Do(ctx, "step", func() error {
		_, gc, err := b.clients()
		if err != nil {
			return err
		}
		b.setStatus(models.Stepping, "")
		if _, err := gc.Step(ctx); err != nil {
			return err
		}
		regs, err = gc.Registers(ctx)
		if err != nil {
			return err
		}
		b.setStatus(models.Paused, "")
		b.Emit(models.Event{Kind: models.EvStepComplete, Regs: regs})
		return nil
	})
	return regs, err
}

// WaitStop parks on the debug stub until the guest reports a stop, then
// reads registers and announces the hit.
func (b *Backend) WaitStop(ctx context.Context, timeout time.Duration) (*models.Registers, error) {
	_, gc, err := b.clients()
	if err != nil {
		return nil, err
	}
	if _, err := gc.WaitStop(ctx, timeout); err != nil {
		return nil, err
	}
	regs, err := gc.Registers(ctx)
	if err != nil {
		return nil, err
	}
	b.setStatus(models.Paused, "")
	b.Emit(models.Event{Kind: models.EvBreakpointHit, Regs: regs})
	return regs, nil
}

func (b *Backend) SnapshotSave(ctx context.Context, name string) error {
	return b.lane.Do(ctx, "snapshot save", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		if err := qc.SaveVM(ctx, name); err != nil {
			return err
		}
		b.setStatus(models.Running, "")
		return nil
	})
}

// SnapshotLoad restores a named snapshot. Stub-side breakpoints do not
// survive the restore, so the table is cleared on the wire and in
// memory first. Watchers key off the loading/loaded events.
func (b *Backend) SnapshotLoad(ctx context.Context, name string) error {
	return b.lane.Do(ctx, "snapshot load", func() error {
		qc, gc, err := b.clients()
		if err != nil {
			return err
		}
		b.EmitSnapshot(models.EvSnapshotLoading, name, nil)
		b.setStatus(models.Paused, "loading "+name)

		b.mu.Lock()
		stale := make([]*models.Breakpoint, 0, len(b.breaks))
		for _, bp := range b.breaks {
			stale = append(stale, bp)
		}
		b.breaks = make(map[int]*models.Breakpoint)
		b.mu.Unlock()
		for _, bp := range stale {
			if err := gc.BreakClear(ctx, bp.Addr.Linear()); err != nil {
				logx.Warnf("qemu", "clearing %s before load: %v", bp.Addr, err)
			}
		}

		if err := qc.LoadVM(ctx, name); err != nil {
			b.EmitSnapshot(models.EvSnapshotLoadFailed, name, err)
			b.setStatus(models.Running, "")
			return err
		}
		b.setStatus(models.Running, "")
		b.EmitSnapshot(models.EvSnapshotLoaded, name, nil)
		return nil
	})
}

func (b *Backend) SnapshotList(ctx context.Context) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	err := b.lane.Do(ctx, "snapshot list", func() error {
		qc, _, err := b.clients()
		if err != nil {
			return err
		}
		text, err := qc.InfoSnapshots(ctx)
		if err != nil {
			return err
		}
		snaps = parseSnapshots(text)
		return nil
	})
	return snaps, err
}

// parseSnapshots reads the human-monitor "info snapshots" table. The text
// is free-form and drifts across emulator versions, so rows are keyed off
// the ID/TAG header instead of fixed columns.
func parseSnapshots(text string) []models.Snapshot {
	var out []models.Snapshot
	seen := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if !seen {
			if len(fields) >= 2 && fields[0] == "ID" && fields[1] == "TAG" {
				seen = true
			}
			continue
		}
		if len(fields) < 2 {
			continue
		}
		snap := models.Snapshot{ID: fields[0], Tag: fields[1]}
		if len(fields) >= 3 {
			snap.VMSize = fields[2]
		}
		if len(fields) >= 5 {
			snap.Date = fields[3] + " " + fields[4]
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return sortorder.NaturalLess(out[i].Tag, out[j].Tag)
	})
	return out
}
