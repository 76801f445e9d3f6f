// Package mock is a scriptable Backend for tests: every operation defers
// to an optional hook and records its name.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/doscope/doscope/go/models"
)

type Backend struct {
	models.Emitter

	KindName string

	mu    sync.Mutex
	calls []string

	status models.StatusInfo

	LaunchFn     func(cfg *models.LaunchConfig) error
	MemReadFn    func(addr models.Address, size int) ([]byte, error)
	MemWriteFn   func(addr models.Address, p []byte) error
	RegReadFn    func() (*models.Registers, error)
	SendKeysFn   func(keys []string, delay time.Duration) error
	ScreenshotFn func() (*models.Screenshot, error)
	BreakAddFn   func(bp *models.Breakpoint) (*models.Breakpoint, error)
	BreakDelFn   func(id int) error
	PauseFn      func() error
	ResumeFn     func() error
	StepFn       func() (*models.Registers, error)
	SnapSaveFn   func(name string) error
	SnapLoadFn   func(name string) error
	SnapListFn   func() ([]models.Snapshot, error)

	breaks []*models.Breakpoint
	nextID int
}

func New() *Backend {
	return &Backend{KindName: "mock", nextID: 1}
}

func (b *Backend) record(name string) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
}

// Calls returns the operation names seen so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) Kind() string { return b.KindName }

func (b *Backend) Status() models.StatusInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	st.Backend = b.KindName
	return st
}

func (b *Backend) SetStatus(s models.Status) {
	b.mu.Lock()
	b.status.Status = s
	b.mu.Unlock()
}

func (b *Backend) Events() (<-chan models.Event, func()) {
	return b.Subscribe()
}

func (b *Backend) Launch(ctx context.Context, cfg *models.LaunchConfig) error {
	b.record("launch")
	if b.LaunchFn != nil {
		return b.LaunchFn(cfg)
	}
	b.SetStatus(models.Running)
	return nil
}

func (b *Backend) Connect(ctx context.Context) error {
	b.record("connect")
	b.SetStatus(models.Running)
	return nil
}

func (b *Backend) Disconnect() error {
	b.record("disconnect")
	b.SetStatus(models.Disconnected)
	return nil
}

func (b *Backend) Shutdown() error {
	b.record("shutdown")
	b.SetStatus(models.Shutdown)
	return nil
}

func (b *Backend) MemRead(ctx context.Context, addr models.Address, size int) ([]byte, error) {
	b.record("memread")
	if b.MemReadFn != nil {
		return b.MemReadFn(addr, size)
	}
	return make([]byte, size), nil
}

func (b *Backend) MemWrite(ctx context.Context, addr models.Address, p []byte) error {
	b.record("memwrite")
	if b.MemWriteFn != nil {
		return b.MemWriteFn(addr, p)
	}
	return nil
}

func (b *Backend) RegRead(ctx context.Context) (*models.Registers, error) {
	b.record("regread")
	if b.RegReadFn != nil {
		return b.RegReadFn()
	}
	return &models.Registers{}, nil
}

func (b *Backend) SendKeys(ctx context.Context, keys []string, delay time.Duration) error {
	b.record("sendkeys")
	if b.SendKeysFn != nil {
		return b.SendKeysFn(keys, delay)
	}
	return nil
}

func (b *Backend) Screenshot(ctx context.Context) (*models.Screenshot, error) {
	b.record("screenshot")
	if b.ScreenshotFn != nil {
		return b.ScreenshotFn()
	}
	return &models.Screenshot{Data: []byte("P6\n1 1\n255\n\x00\x00\x00"), Format: "ppm"}, nil
}

func (b *Backend) BreakAdd(ctx context.Context, bp *models.Breakpoint) (*models.Breakpoint, error) {
	b.record("breakadd")
	if b.BreakAddFn != nil {
		return b.BreakAddFn(bp)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	added := *bp
	added.ID = b.nextID
	b.nextID++
	b.breaks = append(b.breaks, &added)
	return &added, nil
}

func (b *Backend) BreakDel(ctx context.Context, id int) error {
	b.record("breakdel")
	if b.BreakDelFn != nil {
		return b.BreakDelFn(id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, bp := range b.breaks {
		if bp.ID == id {
			b.breaks = append(b.breaks[:i], b.breaks[i+1:]...)
			return nil
		}
	}
	return models.Argumentf("no breakpoint %d", id)
}

func (b *Backend) BreakList(ctx context.Context) ([]*models.Breakpoint, error) {
	b.record("breaklist")
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Breakpoint, len(b.breaks))
	copy(out, b.breaks)
	return out, nil
}

func (b *Backend) Pause(ctx context.Context) error {
	b.record("pause")
	if b.PauseFn != nil {
		return b.PauseFn()
	}
	b.SetStatus(models.Paused)
	return nil
}

func (b *Backend) Resume(ctx context.Context) error {
	b.record("resume")
	if b.ResumeFn != nil {
		return b.ResumeFn()
	}
	b.SetStatus(models.Running)
	return nil
}

func (b *Backend) Step(ctx context.Context) (*models.Registers, error) {
	b.record("step")
	if b.StepFn != nil {
		return b.StepFn()
	}
	return &models.Registers{}, nil
}

func (b *Backend) SnapshotSave(ctx context.Context, name string) error {
	b.record("snapsave")
	if b.SnapSaveFn != nil {
		return b.SnapSaveFn(name)
	}
	return nil
}

func (b *Backend) SnapshotLoad(ctx context.Context, name string) error {
	b.record("snapload")
	b.EmitSnapshot(models.EvSnapshotLoading, name, nil)
	var err error
	if b.SnapLoadFn != nil {
		err = b.SnapLoadFn(name)
	}
	if err != nil {
		b.EmitSnapshot(models.EvSnapshotLoadFailed, name, err)
		return err
	}
	b.EmitSnapshot(models.EvSnapshotLoaded, name, nil)
	return nil
}

func (b *Backend) SnapshotList(ctx context.Context) ([]models.Snapshot, error) {
	b.record("snaplist")
	if b.SnapListFn != nil {
		return b.SnapListFn()
	}
	return nil, nil
}
