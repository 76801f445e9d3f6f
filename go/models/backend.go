package models

import (
	"context"
	"time"
)

// Screenshot is raw image bytes plus the producing backend's native format
// ("ppm", "bmp", or "png" after conversion).
type Screenshot struct {
	Data   []byte
	Format string
}

// Backend is the contract both emulator integrations satisfy. Operations
// are serialized per backend; blocking calls honor their context.
// Anything a backend cannot do returns a NotSupportedError.
type Backend interface {
	Kind() string
	Status() StatusInfo
	Events() (<-chan Event, func())

	Launch(ctx context.Context, cfg *LaunchConfig) error
	Connect(ctx context.Context) error
	Disconnect() error
	Shutdown() error

	MemRead(ctx context.Context, addr Address, size int) ([]byte, error)
	MemWrite(ctx context.Context, addr Address, p []byte) error
	RegRead(ctx context.Context) (*Registers, error)
	SendKeys(ctx context.Context, keys []string, delay time.Duration) error
	Screenshot(ctx context.Context) (*Screenshot, error)

	BreakAdd(ctx context.Context, bp *Breakpoint) (*Breakpoint, error)
	BreakDel(ctx context.Context, id int) error
	BreakList(ctx context.Context) ([]*Breakpoint, error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Step(ctx context.Context) (*Registers, error)

	SnapshotSave(ctx context.Context, name string) error
	SnapshotLoad(ctx context.Context, name string) error
	SnapshotList(ctx context.Context) ([]Snapshot, error)
}

// StopWaiter is the optional live stop-event capability. Backends without
// it leave callers to sleep out their timeouts.
type StopWaiter interface {
	WaitStop(ctx context.Context, timeout time.Duration) (*Registers, error)
}

// StateLister exposes on-disk save states.
type StateLister interface {
	States(ctx context.Context) ([]SaveState, error)
}
