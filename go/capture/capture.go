// Package capture composes backend primitives into repeatable,
// checksummed artifact bundles and compares them against golden sets.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// settleAfterLoad gives the guest time to redraw after a snapshot
// restore before anything is sampled.
const settleAfterLoad = time.Second

// Runner drives captures against one backend. Events, when set, gets a
// capture:stage event at each stage boundary for live progress display.
type Runner struct {
	Backend   models.Backend
	Workspace *models.Workspace
	Events    *models.Emitter
}

func (r *Runner) stage(s string) {
	logx.Debugf("capture", "stage %s", s)
	if r.Events != nil {
		r.Events.Emit(models.Event{Kind: models.EvCaptureStage, Stage: s})
	}
}

// Run executes one capture into dir. Artifacts are named {prefix}_*;
// the checksum manifest lists the sha256 of every artifact's exact
// on-disk bytes.
func (r *Runner) Run(ctx context.Context, req *models.CaptureRequest, dir string) (*models.CaptureResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	prefix := req.Name()
	res := &models.CaptureResult{
		Prefix:    prefix,
		Dir:       dir,
		Created:   time.Now(),
		Checksums: make(map[string]string),
	}

	if req.Snapshot != "" {
		r.stage("snapshot")
		if err := r.Backend.SnapshotLoad(ctx, req.Snapshot); err != nil {
			return nil, err
		}
		sleep(ctx, settleAfterLoad)
	}

	if len(req.Keys) > 0 {
		r.stage("keys")
		if err := r.Backend.SendKeys(ctx, req.Keys, req.KeyDelay()); err != nil {
			return nil, err
		}
		sleep(ctx, req.Wait())
	}

	if req.Breakpoint != nil {
		r.stage("breakpoint")
		if err := r.runToBreakpoint(ctx, req); err != nil {
			return nil, err
		}
	} else {
		// stop the world for a consistent observation
		if err := r.Backend.Pause(ctx); err != nil && !models.IsNotSupported(err) {
			return nil, err
		}
	}
	// never leave the guest paused, artifacts or not
	defer func() {
		if err := r.Backend.Resume(ctx); err != nil && !models.IsNotSupported(err) {
			logx.Warnf("capture", "resume after capture: %v", err)
		}
	}()

	write := func(name string, data []byte) error {
		r.stage("artifact:" + name)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		res.Checksums[name] = hex.EncodeToString(sum[:])
		res.Artifacts = append(res.Artifacts, models.Artifact{
			Name: name, Path: path, Size: int64(len(data)), SHA256: res.Checksums[name],
		})
		return nil
	}

	if !req.SkipFramebuffer {
		data, err := r.Backend.MemRead(ctx, models.FramebufferAddr, models.FramebufferSize)
		if err != nil {
			return nil, err
		}
		if err := write(prefix+"_framebuffer.bin", data); err != nil {
			return nil, err
		}
	}

	if !req.SkipScreenshot {
		shot, err := r.Backend.Screenshot(ctx)
		switch {
		case models.IsNotSupported(err):
			logx.Debugf("capture", "screenshot skipped: %v", err)
		case err != nil:
			return nil, err
		default:
			if req.PNG {
				png, perr := ToPNG(shot)
				if perr != nil {
					return nil, perr
				}
				shot = png
			}
			if err := write(fmt.Sprintf("%s_screenshot.%s", prefix, shot.Format), shot.Data); err != nil {
				return nil, err
			}
		}
	}

	if !req.SkipRegisters {
		regs, err := r.Backend.RegRead(ctx)
		if err != nil {
			return nil, err
		}
		res.Registers = regs
		data, err := json.MarshalIndent(regs, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := write(prefix+"_registers.json", append(data, '\n')); err != nil {
			return nil, err
		}
	}

	for _, rng := range req.Ranges {
		if rng.Size <= 0 || rng.Name == "" {
			return nil, models.Argumentf("bad extra range %q size %d", rng.Name, rng.Size)
		}
		data, err := r.Backend.MemRead(ctx, rng.Addr, rng.Size)
		if err != nil {
			return nil, err
		}
		name := rng.Name
		if filepath.Ext(name) == "" {
			name += ".bin"
		}
		if err := write(fmt.Sprintf("%s_%s", prefix, name), data); err != nil {
			return nil, err
		}
	}

	manifest, err := json.MarshalIndent(res.Checksums, "", "  ")
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(dir, prefix+"_checksums.json")
	if err := os.WriteFile(manifestPath, append(manifest, '\n'), 0644); err != nil {
		return nil, err
	}

	r.stage("complete")
	return res, nil
}

// runToBreakpoint arms the breakpoint, resumes, and waits for the hit.
// A backend with a live stop channel is waited on properly; anything
// else gets the sleep fallback, which is a last resort, not a feature.
func (r *Runner) runToBreakpoint(ctx context.Context, req *models.CaptureRequest) error {
	bp, err := r.Backend.BreakAdd(ctx, &models.Breakpoint{
		Kind: models.BreakExec, Addr: *req.Breakpoint, AH: -1, Enabled: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Backend.BreakDel(ctx, bp.ID); err != nil {
			logx.Warnf("capture", "removing breakpoint %d: %v", bp.ID, err)
		}
	}()

	if err := r.Backend.Resume(ctx); err != nil {
		return err
	}
	if waiter, ok := r.Backend.(models.StopWaiter); ok {
		if _, err := waiter.WaitStop(ctx, req.StopTimeout()); err != nil {
			return err
		}
		return nil
	}
	logx.Warnf("capture", "backend has no stop channel; sleeping %s", req.StopTimeout())
	sleep(ctx, req.StopTimeout())
	return r.Backend.Pause(ctx)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
