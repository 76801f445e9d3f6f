package qmp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/doscope/doscope/go/models"
)

const DefaultHoldMS = 100

// SendKey presses one qcode key.
func (c *Client) SendKey(ctx context.Context, key string, holdMS int) error {
	if holdMS <= 0 {
		holdMS = DefaultHoldMS
	}
	_, err := c.Execute(ctx, "send-key", map[string]interface{}{
		"keys":      []interface{}{map[string]interface{}{"type": "qcode", "data": key}},
		"hold-time": holdMS,
	})
	return err
}

// SendKeys presses a sequence with a spacing delay so the guest's
// keyboard buffer keeps up.
func (c *Client) SendKeys(ctx context.Context, keys []string, delay time.Duration) error {
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}
	for i, key := range keys {
		if err := c.SendKey(ctx, key, 0); err != nil {
			return err
		}
		if i < len(keys)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Screendump asks the emulator to write a PPM of the display to path.
func (c *Client) Screendump(ctx context.Context, path string) error {
	_, err := c.Execute(ctx, "screendump", map[string]interface{}{"filename": path})
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Execute(ctx, "stop", nil)
	return err
}

func (c *Client) Cont(ctx context.Context) error {
	_, err := c.Execute(ctx, "cont", nil)
	return err
}

// HumanCommand runs a line on the human monitor and returns its text.
func (c *Client) HumanCommand(ctx context.Context, line string) (string, error) {
	ret, err := c.Execute(ctx, "human-monitor-command", map[string]interface{}{
		"command-line": line,
	})
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(ret, &out); err != nil {
		return "", models.Protocolf(err, "human-monitor-command reply")
	}
	return out, nil
}

// SaveVM writes an internal snapshot. savevm stops the vCPUs while it
// runs, so execution is restarted afterwards.
func (c *Client) SaveVM(ctx context.Context, name string) error {
	out, err := c.HumanCommand(ctx, "savevm "+name)
	if err != nil {
		return err
	}
	if strings.Contains(out, "Error") {
		return models.Protocolf(nil, "savevm %s: %s", name, strings.TrimSpace(out))
	}
	return c.Cont(ctx)
}

func (c *Client) LoadVM(ctx context.Context, name string) error {
	out, err := c.HumanCommand(ctx, "loadvm "+name)
	if err != nil {
		return err
	}
	out = strings.TrimSpace(out)
	if strings.Contains(out, "Error") || strings.Contains(out, "does not have the requested snapshot") {
		return models.Protocolf(nil, "loadvm %s: %s", name, out)
	}
	return nil
}

// InfoSnapshots returns the monitor's snapshot table, unparsed.
func (c *Client) InfoSnapshots(ctx context.Context) (string, error) {
	return c.HumanCommand(ctx, "info snapshots")
}

// MemSave dumps size bytes of guest-physical memory at lin to path.
func (c *Client) MemSave(ctx context.Context, lin uint32, size int, path string) error {
	_, err := c.Execute(ctx, "pmemsave", map[string]interface{}{
		"val":      lin,
		"size":     size,
		"filename": path,
	})
	return err
}

// Quit asks the emulator to exit. The socket usually dies before the
// reply lands, which counts as success.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Execute(ctx, "quit", nil)
	if err != nil && models.IsConnection(err) {
		return nil
	}
	return err
}
