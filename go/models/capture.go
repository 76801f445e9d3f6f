package models

import "time"

// MemRange names an extra memory window to include in a capture.
type MemRange struct {
	Name string  `json:"name"`
	Addr Address `json:"address"`
	Size int     `json:"size"`
}

// CaptureRequest drives one capture run. Durations travel as milliseconds
// so the HTTP and WS surfaces stay plain JSON numbers.
type CaptureRequest struct {
	Prefix        string     `json:"prefix,omitempty"`
	Snapshot      string     `json:"snapshot,omitempty"`
	Keys          []string   `json:"keys,omitempty"`
	KeyDelayMS    int        `json:"keyDelayMs,omitempty"`
	WaitMS        int        `json:"waitMs,omitempty"`
	Breakpoint    *Address   `json:"breakpoint,omitempty"`
	StopTimeoutMS int        `json:"stopTimeoutMs,omitempty"`
	Ranges        []MemRange `json:"ranges,omitempty"`
	PNG           bool       `json:"png,omitempty"`

	// opt-outs; the default capture takes all three
	SkipFramebuffer bool `json:"skipFramebuffer,omitempty"`
	SkipScreenshot  bool `json:"skipScreenshot,omitempty"`
	SkipRegisters   bool `json:"skipRegisters,omitempty"`
}

func (r *CaptureRequest) Name() string {
	if r.Prefix == "" {
		return "capture"
	}
	return r.Prefix
}

func (r *CaptureRequest) Wait() time.Duration {
	if r.WaitMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.WaitMS) * time.Millisecond
}

func (r *CaptureRequest) KeyDelay() time.Duration {
	if r.KeyDelayMS <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(r.KeyDelayMS) * time.Millisecond
}

func (r *CaptureRequest) StopTimeout() time.Duration {
	if r.StopTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.StopTimeoutMS) * time.Millisecond
}

// Artifact is one file a capture produced.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type CaptureResult struct {
	Prefix    string            `json:"prefix"`
	Dir       string            `json:"dir"`
	Created   time.Time         `json:"created"`
	Artifacts []Artifact        `json:"artifacts"`
	Registers *Registers        `json:"registers,omitempty"`
	Checksums map[string]string `json:"checksums"`
}

// ArtifactDiff is one artifact's comparison against its golden copy.
// FirstDiff is -1 on a match; byte values are -1 past either file's end.
type ArtifactDiff struct {
	Name       string `json:"name"`
	Match      bool   `json:"match"`
	FirstDiff  int64  `json:"firstDiff"`
	GoldenSum  string `json:"goldenSum"`
	ActualSum  string `json:"actualSum"`
	GoldenByte int    `json:"goldenByte"`
	ActualByte int    `json:"actualByte"`
}

type GoldenReport struct {
	Match     bool           `json:"match"`
	Artifacts []ArtifactDiff `json:"artifacts"`
}
