package capture

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/doscope/doscope/go/models"
	"github.com/doscope/doscope/go/models/mock"
)

func testRunner(t *testing.T) (*Runner, *mock.Backend) {
	t.Helper()
	ws := &models.Workspace{Root: t.TempDir()}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	b := mock.New()
	b.MemReadFn = func(addr models.Address, size int) ([]byte, error) {
		out := make([]byte, size)
		for i := range out {
			out[i] = byte(addr.Linear() + uint32(i))
		}
		return out, nil
	}
	return &Runner{Backend: b, Workspace: ws}, b
}

func TestRunArtifactSet(t *testing.T) {
	r, b := testRunner(t)
	res, err := r.Run(context.Background(), &models.CaptureRequest{Prefix: "t1"}, r.Workspace.CapturesDir())
	if err != nil {
		t.Fatal(err)
	}
	wantFiles := []string{"t1_framebuffer.bin", "t1_screenshot.ppm", "t1_registers.json", "t1_checksums.json"}
	for _, name := range wantFiles {
		if _, err := os.Stat(filepath.Join(res.Dir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
	fb, _ := os.ReadFile(filepath.Join(res.Dir, "t1_framebuffer.bin"))
	if len(fb) != models.FramebufferSize {
		t.Fatalf("framebuffer is %d bytes", len(fb))
	}
	if res.Created.IsZero() {
		t.Fatal("result needs a creation timestamp")
	}
	// checksums cover the exact on-disk bytes
	for name, want := range res.Checksums {
		data, err := os.ReadFile(filepath.Join(res.Dir, name))
		if err != nil {
			t.Fatal(err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			t.Fatalf("checksum mismatch for %s", name)
		}
	}
	// manifest matches the result's map
	data, _ := os.ReadFile(filepath.Join(res.Dir, "t1_checksums.json"))
	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if len(manifest) != 3 {
		t.Fatalf("manifest should list 3 artifacts, got %v", manifest)
	}

	// capture pauses, reads, resumes
	calls := b.Calls()
	var sawPause, sawResume bool
	for _, c := range calls {
		if c == "pause" {
			sawPause = true
		}
		if c == "resume" && sawPause {
			sawResume = true
		}
	}
	if !sawPause || !sawResume {
		t.Fatalf("pause/resume missing: %v", calls)
	}
}

func TestRunOptOuts(t *testing.T) {
	r, _ := testRunner(t)
	res, err := r.Run(context.Background(), &models.CaptureRequest{
		Prefix: "t2", SkipFramebuffer: true, SkipScreenshot: true, SkipRegisters: true,
	}, r.Workspace.CapturesDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 0 {
		t.Fatalf("opted out of everything, got %+v", res.Artifacts)
	}
}

func TestRunExtraRanges(t *testing.T) {
	r, _ := testRunner(t)
	res, err := r.Run(context.Background(), &models.CaptureRequest{
		Prefix:          "t3",
		SkipScreenshot:  true,
		SkipFramebuffer: true,
		SkipRegisters:   true,
		Ranges: []models.MemRange{
			{Name: "text", Addr: models.FromLinear(0xB8000), Size: 16},
		},
	}, r.Workspace.CapturesDir())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(res.Dir, "t3_text.bin"))
	if err != nil {
		t.Fatal(err)
	}
	lin := uint32(0xB8000)
	if len(data) != 16 || data[0] != byte(lin) {
		t.Fatalf("bad extra dump: %v", data)
	}
}

// stopWaitBackend wraps the mock with a live stop channel.
type stopWaitBackend struct {
	*mock.Backend
	waited bool
}

func (s *stopWaitBackend) WaitStop(ctx context.Context, timeout time.Duration) (*models.Registers, error) {
	s.waited = true
	return &models.Registers{}, nil
}

func TestBreakpointBranchPrefersStopWaiter(t *testing.T) {
	r, b := testRunner(t)
	sw := &stopWaitBackend{Backend: b}
	r.Backend = sw
	addr := models.FromLinear(0x1234)
	start := time.Now()
	_, err := r.Run(context.Background(), &models.CaptureRequest{
		Prefix: "t4", Breakpoint: &addr,
		SkipScreenshot: true, SkipRegisters: true, SkipFramebuffer: true,
	}, r.Workspace.CapturesDir())
	if err != nil {
		t.Fatal(err)
	}
	if !sw.waited {
		t.Fatal("StopWaiter capability not used")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("should not have slept out the stop timeout")
	}
	calls := b.Calls()
	var added, deleted bool
	for _, c := range calls {
		if c == "breakadd" {
			added = true
		}
		if c == "breakdel" {
			deleted = true
		}
	}
	if !added || !deleted {
		t.Fatalf("breakpoint not armed and removed: %v", calls)
	}
}

func TestGoldenCompare(t *testing.T) {
	r, _ := testRunner(t)
	req := &models.CaptureRequest{Prefix: "g1", SkipScreenshot: true}
	if _, err := r.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	report, err := r.Compare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Match {
		t.Fatalf("identical state must match: %+v", report)
	}
	for _, a := range report.Artifacts {
		if !a.Match || a.FirstDiff != -1 {
			t.Fatalf("artifact diff on identical state: %+v", a)
		}
		if a.GoldenSum == "" || a.GoldenSum != a.ActualSum {
			t.Fatalf("sums must be equal and present: %+v", a)
		}
	}
}

func TestGoldenCompareDetectsMutation(t *testing.T) {
	r, b := testRunner(t)
	req := &models.CaptureRequest{Prefix: "g2", SkipScreenshot: true, SkipRegisters: true}
	if _, err := r.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	orig := b.MemReadFn
	b.MemReadFn = func(addr models.Address, size int) ([]byte, error) {
		out, _ := orig(addr, size)
		out[100] ^= 0xFF
		return out, nil
	}
	report, err := r.Compare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if report.Match {
		t.Fatal("mutation not detected")
	}
	var fb *models.ArtifactDiff
	for i := range report.Artifacts {
		if report.Artifacts[i].Name == "g2_framebuffer.bin" {
			fb = &report.Artifacts[i]
		}
	}
	if fb == nil || fb.Match {
		t.Fatalf("framebuffer should mismatch: %+v", report)
	}
	if fb.FirstDiff != 100 {
		t.Fatalf("first difference at %d, want 100", fb.FirstDiff)
	}
	if fb.GoldenByte == fb.ActualByte {
		t.Fatal("byte pair should differ")
	}
}

func TestCompareFilesMissingGolden(t *testing.T) {
	dir := t.TempDir()
	actual := filepath.Join(dir, "a.bin")
	os.WriteFile(actual, []byte{1, 2, 3}, 0644)
	diff := CompareFiles(filepath.Join(dir, "missing.bin"), actual)
	if diff.Match {
		t.Fatal("missing golden must mismatch")
	}
	if diff.GoldenSum != "" || diff.ActualSum == "" {
		t.Fatalf("missing golden keeps an empty sum: %+v", diff)
	}
}

func TestCompareFilesLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	golden := filepath.Join(dir, "g.bin")
	actual := filepath.Join(dir, "a.bin")
	os.WriteFile(golden, []byte{1, 2, 3, 4}, 0644)
	os.WriteFile(actual, []byte{1, 2, 3}, 0644)
	diff := CompareFiles(golden, actual)
	if diff.Match || diff.FirstDiff != 3 {
		t.Fatalf("first diff should be the shorter length: %+v", diff)
	}
}

func TestInventoryGroupsByPrefix(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("run10_framebuffer.bin", bytes.Repeat([]byte{1}, 10))
	write("run2_framebuffer.bin", bytes.Repeat([]byte{2}, 10))
	sums, _ := json.Marshal(map[string]string{"run2_framebuffer.bin": "abc"})
	write("run2_checksums.json", sums)

	groups, err := Inventory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("want 2 groups: %+v", groups)
	}
	// natural prefix order
	if groups[0].Prefix != "run2" || groups[1].Prefix != "run10" {
		t.Fatalf("bad order: %s %s", groups[0].Prefix, groups[1].Prefix)
	}
	if groups[0].Artifacts[0].SHA256 != "abc" {
		t.Fatalf("manifest checksum not attached: %+v", groups[0].Artifacts)
	}
}

func TestToPNGFromPPM(t *testing.T) {
	ppm := []byte("P6\n# comment\n2 1\n255\n\xff\x00\x00\x00\xff\x00")
	out, err := ToPNG(&models.Screenshot{Data: ppm, Format: "ppm"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Format != "png" || !bytes.HasPrefix(out.Data, []byte("\x89PNG")) {
		t.Fatalf("bad png output: %q...", out.Data[:8])
	}
}

func TestToPNGUnknownFormat(t *testing.T) {
	if _, err := ToPNG(&models.Screenshot{Format: "gif"}); !models.IsArgument(err) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}
