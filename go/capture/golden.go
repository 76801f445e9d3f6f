package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/doscope/doscope/go/models"
)

// Generate runs a capture into the golden directory, establishing the
// reference set for req's prefix.
func (r *Runner) Generate(ctx context.Context, req *models.CaptureRequest) (*models.CaptureResult, error) {
	return r.Run(ctx, req, r.Workspace.GoldenDir())
}

// Compare runs a fresh capture and byte-checks every artifact against
// its golden counterpart. The fresh capture lands in the captures dir
// so a failing run can be inspected.
func (r *Runner) Compare(ctx context.Context, req *models.CaptureRequest) (*models.GoldenReport, error) {
	res, err := r.Run(ctx, req, r.Workspace.CapturesDir())
	if err != nil {
		return nil, err
	}
	report := &models.GoldenReport{Match: true}
	names := goldenArtifacts(r.Workspace.GoldenDir(), req.Name())
	seen := make(map[string]bool)
	for _, art := range res.Artifacts {
		seen[art.Name] = true
		diff := CompareFiles(filepath.Join(r.Workspace.GoldenDir(), art.Name), art.Path)
		diff.Name = art.Name
		report.Artifacts = append(report.Artifacts, diff)
		if !diff.Match {
			report.Match = false
		}
	}
	// golden artifacts the fresh capture no longer produces still count
	// as mismatches
	for _, name := range names {
		if seen[name] {
			continue
		}
		diff := CompareFiles(filepath.Join(r.Workspace.GoldenDir(), name), filepath.Join(res.Dir, name))
		diff.Name = name
		report.Artifacts = append(report.Artifacts, diff)
		report.Match = false
	}
	return report, nil
}

// goldenArtifacts lists the artifact names recorded in a prefix's golden
// checksum manifest.
func goldenArtifacts(dir, prefix string) []string {
	data, err := os.ReadFile(filepath.Join(dir, prefix+"_checksums.json"))
	if err != nil {
		return nil
	}
	var sums map[string]string
	if err := json.Unmarshal(data, &sums); err != nil {
		return nil
	}
	out := make([]string, 0, len(sums))
	for name := range sums {
		out = append(out, name)
	}
	return out
}

// CompareFiles byte-compares actual against golden. On a length
// mismatch the first difference is the shorter length; a missing golden
// is a mismatch with an empty golden sum.
func CompareFiles(goldenPath, actualPath string) models.ArtifactDiff {
	diff := models.ArtifactDiff{FirstDiff: -1, GoldenByte: -1, ActualByte: -1}

	actual, aerr := os.ReadFile(actualPath)
	if aerr == nil {
		sum := sha256.Sum256(actual)
		diff.ActualSum = hex.EncodeToString(sum[:])
	}
	golden, gerr := os.ReadFile(goldenPath)
	if gerr != nil {
		diff.FirstDiff = 0
		return diff
	}
	sum := sha256.Sum256(golden)
	diff.GoldenSum = hex.EncodeToString(sum[:])
	if aerr != nil {
		diff.FirstDiff = 0
		return diff
	}

	n := len(golden)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		if golden[i] != actual[i] {
			diff.FirstDiff = int64(i)
			diff.GoldenByte = int(golden[i])
			diff.ActualByte = int(actual[i])
			return diff
		}
	}
	if len(golden) != len(actual) {
		diff.FirstDiff = int64(n)
		if n < len(golden) {
			diff.GoldenByte = int(golden[n])
		}
		if n < len(actual) {
			diff.ActualByte = int(actual[n])
		}
		return diff
	}
	diff.Match = true
	return diff
}
