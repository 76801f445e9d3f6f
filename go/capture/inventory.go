package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/doscope/doscope/go/models"
)

// Group is one capture prefix and everything it produced.
type Group struct {
	Prefix    string            `json:"prefix"`
	Artifacts []models.Artifact `json:"artifacts"`
	Checksums map[string]string `json:"checksums,omitempty"`
}

// Inventory scans a captures directory and groups artifact files by
// prefix, naturally ordered. A prefix's checksum manifest, when
// present, names its artifact set; files outside any manifest are
// grouped by the text before their last underscore.
func Inventory(dir string) ([]Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	groups := make(map[string]*Group)
	claimed := make(map[string]string)

	// manifests first: they own their artifacts
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, "_checksums.json") {
			continue
		}
		prefix := strings.TrimSuffix(name, "_checksums.json")
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var sums map[string]string
		if err := json.Unmarshal(data, &sums); err != nil {
			continue
		}
		groups[prefix] = &Group{Prefix: prefix, Checksums: sums}
		for artifact := range sums {
			claimed[artifact] = prefix
		}
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, "_checksums.json") {
			continue
		}
		prefix, ok := claimed[name]
		if !ok {
			i := strings.LastIndex(name, "_")
			if i <= 0 {
				continue
			}
			prefix = name[:i]
		}
		g, ok := groups[prefix]
		if !ok {
			g = &Group{Prefix: prefix}
			groups[prefix] = g
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		art := models.Artifact{
			Name: name,
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		}
		if g.Checksums != nil {
			art.SHA256 = g.Checksums[name]
		}
		g.Artifacts = append(g.Artifacts, art)
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Artifacts, func(i, j int) bool {
			return sortorder.NaturalLess(g.Artifacts[i].Name, g.Artifacts[j].Name)
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return sortorder.NaturalLess(out[i].Prefix, out[j].Prefix)
	})
	return out, nil
}
