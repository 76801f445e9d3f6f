package golden

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func loadScenario(path, prefix string) (*models.CaptureRequest, error) {
	req := &models.CaptureRequest{Prefix: prefix}
	if path == "" {
		return req, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, models.Argumentf("bad scenario %s: %v", path, err)
	}
	return req, nil
}

func Main(args []string) {
	c := cmd.New("doscope golden")

	var scenario, prefix *string
	c.SetupFlags = func() error {
		scenario = c.Flags.String("scenario", "", "capture request JSON file")
		prefix = c.Flags.String("prefix", "golden", "artifact prefix when no scenario is given")
		return nil
	}
	c.Run(args, func(args []string) error {
		if len(args) != 1 {
			return models.Argumentf("want one verb: generate or compare")
		}
		req, err := loadScenario(*scenario, *prefix)
		if err != nil {
			return err
		}
		runner := &capture.Runner{Backend: c.Backend, Workspace: c.Workspace}
		switch args[0] {
		case "generate":
			res, err := runner.Generate(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Printf("golden set %s: %d artifacts in %s\n", res.Prefix, len(res.Artifacts), res.Dir)
			return nil
		case "compare":
			report, err := runner.Compare(context.Background(), req)
			if err != nil {
				return err
			}
			for _, d := range report.Artifacts {
				if d.Match {
					fmt.Printf("ok    %s\n", d.Name)
					continue
				}
				if d.GoldenSum == "" {
					fmt.Printf("MISS  %s (no golden copy)\n", d.Name)
					continue
				}
				fmt.Printf("DIFF  %s at byte %d: golden %02x actual %02x\n",
					d.Name, d.FirstDiff, d.GoldenByte, d.ActualByte)
			}
			if !report.Match {
				os.Exit(1)
			}
			return nil
		}
		return models.Argumentf("unknown verb %q", args[0])
	})
}

func init() { cmd.Register("golden", "generate or compare golden capture sets", Main) }
