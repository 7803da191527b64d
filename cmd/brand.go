package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/prompts"
)

var brandInput string

var brandCmd = &cobra.Command{
	Use:   "brand",
	Short: "Build a brand strategy from an integrated analysis file",
	Long:  "Runs the brand stage over a saved integrated analysis. When every attempt fails the default strategy is printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("brand"); err != nil {
			return err
		}

		data, err := readAnalysisFile(brandInput)
		if err != nil {
			return err
		}

		ps, err := prompts.Load(cfg.Prompts.Path)
		if err != nil {
			return err
		}
		ag, err := initAgent(ctx, nil)
		if err != nil {
			return err
		}

		p := pipeline.New(cfg.Pipeline, nil, nil, ag, ps)
		return writeJSON(os.Stdout, p.Brand(ctx, data))
	},
}

func readAnalysisFile(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	if data == nil {
		return nil, eris.Errorf("%s holds no analysis", path)
	}
	return data, nil
}

func init() {
	brandCmd.Flags().StringVar(&brandInput, "input", "", "integrated analysis JSON file (required)")
	_ = brandCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(brandCmd)
}
