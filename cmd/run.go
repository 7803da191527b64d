package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/pipeline"
)

var (
	runIdentity string
	runType     string
	runOut      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline for one session identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scope, err := pipeline.ParseScope(runType)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		identity := runIdentity
		if identity == "" {
			identity = cfg.Session.Identity
		}

		result, err := env.Pipeline.RunScope(ctx, identity, scope)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", result.RunID),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("total_tokens", result.Usage.Total()),
			zap.Float64("total_cost", result.TotalCost),
		)

		if runOut != "" {
			if err := writeResultFile(runOut, result); err != nil {
				return err
			}
		}
		return writeJSON(os.Stdout, result)
	},
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResultFile(path string, result *model.AnalysisResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := writeJSON(f, result); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "write %s", path)
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

func init() {
	runCmd.Flags().StringVar(&runIdentity, "identity", "", "session identity (default from config)")
	runCmd.Flags().StringVar(&runType, "type", "all", "analysis scope: schema, market, audience or all")
	runCmd.Flags().StringVar(&runOut, "out", "", "also write the result JSON to this file")
	rootCmd.AddCommand(runCmd)
}
