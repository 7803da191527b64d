package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/pipeline"
)

var auditIdentity string

// auditReport is what the audit command prints.
type auditReport struct {
	RunID      string                   `json:"run_id"`
	Outcome    model.Outcome            `json:"outcome"`
	Reason     string                   `json:"reason,omitempty"`
	Tables     []string                 `json:"tables"`
	Compliance *model.ComplianceSummary `json:"compliance,omitempty"`
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Retrieve the schema and run the compliance gate only",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		identity := auditIdentity
		if identity == "" {
			identity = cfg.Session.Identity
		}

		result, err := env.Pipeline.RunScope(ctx, identity, pipeline.ScopeSchema)
		if err != nil {
			return eris.Wrap(err, "audit")
		}
		return writeJSON(os.Stdout, newAuditReport(result))
	},
}

func newAuditReport(result *model.AnalysisResult) auditReport {
	tables := result.Schema.TableNames()
	if tables == nil {
		tables = []string{}
	}
	return auditReport{
		RunID:      result.RunID,
		Outcome:    result.Outcome,
		Reason:     result.Reason,
		Tables:     tables,
		Compliance: result.Compliance,
	}
}

func init() {
	auditCmd.Flags().StringVar(&auditIdentity, "identity", "", "session identity (default from config)")
	rootCmd.AddCommand(auditCmd)
}
