package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hejnal/cloud-data-quality/internal/sqlgen"
)

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <rule_binding_id>",
		Short: "Render the validation SQL for one rule binding",
		Long: `Render the self-contained validation query for a single rule binding,
with every rule resolved and all placeholders substituted.

This is useful for debugging rule templates and seeing the exact SQL
that will be executed for one binding.`,
		Example: `  # Render a binding's validation SQL
  clouddq render T2_DQ_1_EMAIL

  # Render under the test environment
  clouddq render T2_DQ_1_EMAIL -e test

  # Render as JSON (SQL plus the compiled binding record)
  clouddq render T2_DQ_1_EMAIL --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0])
		},
	}
	return cmd
}

func runRender(cmd *cobra.Command, ruleBindingID string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	compiled, err := cmdCtx.Compiler.Compile(ruleBindingID)
	if err != nil {
		return fmt.Errorf("failed to compile rule binding: %w", err)
	}

	opts := sqlgen.Options{}
	if compiled.Incremental {
		store, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Watermarks = store
	}

	query, err := sqlgen.New(opts).BindingQuery(compiled)
	if err != nil {
		return fmt.Errorf("failed to render rule binding: %w", err)
	}

	if cmdCtx.Config.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			RuleBindingID string `json:"rule_binding_id"`
			SQL           string `json:"sql"`
			Binding       any    `json:"binding"`
		}{compiled.RuleBindingID, query, compiled})
	}

	fmt.Fprintln(cmd.OutOrStdout(), query)
	return nil
}
