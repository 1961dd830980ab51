package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hejnal/cloud-data-quality/internal/compiler"
	"github.com/hejnal/cloud-data-quality/internal/sqlgen"
	"github.com/hejnal/cloud-data-quality/internal/state"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	var (
		ruleBindingIDs []string
		invocationID   string
		incremental    bool
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile rule bindings and generate the summary SQL",
		Long: `Compile the requested rule bindings (all loaded bindings by default)
and print the aggregating summary query.

With --output json the compiled rule binding records are printed
instead, including each binding's configs hashsum.`,
		Example: `  # Compile everything and print the summary SQL
  clouddq compile

  # Compile a subset under the test environment
  clouddq compile --rule-binding-ids T2_DQ_1_EMAIL,T3_DQ_1_UNIQUENESS -e test

  # Inspect compiled binding records with their hashsums
  clouddq compile --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd, ruleBindingIDs, invocationID, incremental)
		},
	}

	cmd.Flags().StringSliceVar(&ruleBindingIDs, "rule-binding-ids", nil,
		"Rule binding ids to compile (default: all)")
	cmd.Flags().StringVar(&invocationID, "invocation-id", "",
		"Invocation id embedded in every summary row (default: random UUID)")
	cmd.Flags().BoolVar(&incremental, "incremental", true,
		"Read high watermarks from the results store for incremental bindings")
	return cmd
}

func runCompile(cmd *cobra.Command, ruleBindingIDs []string, invocationID string, incremental bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	compiled, err := cmdCtx.Compiler.CompileAll(cmd.Context(), ruleBindingIDs)
	if err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}

	if cmdCtx.Config.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(compiled)
	}

	if invocationID == "" {
		invocationID = uuid.New().String()
	}

	opts := sqlgen.Options{}
	if anyIncremental(compiled) {
		if incremental {
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()
			opts.Watermarks = store
			reportHashsumDrift(cmdCtx, store, compiled)
		} else {
			// Full re-validation: every incremental binding scopes
			// from the epoch.
			opts.Watermarks = epochWatermarks{}
		}
	}

	query, err := sqlgen.New(opts).SummaryQuery(invocationID, compiled)
	if err != nil {
		return fmt.Errorf("failed to generate summary SQL: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), query)
	return nil
}

// reportHashsumDrift flags bindings whose configuration changed since
// their last recorded run.
func reportHashsumDrift(cmdCtx *CommandContext, store *state.Store, bindings []*compiler.CompiledBinding) {
	for _, cb := range bindings {
		last, ok, err := store.LastHashsum(cb.RuleBindingID)
		if err != nil {
			cmdCtx.Logger.Warn("hashsum audit failed",
				"rule_binding_id", cb.RuleBindingID, "error", err)
			continue
		}
		if ok && last != cb.Hashsum {
			cmdCtx.Logger.Info("rule binding configuration changed since last run",
				"rule_binding_id", cb.RuleBindingID,
				"previous_hashsum", last,
				"configs_hashsum", cb.Hashsum)
		}
	}
}

func anyIncremental(bindings []*compiler.CompiledBinding) bool {
	for _, cb := range bindings {
		if cb.Incremental {
			return true
		}
	}
	return false
}

// epochWatermarks reports no prior run for any binding, so incremental
// scopes default to the epoch.
type epochWatermarks struct{}

func (epochWatermarks) HighWatermark(string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
