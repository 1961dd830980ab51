package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hejnal/cloud-data-quality/internal/registry"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded rule bindings and their references",
		Long: `List every loaded rule binding with its entity, validated column,
row filter, and bound rules.`,
		Example: `  # List rule bindings as a table
  clouddq list

  # List all definitions as JSON
  clouddq list --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}
	return cmd
}

func runList(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	if cmdCtx.Config.Output == "json" {
		return listJSON(cmd, cmdCtx)
	}
	return listTable(cmd, cmdCtx)
}

func listTable(cmd *cobra.Command, cmdCtx *CommandContext) error {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"RULE BINDING", "ENTITY", "COLUMN", "ROW FILTER", "RULES"})

	for _, id := range cmdCtx.Suite.RuleBindingIDs() {
		binding, err := cmdCtx.Suite.RuleBinding(id)
		if err != nil {
			return err
		}
		entity := binding.EntityID
		if entity == "" {
			entity = binding.EntityURI
		}
		ruleIDs := make([]string, 0, len(binding.RuleRefs))
		for _, ref := range binding.RuleRefs {
			ruleIDs = append(ruleIDs, ref.RuleID)
		}
		t.AppendRow(table.Row{
			binding.ID,
			entity,
			binding.ColumnID,
			binding.RowFilterID,
			strings.Join(ruleIDs, ", "),
		})
	}

	t.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d rule bindings, %d rules, %d entities, %d row filters\n",
		cmdCtx.Suite.Registry.Count(registry.KindRuleBinding),
		cmdCtx.Suite.Registry.Count(registry.KindRule),
		cmdCtx.Suite.Registry.Count(registry.KindEntity),
		cmdCtx.Suite.Registry.Count(registry.KindRowFilter))
	return nil
}

func listJSON(cmd *cobra.Command, cmdCtx *CommandContext) error {
	out := struct {
		Entities     []string `json:"entities"`
		RowFilters   []string `json:"row_filters"`
		Rules        []string `json:"rules"`
		RuleBindings []string `json:"rule_bindings"`
	}{
		Entities:     cmdCtx.Suite.Registry.IDs(registry.KindEntity),
		RowFilters:   cmdCtx.Suite.Registry.IDs(registry.KindRowFilter),
		Rules:        cmdCtx.Suite.Registry.IDs(registry.KindRule),
		RuleBindings: cmdCtx.Suite.Registry.IDs(registry.KindRuleBinding),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
