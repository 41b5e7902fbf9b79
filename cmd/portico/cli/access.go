package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
)

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "access",
		Aliases: []string{"rule"},
		Short:   "Manage group access rules",
		Long: `Grant groups operations on collections. Rules are additive: an identity may
perform an operation when any rule of any of its groups allows it. Admins
bypass the rules entirely.`,
	}

	cmd.AddCommand(newAccessGrantCmd())
	cmd.AddCommand(newAccessListCmd())
	cmd.AddCommand(newAccessRevokeCmd())

	return cmd
}

// parseOps turns "read,write" into an operation mask. "all" grants every
// operation.
func parseOps(names []string) (model.Operation, error) {
	var mask model.Operation
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "all" {
			mask |= model.OpAll
			continue
		}
		op, ok := model.ParseOperation(n)
		if !ok {
			return 0, fmt.Errorf("unknown operation %q; use read, create, write, unlink or all", n)
		}
		mask |= op
	}
	if mask == 0 {
		return 0, fmt.Errorf("at least one operation is required")
	}
	return mask, nil
}

func formatOps(mask model.Operation) string {
	var names []string
	for _, op := range []model.Operation{model.OpRead, model.OpCreate, model.OpWrite, model.OpUnlink} {
		if mask&op != 0 {
			names = append(names, op.String())
		}
	}
	return strings.Join(names, ",")
}

// ---------- access grant ----------

func newAccessGrantCmd() *cobra.Command {
	var (
		group      string
		collection string
		ops        []string
		filter     string
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a group operations on a collection",
		Example: `  portico access grant --group user --collection crm.partners --ops read
  portico access grant --group user --collection crm.tasks --ops read,write --filter "owner_id = $identity"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccessGrant(cmd.Context(), group, collection, ops, filter)
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Group name (required)")
	cmd.Flags().StringVar(&collection, "collection", model.AnyCollection, "Collection name, or * for all")
	cmd.Flags().StringSliceVar(&ops, "ops", []string{"read"}, "Operations: read, create, write, unlink, all")
	cmd.Flags().StringVar(&filter, "filter", "", "Row filter expression")
	cmd.MarkFlagRequired("group")

	return cmd
}

func runAccessGrant(ctx context.Context, group, collection string, ops []string, filter string) error {
	mask, err := parseOps(ops)
	if err != nil {
		return err
	}
	filters, joiner, err := query.ParseRuleFilters(filter)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := st.GetGroupByName(ctx, group)
	if err != nil {
		return fmt.Errorf("group %q: %w", group, err)
	}

	rule := &model.AccessRule{
		GroupID:    g.ID,
		Collection: collection,
		OpMask:     mask,
		Filters:    filters,
		FilterOp:   joiner,
	}
	if err := st.AddAccessRule(ctx, rule); err != nil {
		return fmt.Errorf("add access rule: %w", err)
	}
	fmt.Printf("Granted %s on %s to %q (rule id=%d)\n", formatOps(mask), collection, group, rule.ID)
	return nil
}

// ---------- access list ----------

func newAccessListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List access rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccessList(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAccessList(ctx context.Context, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rules, err := st.ListAccessRules(ctx)
	if err != nil {
		return fmt.Errorf("list access rules: %w", err)
	}
	groups, err := st.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	groupNames := make(map[int64]string, len(groups))
	for _, g := range groups {
		groupNames[g.ID] = g.Name
	}

	type ruleRow struct {
		ID         int64  `json:"id"`
		Group      string `json:"group"`
		Collection string `json:"collection"`
		Ops        string `json:"ops"`
		Filter     string `json:"filter,omitempty"`
	}
	rows := make([]ruleRow, len(rules))
	for i, r := range rules {
		conds := make([]string, len(r.Filters))
		for j, f := range r.Filters {
			conds[j] = f.Name + " " + f.Operator + " " + f.Value
		}
		rows[i] = ruleRow{
			ID:         r.ID,
			Group:      groupNames[r.GroupID],
			Collection: r.Collection,
			Ops:        formatOps(r.OpMask),
			Filter:     strings.Join(conds, " "+r.FilterOp+" "),
		}
	}

	if jsonOutput {
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No access rules. Use 'portico access grant' to add one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-24s %-24s %s\n", "ID", "GROUP", "COLLECTION", "OPS", "FILTER")
	fmt.Printf("%-6s %-14s %-24s %-24s %s\n", "--", "-----", "----------", "---", "------")
	for _, r := range rows {
		fmt.Printf("%-6d %-14s %-24s %-24s %s\n", r.ID, r.Group, r.Collection, r.Ops, r.Filter)
	}
	return nil
}

// ---------- access revoke ----------

func newAccessRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <rule-id>",
		Short: "Delete an access rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteAccessRule(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete access rule: %w", err)
			}
			fmt.Printf("Deleted access rule %d\n", id)
			return nil
		},
	}
}
