package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ubiwhere/keygate/internal/model"
)

func newResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resource",
		Aliases: []string{"resource-type"},
		Short:   "Manage the resource type catalog",
		Long:    "Register and list the resource types that scope grants can reference.",
	}

	cmd.AddCommand(newResourceAddCmd())
	cmd.AddCommand(newResourceListCmd())
	cmd.AddCommand(newResourceRemoveCmd())

	return cmd
}

// ---------- resource add ----------

func newResourceAddCmd() *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a new resource type",
		Example: `  keygate resource add sensors --label "Sensor readings"
  keygate resource add gateways`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResourceAdd(args[0], label)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label (defaults to the name)")

	return cmd
}

func runResourceAdd(name, label string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if label == "" {
		label = name
	}
	rt := &model.ResourceType{Name: name, Label: label}
	if err := st.CreateResourceType(context.Background(), rt); err != nil {
		return fmt.Errorf("create resource type: %w", err)
	}

	fmt.Printf("Registered resource type %q (id=%d)\n", name, rt.ID)
	return nil
}

// ---------- resource list ----------

func newResourceListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all resource types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResourceList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runResourceList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	types, err := st.ListResourceTypes(context.Background())
	if err != nil {
		return fmt.Errorf("list resource types: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(types)
	}

	if len(types) == 0 {
		fmt.Println("No resource types registered. Use 'keygate resource add' to register one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %s\n", "ID", "NAME", "LABEL")
	fmt.Printf("%-6s %-24s %s\n", "--", "----", "-----")
	for _, rt := range types {
		fmt.Printf("%-6d %-24s %s\n", rt.ID, rt.Name, rt.Label)
	}
	return nil
}

// ---------- resource remove ----------

func newResourceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a resource type",
		Long:    "Remove a resource type from the catalog along with any scope grants referencing it.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResourceRemove(args[0])
		},
	}
}

func runResourceRemove(name string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	rt, err := st.GetResourceTypeByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resource type %q: %w", name, err)
	}
	if err := st.DeleteResourceType(ctx, rt.ID); err != nil {
		return fmt.Errorf("delete resource type: %w", err)
	}

	fmt.Printf("Removed resource type %q\n", name)
	return nil
}
