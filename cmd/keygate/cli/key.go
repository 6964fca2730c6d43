package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/service"
	"github.com/ubiwhere/keygate/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, list, scope, and revoke the API keys that authenticate against the gate.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyGrantCmd())
	cmd.AddCommand(newKeyGrantsCmd())
	cmd.AddCommand(newKeyLogCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long:  "Issue a new API key. The full key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --name "CI pipeline"
  keygate key create --name ingest-worker --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, ttl)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time until the key expires (0 means never)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name string, ttl time.Duration) error {
	st, issuer, err := openIssuer()
	if err != nil {
		return err
	}
	defer st.Close()

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	key, plaintext, err := issuer.Issue(context.Background(), name, expiresAt)
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", plaintext)
	fmt.Printf("  ID:   %d\n", key.ID)
	fmt.Printf("  Name: %s\n", key.Name)
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// openIssuer opens the store and builds a key issuer from the configured
// settings.
func openIssuer() (*store.Store, *service.Issuer, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	keys, err := keySettings()
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	hasher, err := hash.NewBcrypt(keys.BcryptCost)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, service.NewIssuer(st, hasher, keys, nil), nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys issued. Use 'keygate key create' to issue one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-36s %-20s %-20s\n", "ID", "NAME", "PUBLIC ID", "EXPIRES", "LAST SEEN")
	fmt.Printf("%-6s %-24s %-36s %-20s %-20s\n", "--", "----", "---------", "-------", "---------")
	for _, k := range keys {
		fmt.Printf("%-6d %-24s %-36s %-20s %-20s\n",
			k.ID, k.Name, k.Prefix+"_"+k.PublicID, formatTime(k.ExpiresAt), formatTime(k.LastSeen))
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Delete an API key and its scope grants, preventing any further use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
}

func runKeyRevoke(arg string) error {
	id, err := parseKeyID(arg)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.DeleteAPIKey(context.Background(), id); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %d\n", id)
	return nil
}

// ---------- key grant ----------

func newKeyGrantCmd() *cobra.Command {
	var (
		resourceType string
		operations   []string
	)

	cmd := &cobra.Command{
		Use:   "grant <id>",
		Short: "Grant a key access to a resource type",
		Long: `Grant a key a set of operations on a resource type, replacing any
existing grant for that resource type. A key with no grants at all is
unrestricted; the first grant locks it down to exactly what is granted.`,
		Example: `  keygate key grant 3 --resource sensors --operations read
  keygate key grant 3 --resource gateways --operations read,update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyGrant(args[0], resourceType, operations)
		},
	}

	cmd.Flags().StringVar(&resourceType, "resource", "", "Resource type name (required)")
	cmd.Flags().StringSliceVar(&operations, "operations", nil, "Operations to allow: read, create, update, delete (required)")
	cmd.MarkFlagRequired("resource")
	cmd.MarkFlagRequired("operations")

	return cmd
}

func runKeyGrant(arg, resourceType string, operations []string) error {
	id, err := parseKeyID(arg)
	if err != nil {
		return err
	}

	ops := make([]model.Operation, 0, len(operations))
	for _, raw := range operations {
		op, ok := model.ParseOperation(strings.TrimSpace(raw))
		if !ok {
			return fmt.Errorf("unknown operation %q", raw)
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return fmt.Errorf("at least one operation is required")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.GetAPIKey(ctx, id); err != nil {
		return fmt.Errorf("api key %d: %w", id, err)
	}

	grants, err := st.GetScopeGrants(ctx, id)
	if err != nil {
		return fmt.Errorf("load grants: %w", err)
	}

	// Replace the grant for this resource type, keep the rest.
	updated := make([]model.ScopeGrant, 0, len(grants)+1)
	for _, g := range grants {
		if g.ResourceType != resourceType {
			updated = append(updated, g)
		}
	}
	updated = append(updated, model.ScopeGrant{ResourceType: resourceType, Operations: ops})

	if err := st.SetScopeGrants(ctx, id, updated); err != nil {
		return fmt.Errorf("set grants: %w", err)
	}

	fmt.Printf("Granted key %d: %s on %s\n", id, strings.Join(operations, ","), resourceType)
	return nil
}

// ---------- key grants ----------

func newKeyGrantsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "grants <id>",
		Short: "Show a key's scope grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyGrants(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyGrants(arg string, jsonOutput bool) error {
	id, err := parseKeyID(arg)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.GetAPIKey(ctx, id); err != nil {
		return fmt.Errorf("api key %d: %w", id, err)
	}

	grants, err := st.GetScopeGrants(ctx, id)
	if err != nil {
		return fmt.Errorf("load grants: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(grants)
	}

	if len(grants) == 0 {
		fmt.Printf("Key %d has no scope grants (unrestricted).\n", id)
		return nil
	}

	fmt.Printf("%-24s %s\n", "RESOURCE TYPE", "OPERATIONS")
	fmt.Printf("%-24s %s\n", "-------------", "----------")
	for _, g := range grants {
		ops := make([]string, len(g.Operations))
		for i, op := range g.Operations {
			ops[i] = string(op)
		}
		fmt.Printf("%-24s %s\n", g.ResourceType, strings.Join(ops, ","))
	}
	return nil
}

// ---------- key log ----------

func newKeyLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show a key's recent usage events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyLog(args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events to show")

	return cmd
}

func runKeyLog(arg string, limit int) error {
	id, err := parseKeyID(arg)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	events, err := st.ListUsageEvents(context.Background(), id, limit)
	if err != nil {
		return fmt.Errorf("list usage events: %w", err)
	}

	if len(events) == 0 {
		fmt.Printf("No usage recorded for key %d.\n", id)
		return nil
	}

	fmt.Printf("%-20s %-10s %s\n", "TIME", "OPERATION", "ENDPOINT")
	fmt.Printf("%-20s %-10s %s\n", "----", "---------", "--------")
	for _, e := range events {
		fmt.Printf("%-20s %-10s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Operation, e.Endpoint)
	}
	return nil
}
