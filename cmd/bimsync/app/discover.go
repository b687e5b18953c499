package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/bimsync/internal/credentials"
	"github.com/stacklok/bimsync/internal/sources"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <source>",
	Short: "List one level of a source's resource hierarchy",
	Long: `List one level of the account / hub / project / item / version hierarchy of a configured source.

Without flags the accounts visible to the credential are listed. --account lists its hubs,
--hub lists its projects, --project lists its items and --item lists its versions.
The most specific flag wins.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().String("account", "", "List the hubs of this account")
	discoverCmd.Flags().String("hub", "", "List the projects of this hub")
	discoverCmd.Flags().String("project", "", "List the items of this project")
	discoverCmd.Flags().String("item", "", "List the versions of this item")
	discoverCmd.Flags().String("format", formatTable, "Output format (table or json)")
}

// discoverTarget is the level selected by the discover flags
type discoverTarget struct {
	account string
	hub     string
	project string
	item    string
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	format, _ := flags.GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	var target discoverTarget
	target.account, _ = flags.GetString("account")
	target.hub, _ = flags.GetString("hub")
	target.project, _ = flags.GetString("project")
	target.item, _ = flags.GetString("item")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	src, err := cfg.Source(args[0])
	if err != nil {
		return err
	}
	ext, err := src.ExternalSource()
	if err != nil {
		return err
	}
	credential, err := credentials.NewResolver(cfg).Resolve(ctx, src.Name)
	if err != nil {
		return err
	}
	discovery, err := sources.NewDiscoveryFactory().CreateDiscovery(ext, credential)
	if err != nil {
		return fmt.Errorf("failed to create discovery for %s: %w", ext, err)
	}

	out := cmd.OutOrStdout()
	if target.item != "" {
		versions, err := discovery.ListVersions(ctx, target.item)
		if err != nil {
			return fmt.Errorf("failed to list versions of item %s: %w", target.item, err)
		}
		if format == formatJSON {
			return writeJSON(out, versions)
		}
		return renderVersions(out, versions)
	}

	refs, err := listRefs(ctx, discovery, target)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(out, refs)
	}
	return renderRefs(out, refs)
}

// listRefs lists the level below the most specific parent in target
func listRefs(ctx context.Context, d sources.Discovery, target discoverTarget) ([]sources.ResourceRef, error) {
	switch {
	case target.project != "":
		refs, err := d.ListItems(ctx, target.project)
		if err != nil {
			return nil, fmt.Errorf("failed to list items of project %s: %w", target.project, err)
		}
		return refs, nil
	case target.hub != "":
		refs, err := d.ListProjects(ctx, target.hub)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects of hub %s: %w", target.hub, err)
		}
		return refs, nil
	case target.account != "":
		refs, err := d.ListHubs(ctx, target.account)
		if err != nil {
			return nil, fmt.Errorf("failed to list hubs of account %s: %w", target.account, err)
		}
		return refs, nil
	default:
		refs, err := d.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		return refs, nil
	}
}

func renderRefs(w io.Writer, refs []sources.ResourceRef) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name")
	rows := make([][]string, 0, len(refs))
	for _, ref := range refs {
		rows = append(rows, []string{ref.ID, ref.DisplayName})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return table.Render()
}

func renderVersions(w io.Writer, versions []sources.Version) error {
	table := tablewriter.NewWriter(w)
	table.Header("Number", "ID", "URN", "Status", "Created")
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		number := ""
		if v.Number > 0 {
			number = strconv.Itoa(v.Number)
		}
		created := ""
		if !v.CreatedAt.IsZero() {
			created = v.CreatedAt.Format(time.RFC3339)
		}
		rows = append(rows, []string{number, v.ID, v.URN, string(v.Status), created})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return table.Render()
}
