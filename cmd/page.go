package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagecraft/internal/persist"
)

var (
	pageFlags  *StandardFlags
	pageTitle  string
	pageStyles map[string]string
	pageAll    bool
)

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Manage the pages of a project on a running hub",
}

var pageListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pages",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateFormatWithSuggestion(pageFlags.Format, []string{"table", "json", "yaml"}); err != nil {
			return err
		}
		client, err := pageClient()
		if err != nil {
			return err
		}
		pages, err := client.ListPages(cmd.Context(), pageFlags.Project)
		if err != nil {
			return err
		}
		if !pageAll {
			live := pages[:0]
			for _, p := range pages {
				if !p.Deleted() {
					live = append(live, p)
				}
			}
			pages = live
		}
		if pageFlags.Quiet {
			return nil
		}
		return writeOutput(cmd.OutOrStdout(), pageFlags.Format, pages, func(w io.Writer) error {
			return pageTable(w, pages)
		})
	},
}

var pageCreateCmd = &cobra.Command{
	Use:   "create <page>",
	Short: "Register a new page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := pageClient()
		if err != nil {
			return err
		}
		page, err := client.CreatePage(cmd.Context(), pageFlags.Project, args[0], pageTitle, pageStyles)
		if err != nil {
			return err
		}
		if !pageFlags.Quiet {
			cmd.Printf("created page %s/%s\n", page.ProjectID, page.ID)
		}
		return nil
	},
}

var pageDeleteCmd = &cobra.Command{
	Use:     "delete <page>",
	Aliases: []string{"rm"},
	Short:   "Delete a page; connected editors are told it is gone",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := pageClient()
		if err != nil {
			return err
		}
		if err := client.DeletePage(cmd.Context(), pageFlags.Project, args[0]); err != nil {
			return err
		}
		if !pageFlags.Quiet {
			cmd.Printf("deleted page %s/%s\n", pageFlags.Project, args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pageCmd)
	pageCmd.AddCommand(pageListCmd, pageCreateCmd, pageDeleteCmd)

	pageFlags = &StandardFlags{}
	for _, c := range []*cobra.Command{pageListCmd, pageCreateCmd, pageDeleteCmd} {
		addClientFlags(c, pageFlags)
		c.Flags().BoolVarP(&pageFlags.Quiet, "quiet", "q", false, "Suppress output")
	}
	pageListCmd.Flags().StringVarP(&pageFlags.Format, "format", "f", "table", "Output format (table|json|yaml)")
	AddFlagValidation(pageListCmd, "format", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"table", "json", "yaml"})
	})
	pageListCmd.Flags().BoolVar(&pageAll, "all", false, "Include deleted pages")
	pageCreateCmd.Flags().StringVar(&pageTitle, "title", "", "Page title")
	pageCreateCmd.Flags().StringToStringVar(&pageStyles, "style", nil, "Page style, e.g. --style background=#fff")
}

func pageClient() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAPIClient(pageFlags.ResolveServerURL(cfg.Server.Host, cfg.Server.Port)), nil
}

func pageTable(w io.Writer, pages []persist.Page) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED\tSTATUS")
	for _, p := range pages {
		status := "live"
		if p.Deleted() {
			status = "deleted " + p.DeletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Title, p.UpdatedAt.Format(time.RFC3339), status)
	}
	return tw.Flush()
}
