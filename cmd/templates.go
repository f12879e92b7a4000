package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagecraft/internal/templates"
)

var templatesFlags *StandardFlags

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"tpl"},
	Short:   "List the element template library",
	Long: `List the templates editors can insert: the built-in set plus every
.yml, .yaml or .json file under templates.dir. A file template with a
built-in name replaces the built-in.`,
	Args: cobra.NoArgs,
	RunE: runTemplates,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesFlags = AddStandardFlags(templatesCmd, "output")
}

func runTemplates(cmd *cobra.Command, args []string) error {
	if err := ValidateFormatWithSuggestion(templatesFlags.Format, []string{"table", "json", "yaml"}); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	library := templates.NewLibrary(cfg.Templates.Dir, newLogger(cfg))
	loadErr := library.Load(cmd.Context())
	list := library.List()

	if !templatesFlags.Quiet {
		err = writeOutput(cmd.OutOrStdout(), templatesFlags.Format, list, func(w io.Writer) error {
			return templateTable(w, list)
		})
		if err != nil {
			return err
		}
	}
	if loadErr != nil {
		return fmt.Errorf("some templates failed to load: %w", loadErr)
	}
	return nil
}

func templateTable(w io.Writer, list []templates.Template) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tCATEGORY\tSOURCE")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Title(), t.Category, t.Source)
	}
	return tw.Flush()
}
