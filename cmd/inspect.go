package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/render"
	"github.com/conneroisu/pagecraft/internal/store"
)

var (
	inspectFlags *StandardFlags
	inspectHTML  bool
	inspectAudit bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <page>",
	Short: "Dump the stored element tree of a page",
	Long: `Read a page straight from the configured storage and print its element
tree as YAML or JSON, its rendered HTML, or an accessibility audit of it.
The snapshot is the last one the hub flushed.

Examples:
  pagecraft inspect home -P acme
  pagecraft inspect home -P acme --format json
  pagecraft inspect home -P acme --html > home.html
  pagecraft inspect home -P acme --audit`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectFlags = &StandardFlags{}
	inspectCmd.Flags().StringVarP(&inspectFlags.Project, "project", "P", "default", "Project id")
	inspectCmd.Flags().StringVarP(&inspectFlags.Format, "format", "f", "yaml", "Output format (yaml|json)")
	AddFlagValidation(inspectCmd, "format", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"yaml", "json", "table"})
	})
	inspectCmd.Flags().BoolVar(&inspectHTML, "html", false, "Print the rendered page instead of the tree")
	inspectCmd.Flags().BoolVar(&inspectAudit, "audit", false, "Print accessibility violations of the rendered page")
}

type inspection struct {
	Project  string            `json:"project" yaml:"project"`
	Page     string            `json:"page" yaml:"page"`
	Title    string            `json:"title,omitempty" yaml:"title,omitempty"`
	Seq      uint64            `json:"seq" yaml:"seq"`
	Styles   map[string]string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Elements []*element.Wire   `json:"elements" yaml:"elements"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := ValidateFormatWithSuggestion(inspectFlags.Format, []string{"yaml", "json", "table"}); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pages, err := openPages(cfg)
	if err != nil {
		return err
	}
	defer pages.Close()

	ctx := cmd.Context()
	page, err := pages.Page(ctx, inspectFlags.Project, args[0])
	if err != nil {
		return err
	}
	if page.Deleted() {
		return fmt.Errorf("page %s/%s was deleted at %s", page.ProjectID, page.ID, page.DeletedAt.Format("2006-01-02 15:04:05"))
	}
	snap, err := pages.LoadSnapshot(ctx, page.ProjectID, page.ID)
	if err != nil {
		return err
	}
	if snap == nil {
		doc := store.New(page.ID)
		doc.SetPageStyles(page.Styles)
		snap = doc.Snapshot()
	}

	out := cmd.OutOrStdout()
	switch {
	case inspectHTML:
		if err := render.Page(snap).Render(ctx, out); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out)
		return err
	case inspectAudit:
		violations := render.AuditSnapshot(snap)
		return writeOutput(out, inspectFlags.Format, violations, func(w io.Writer) error {
			return auditTable(w, violations)
		})
	}

	view := inspection{
		Project:  page.ProjectID,
		Page:     page.ID,
		Title:    page.Title,
		Seq:      snap.Seq,
		Styles:   snap.Styles,
		Elements: make([]*element.Wire, 0, len(snap.Elements)),
	}
	for _, el := range snap.Elements {
		view.Elements = append(view.Elements, el.ToWire())
	}
	return writeOutput(out, inspectFlags.Format, view, func(w io.Writer) error {
		return treeTable(w, view.Elements)
	})
}

func treeTable(w io.Writer, roots []*element.Wire) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ELEMENT\tID\tCONTENT")
	var walk func(els []*element.Wire, depth int)
	walk = func(els []*element.Wire, depth int) {
		for _, el := range els {
			fmt.Fprintf(tw, "%s%s\t%s\t%s\n", strings.Repeat("  ", depth), el.Kind, el.ID, el.Content)
			walk(el.Elements, depth+1)
		}
	}
	walk(roots, 0)
	return tw.Flush()
}

func auditTable(w io.Writer, violations []render.Violation) error {
	if len(violations) == 0 {
		_, err := fmt.Fprintln(w, "no accessibility violations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPACT\tRULE\tELEMENT\tMESSAGE")
	for _, v := range violations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Impact, v.Rule, v.ElementID, v.Message)
	}
	return tw.Flush()
}
