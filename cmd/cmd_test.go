package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagecraft/internal/collab"
	"github.com/conneroisu/pagecraft/internal/config"
	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/persist"
	"github.com/conneroisu/pagecraft/internal/render"
	"github.com/conneroisu/pagecraft/internal/server"
	"github.com/conneroisu/pagecraft/internal/templates"
)

func TestValidateFormatWithSuggestion(t *testing.T) {
	valid := []string{"table", "json", "yaml"}

	tests := []struct {
		format  string
		wantErr string
	}{
		{"json", ""},
		{"YAML", ""},
		{"tab", `did you mean "table"`},
		{"jsonl", `did you mean "json"`},
		{"xml", "valid: table, json, yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			err := ValidateFormatWithSuggestion(tt.format, valid)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveServerURL(t *testing.T) {
	tests := []struct {
		name   string
		server string
		host   string
		port   int
		want   string
	}{
		{"explicit", "http://hub.internal:9000/", "localhost", 8090, "http://hub.internal:9000"},
		{"configured", "", "editor.local", 8100, "http://editor.local:8100"},
		{"wildcard host", "", "0.0.0.0", 8090, "http://localhost:8090"},
		{"empty host", "", "", 8090, "http://localhost:8090"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &StandardFlags{ServerURL: tt.server}
			assert.Equal(t, tt.want, f.ResolveServerURL(tt.host, tt.port))
		})
	}
}

func TestWriteOutput(t *testing.T) {
	v := map[string]string{"name": "hero"}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", v, nil))
	assert.Equal(t, "{\n  \"name\": \"hero\"\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "yaml", v, nil))
	assert.Equal(t, "name: hero\n", buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "table", v, func(w io.Writer) error {
		_, err := w.Write([]byte("table"))
		return err
	}))
	assert.Equal(t, "table", buf.String())

	assert.Error(t, writeOutput(&buf, "table", v, nil))
	assert.Error(t, writeOutput(&buf, "csv", v, nil))
}

func TestTemplateTable(t *testing.T) {
	library := templates.NewLibrary("", nil)
	require.NoError(t, library.Load(context.Background()))

	var buf bytes.Buffer
	require.NoError(t, templateTable(&buf, library.List()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(library.List())+1)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, buf.String(), "Contact Form")
	assert.Contains(t, buf.String(), templates.SourceBuiltin)
}

func TestTreeTable(t *testing.T) {
	roots := []*element.Wire{{
		ID:   "s1",
		Kind: element.KindSection,
		Elements: []*element.Wire{
			{ID: "t1", Kind: element.KindText, Content: "Welcome"},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, treeTable(&buf, roots))
	out := buf.String()
	assert.Contains(t, out, "section")
	assert.Contains(t, out, "  text")
	assert.Contains(t, out, "Welcome")
}

func TestAuditTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, auditTable(&buf, nil))
	assert.Equal(t, "no accessibility violations\n", buf.String())

	buf.Reset()
	require.NoError(t, auditTable(&buf, []render.Violation{{
		Rule: "missing-alt-text", ElementID: "img1", Impact: render.ImpactCritical, Message: "images must have alternative text",
	}}))
	assert.Contains(t, buf.String(), "missing-alt-text")
	assert.Contains(t, buf.String(), "img1")
}

func TestBackoffFrom(t *testing.T) {
	b := backoffFrom(config.BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 3,
		MaxRetries: 4,
		Jitter:     0.1,
	})
	assert.Equal(t, &collab.Backoff{
		Initial:     time.Second,
		Max:         time.Minute,
		Multiplier:  3,
		MaxAttempts: 4,
		Jitter:      0.1,
	}, b)
}

func TestAPIClient(t *testing.T) {
	hub := collab.NewHub(collab.HubConfig{Pages: persist.NewMemory()})
	srv := server.New(server.Options{Hub: hub, Templates: templates.NewLibrary("", nil)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Close(context.Background())
	})

	ctx := context.Background()
	client := newAPIClient(ts.URL)

	page, err := client.CreatePage(ctx, "acme", "home", "Home", map[string]string{"background": "#fff"})
	require.NoError(t, err)
	assert.Equal(t, "acme", page.ProjectID)
	assert.Equal(t, "Home", page.Title)

	_, err = client.CreatePage(ctx, "acme", "home", "", nil)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, errors.ErrCodeDuplicateID, apiErr.Code)

	pages, err := client.ListPages(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "home", pages[0].ID)

	require.NoError(t, client.DeletePage(ctx, "acme", "home"))
	pages, err = client.ListPages(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Deleted())

	var buf bytes.Buffer
	require.NoError(t, pageTable(&buf, pages))
	assert.Contains(t, buf.String(), "deleted")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version", "--format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionFormat = "text"
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), `"version"`)
	assert.Contains(t, buf.String(), `"go_version"`)
}

func TestAddFlagValidation(t *testing.T) {
	cmd := &cobra.Command{Use: "probe"}
	flags := AddStandardFlags(cmd, "server", "output")

	require.NoError(t, cmd.Flags().Set("port", "9000"))
	assert.Equal(t, 9000, flags.Port)

	err := cmd.Flags().Set("port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 65535")
	assert.Equal(t, 9000, flags.Port)

	require.NoError(t, cmd.Flags().Set("format", "json"))
	assert.Equal(t, "json", flags.Format)
	assert.Error(t, cmd.Flags().Set("format", "xml"))
	assert.Equal(t, "json", flags.Format)
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort("8090"))
	assert.Error(t, ValidatePort("0"))
	assert.Error(t, ValidatePort("http"))
}
