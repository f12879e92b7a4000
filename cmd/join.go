package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagecraft/internal/collab"
	"github.com/conneroisu/pagecraft/internal/config"
	"github.com/conneroisu/pagecraft/internal/dispatch"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/render"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/templates"
	"github.com/conneroisu/pagecraft/internal/transport"
	"github.com/conneroisu/pagecraft/internal/version"
)

var (
	joinFlags    *StandardFlags
	joinSession  string
	joinTemplate string
	joinParent   string
)

var joinCmd = &cobra.Command{
	Use:   "join <page>",
	Short: "Attach a headless editor session to a page",
	Long: `Join a page as a headless editor. The session keeps a local replica of
the page in sync with the hub, reconnecting with backoff when the link
drops, and logs every rendered change.

Examples:
  pagecraft join home -P acme
  pagecraft join home -P acme --template hero
  pagecraft join home --server http://hub.internal:8090 --session bot-1`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinFlags = AddStandardFlags(joinCmd, "client")
	joinCmd.Flags().StringVar(&joinSession, "session", "", "Session id (default: a fresh id)")
	joinCmd.Flags().StringVarP(&joinTemplate, "template", "t", "", "Insert this template once the session is open")
	joinCmd.Flags().StringVar(&joinParent, "parent", "", "Parent element for --template (default: page root)")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sessionID := joinSession
	if sessionID == "" {
		sessionID = collab.NewSessionID()
	}
	scope := protocol.Scope{ProjectID: joinFlags.Project, PageID: args[0], SessionID: sessionID}

	library := templates.NewLibrary(cfg.Templates.Dir, logger)
	if err := library.Load(cmd.Context()); err != nil {
		logger.Warn(cmd.Context(), err, "some templates failed to load")
	}

	doc := store.New(scope.PageID, store.WithJournalSize(cfg.Sync.JournalSize))
	dispatcher := dispatch.New(dispatch.Config{
		Session:   sessionID,
		Store:     doc,
		Templates: library,
		Logger:    logger,
	})

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	session := collab.NewSession(collab.SessionConfig{
		Scope: scope,
		Store: doc,
		Dialer: &transport.WebSocketDialer{
			BaseURL: joinFlags.ResolveServerURL(cfg.Server.Host, cfg.Server.Port),
			Header:  header,
		},
		Retryer:           backoffFrom(cfg.Sync.Backoff),
		Gate:              dispatcher,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Sync.HeartbeatTimeout,
		ResyncWindow:      cfg.Sync.ResyncWindow,
		ResyncAttempts:    cfg.Sync.ResyncAttempts,
		Logger:            logger,
	})
	dispatcher.SetOutbound(session)

	renderer := render.New(render.Config{
		Store:  doc,
		Logger: logger,
		OnUpdate: func(f render.Fragment) {
			logger.Info(cmd.Context(), "page changed", "seq", f.Seq, "change", f.Kind, "id", f.ID, "bytes", len(f.HTML))
		},
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer renderer.Close()
		return session.Run(gctx)
	})
	g.Go(func() error {
		return renderer.Run(gctx)
	})
	g.Go(func() error {
		return watchSession(gctx, session, dispatcher, logger)
	})

	cmd.Printf("joined %s/%s as %s\n", scope.ProjectID, scope.PageID, sessionID)
	err = g.Wait()
	if errors.Is(err, errors.ErrPageUnavailable) {
		return fmt.Errorf("page %s/%s is not available", scope.ProjectID, scope.PageID)
	}
	return err
}

// watchSession logs state changes and rejected operations until the
// session stops. The first time it opens, --template is inserted.
func watchSession(ctx context.Context, session *collab.Session, d *dispatch.Dispatcher, logger logging.Logger) error {
	inserted := joinTemplate == ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-session.Status():
			logger.Info(ctx, "session state", "state", state)
			if state == collab.StateOpen && !inserted {
				inserted = true
				rec, err := d.InsertTemplate(ctx, joinTemplate, joinParent, -1)
				if err != nil {
					errors.NewErrorHandler(logger).Handle(ctx, err)
					continue
				}
				logger.Info(ctx, "template inserted", "template", joinTemplate, "id", rec.Op.ID)
			}
			if state.Terminal() {
				return nil
			}
		case n := <-session.Notices():
			logger.Warn(ctx, nil, "operation rejected", "code", n.Code, "op", n.Op.Kind, "id", n.Op.ID, "reason", n.Reason)
		}
	}
}

func backoffFrom(cfg config.BackoffConfig) *collab.Backoff {
	return &collab.Backoff{
		Initial:     cfg.Initial,
		Max:         cfg.Max,
		Multiplier:  cfg.Multiplier,
		MaxAttempts: cfg.MaxRetries,
		Jitter:      cfg.Jitter,
	}
}
