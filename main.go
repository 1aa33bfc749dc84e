package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/config"
	"github.com/lotas/ragex/internal/page"
	"github.com/lotas/ragex/internal/panel"
	"github.com/lotas/ragex/internal/ragclient"
	"github.com/lotas/ragex/internal/server"
	"github.com/lotas/ragex/internal/storage"
	"github.com/lotas/ragex/internal/tui"
	"github.com/spf13/cobra"
)

// flags holds command-line overrides; only flags the user set are applied.
var flags struct {
	configPath string
	apiBase    string
	maxPages   int
	port       int
	dataDir    string
	pageURL    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragex",
		Short: "Chat with the page in your browser's active tab",
		Long: `ragex is a terminal companion panel for a page-scoped retrieval backend.
Connect indexes the browser's active tab; questions are answered from that page.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultPath(), "Config file path")
	pf.StringVar(&flags.apiBase, "api-base", config.DefaultAPIBase, "Retrieval backend base URL (env: RAGEX_API_BASE)")
	pf.IntVar(&flags.maxPages, "max-pages", config.DefaultMaxPages, "Pages to crawl per connect (env: RAGEX_MAX_PAGES)")
	pf.IntVar(&flags.port, "port", config.DefaultPort, "WebSocket port for the browser extension (env: RAGEX_PORT)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for the database and log (env: RAGEX_DATA_DIR)")
	root.Flags().StringVar(&flags.pageURL, "url", "", "Use this page as the active tab instead of the extension")

	root.AddCommand(newSessionsCommand(), newExportCommand(), newPingCommand(), newConfigCommand())
	return root
}

// overlay applies the environment and any flags the user set on top of c.
func overlay(cmd *cobra.Command, c config.Config) (config.Config, error) {
	c, err := c.ApplyEnv(os.Getenv)
	if err != nil {
		return c, err
	}
	f := cmd.Flags()
	if f.Changed("api-base") {
		c.APIBase = flags.apiBase
	}
	if f.Changed("max-pages") {
		c.MaxPages = flags.maxPages
	}
	if f.Changed("port") {
		c.Port = flags.port
	}
	if f.Changed("data-dir") {
		c.DataDir = flags.dataDir
	}
	return c, c.Validate()
}

// env is the opened runtime: resolved config, the layer the config file
// reloads on top of, and the database.
type env struct {
	cfg  config.Config
	base config.Config
	db   *sql.DB
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	applog.Close()
}

// setup resolves configuration, opens the log and the database, and runs
// the one-time install. The data directory has to be known before stored
// settings can be read, so it is resolved from the upper layers first.
func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	pre, err := config.Default().LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	if pre, err = overlay(cmd, pre); err != nil {
		return nil, err
	}

	if err := applog.Init(pre.DataDir); err != nil {
		return nil, err
	}
	db, err := storage.OpenDB(storage.DefaultDBPath(pre.DataDir))
	if err != nil {
		applog.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	e := &env{db: db}

	if _, err := storage.Install(ctx, db, config.InstallSettings()); err != nil {
		e.Close()
		return nil, err
	}
	settings, err := storage.Settings(ctx, db)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.base = config.Default().ApplySettings(settings)
	cfg, err := e.base.LoadFile(flags.configPath)
	if err == nil {
		cfg, err = overlay(cmd, cfg)
	}
	if err != nil {
		e.Close()
		return nil, err
	}
	cfg.DataDir = pre.DataDir
	e.cfg = cfg
	applog.Info("config.resolved", "api_base", cfg.APIBase, "max_pages", cfg.MaxPages, "port", cfg.Port)
	return e, nil
}

func newClient(cfg config.Config) *ragclient.Client {
	c := ragclient.New(cfg.APIBase)
	c.PollInterval = cfg.PollInterval
	c.AnalyzeTimeout = cfg.AnalyzeTimeout
	return c
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg

	store := panel.NewStore(storage.NewSessionRepo(e.db))
	loadErr := store.Load(ctx)
	if loadErr != nil {
		applog.Error("startup.load", loadErr)
	}
	client := newClient(cfg)

	var tabs panel.TabSource
	var srv *server.Server
	if flags.pageURL != "" {
		tab, err := page.Lookup(ctx, flags.pageURL)
		if err != nil {
			applog.Warn("startup.lookup", "url", flags.pageURL, "err", err)
		}
		tabs = page.Static{Tab: tab}
	} else {
		srv = server.New(cfg.Port)
		tabs = srv
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				applog.Error("server.listen", err, "port", cfg.Port)
			}
		}()
		go srv.RunKeepalive(ctx, cfg.KeepaliveInterval, func(ctx context.Context) error {
			return storage.Touch(ctx, e.db)
		})
	}

	ctrl := panel.NewController(store, client, tabs, cfg.MaxPages)
	p := tea.NewProgram(tui.NewModel(ctrl, srv), tea.WithAltScreen(), tea.WithContext(ctx))
	store.OnChange(func() { p.Send(tui.RefreshMsg{}) })
	if loadErr != nil {
		go p.Send(tui.StatusMsg("Saved sessions could not be read: " + loadErr.Error()))
	}

	if err := config.Watch(ctx, flags.configPath, e.base, func(c config.Config) {
		c, err := overlay(cmd, c)
		if err != nil {
			applog.Error("config.reload", err)
			return
		}
		client.SetBase(c.APIBase)
		ctrl.SetMaxPages(c.MaxPages)
		p.Send(tui.StatusMsg(fmt.Sprintf("Config reloaded: %s, %d pages", c.TrimmedAPIBase(), c.MaxPages)))
	}); err != nil {
		applog.Warn("config.watch", "err", err)
	}

	applog.Info("tui.start", "sessions", len(store.Snapshot().Sessions))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
