package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"scriptdesk/internal/app"
	"scriptdesk/internal/config"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/matrix"
	"scriptdesk/internal/render"
	"scriptdesk/internal/repo"
	"scriptdesk/internal/sandbox"
	"scriptdesk/internal/status"
	"scriptdesk/internal/transition"
)

var ui = render.New()

var rootCmd = &cobra.Command{
	Use:   "sd",
	Short: "Scriptdesk CLI",
	Long: `Scriptdesk follows scripts through the film cooperative's review workflow.
- Submitters send a script and look up its status by email.
- Analysts claim submitted scripts, then approve them for review or reject them.
- Reviewers claim approved scripts and send them to approval with notes.
- Approvers vote; the service decides when a script is approved or rejected.
Every status shown is the service's own, re-fetched after each action.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Verbose = viper.GetBool("verbose")
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		ui.Failure(err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCRIPTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging and raw errors")
	rootCmd.PersistentFlags().String("api-url", "", "script service base URL (overrides scriptdesk.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(actCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sandboxCmd())
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = viper.GetString("password")
			}
			if password == "" {
				p, err := prompt("Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				token, actor, err := a.API.Login(ctx, domain.Credentials{Email: email, Password: password})
				if err != nil {
					return err
				}
				if err := a.Session.Establish(ctx, token, actor); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(actor)
				}
				ui.Success("Signed in as %s (%s)", actor.Name, actor.Role.Label())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or SCRIPTDESK_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Session.Invalidate(ctx, "logout")
				ui.Success("Signed out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := a.Session.Require(ctx)
				if err != nil {
					return err
				}
				s, _ := a.Session.Session()
				if viper.GetBool("json") {
					return ui.JSON(s)
				}
				ui.Actor(actor, s)
				return nil
			})
		},
	}
}

func registerCmd() *cobra.Command {
	var r domain.Registration
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			r.Role = parsed
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := a.API.Register(ctx, r)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(actor)
				}
				ui.Success("Registered %s as %s (id %d)", actor.Email, actor.Role.Label(), actor.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&r.Name, "name", "", "full name")
	cmd.Flags().StringVar(&r.Email, "email", "", "email")
	cmd.Flags().StringVar(&r.Password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "", "analyst, reviewer or approver")
	return cmd
}

func submitCmd() *cobra.Command {
	var s domain.Submission
	var contentFile string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a script for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				s.Content = string(data)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.API.Submit(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(created)
				}
				ui.Success("Script #%d submitted. Track it with: sd status --email %s", created.ID, s.Submitter.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&s.Title, "title", "", "script title")
	cmd.Flags().StringVar(&s.Content, "content", "", "script content")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "read content from file")
	cmd.Flags().StringVar(&s.Submitter.Name, "name", "", "your name")
	cmd.Flags().StringVar(&s.Submitter.Email, "email", "", "your email")
	cmd.Flags().StringVar(&s.Submitter.Phone, "phone", "", "your phone")
	return cmd
}

func statusCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Look up a submitted script by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.API.LookupByEmail(ctx, email)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(s)
				}
				ui.Info("#%d %s: %s", s.ID, s.Title, render.Badge(s.Status))
				ui.Timeline(s.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "submitter email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// listFilter narrows the dashboard to what a role works on.
type listFilter struct {
	all    bool
	status string
	search string
}

func (f listFilter) apply(role domain.Role, scripts []domain.Script) ([]domain.Script, error) {
	want := map[status.Status]bool{}
	switch {
	case f.status != "":
		st, err := status.FromSlug(f.status)
		if err != nil {
			return nil, err
		}
		want[st] = true
	case !f.all:
		for _, st := range matrix.Relevant(role) {
			want[st] = true
		}
	}
	q := strings.ToLower(strings.TrimSpace(f.search))
	var out []domain.Script
	for _, s := range scripts {
		if len(want) > 0 && !want[s.Status] {
			continue
		}
		if q != "" && !matches(s, q) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matches(s domain.Script, q string) bool {
	return strings.Contains(strings.ToLower(s.Title), q) ||
		strings.Contains(strings.ToLower(s.Submitter.Name), q) ||
		strings.Contains(strings.ToLower(s.Submitter.Email), q) ||
		strconv.FormatInt(s.ID, 10) == q
}

func listCmd() *cobra.Command {
	var f listFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scripts relevant to your role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := a.Session.Require(ctx)
				if err != nil {
					return err
				}
				scripts, err := a.API.List(ctx)
				if err != nil {
					return err
				}
				scripts, err = f.apply(actor.Role, scripts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(scripts)
				}
				if len(scripts) == 0 {
					ui.Info("No scripts to show.")
					return nil
				}
				ui.Scripts(scripts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&f.all, "all", false, "show every status")
	cmd.Flags().StringVar(&f.status, "status", "", "only this status (e.g. in-review)")
	cmd.Flags().StringVar(&f.search, "search", "", "match title, submitter or id")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a script with its timeline and your available actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := a.Session.Require(ctx)
				if err != nil {
					return err
				}
				s, err := a.Projector.Load(ctx, id)
				if err != nil {
					return err
				}
				actions := matrix.Available(actor.Role, s.Status).Sorted()
				if viper.GetBool("json") {
					return ui.JSON(map[string]any{"script": s, "actions": actions})
				}
				ui.Script(s, actions)
				return nil
			})
		},
	}
}

func actCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "act <action> <id>",
		Short: "Request a workflow transition",
		Long: `Actions: assume-analysis, approve-for-review, reject, assume-review,
send-to-approval, vote-for, vote-against. The script is re-fetched first so the
action is checked against its current status.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := matrix.ParseAction(args[0])
			if err != nil {
				return err
			}
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Session.Require(ctx); err != nil {
					return err
				}
				current, err := a.Projector.Load(ctx, id)
				if err != nil {
					return err
				}
				out, err := a.Transitions.Dispatch(ctx, transition.Request{
					Action:   action,
					ScriptID: id,
					Current:  current.Status,
					Note:     note,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(out)
				}
				ui.Success("%s: #%d is now %s", action.Label(), id, render.Badge(out.Script.Status))
				if out.RefreshErr != nil {
					ui.Warning("Could not re-fetch the script; showing the service's reply. Run 'sd show %d' to refresh.", id)
				}
				ui.Script(out.Script, matrix.Available(out.Actor.Role, out.Script.Status).Sorted())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "justification or review notes")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <id>...",
		Short: "Poll scripts and report status changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, raw := range args {
				id, err := parseID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if _, err := a.Session.Require(ctx); err != nil {
					return err
				}
				if interval <= 0 {
					interval = a.Config.Projector.PollInterval
				}
				var mu sync.Mutex
				last := map[int64]status.Status{}
				for _, id := range ids {
					a.Projector.Open(id).Subscribe(func(s domain.Script) {
						mu.Lock()
						prev, seen := last[s.ID]
						last[s.ID] = s.Status
						mu.Unlock()
						switch {
						case !seen:
							ui.Info("#%d %s: %s (%s)", s.ID, s.Title, render.Badge(s.Status), s.AssigneeName())
						case prev != s.Status:
							ui.Success("#%d %s -> %s (%s)", s.ID, prev.Label(), render.Badge(s.Status), s.AssigneeName())
						}
					})
				}
				ctx, cancel := context.WithCancel(ctx)
				var wg sync.WaitGroup
				defer func() {
					cancel()
					wg.Wait()
				}()
				if a.Notifier.Enabled() {
					wg.Add(1)
					go func() {
						defer wg.Done()
						a.Notifier.Run(ctx)
					}()
				}
				return poll(ctx, interval, a.Projector.RefreshAll)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default projector.poll_interval)")
	return cmd
}

// poll runs refresh every interval until ctx is done. A lost session ends
// the loop so the user is sent back to login.
func poll(ctx context.Context, interval time.Duration, refresh func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := refresh(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, failure.ErrUnauthenticated) {
				return err
			}
			ui.Failure(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Local activity journal",
		Long:  "Every requested transition, its outcome, observed status changes and sign-ins, kept in the workspace.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logPushCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.JournalFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Repo.LatestJournal(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return ui.JSON(entries)
				}
				ui.Journal(entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.Type, "type", "", "entry type filter")
	cmd.Flags().Int64Var(&f.ScriptID, "script", 0, "script id filter")
	return cmd
}

func logPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Deliver pending journal entries to configured webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !a.Notifier.Enabled() {
					ui.Info("No webhooks configured.")
					return nil
				}
				if err := a.Notifier.DispatchOnce(ctx); err != nil {
					return err
				}
				ui.Success("Webhooks up to date")
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create scriptdesk.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if u := viper.GetString("api-url"); u != "" {
				cfg.API.BaseURL = u
			}
			if viper.GetBool("json") {
				return ui.JSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default scriptdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(viper.GetString("api-url"))), 0o644); err != nil {
				return err
			}
			ui.Success("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func sandboxCmd() *cobra.Command {
	sb := &cobra.Command{
		Use:   "sandbox",
		Short: "Run an in-memory script service for demos",
	}
	sb.AddCommand(sandboxServeCmd())
	return sb
}

func sandboxServeCmd() *cobra.Command {
	var addr string
	var seed bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sandbox script service",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("sandbox-secret")
			if secret == "" {
				return fmt.Errorf("SCRIPTDESK_SANDBOX_SECRET is required to sign tokens")
			}
			logger := newLogger()
			store := sandbox.NewStore()
			if seed {
				actors, err := sandbox.Seed(store)
				if err != nil {
					return err
				}
				for _, a := range actors {
					ui.Info("seeded %s (%s) password: secret", a.Email, a.Role.Label())
				}
			}
			handler, err := sandbox.New(sandbox.Config{
				Store:  store,
				Auth:   sandbox.AuthConfig{Secret: secret, TokenTTL: ttl},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			ui.Info("Serving sandbox on http://%s (OpenAPI at /openapi.json, metrics at /metrics)", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5050", "listen address")
	cmd.Flags().BoolVar(&seed, "seed", true, "register one account per role")
	cmd.Flags().DurationVar(&ttl, "token-ttl", 8*time.Hour, "issued token lifetime")
	cmd.Flags().String("secret", "", "token signing secret (or SCRIPTDESK_SANDBOX_SECRET)")
	_ = viper.BindPFlag("sandbox-secret", cmd.Flags().Lookup("secret"))
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		APIURL:    viper.GetString("api-url"),
		Logger:    newLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid script id %q", raw)
	}
	return id, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
