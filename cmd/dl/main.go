package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dayline/internal/app"
	"dayline/internal/config"
	"dayline/internal/db"
	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/ics"
	"dayline/internal/migrate"
	"dayline/internal/reminder"
	"dayline/internal/repo"
	"dayline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dayline CLI",
	Long: `Dayline plans one person's day as a single timeline.
Core concepts:
- Workspace: your .dayline directory holding the database; per-owner config lives in the DB.
- Owner: the person whose day is planned; most commands take --owner (implied with a single owner).
- Templates: weekly fixed blocks (classes, shifts, meals) expanded onto each date.
- Commitments: ad-hoc items; dated ones land on the timeline, undated ones wait for 'dl auto'.
- Timeline: the built day, fixed blocks plus prep buffers plus commitments plus free gaps, covering the whole window.
- Conflicts: a dated placement is checked against the timeline; --force overrides.
- Reminders: fire ahead of dated commitments, view deliveries with 'dl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "skip conflict checks")
	rootCmd.PersistentFlags().String("owner", "", "owner id (implied when only one exists)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(ownerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(commitmentCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(autoCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- owners ---

func ownerCmd() *cobra.Command {
	owner := &cobra.Command{Use: "owner", Short: "Manage owners"}
	owner.AddCommand(ownerInitCmd())
	owner.AddCommand(ownerListCmd())
	return owner
}

func ownerInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init <id>",
		Short: "Register an owner with default config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(args[0]))
			o, err := e.InitOwner(ctx, args[0], name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func ownerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				owners, err := r.ListOwners(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(owners)
			})
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect owner config",
		Long:  "Config is the owner's rulebook (stored in DB): timezone, day window, prep buffers, scheduling threshold, and reminder lead. Import from dayline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import config YAML for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertOwnerConfig(ctx, cfg.Owner.ID, cfg); err != nil {
					return err
				}
				fmt.Printf("config imported for owner %s\n", cfg.Owner.ID)
				return nil
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				ownerID = "me"
			}
			fmt.Print(config.GenerateDefault(ownerID))
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner id to embed")
	return cmd
}

// --- timeline ---

func timelineCmd() *cobra.Command {
	var date, icsOut string
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Build and show the day timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ownerID := e.Config.Owner.ID
				d := date
				if d == "" {
					var err error
					if d, err = e.CurrentDate(ctx, ownerID); err != nil {
						return err
					}
				}
				tl, err := e.BuildTimeline(ctx, ownerID, d)
				if err != nil {
					return err
				}
				if icsOut != "" {
					payload := ics.Export(tl)
					if icsOut == "-" {
						fmt.Print(payload)
						return nil
					}
					if err := os.WriteFile(icsOut, []byte(payload), 0o644); err != nil {
						return err
					}
					fmt.Printf("wrote %s\n", icsOut)
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(tl)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("%s  %s", tl.OwnerID, tl.Date)
				tw.AppendHeader(table.Row{"Start", "End", "Kind", "Title"})
				for _, iv := range tl.Intervals {
					tw.AppendRow(table.Row{
						iv.Start.Format("15:04"),
						iv.End.Format("15:04"),
						iv.Kind,
						iv.Title,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&icsOut, "ics", "", "write iCalendar to file ('-' for stdout)")
	return cmd
}

// --- templates ---

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Manage weekly templates"}
	tpl.AddCommand(templateAddCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateUpdateCmd())
	tpl.AddCommand(templateRmCmd())
	return tpl
}

func parseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid day %q (0=Mon .. 6=Sun)", p)
		}
		days = append(days, d)
	}
	return days, nil
}

func templateAddCmd() *cobra.Command {
	var title, kind, start, days string
	var minutes int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add weekly template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dayList, err := parseDays(days)
				if err != nil {
					return err
				}
				tpl, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
					OwnerID:         e.Config.Owner.ID,
					Title:           title,
					Kind:            kind,
					StartTime:       start,
					DurationMinutes: minutes,
					Days:            dayList,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(tpl)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&kind, "kind", "class", "kind (class|work|meal|break|routine)")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:MM")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&days, "days", "", "weekdays, comma separated (0=Mon .. 6=Sun)")
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List weekly templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				templates, err := e.Repo.ListTemplates(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(templates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Kind", "Start", "Minutes", "Days"})
				for _, t := range templates {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Kind, t.StartTime, t.DurationMinutes, formatDays(t.Days)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func formatDays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ",")
}

func templateUpdateCmd() *cobra.Command {
	var title, kind, start, days string
	var minutes int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update weekly template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TemplateUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("kind") {
					opts.Kind = &kind
				}
				if cmd.Flags().Changed("start") {
					opts.StartTime = &start
				}
				if cmd.Flags().Changed("minutes") {
					opts.DurationMinutes = &minutes
				}
				if cmd.Flags().Changed("days") {
					dayList, err := parseDays(days)
					if err != nil {
						return err
					}
					opts.Days = dayList
				}
				tpl, err := e.UpdateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(tpl)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&kind, "kind", "", "kind")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:MM")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&days, "days", "", "weekdays, comma separated")
	return cmd
}

func templateRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete weekly template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTemplate(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- commitments ---

func commitmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "commitment", Short: "Manage commitments", Aliases: []string{"c"}}
	c.AddCommand(commitmentAddCmd())
	c.AddCommand(commitmentListCmd())
	c.AddCommand(commitmentMoveCmd())
	c.AddCommand(commitmentDoneCmd())
	c.AddCommand(commitmentRmCmd())
	return c
}

func parseDue(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid due %q (want RFC3339, e.g. 2024-01-01T14:00:00Z)", s)
	}
	return &t, nil
}

func reportConflict(c *domain.Conflict) error {
	if viper.GetBool("json") {
		_ = printJSON(map[string]any{"conflict": c})
	} else {
		fmt.Printf("conflict: %s (blocked by %q until %s); retry with --force or start at %s\n",
			c.Reason, c.Blocking.Title, c.Blocking.End.Format(time.RFC3339), c.SuggestedStart.Format(time.RFC3339))
	}
	return errors.New("placement conflicts with the timeline")
}

func commitmentAddCmd() *cobra.Command {
	var title, notes, due, priority, recurrence string
	var minutes int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dueAt, err := parseDue(due)
				if err != nil {
					return err
				}
				c, conflict, err := e.CreateCommitment(ctx, engine.CommitmentCreateOptions{
					OwnerID:         e.Config.Owner.ID,
					Title:           title,
					Notes:           notes,
					Due:             dueAt,
					DurationMinutes: minutes,
					Priority:        priority,
					Recurrence:      recurrence,
					ActorID:         viper.GetString("actor-id"),
					Force:           viper.GetBool("force"),
				})
				if err != nil {
					return err
				}
				if conflict != nil {
					return reportConflict(conflict)
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "commitment title")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&due, "due", "", "due instant (RFC3339, omit for unplaced)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low|medium|high|urgent)")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "recurrence (none|daily|weekly|monthly)")
	return cmd
}

func commitmentListCmd() *cobra.Command {
	var completed, unplaced bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.CommitmentFilters{OwnerID: e.Config.Owner.ID, Limit: limit}
				if cmd.Flags().Changed("completed") {
					f.Completed = &completed
				}
				if cmd.Flags().Changed("unplaced") {
					f.Unplaced = &unplaced
				}
				list, err := e.Repo.ListCommitments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Due", "Minutes", "Priority", "Done"})
				for _, c := range list {
					dueStr := ""
					if c.Due != nil {
						dueStr = c.Due.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{c.ID, c.Title, dueStr, c.DurationMinutes, c.Priority, c.Completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "filter by completion")
	cmd.Flags().BoolVar(&unplaced, "unplaced", false, "filter by placement")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func commitmentMoveCmd() *cobra.Command {
	var due string
	var clearDue bool
	var minutes int
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move or resize a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CommitmentUpdateOptions{
					ID:       args[0],
					ClearDue: clearDue,
					ActorID:  viper.GetString("actor-id"),
					Force:    viper.GetBool("force"),
				}
				if cmd.Flags().Changed("due") {
					dueAt, err := parseDue(due)
					if err != nil {
						return err
					}
					opts.Due = dueAt
				}
				if cmd.Flags().Changed("minutes") {
					opts.DurationMinutes = &minutes
				}
				c, conflict, err := e.UpdateCommitment(ctx, opts)
				if err != nil {
					return err
				}
				if conflict != nil {
					return reportConflict(conflict)
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "new due instant (RFC3339)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "unplace the commitment")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "new duration in minutes")
	return cmd
}

func commitmentDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark commitment complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CompleteCommitment(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func commitmentRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteCommitment(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- conflicts / auto ---

func conflictsCmd() *cobra.Command {
	var start, exclude string
	var minutes int
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check a proposed placement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				at, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid start %q (want RFC3339)", start)
				}
				conflict, err := e.CheckConflict(ctx, e.Config.Owner.ID, at, minutes, exclude)
				if err != nil {
					return err
				}
				if conflict == nil {
					if viper.GetBool("json") {
						return printJSON(map[string]any{"conflict": nil})
					}
					fmt.Println("slot is clear")
					return nil
				}
				return printJSONOrTable(map[string]any{"conflict": conflict})
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "proposed start (RFC3339)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "proposed duration in minutes")
	cmd.Flags().StringVar(&exclude, "exclude", "", "commitment id to ignore")
	return cmd
}

func autoCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Auto-schedule unplaced commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ownerID := e.Config.Owner.ID
				d := date
				if d == "" {
					var err error
					if d, err = e.CurrentDate(ctx, ownerID); err != nil {
						return err
					}
				}
				res, err := e.AutoSchedule(ctx, ownerID, d, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("placed %d, unplaced %d\n", len(res.Placed), len(res.Unplaced))
				for _, id := range res.Unplaced {
					fmt.Println("  did not fit:", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: template and commitment changes, auto-schedule passes, reminders.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Owner.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- api keys ---

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyRmCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, k); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The secret is shown once and only the hash is stored.
				return printJSONOrTable(map[string]string{"id": k.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOwnerAndConfig(cmd.Context(), viper.GetString("owner"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("DAYLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("DAYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if !noSweep {
				sweeper := reminder.NewSweeper(e)
				if err := sweeper.Start(); err != nil {
					return err
				}
				defer sweeper.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Dayline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noSweep, "no-reminders", false, "disable the reminder sweep")
	return cmd
}

// --- plumbing ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOwnerAndConfig(ctx, viper.GetString("owner"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
