package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline tracks surrogacy and donor cases through a stage pipeline and shows
each case's history as a timeline partitioned by stage.
- Stages: the pipeline steps from caseline.yml; terminal stages (Disqualified, Withdrawn) close a case.
- Stage moves: every move records when it was made and when it took effect; a move entered late is "back-entered".
- Activities: notes, emails, contact attempts and task events, filed under the stage they happened in.
- Next Steps: open tasks split into Overdue and Upcoming.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/caseline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("log-mode", "off", "logging: off, dev or prod")
	flags.String("jwt-secret", "", "HMAC secret for bearer tokens (env CASELINE_JWT_SECRET)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-mode", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger(mode string) (*logger.Logger, error) {
	if mode == "" {
		mode = viper.GetString("log-mode")
	}
	return logger.New(mode)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log, err := newLogger("")
	if err != nil {
		return err
	}
	defer log.Sync()
	e, conn, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

// splitFlags flattens repeated and comma separated flag values.
func splitFlags(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
