package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mongoagent/internal/agent"
	"mongoagent/internal/config"
	"mongoagent/internal/dataset"
	"mongoagent/internal/domain"
	"mongoagent/internal/eval"
	"mongoagent/internal/llm"
	"mongoagent/internal/mcp"
	"mongoagent/internal/report"
	"mongoagent/internal/retry"
	"mongoagent/internal/scheduler"
	"mongoagent/internal/schemadump"
	"mongoagent/internal/tokenizer"
)

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0" -o mongoagent ./cmd/mongoagent
var version = "dev"

func main() {
	os.Exit(runApp(os.Args))
}

// runApp runs the root command and returns the process exit code.
func runApp(args []string) int {
	root := newRootCommand()
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mongoagent",
		Short: "Natural-language MongoDB query agent",
		Long: "mongoagent answers natural-language questions against MongoDB through a\n" +
			"tool-calling model, and evaluates the agent against built-in datasets.",
	}
	root.PersistentFlags().String("config", "", "path to config file (default mongoagent.json)")
	root.Version = version

	root.AddCommand(newQueryCommand())
	root.AddCommand(newEvalCommand())
	root.AddCommand(newConversationEvalCommand())
	root.AddCommand(newSchemaCommand())
	root.AddCommand(newRunsCommand())
	root.AddCommand(newInitCommand())
	return root
}

// loadConfig resolves the config path from the flag, the environment, or the
// default file name. A missing default file falls back to defaults.
func loadConfig(cmd *cobra.Command) (*domain.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("MONGOAGENT_CONFIG")
	}
	if path == "" {
		path = "mongoagent.json"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func newLogger(cfg *domain.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openSession performs the MCP handshake and, when a connection string is
// available, asks the server to connect to MongoDB.
func openSession(ctx context.Context, cfg *domain.Config) (*mcp.Session, error) {
	session := mcp.NewSession(cfg.MCPServerURL)
	if err := session.Initialize(ctx); err != nil {
		return nil, err
	}
	if conn := os.Getenv("MDB_MCP_CONNECTION_STRING"); conn != "" {
		if err := session.Connect(ctx, conn); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func newProvider(cfg *domain.Config) (domain.CompletionProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	inner := llm.NewOpenAIProvider(apiKey, cfg.Model)
	return retry.NewRetryableProvider(inner, retry.FromDomain(cfg.Retry)), nil
}

// newAgent assembles the full query pipeline from config.
func newAgent(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (*agent.Agent, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	session, err := openSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{agent.WithLogger(logger)}
	if cfg.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(cfg.MaxIterations))
	}
	if cfg.TokenEncoding != "" {
		tok, err := tokenizer.NewTikToken(cfg.TokenEncoding)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithTokenizer(tok))
	}

	schemaContext := ""
	if cfg.SchemaPath != "" {
		raw, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema report: %w", err)
		}
		schemaContext = string(raw)
	}

	controller := agent.NewController(provider, session, opts...)
	return agent.NewAgent(controller, cfg.Database, schemaContext), nil
}

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer one natural-language question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			a, err := newAgent(ctx, cfg, logger)
			if err != nil {
				return err
			}

			in := agent.Input{Text: args[0]}
			if date, _ := cmd.Flags().GetString("date"); date != "" {
				asOf, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				in.AsOfDate = asOf
			}

			result, err := a.Query(ctx, in)
			if err != nil {
				return err
			}

			if result.FinalAnswer == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(no final answer: iteration ceiling reached)")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.FinalAnswer)
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				raw, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			}
			return nil
		},
	}
	cmd.Flags().String("date", "", "date relative expressions resolve against (YYYY-MM-DD)")
	cmd.Flags().BoolP("verbose", "v", false, "print the canonical query and full trace as JSON")
	return cmd
}

func newEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score the agent on the canonical-query dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluation(cmd, "query")
		},
	}
	cmd.Flags().String("cases", "", "path to a YAML case file (default: built-in dataset)")
	cmd.Flags().String("cron", "", "run on a schedule instead of once (e.g. \"0 6 * * *\")")
	return cmd
}

func newConversationEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation-eval",
		Short: "Score the agent on the conversation dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluation(cmd, "conversation")
		},
	}
	cmd.Flags().String("cases", "", "path to a YAML case file (default: built-in dataset)")
	cmd.Flags().String("cron", "", "run on a schedule instead of once (e.g. \"0 6 * * *\")")
	return cmd
}

// runEvaluation executes one scored pass (or schedules recurring passes) of
// the named dataset and persists the report.
func runEvaluation(cmd *cobra.Command, datasetName string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	cases, err := loadCases(cmd, datasetName)
	if err != nil {
		return err
	}

	var scorer domain.Scorer
	if datasetName == "conversation" {
		scorer = eval.NewConversationScorer()
	} else {
		scorer = eval.NewStructuralScorer()
	}

	a, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	query := func(ctx context.Context, text string, asOf time.Time) (*domain.QueryResult, error) {
		return a.Query(ctx, agent.Input{Text: text, AsOfDate: asOf})
	}
	runner := eval.NewRunner(scorer, query, logger)

	execute := func(ctx context.Context) error {
		run, err := runner.Run(ctx, cases, datasetName, cfg.Model)
		if err != nil {
			return err
		}
		if cfg.ReportDB != "" {
			store, err := report.Open(cfg.ReportDB)
			if err != nil {
				return err
			}
			defer store.Close()
			runID, err := store.SaveRun(ctx, run)
			if err != nil {
				return err
			}
			logger.Info("run saved", "run_id", runID)
		}
		printRun(cmd, run)
		return nil
	}

	cronExpr, _ := cmd.Flags().GetString("cron")
	if cronExpr == "" {
		return execute(ctx)
	}

	sched := scheduler.NewScheduler(
		scheduler.NewRobfigCronEngine(),
		func(ctx context.Context, job scheduler.Job) error { return execute(ctx) },
		scheduler.WithLogger(logger),
	)
	if err := sched.AddJob(scheduler.Job{
		ID:       "eval-" + datasetName,
		Name:     "Scheduled " + datasetName + " evaluation",
		CronExpr: cronExpr,
		Dataset:  datasetName,
		Scorer:   scorer.Name(),
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s evaluation (%s); waiting, Ctrl-C to stop\n", datasetName, cronExpr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func loadCases(cmd *cobra.Command, datasetName string) ([]dataset.Case, error) {
	if path, _ := cmd.Flags().GetString("cases"); path != "" {
		return dataset.LoadFile(path)
	}
	if datasetName == "conversation" {
		return dataset.DefaultConversationCases()
	}
	return dataset.DefaultQueryCases()
}

func printRun(cmd *cobra.Command, run report.Run) {
	out := cmd.OutOrStdout()
	for _, c := range run.Cases {
		if !c.Completed {
			fmt.Fprintf(out, "  %-50s FAILED  %s\n", c.Name, c.Error)
			continue
		}
		fmt.Fprintf(out, "  %-50s %.2f\n", c.Name, c.Score)
	}
	fmt.Fprintf(out, "mean score %.3f over %d cases (%d failed)\n",
		run.MeanScore(), len(run.Cases), run.FailedCount())
}

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Sample a collection and write its schema report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			session, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}

			collection := cfg.Collection
			if c, _ := cmd.Flags().GetString("collection"); c != "" {
				collection = c
			}
			sampleSize, _ := cmd.Flags().GetInt("sample")

			rep, err := schemadump.Collect(ctx, session, cfg.Database, collection, sampleSize)
			if err != nil {
				return err
			}
			formatted := rep.Format()

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				return os.WriteFile(out, []byte(formatted), 0644)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	cmd.Flags().String("collection", "", "collection to analyze (default: config collection)")
	cmd.Flags().Int("sample", schemadump.DefaultSampleSize, "number of documents to sample")
	cmd.Flags().String("out", "", "write the report to a file instead of stdout")
	return cmd
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent evaluation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ReportDB == "" {
				return fmt.Errorf("no report database configured")
			}
			store, err := report.Open(cfg.ReportDB)
			if err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "#%d  %s  %-12s %-12s mean=%.3f  cases=%d failed=%d\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Dataset, r.Scorer,
					r.MeanScore, r.CasesTotal, r.CasesFailed)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")
	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default mongoagent.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = "mongoagent.json"
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
