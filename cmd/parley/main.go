package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/parley/internal/aggregate"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/pipeline"
	"github.com/TobiSchelling/parley/internal/report"
	"github.com/TobiSchelling/parley/internal/server"
	"github.com/TobiSchelling/parley/internal/session"
	"github.com/TobiSchelling/parley/internal/templates"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfgPath    string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "parley",
	Short:   "Advisor-guided research interviews",
	Long:    "parley runs interviews with a real-time advisor, scores how its guidance was followed, and reports adherence across sessions.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return buildLogger("info")
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfgPath = path
		return buildLogger(cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func buildLogger(level string) error {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	logger = l
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (.yaml or .toml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("parley", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/parley/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the LLM provider, model profiles and advisor timing.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Sessions:")
		fmt.Printf("  Total: %d\n", stats.Sessions)
		statuses := make([]string, 0, len(stats.ByStatus))
		for s := range stats.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("  %s: %d\n", s, stats.ByStatus[s])
		}
		fmt.Println("\nTranscripts:")
		fmt.Printf("  Turns: %d\n", stats.Turns)
		fmt.Printf("  Guidance events: %d\n", stats.GuidanceEvents)
		fmt.Printf("  Scored sessions: %d\n", stats.ScoredSessions)
		fmt.Println("\nLLM usage:")
		fmt.Printf("  Calls: %d\n", stats.UsageCalls)
		fmt.Printf("  Estimated tokens: %d\n", stats.EstimatedTokens)
		return nil
	},
}

// --- project command ---

var (
	projectName         string
	projectCrossSession bool
	projectHypotheses   bool
)

var projectCmd = &cobra.Command{
	Use:   "project [id]",
	Short: "Create or update a project and its enrichment switches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p := database.Project{
			ID:                  args[0],
			Name:                projectName,
			CrossSessionEnabled: projectCrossSession,
			HypothesesEnabled:   projectHypotheses,
		}
		if err := db.UpsertProject(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Printf("Project %s: cross-session %t, hypotheses %t\n", p.ID, p.CrossSessionEnabled, p.HypothesesEnabled)
		return nil
	},
}

func init() {
	projectCmd.Flags().StringVar(&projectName, "name", "", "Display name")
	projectCmd.Flags().BoolVar(&projectCrossSession, "cross-session", false, "Feed cross-session themes to the advisor")
	projectCmd.Flags().BoolVar(&projectHypotheses, "hypotheses", false, "Feed project hypotheses to the advisor")
}

// --- simulate command ---

var (
	templatePath  string
	personaPath   string
	sessionCount  int
	concurrency   int
	workspaceID   string
	projectID     string
	collectionID  string
	scoreSessions bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated interviews against a persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, err := templates.LoadTemplate(templatePath)
		if err != nil {
			return err
		}
		var persona *templates.Persona
		if personaPath != "" {
			if persona, err = templates.LoadPersona(personaPath); err != nil {
				return err
			}
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := newRunner(ctx, db)
		specs := make([]session.Spec, sessionCount)
		for i := range specs {
			specs[i] = session.Spec{
				WorkspaceID:  workspaceID,
				ProjectID:    projectID,
				CollectionID: collectionID,
				Template:     *tmpl,
				Persona:      persona,
			}
		}

		results, runErr := runner.RunBatch(ctx, specs, concurrency)
		for _, res := range results {
			if res == nil {
				continue
			}
			printResult(res)
			if scoreSessions && res.Status == models.SessionCompleted {
				printSteps(runPipeline(ctx, db, res.SessionID))
			}
		}
		return runErr
	},
}

func init() {
	simulateCmd.Flags().StringVarP(&templatePath, "template", "t", "", "Interview template (yaml)")
	simulateCmd.Flags().StringVarP(&personaPath, "persona", "p", "", "Respondent persona (yaml)")
	simulateCmd.Flags().IntVarP(&sessionCount, "sessions", "n", 1, "Number of sessions to run")
	simulateCmd.Flags().IntVarP(&concurrency, "concurrency", "k", 1, "Sessions to run at once")
	simulateCmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace ID for attribution")
	simulateCmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	simulateCmd.Flags().StringVar(&collectionID, "collection", "", "Collection ID")
	simulateCmd.Flags().BoolVar(&scoreSessions, "score", true, "Score completed sessions")
	simulateCmd.MarkFlagRequired("template")
}

// --- resume command ---

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Continue an interrupted session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := newRunner(ctx, db).Resume(ctx, args[0])
		if res != nil {
			printResult(res)
		}
		return err
	},
}

// --- score command ---

var dryRun bool

var scoreCmd = &cobra.Command{
	Use:   "score [session-id]",
	Short: "Score adherence for a session and archive its event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := newPipeline(db)
		var res *pipeline.Result
		if dryRun {
			res, err = pipe.DryRun(cmd.Context(), args[0])
		} else {
			res, err = pipe.Run(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		printSteps(res)
		return nil
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- aggregate command ---

var (
	aggScope  string
	aggID     string
	aggFrom   string
	aggTo     string
	aggTop    int
	aggFormat string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Report guidance adherence across a collection, template or project",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := server.ParseBound(aggFrom, false)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := server.ParseBound(aggTo, true)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		scope := aggregate.Scope{Kind: aggScope, ID: aggID}
		sessions, err := db.ScopeSessions(cmd.Context(), scope)
		if err != nil {
			return err
		}
		rep := aggregate.New(logger).Aggregate(scope, sessions, aggregate.Options{From: from, To: to, TopN: aggTop})

		switch aggFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		case "markdown", "md":
			fmt.Print(report.Markdown(rep))
			return nil
		}
		return fmt.Errorf("unknown format %q (json or markdown)", aggFormat)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggScope, "scope", aggregate.ScopeCollection, "collection, template or project")
	aggregateCmd.Flags().StringVar(&aggID, "id", "", "Scope ID")
	aggregateCmd.Flags().StringVar(&aggFrom, "from", "", "Window start (YYYY-MM-DD or RFC 3339)")
	aggregateCmd.Flags().StringVar(&aggTo, "to", "", "Window end (YYYY-MM-DD or RFC 3339)")
	aggregateCmd.Flags().IntVar(&aggTop, "top", aggregate.DefaultTopN, "Sessions in each ranking")
	aggregateCmd.Flags().StringVar(&aggFormat, "format", "markdown", "json or markdown")
	aggregateCmd.MarkFlagRequired("id")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		holder := config.NewHolder(cfg)
		if err := config.Watch(ctx, cfgPath, holder, logger); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}

		srv, err := server.New(db, holder, logger)
		if err != nil {
			return err
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- helpers ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, "parley.db"), logger)
}

func logDir() string     { return filepath.Join(cfg.GetDataDir(), "logs") }
func archiveDir() string { return filepath.Join(cfg.GetDataDir(), "archive") }

func newRunner(ctx context.Context, db *database.DB) *session.Runner {
	pc := llm.ProviderConfig{
		Provider:     cfg.LLM.Provider,
		DefaultModel: cfg.Profile(config.UseInterviewer).Model,
		OllamaURL:    cfg.LLM.OllamaURL,
		APIKeyEnv:    cfg.LLM.APIKeyEnv,
		GeminiKeyEnv: cfg.LLM.GeminiKeyEnv,
	}
	provider := llm.CreateProvider(ctx, pc, logger)
	client := llm.NewClient(provider, db, logger)
	return session.NewLLMRunner(cfg, client, newEmbedder(ctx, provider), db, logDir(), logger)
}

func newEmbedder(ctx context.Context, provider llm.Provider) llm.Embedder {
	if provider != nil && provider.Name() == "gemini" {
		e, err := llm.NewGeminiEmbedder(ctx, cfg.LLM.EmbeddingModel, cfg.LLM.GeminiKeyEnv)
		if err == nil {
			return e
		}
		logger.Warn("gemini embedder unavailable; falling back to ollama", zap.Error(err))
	}
	return llm.NewOllamaEmbedder(cfg.LLM.EmbeddingModel, cfg.LLM.OllamaURL)
}

func newPipeline(db *database.DB) *pipeline.Pipeline {
	return pipeline.New(db, logDir(), archiveDir(), logger)
}

func runPipeline(ctx context.Context, db *database.DB, id string) *pipeline.Result {
	res, err := newPipeline(db).Run(ctx, id)
	if err != nil {
		return &pipeline.Result{SessionID: id, Steps: []pipeline.StepResult{{Name: "Load", Err: err}}}
	}
	return res
}

func printResult(res *session.Result) {
	fmt.Printf("\nSession %s: %s\n", res.SessionID, res.Status)
	fmt.Printf("  Questions asked: %d (skipped %d)\n", len(res.Asked), len(res.Skipped))
	fmt.Printf("  Turns: %d\n", res.Turns)
	injected, late := 0, 0
	for _, ev := range res.Events {
		if ev.Injected {
			injected++
		}
		if ev.Late {
			late++
		}
	}
	fmt.Printf("  Guidance: %d evaluations, %d injected, %d late\n", len(res.Events), injected, late)
	for _, b := range res.Breakers {
		fmt.Printf("  Circuit breaker: %s\n", b)
	}
}

func printSteps(res *pipeline.Result) {
	for i, step := range res.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(res.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}
