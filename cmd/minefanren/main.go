package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/TheTinkerJ/mine-fanren/internal/analyzer"
	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
	"github.com/TheTinkerJ/mine-fanren/internal/config"
	"github.com/TheTinkerJ/mine-fanren/internal/extract"
	"github.com/TheTinkerJ/mine-fanren/internal/novel"
	"github.com/TheTinkerJ/mine-fanren/internal/pipeline"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
	"github.com/TheTinkerJ/mine-fanren/internal/tokenizer"
	"github.com/TheTinkerJ/mine-fanren/internal/vector"
)

// app carries the configuration and logger shared by all subcommands.
type app struct {
	cfg config.Config
	log *slog.Logger
}

// setup runs after the command line has been parsed but before the
// subcommand action.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.NArg() == 0 {
		// nothing to do, help output only
		return ctx, nil
	}

	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadFrom(cmd.String("env"))
	if err != nil {
		return ctx, err
	}
	if db := cmd.String("db"); db != "" {
		cfg.DBPath = db
	}
	a.cfg = cfg
	return ctx, nil
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.DBPath, a.log)
}

func (a *app) newLLMClient() (*extract.Client, error) {
	if err := a.cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	return extract.NewClient(extract.Config{
		BaseURL: a.cfg.LLMBaseURL,
		APIKey:  a.cfg.LLMAPIKey,
		Model:   a.cfg.LLMModel,
		Timeout: a.cfg.LLMTimeout,
	}, a.log), nil
}

func (a *app) runChunk(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	name := cmd.String("novel")
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	taskTypes, err := splitTaskTypes(cmd.String("tasks"))
	if err != nil {
		return err
	}

	text, err := novel.LoadFile(path)
	if err != nil {
		return err
	}

	counter := tokenizer.New(a.cfg.TokenEncoding, a.log)
	ex := chunker.New(
		chunker.WithTokenCounter(counter.Count),
		chunker.WithExcludeRules([]chunker.ExcludeRule{
			chunker.DialogueRule(),
			chunker.NarrationRule(),
		}),
	)
	chunks, err := ex.Extract(name, text)
	if err != nil {
		return fmt.Errorf("extract chapters: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no chapter headings found in %s", path)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	empty := 0
	for i := range chunks {
		if chunks[i].Empty() {
			empty++
		}
		if err := st.UpsertChunk(ctx, &chunks[i]); err != nil {
			return fmt.Errorf("store chapter %d: %w", chunks[i].ChapterID, err)
		}
	}
	fmt.Printf("%s: stored %d chapters (%d empty), numbered %d-%d\n",
		name, len(chunks), empty, chunks[0].ChapterID, chunks[len(chunks)-1].ChapterID)

	for _, tt := range taskTypes {
		created, err := st.GenerateTasks(ctx, name, tt, false)
		if err != nil {
			return fmt.Errorf("queue %s tasks: %w", tt, err)
		}
		fmt.Printf("queued %d %s tasks\n", created, tt)
	}
	return nil
}

func (a *app) runChapter(ctx context.Context, cmd *cli.Command) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.GetChapter(ctx, cmd.String("novel"), cmd.Int("id"))
	if err != nil {
		return err
	}
	fmt.Println(c.ChapterTitle)
	if c.Content != "" {
		fmt.Println(c.Content)
	}
	return nil
}

func (a *app) runStats(ctx context.Context, cmd *cli.Command) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	name := cmd.String("novel")
	stats, err := st.Stats(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d chapters (%d empty), numbered %d-%d\n",
		stats.Novel, stats.Chunks, stats.EmptyChunks, stats.MinChapter, stats.MaxChapter)
	fmt.Printf("%d chars, %d tokens\n", stats.TotalChars, stats.TotalTokens)

	counts, err := st.TaskStats(ctx, name)
	if err != nil {
		return err
	}
	for _, tc := range counts {
		fmt.Printf("tasks %s %s: %d\n", tc.Type, tc.Status, tc.Count)
	}
	return nil
}

func (a *app) runTasksGen(ctx context.Context, cmd *cli.Command) error {
	taskType := cmd.String("type")
	if !store.ValidTaskType(taskType) {
		return fmt.Errorf("unknown task type: %s", taskType)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	created, err := st.GenerateTasks(ctx, cmd.String("novel"), taskType, cmd.Bool("clear"))
	if err != nil {
		return err
	}
	fmt.Printf("queued %d %s tasks\n", created, taskType)
	return nil
}

func (a *app) runTasksRun(ctx context.Context, cmd *cli.Command) error {
	taskType := cmd.String("type")
	if !store.ValidTaskType(taskType) {
		return fmt.Errorf("unknown task type: %s", taskType)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// Tasks left running by a crashed run go back to pending first.
	reset, err := st.ResetRunningTasks(ctx, taskType)
	if err != nil {
		return err
	}
	if reset > 0 {
		a.log.Warn("requeued stale running tasks", "count", reset)
	}

	var summary pipeline.RunSummary
	switch taskType {
	case store.TaskERClaim:
		summary, err = a.runERClaim(ctx, st, cmd.Int("limit"))
	case store.TaskEmbedding:
		summary, err = a.runEmbedding(ctx, st, cmd.Int("limit"))
	}
	if err != nil {
		return err
	}
	fmt.Printf("tasks done: %d, failed: %d\n", summary.Done, summary.Failed)
	return nil
}

func (a *app) runERClaim(ctx context.Context, st *store.Store, limit int) (pipeline.RunSummary, error) {
	llm, err := a.newLLMClient()
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	sink, err := pipeline.OpenSink(a.cfg.ResultsPath)
	if err != nil {
		return pipeline.RunSummary{}, err
	}
	defer sink.Close()

	runner := pipeline.NewERClaimRunner(st, llm, sink, a.cfg.MaxConcurrentLLM, a.log)
	summary, err := runner.Run(ctx, limit)
	if err != nil {
		return summary, err
	}

	if s := llm.Stats(); s.Count > 0 {
		fmt.Printf("llm calls: %d (%d errors), p95 %.0fms\n", s.Count, s.Errors, s.P95Ms)
	}
	return summary, nil
}

func (a *app) runEmbedding(ctx context.Context, st *store.Store, limit int) (pipeline.RunSummary, error) {
	if a.cfg.EmbeddingBaseURL == "" || a.cfg.EmbeddingAPIKey == "" {
		return pipeline.RunSummary{}, fmt.Errorf("embedding endpoint not configured: set EMBEDDING_BASE_URL and EMBEDDING_API_KEY, or the LLM_ equivalents")
	}
	ix, err := vector.Open(vector.Config{
		Path:    a.cfg.VectorDir,
		BaseURL: a.cfg.EmbeddingBaseURL,
		APIKey:  a.cfg.EmbeddingAPIKey,
		Model:   a.cfg.EmbeddingModel,
	}, a.log)
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	runner := pipeline.NewEmbedRunner(st, ix, a.log)
	return runner.Run(ctx, limit)
}

func (a *app) runMissing(ctx context.Context, cmd *cli.Command) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	name := cmd.String("novel")
	chunks, err := st.ListChunks(ctx, name)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("novel %s has no stored chunks", name)
	}

	gaps := analyzer.FindGaps(chunks)
	if len(gaps) == 0 {
		fmt.Println("no gaps found")
		return nil
	}
	for _, g := range gaps {
		fmt.Printf("chapter %d: %s\n", g.ChapterID, g.Kind)
	}

	if !cmd.Bool("validate") {
		return nil
	}

	llm, err := a.newLLMClient()
	if err != nil {
		return err
	}
	verdicts, err := analyzer.NewValidator(llm, a.log).ValidateAll(ctx, gaps, cmd.Int("max"))
	if len(verdicts) > 0 {
		fmt.Println()
		for _, v := range verdicts {
			fmt.Printf("chapter %d: %s (confidence %d) %s\n",
				v.ChapterID, v.Result, v.Confidence, v.Analysis)
			if v.FoundTitle != "" {
				fmt.Printf("  title pattern hint: %s\n", v.FoundTitle)
			}
		}
	}
	return err
}

func splitTaskTypes(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var types []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !store.ValidTaskType(t) {
			return nil, fmt.Errorf("unknown task type: %s", t)
		}
		types = append(types, t)
	}
	return types, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	root := &cli.Command{
		Name:            "minefanren",
		Usage:           "chapter chunk extraction and enrichment for serialized novels",
		HideHelpCommand: true,
		Before:          a.setup,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database `PATH` (overrides DB_PATH)"},
			&cli.StringFlag{Name: "env", Usage: "dotenv `FILE` to load before the process environment"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "chunk",
				Usage: "Split a novel file into chapter chunks and store them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true,
						Usage: "novel `FILE` (txt, md, html, pdf, docx)"},
					&cli.StringFlag{Name: "novel", Usage: "novel `NAME`, defaults to the file name stem"},
					&cli.StringFlag{Name: "tasks", Usage: "comma separated task `TYPES` to queue after storing (er_claim, embedding)"},
				},
				Action: a.runChunk,
			},
			{
				Name:  "chapter",
				Usage: "Print one stored chapter",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "novel", Required: true, Usage: "novel `NAME`"},
					&cli.IntFlag{Name: "id", Required: true, Usage: "chapter `NUMBER`"},
				},
				Action: a.runChapter,
			},
			{
				Name:  "stats",
				Usage: "Show chapter and task counts for a novel",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "novel", Required: true, Usage: "novel `NAME`"},
				},
				Action: a.runStats,
			},
			{
				Name:  "tasks",
				Usage: "Generate and run enrichment tasks",
				Commands: []*cli.Command{
					{
						Name:  "gen",
						Usage: "Queue tasks for a novel's stored chapters",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "novel", Required: true, Usage: "novel `NAME`"},
							&cli.StringFlag{Name: "type", Required: true, Usage: "task `TYPE` (er_claim or embedding)"},
							&cli.BoolFlag{Name: "clear", Usage: "drop existing tasks of this type and requeue everything"},
						},
						Action: a.runTasksGen,
					},
					{
						Name:  "run",
						Usage: "Drain pending tasks of one type",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "type", Required: true, Usage: "task `TYPE` (er_claim or embedding)"},
							&cli.IntFlag{Name: "limit", Usage: "process at most `N` tasks, 0 for all"},
						},
						Action: a.runTasksRun,
					},
				},
			},
			{
				Name:  "missing",
				Usage: "Report missing or empty chapters",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "novel", Required: true, Usage: "novel `NAME`"},
					&cli.BoolFlag{Name: "validate", Usage: "ask the model whether each gap is a real omission"},
					&cli.IntFlag{Name: "max", Value: 10, Usage: "validate at most `N` gaps"},
				},
				Action: a.runMissing,
			},
		},
	}

	err := root.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
