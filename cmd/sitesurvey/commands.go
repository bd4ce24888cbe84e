package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/sitesurvey/internal/corpus"
	"github.com/PentesterFlow/sitesurvey/internal/logger"
	"github.com/PentesterFlow/sitesurvey/internal/output"
	"github.com/PentesterFlow/sitesurvey/internal/progress"
	"github.com/PentesterFlow/sitesurvey/internal/server"
	"github.com/PentesterFlow/sitesurvey/internal/shutdown"
	"github.com/PentesterFlow/sitesurvey/internal/store"
	"github.com/PentesterFlow/sitesurvey/pkg/survey"
)

// app is what every command needs: the survey, its logger and the
// shutdown handler owning the root context.
type app struct {
	cfg      *survey.Config
	log      *logger.Logger
	survey   *survey.Survey
	shutdown *shutdown.Handler
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(log)

	s, err := survey.New(survey.WithConfig(cfg), survey.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create survey: %w", err)
	}

	h := shutdown.New(context.Background(), shutdown.DefaultConfig(), log)
	h.RegisterCloser("survey", s)
	return &app{cfg: cfg, log: log, survey: s, shutdown: h}, nil
}

func (a *app) close() {
	if err := a.shutdown.Shutdown(); err != nil {
		a.log.WithError(err).Warn("Shutdown finished with errors")
	}
}

func loadConfig(cmd *cobra.Command) (*survey.Config, error) {
	cfg := survey.DefaultConfig()
	if configFile != "" {
		fileConfig, err := survey.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = fileConfig
	}
	cfg.LLM.ApplyEnv()

	// Command-line flags take precedence
	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPages = maxPages
	}
	if flags.Changed("concurrency") {
		cfg.Crawl.Concurrency = concurrency
	}
	if flags.Changed("render-js") {
		cfg.Crawl.RenderJS = renderJS
	}
	if flags.Changed("timeout") {
		cfg.Crawl.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("rate-limit") {
		cfg.Crawl.RequestsPerSecond = rateLimit
	}
	if len(includePatterns) > 0 {
		cfg.Crawl.Scope.IncludePatterns = append(cfg.Crawl.Scope.IncludePatterns, includePatterns...)
	}
	if len(excludePatterns) > 0 {
		cfg.Crawl.Scope.ExcludePatterns = append(cfg.Crawl.Scope.ExcludePatterns, excludePatterns...)
	}
	if flags.Changed("batch-size") {
		cfg.Analysis.BatchSize = batchSize
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	cfg.Verbose = cfg.Verbose || verbose
	cfg.Debug = cfg.Debug || debug
	return cfg, nil
}

func newLogger(cfg *survey.Config) (*logger.Logger, error) {
	level := logger.WarnLevel
	if cfg.Debug {
		level = logger.DebugLevel
	} else if cfg.Verbose {
		level = logger.InfoLevel
	}
	if logLevel != "" {
		parsed, err := logger.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		level = parsed
	}
	return logger.New(logger.Config{Level: level, Pretty: !logJSON, Output: os.Stderr}), nil
}

func openOutput() (*output.Writer, error) {
	return output.Open(output.Config{Pretty: pretty, FilePath: outputFile})
}

func openStore(a *app) (store.Store, error) {
	if a.cfg.Store.Path == "" {
		return nil, fmt.Errorf("no report store configured (use --store or store.path)")
	}
	st, err := store.NewBoltStore(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.shutdown.RegisterCloser("store", st)
	return st, nil
}

// crawl runs a crawl with the progress bar unless logging is verbose.
func crawl(a *app, target string) (*corpus.CrawlResult, error) {
	opts := survey.CrawlOptions{Sitemap: sitemapOnly}

	var display *progress.Display
	if !noProgress && !a.cfg.Verbose && !a.cfg.Debug {
		display = progress.New()
		display.Start(target)
		opts.OnProgress = display.Observe
	}

	res, err := a.survey.Crawl(a.shutdown.Context(), target, opts)
	if display != nil {
		display.Stop()
		if err == nil {
			display.PrintSummary(len(res.URLs))
		}
	}
	return res, err
}

// source returns the corpus from --input, or crawls target.
func source(a *app, target string) (*corpus.CrawlResult, string, error) {
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read input: %w", err)
		}
		var saved output.CrawlOutput
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil, "", fmt.Errorf("failed to parse input: %w", err)
		}
		return &corpus.CrawlResult{Corpus: saved.Corpus, URLs: saved.URLs}, saved.Target, nil
	}
	if target == "" {
		return nil, "", fmt.Errorf("a target URL or --input is required")
	}
	res, err := crawl(a, target)
	return res, target, err
}

func stats(a *app) map[string]interface{} {
	return output.Stats(a.survey.Metrics().Snapshot(), showStats)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := crawl(a, args[0])
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	w, err := openOutput()
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Write(output.CrawlOutput{Target: args[0], Corpus: res.Corpus, URLs: res.URLs, Stats: stats(a)})
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var target string
	if len(args) > 0 {
		target = args[0]
	}
	res, target, err := source(a, target)
	if err != nil {
		return err
	}

	var st store.Store
	if save {
		if st, err = openStore(a); err != nil {
			return err
		}
	}

	doc, err := a.survey.Analyze(a.shutdown.Context(), res.Corpus, res.URLs, batchSize)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	out := output.AnalysisOutput{Target: target, URLs: res.URLs, Document: doc, Stats: stats(a)}
	if st != nil {
		report := &store.Report{SiteURL: target, Crawl: *res, Document: doc}
		if err := st.Save(report); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		out.ReportID = report.ID
		a.log.Infof("Saved report %s", report.ID)
	}

	w, err := openOutput()
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Write(out)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	res, _, err := source(a, targetURL)
	if err != nil {
		return err
	}

	answer, err := a.survey.Ask(a.shutdown.Context(), args[0], res.Corpus)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	w, err := openOutput()
	if err != nil {
		return err
	}
	defer w.Close()
	if jsonAnswer {
		return w.Write(output.AnswerOutput{Question: args[0], Answer: answer})
	}
	return w.WriteText(answer)
}

func runQuestions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	res, _, err := source(a, targetURL)
	if err != nil {
		return err
	}

	qs, err := a.survey.SuggestQuestions(a.shutdown.Context(), res.Corpus)
	if err != nil {
		return fmt.Errorf("question suggestion failed: %w", err)
	}

	w, err := openOutput()
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Write(output.QuestionsOutput{Questions: qs})
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var st store.Store
	if a.cfg.Store.Path != "" {
		if st, err = openStore(a); err != nil {
			return err
		}
	}

	cfg := server.DefaultConfig()
	cfg.Addr = addr
	cfg.AllowedOrigins = allowedOrigins
	srv := server.New(cfg, a.survey, st, a.log)
	a.shutdown.Register("server", srv.Shutdown)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-a.shutdown.Context().Done():
		return nil
	}
}
