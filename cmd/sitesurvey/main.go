package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	logJSON    bool
	logLevel   string
	storePath  string

	// Output flags
	outputFile string
	pretty     bool
	showStats  bool

	// Crawl flags
	maxPages    int
	concurrency int
	renderJS    bool
	sitemapOnly bool
	timeout     int
	rateLimit   float64
	noProgress  bool

	includePatterns []string
	excludePatterns []string

	// Corpus source for model-backed commands
	inputFile string
	targetURL string

	// Analysis flags
	batchSize int
	save      bool

	// Ask flags
	jsonAnswer bool

	// Serve flags
	addr           string
	allowedOrigins []string
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "sitesurvey",
		Short: "SiteSurvey - website survey for CMS proposals",
		Long: `SiteSurvey - crawls a website's sitemap down to one page per page type and
analyzes the result with a language model.

Produces an RFP document (page types, components, pages, third-party integrations,
recommendations), answers questions about the site and suggests discovery questions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Crawl a site or sitemap",
		Long:  "Crawl a site URL (full sitemap sweep) or a sitemap document and print the assembled corpus.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [target]",
		Short: "Produce an RFP analysis",
		Long:  "Crawl the target (or read a saved crawl with --input) and produce the RFP document.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAnalyze,
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a site",
		Long:  "Answer a question from the crawled content of --url or a saved crawl given with --input.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsk,
	}

	questionsCmd := &cobra.Command{
		Use:   "questions",
		Short: "Suggest discovery questions",
		Long:  "Suggest discovery questions for --url or a saved crawl given with --input.",
		Args:  cobra.NoArgs,
		RunE:  runQuestions,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over WebSocket",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log JSON lines instead of console output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Report store file")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Indent JSON output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Include run statistics in the output")

	for _, cmd := range []*cobra.Command{crawlCmd, analyzeCmd, askCmd, questionsCmd} {
		addCrawlFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{analyzeCmd, askCmd, questionsCmd} {
		cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Saved crawl output to use instead of crawling")
	}
	for _, cmd := range []*cobra.Command{askCmd, questionsCmd} {
		cmd.Flags().StringVarP(&targetURL, "url", "u", "", "Site or sitemap URL to crawl")
	}

	analyzeCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "URLs per model call (0 = automatic)")
	analyzeCmd.Flags().BoolVar(&save, "save", false, "Save the report to the store")

	askCmd.Flags().BoolVar(&jsonAnswer, "json", false, "Print the answer as JSON")

	serveCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origin", nil, "Accepted WebSocket Origin hosts (default: any)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 10, "Maximum page types to fetch")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 8, "Fetches in flight")
	cmd.Flags().BoolVar(&renderJS, "render-js", false, "Render every page in the browser")
	cmd.Flags().BoolVar(&sitemapOnly, "sitemap", false, "Treat the target as a sitemap document")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 30, "Fetch timeout in seconds")
	cmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Requests per second per host (0 = unlimited)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().StringArrayVar(&includePatterns, "include", nil, "URL patterns to include (regex)")
	cmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
}
