package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/TobiSchelling/newswave/internal/client"
	"github.com/TobiSchelling/newswave/internal/collect"
	"github.com/TobiSchelling/newswave/internal/config"
	"github.com/TobiSchelling/newswave/internal/database"
	"github.com/TobiSchelling/newswave/internal/fetch"
	"github.com/TobiSchelling/newswave/internal/llm"
	"github.com/TobiSchelling/newswave/internal/search"
	"github.com/TobiSchelling/newswave/internal/server"
	"github.com/TobiSchelling/newswave/internal/session"
	"github.com/TobiSchelling/newswave/internal/summarize"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newswave",
	Short:   "News search in two waves",
	Long:    "NewsWave answers searches instantly from its index while a background task crawls, summarizes, and appends fresh articles.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newswave", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newswave/",
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
		fmt.Println("Edit it to configure sources, API keys, and the summarization provider.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search server and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		source := collect.NewNewsAPIClient(cfg.Sources.NewsAPI.APIKeyEnv, cfg.Sources.NewsAPI.Language)
		fetcher := fetch.NewContentFetcher(cfg.Content)
		provider := llm.CreateProvider(cfg.Summarization)
		summarizer := summarize.New(provider, cfg.Summarization)

		srv, err := server.New(cfg, db, source, fetcher, summarizer)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://127.0.0.1:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
}

// --- collect command ---

var (
	collectHeadlines bool
	collectCountry   string
	collectCategory  string
	collectQuery     string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect articles from configured sources into the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		collector := collect.NewCollector(cfg, db, cfg.Search.WindowDays)
		ctx := context.Background()

		var result *collect.Result
		if collectHeadlines {
			country := collectCountry
			if country == "" {
				country = cfg.Sources.NewsAPI.Country
			}
			fmt.Printf("Collecting top headlines for %s...\n", country)
			result, err = collector.CollectHeadlines(ctx, country, collectCategory)
			if err != nil {
				return err
			}
		} else {
			fmt.Println("Collecting articles from sources...")
			result = collector.Collect(ctx, collectQuery)
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New articles: %d\n", result.NewArticles)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)

		if len(result.Sources) > 0 {
			fmt.Println("\nArticles by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectHeadlines, "headlines", false, "Collect top headlines instead of feeds")
	collectCmd.Flags().StringVar(&collectCountry, "country", "", "Headlines country code (default from config)")
	collectCmd.Flags().StringVar(&collectCategory, "category", "", "Headlines category")
	collectCmd.Flags().StringVar(&collectQuery, "query", "", "Also collect NewsAPI results for this query")
}

// --- search command ---

var (
	searchDetach  bool
	searchPage    int
	searchPerPage int
	searchTimeout int
	searchServer  string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search news: immediate results now, crawled results as they arrive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := cfg.Search.DefaultQuery
		if len(args) == 1 {
			query = args[0]
		}

		base := searchServer
		if base == "" {
			base = cfg.ServerURL()
		}
		api := client.New(base)

		if searchDetach {
			resp, err := api.StartSearch(context.Background(), query, cfg.Search.BackgroundPageSize)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			fmt.Printf("Task ID: %s\n", resp.TaskID)
			fmt.Printf("Status:  %s%s\n", base, resp.CheckURL)
			return nil
		}

		if searchPage > 1 {
			return runPagedSearch(api, query)
		}
		return runLiveSearch(api, query)
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchDetach, "detach", false, "Start the background task and exit without waiting")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "Result page (pages beyond 1 skip the background wave)")
	searchCmd.Flags().IntVar(&searchPerPage, "per-page", 0, "Results per page (default from config)")
	searchCmd.Flags().IntVar(&searchTimeout, "timeout", 0, "Max seconds to wait on the background task (default from config)")
	searchCmd.Flags().StringVar(&searchServer, "server", "", "Server base URL (default from config)")
}

// runPagedSearch fetches one page of indexed results without driving a
// session. The server may still spawn a background task for an
// underfilled page; its ID is printed so it can be followed with
// 'newswave tasks'.
func runPagedSearch(api *client.Client, query string) error {
	perPage := searchPerPage
	if perPage <= 0 {
		perPage = cfg.Search.PerPage
	}

	result, err := api.PaginatedSearch(context.Background(), query, searchPage, perPage)
	if err != nil {
		return err
	}

	fmt.Println(result.Message)
	printArticles(result.Articles, (searchPage-1)*perPage)
	if result.BackgroundTaskID != "" {
		fmt.Printf("\nBackground task: %s\n", result.BackgroundTaskID)
	}
	return nil
}

// runLiveSearch drives a full search session: print the immediate
// wave, stream progress of the background task, then print whatever
// the merge appended.
func runLiveSearch(api *client.Client, query string) error {
	perPage := searchPerPage
	if perPage <= 0 {
		perPage = cfg.Search.PerPage
	}
	timeout := time.Duration(cfg.Search.PollTimeoutSec) * time.Second
	if searchTimeout > 0 {
		timeout = time.Duration(searchTimeout) * time.Second
	}

	ctrl := session.New(api, session.Config{
		PerPage:      perPage,
		PollInterval: time.Duration(cfg.Search.PollIntervalMS) * time.Millisecond,
		PollTimeout:  timeout,
	})
	defer ctrl.Close()

	fmt.Printf("Searching for %q...\n", query)
	ctrl.SubmitQuery(query)

	shown := 0
	immediateShown := false
	lastMessage := ""
	for st := range ctrl.Updates() {
		if st.Err != nil {
			return fmt.Errorf("search failed: %w", st.Err)
		}

		if !immediateShown && st.Phase != session.PhaseLoading {
			immediateShown = true
			lastMessage = st.Message
			fmt.Println(st.Message)
			printArticles(st.Articles, 0)
			shown = len(st.Articles)
			if st.Polling() {
				fmt.Println()
			}
		}

		if st.Polling() && st.Message != lastMessage {
			lastMessage = st.Message
			fmt.Printf("  [%3d%%] %s\n", st.Progress, st.Message)
		}

		if st.Phase == session.PhaseFinalized {
			if st.Notice != "" {
				fmt.Printf("\nBackground search: %s\n", st.Notice)
			}
			if extra := len(st.Articles) - shown; extra > 0 {
				fmt.Printf("\n%d new article(s) from the background search:\n", extra)
				printArticles(st.Articles[shown:], shown)
			}
			return nil
		}
	}
	return nil
}

func printArticles(articles []search.Article, offset int) {
	if len(articles) == 0 {
		fmt.Println("  (no articles)")
		return
	}
	for i, a := range articles {
		fmt.Printf("%3d. %s\n", offset+i+1, a.Title)
		if a.Summary != "" {
			fmt.Printf("     %s\n", a.Summary)
		}
		fmt.Printf("     %s\n", a.URL)
	}
}

// --- tasks command ---

var tasksCmd = &cobra.Command{
	Use:   "tasks [taskID]",
	Short: "List background search tasks, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(cfg.ServerURL())
		ctx := context.Background()

		if len(args) == 1 {
			task, err := api.TaskStatus(ctx, args[0])
			if errors.Is(err, client.ErrNotFound) {
				fmt.Println("Task not found")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Task:     %s\n", task.TaskID)
			fmt.Printf("Query:    %s\n", task.Query)
			fmt.Printf("Status:   %s (%d%%)\n", task.Status, task.Progress)
			fmt.Printf("Message:  %s\n", task.Message)
			if task.Error != "" {
				fmt.Printf("Error:    %s\n", task.Error)
			}
			fmt.Printf("Started:  %s\n", task.StartedAt)
			fmt.Printf("Articles: %d\n", len(task.Articles))
			return nil
		}

		list, err := api.ListTasks(ctx)
		if err != nil {
			return err
		}
		if list.Total == 0 {
			fmt.Println("No tasks")
			return nil
		}
		fmt.Printf("%d task(s):\n", list.Total)
		for _, t := range list.Tasks {
			fmt.Printf("  %s  %-20s %3d%%  %q\n", t.TaskID, t.Status, t.Progress, t.Query)
		}
		return nil
	},
}

// --- cancel command ---

var cancelCmd = &cobra.Command{
	Use:   "cancel <taskID>",
	Short: "Cancel a background search task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(cfg.ServerURL())
		err := api.CancelTask(context.Background(), args[0])
		if errors.Is(err, client.ErrNotFound) {
			fmt.Println("Task not found (it may already be gone)")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Cancelled task %s\n", args[0])
		return nil
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Index:")
		fmt.Printf("  Articles:   %d\n", stats.TotalArticles)
		fmt.Printf("  Summarized: %d\n", stats.Summarized)
		fmt.Printf("  Sources:    %d\n", stats.Sources)
		fmt.Printf("  Searches:   %d\n", stats.Searches)
		return nil
	},
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.RecentSearches(historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No searches recorded")
			return nil
		}

		for _, rec := range records {
			when := ""
			if rec.SearchedAt != nil {
				when = *rec.SearchedAt
			}
			line := fmt.Sprintf("  %s  %q (%d immediate)", when, rec.Query, rec.TotalImmediate)
			if rec.TaskID != nil {
				line += "  task " + *rec.TaskID
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of searches to show")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "newswave.db")
	return database.Open(dbPath)
}
