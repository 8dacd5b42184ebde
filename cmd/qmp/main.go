package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"qmp/internal/archive"
	"qmp/internal/config"
	"qmp/internal/entry"
	"qmp/internal/gdocs"
	"qmp/internal/git"
	"qmp/internal/index"
	"qmp/internal/keywords"
	"qmp/internal/logging"
	"qmp/internal/pending"
	"qmp/internal/publish"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "qmp",
		Short: "Publish pipeline for the poetry archive",
	}
	configPath string
	autoMode   bool
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&autoMode, "auto", false, "Assume yes at every prompt (non-interactive)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Run the pipeline without writing files or committing")

	rootCmd.AddCommand(crearCmd)
	rootCmd.AddCommand(cambiarCmd)
	rootCmd.AddCommand(keywordsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(buscarCmd)
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// initOrchestrator wires the full pipeline: config, logging, pulls, keyword
// generation, git. The Gemini client is only created when needed, so read-only
// commands work without an API key.
func initOrchestrator(ctx context.Context, cfg *config.Config, needGenerator bool) (*publish.Orchestrator, error) {
	var gen keywords.Generator
	if needGenerator {
		if cfg.AI.APIKey == "" {
			return nil, fmt.Errorf("AI API key not configured (set QMP_API_KEY or ai.api_key)")
		}
		g, err := keywords.NewGeminiGenerator(ctx, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MinKeywords, cfg.AI.MaxKeywords)
		if err != nil {
			return nil, err
		}
		gen = g
	}

	var prompter publish.Prompter = &publish.TerminalPrompter{In: os.Stdin, Out: os.Stdout}
	if autoMode {
		prompter = publish.AutoPrompter{}
	}

	return &publish.Orchestrator{
		ArchivePath: cfg.Paths.Archive,
		TextosDir:   cfg.Paths.Textos,
		Pending:     pending.NewStore(cfg.Paths.State),
		Puller:      gdocs.NewHTTPPuller(nil, cfg.Docs.PoemsURL, cfg.Docs.AnalysisURL),
		Generator:   gen,
		VCS:         &git.Client{Dir: "."},
		Prompter:    prompter,
		Remote:      cfg.Git.Remote,
		Branch:      cfg.Git.Branch,
		Out:         os.Stdout,
		Log:         logging.New(cfg.LogLevel),
		DryRun:      dryRun,
	}, nil
}

// finish maps a pipeline result to the process exit: a user abort is a clean
// exit 0, anything else is fatal.
func finish(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, publish.ErrAborted) {
		fmt.Println("Saliendo.")
		return
	}
	log.Fatalf("Error: %v", err)
}

var crearCmd = &cobra.Command{
	Use:   "crear [YYYY-MM-DD]",
	Short: "Publish a new entry for the given date (default: day after the newest)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()

		date := ""
		if len(args) > 0 {
			date = args[0]
		} else {
			arc, err := archive.Load(cfg.Paths.Archive)
			if err != nil {
				log.Fatalf("Failed to load archive: %v", err)
			}
			date = publish.NextDate(arc)
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			fmt.Printf("Fecha inferida: %s\n", date)
		}
		if !entry.DateRe.MatchString(date) {
			log.Fatalf("Invalid date %q, want YYYY-MM-DD", date)
		}

		o, err := initOrchestrator(ctx, cfg, true)
		if err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		finish(o.Crear(ctx, date))
	},
}

var cambiarCmd = &cobra.Command{
	Use:   "cambiar YYYY-MM-DD",
	Short: "Re-publish an existing entry with source changes and/or new keywords",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()

		date := args[0]
		if !entry.DateRe.MatchString(date) {
			log.Fatalf("Invalid date %q, want YYYY-MM-DD", date)
		}

		o, err := initOrchestrator(ctx, cfg, true)
		if err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		finish(o.Cambiar(ctx, date))
	},
}

var keywordsCmd = &cobra.Command{
	Use:   "keywords YYYY-MM-DD",
	Short: "Generate keywords for an entry and stage them for the next publish",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()

		if len(args) != 1 || !entry.DateRe.MatchString(args[0]) {
			log.Fatalf("Usage: qmp keywords YYYY-MM-DD")
		}

		o, err := initOrchestrator(ctx, cfg, true)
		if err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		finish(o.RegenerateKeywords(ctx, args[0]))
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the keyword search index from the archive",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()

		arc, err := archive.Load(cfg.Paths.Archive)
		if err != nil {
			log.Fatalf("Failed to load archive: %v", err)
		}

		store, err := index.NewStore(cfg.Paths.Index)
		if err != nil {
			log.Fatalf("Failed to open index database: %v", err)
		}
		defer store.Close()

		if err := store.Rebuild(ctx, arc.Entries); err != nil {
			log.Fatalf("Failed to rebuild index: %v", err)
		}
		fmt.Printf("Index rebuilt: %d entries. Database: %s\n", len(arc.Entries), cfg.Paths.Index)
	},
}

var buscarCmd = &cobra.Command{
	Use:   "buscar WORD",
	Short: "Search published entries by keyword",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()

		store, err := index.NewStore(cfg.Paths.Index)
		if err != nil {
			log.Fatalf("Failed to open index database: %v", err)
		}
		defer store.Close()

		hits, err := store.Search(ctx, args[0])
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		if len(hits) == 0 {
			fmt.Println("Sin resultados. ¿Corriste 'qmp index'?")
			return
		}
		for _, h := range hits {
			title := h.MyPoemTitle
			if title == "" {
				title = "(sin título)"
			}
			fmt.Printf("%s  peso %d  %s", h.Date, h.Weight, title)
			if h.Poet != "" {
				fmt.Printf("  — analiza a %s", h.Poet)
			}
			fmt.Println()
		}
	},
}
