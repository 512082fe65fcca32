package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/logging"
	"github.com/joescharf/issuetrack/internal/output"
	"github.com/joescharf/issuetrack/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "issuetrack",
	Short: "Issue tracker - REST API, CLI and MCP tools over a document store",
	Long: `issuetrack tracks issues (title, description, status, priority, assignee)
in MongoDB or an embedded SQLite database.

It serves a REST API, exposes the same operations as MCP tools, and
provides a CLI for working with issues directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/issuetrack/config.yaml)")
	rootCmd.PersistentFlags().String("driver", "", "Store driver: mongo or sqlite")
	_ = viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("driver"))
}

func initConfig() {
	configDir, err := configDirFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ISSUETRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(configDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(configDir string) {
	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("store.driver", store.DriverMongo)
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "issue_tracker")
	viper.SetDefault("mongo.collection", "issues")
	viper.SetDefault("sqlite.path", filepath.Join(configDir, "issues.db"))
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.debug", false)
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", logging.FormatText)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config and version work without a database.
}

// storeConfig assembles the backend configuration from viper.
func storeConfig() store.Config {
	return store.Config{
		Driver:          strings.ToLower(viper.GetString("store.driver")),
		MongoURI:        viper.GetString("mongo.uri"),
		MongoDatabase:   viper.GetString("mongo.database"),
		MongoCollection: viper.GetString("mongo.collection"),
		SQLitePath:      viper.GetString("sqlite.path"),
	}
}

// getStore returns the shared store, connecting on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	cfg := storeConfig()
	ui.VerboseLog("Opening %s store", cfg.Driver)

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getRepository returns a repository over the shared store.
func getRepository() (*issues.Repository, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return issues.NewRepository(s), nil
}

// newLogger builds the process logger from the log.* settings.
func newLogger() *slog.Logger {
	return logging.New(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
}
