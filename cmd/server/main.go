package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mnohosten/memdb/pkg/audit"
	"github.com/mnohosten/memdb/pkg/config"
	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/impex"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/metrics"
	"github.com/mnohosten/memdb/pkg/server"
)

var (
	v          = viper.New()
	configFile string
	imports    []string
)

var rootCmd = &cobra.Command{
	Use:           "memdb-server",
	Short:         "Serve an in-memory document database over HTTP",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

var gencertCmd = &cobra.Command{
	Use:   "gencert <cert-file> <key-file>",
	Short: "Write a self-signed certificate for --host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := v.GetString("server.host")
		if err := server.WriteSelfSignedCert(args[0], args[1], host); err != nil {
			return err
		}
		fmt.Printf("wrote certificate for %s to %s and %s\n", host, args[0], args[1])
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("host", "localhost", "server host address")
	flags.Int("port", 8080, "server port")
	flags.String("db", "db", "database name")
	flags.Int("max-documents", database.DefaultMaxDocuments, "per-collection document ceiling")
	flags.Duration("slow-op", 0, "log operations slower than this; 0 disables")
	flags.String("audit-log", "", "append committed mutations to this file as JSON lines")
	flags.StringSlice("cors-origin", []string{"*"}, "CORS allowed origins")
	flags.Bool("gzip", true, "compress responses")
	flags.Float64("rate-limit", 0, "requests per second per client; 0 disables")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS private key file")
	flags.Bool("tls-self-signed", false, "serve TLS with an in-memory self-signed certificate")
	flags.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "text", "log format (text or json)")

	rootCmd.Flags().StringArrayVar(&imports, "import", nil, "load a .json, .ndjson or .csv file (optionally .gz or .zst) before serving, as collection=path")

	bindings := map[string]string{
		"server.host":                "host",
		"server.port":                "port",
		"database.name":              "db",
		"database.max_documents":     "max-documents",
		"database.slow_op_threshold": "slow-op",
		"database.audit_log":         "audit-log",
		"server.allowed_origins":     "cors-origin",
		"server.enable_compression":  "gzip",
		"server.rate_limit":          "rate-limit",
		"server.tls_cert_file":       "tls-cert",
		"server.tls_key_file":        "tls-key",
		"server.self_signed_tls":     "tls-self-signed",
		"logging.level":              "log-level",
		"logging.format":             "log-format",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(gencertCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	col := metrics.NewCollector("memdb")
	db := database.New(database.Config{
		Name:              cfg.Database.Name,
		MaxDocuments:      cfg.Database.MaxDocuments,
		ParallelThreshold: cfg.Database.ParallelThreshold,
		RegexCacheSize:    cfg.Database.RegexCacheSize,
		ScriptCacheSize:   cfg.Database.ScriptCacheSize,
		SlowOpThreshold:   cfg.Database.SlowOpThreshold,
		Logger:            log,
		Metrics:           col,
	})
	defer db.Close()

	if cfg.Database.AuditLog != "" {
		trail, err := audit.NewFileLogger(cfg.Database.AuditLog, audit.DefaultConfig())
		if err != nil {
			return err
		}
		if err := trail.Attach(db.Changes()); err != nil {
			trail.Close()
			return err
		}
		defer trail.Close()
		log.Info("audit log enabled", "file", cfg.Database.AuditLog)
	}

	for _, spec := range imports {
		if err := importFile(db, spec); err != nil {
			return err
		}
	}

	srv, err := server.New(cfg.Server, db, log, col)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(cmd.Context())
}

// importFile loads collection=path into db
func importFile(db *database.Database, spec string) error {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("invalid --import %q, want collection=path", spec)
	}
	if _, err := impex.ImportFile(db, name, path, impex.Options{}); err != nil {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
