// Package main is the entrypoint for embedrpc.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/embedrpc/internal/config"
	"github.com/morezero/embedrpc/internal/server"
	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
	"github.com/morezero/embedrpc/pkg/db"
	"github.com/morezero/embedrpc/pkg/events"
	"github.com/morezero/embedrpc/pkg/frame"
	"github.com/morezero/embedrpc/pkg/initstore"
	"github.com/morezero/embedrpc/pkg/link"
)

const usage = `Usage: embedrpc [command]
       embedrpc serve                          Host frames over COMMS and serve HTTP health/metrics.
       embedrpc call <procedure> [params-json] Open a channel, call one procedure, print the result.
       embedrpc link [path] [key=value...]     Print the resolved embed address.
       embedrpc migrate up                     Run database migrations.
       embedrpc migrate status                 Show migration status.
       embedrpc ensure-db [name]               Create database if missing (default name: embedrpc_test).
       embedrpc clear [namespace]              Delete init state for a namespace (all namespaces if omitted).

Commands:
  serve           (default) Start the frame host.
  call            Requires a running serve process reachable at COMMS_URL.
  link            Uses EMBED_BASE_URL, EMBED_PATH and CLIENT_ID.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db       Create database on the same host as DATABASE_URL.
  clear           Remove init state rows; schema preserved.

Environment: COMMS_URL, COMMS_EMBEDDED, CLIENT_ID, EMBED_BASE_URL, CALL_TIMEOUT,
DATABASE_URL, MIGRATION_PATH, INIT_NAMESPACE, HTTP_PORT, METRICS_FILE, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		if err := runCall(args[1:]); err != nil {
			log.Fatalf("embedrpc call: %v", err)
		}
		return
	case "link":
		if err := runLink(args[1:]); err != nil {
			log.Fatalf("embedrpc link: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("embedrpc migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("embedrpc migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("embedrpc migrate status: %v", err)
			}
		default:
			log.Fatalf("embedrpc migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "ensure-db":
		dbName := "embedrpc_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("embedrpc ensure-db: %v", err)
		}
		return
	case "clear":
		namespace := ""
		if len(args) > 1 {
			namespace = args[1]
		}
		if err := runClear(namespace); err != nil {
			log.Fatalf("embedrpc clear: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("embedrpc: %v", err)
	}
}

// parseCallArgs splits call arguments into a procedure name and optional JSON params.
func parseCallArgs(args []string) (string, json.RawMessage, error) {
	if len(args) == 0 || args[0] == "" {
		return "", nil, fmt.Errorf("procedure name is required")
	}
	if len(args) > 2 {
		return "", nil, fmt.Errorf("too many arguments")
	}
	if len(args) == 1 {
		return args[0], nil, nil
	}
	params := json.RawMessage(args[1])
	if !json.Valid(params) {
		return "", nil, fmt.Errorf("params must be valid JSON: %s", args[1])
	}
	return args[0], params, nil
}

// parseLinkArgs reads an optional path followed by key=value parameters. An
// argument containing "=" is never taken as the path.
func parseLinkArgs(args []string, defaultPath string) (string, link.Params, error) {
	path := defaultPath
	if len(args) > 0 && !strings.Contains(args[0], "=") {
		path = args[0]
		args = args[1:]
	}
	params := link.Params{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return "", nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		params[key] = value
	}
	return path, params, nil
}

func runLink(args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForLink(); err != nil {
		return err
	}
	path, params, err := parseLinkArgs(args, cfg.EmbedPath)
	if err != nil {
		return err
	}
	address, err := link.NewResolver(cfg.EmbedBaseURL).Resolve(cfg.ClientID, path, params)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func runCall(args []string) error {
	procedure, params, err := parseCallArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address, err := link.NewResolver(cfg.EmbedBaseURL).Resolve(cfg.ClientID, cfg.EmbedPath)
	if err != nil {
		return err
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return err
	}
	defer nc.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	contextID := cfg.ContextID
	if contextID == "" {
		contextID = "cli-" + uuid.NewString()
	}

	registry := prometheus.NewRegistry()
	metrics, err := bridge.NewMetrics(registry)
	if err != nil {
		return err
	}

	ch, err := bridge.Open(ctx, bridge.NewCommsBus(nc), bridge.Config{
		ContextID:     contextID,
		Address:       address,
		Initializer:   initstore.Initializer(store, map[string]interface{}{link.ClientIDParam: cfg.ClientID}),
		CallTimeout:   cfg.CallTimeout,
		ProtocolRange: cfg.ProtocolRange,
	},
		bridge.WithEmbedder(frame.NewCommsLauncher(nc, cfg.LaunchTimeout)),
		bridge.WithPublisher(events.NewMultiPublisher(
			events.NewCommsPublisher(nc, nil),
			events.NewLogPublisher("embedrpc call", nil),
		)),
		bridge.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	result, callErr := ch.Call(ctx, procedure, params)
	if err := ch.Close(); err != nil {
		log.Printf("close channel %s: %v", contextID, err)
	}
	if cfg.MetricsFile != "" {
		if err := writeMetrics(cfg.MetricsFile, registry); err != nil {
			log.Printf("%v", err)
		}
	}
	if callErr != nil {
		return callErr
	}
	fmt.Println(formatResult(result))
	return nil
}

// writeMetrics dumps g to path in the Prometheus text format.
func writeMetrics(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

// formatResult indents a JSON result for the terminal. Empty results print as null.
func formatResult(result json.RawMessage) string {
	if len(result) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return string(result)
	}
	return buf.String()
}

// openStore returns the Postgres store when DATABASE_URL is set, otherwise an empty memory store.
func openStore(ctx context.Context, cfg *config.Config) (initstore.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		store, err := initstore.NewMemoryStore(nil)
		return store, func() {}, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return initstore.NewPostgresStore(pool, cfg.InitNamespace), pool.Close, nil
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	state, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	for _, name := range state.Applied {
		fmt.Printf("applied  %s\n", name)
	}
	for _, name := range state.Pending {
		fmt.Printf("pending  %s\n", name)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL, err := withDatabase(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// withDatabase swaps the database name in a connection URL, keeping the query (e.g. sslmode).
func withDatabase(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runClear(namespace string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearNamespace(ctx, pool, namespace); err != nil {
		return fmt.Errorf("clear init state: %w", err)
	}
	return nil
}
