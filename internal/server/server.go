// Package server runs the frame host: COMMS connection (or in-process broker),
// launch service, init state store and the HTTP health/metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/embedrpc/internal/config"
	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
	"github.com/morezero/embedrpc/pkg/db"
	"github.com/morezero/embedrpc/pkg/events"
	"github.com/morezero/embedrpc/pkg/frame"
	"github.com/morezero/embedrpc/pkg/initstore"
)

const logPrefix = "server:server"

const healthTimeout = 5 * time.Second

// Server hosts embedded frames for remote channels.
type Server struct {
	cfg        *config.Config
	ns         *commsserver.Server
	nc         *comms.Conn
	pool       *pgxpool.Pool
	store      initstore.Store
	launcher   *frame.Launcher
	service    *frame.LaunchService
	stateSub   *comms.Subscription
	registry   *prometheus.Registry
	stateCount *prometheus.CounterVec
	observer   events.EventPublisher
	httpServer *http.Server
	clientURL  string
}

// Run loads config, starts the server, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)})))

	slog.Info(fmt.Sprintf("%s - Starting embedrpc", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := Start(ctx, cfg)
	if err != nil {
		return err
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - embedrpc is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Start brings up every component except the HTTP listener. On error anything
// already started is torn down.
func Start(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, clientURL: cfg.COMMSURL}

	// Step 1: optional in-process broker
	if cfg.COMMSEmbedded {
		ns, err := startBroker(cfg.COMMSPort)
		if err != nil {
			return nil, err
		}
		s.ns = ns
		s.clientURL = ns.ClientURL()
	}

	// Step 2: connect
	nc, err := commsutil.Connect(s.clientURL, cfg.COMMSName)
	if err != nil {
		s.Shutdown(ctx)
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 3: init state store
	if err := s.openStore(ctx); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	// Step 4: metrics
	s.registry = prometheus.NewRegistry()
	s.watchStateEvents()

	// Step 5: launcher and launch service
	s.launcher = frame.NewLauncher(bridge.NewCommsBus(nc), s.dispatcherFor)
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "embedrpc",
		Subsystem: "server",
		Name:      "frames",
		Help:      "Frames currently running in this process.",
	}, func() float64 { return float64(len(s.launcher.Active())) }))

	s.service = frame.NewLaunchService(nc, s.launcher)
	if err := s.service.Start(); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	// Step 6: watch lifecycle events
	s.stateSub, err = nc.Subscribe(commsutil.SubjectStateEvent, s.handleStateEvent)
	if err != nil {
		s.Shutdown(ctx)
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, commsutil.SubjectStateEvent, err)
	}
	if err := nc.Flush(); err != nil {
		s.Shutdown(ctx)
		return nil, fmt.Errorf("%s - failed to flush subscriptions: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Serving frames on %s", logPrefix, s.clientURL))
	return s, nil
}

// watchStateEvents sets up the observer that counts and logs lifecycle events
// seen on the global state subject.
func (s *Server) watchStateEvents() {
	s.stateCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedrpc",
		Subsystem: "server",
		Name:      "channel_state_events_total",
		Help:      "Channel lifecycle events observed on the global state subject.",
	}, []string{"to"})
	s.registry.MustRegister(s.stateCount)
	s.observer = events.NewMultiPublisher(
		events.PublisherFunc(func(_ context.Context, event *events.ChannelStateEvent) error {
			s.stateCount.WithLabelValues(event.To).Inc()
			return nil
		}),
		events.NewLogPublisher(logPrefix, nil),
	)
}

func startBroker(port int) (*commsserver.Server, error) {
	if port == 0 {
		port = commsserver.RANDOM_PORT
	}
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create embedded COMMS server: %w", logPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - embedded COMMS server not ready", logPrefix)
	}
	slog.Info(fmt.Sprintf("%s - Embedded COMMS server listening on %s", logPrefix, ns.ClientURL()))
	return ns, nil
}

func (s *Server) openStore(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		store, err := initstore.NewMemoryStore(nil)
		if err != nil {
			return err
		}
		s.store = store
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, init state kept in memory", logPrefix))
		return nil
	}

	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	s.store = initstore.NewPostgresStore(pool, s.cfg.InitNamespace)
	return nil
}

// dispatcherFor gives each frame the builtins plus read/write access to the init state store.
func (s *Server) dispatcherFor(req bridge.EmbedRequest) *frame.Dispatcher {
	d := frame.NewDispatcher()
	frame.RegisterBuiltins(d)

	d.Register("getState", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var in struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &in); err != nil || in.Key == "" {
			return nil, fmt.Errorf("key is required")
		}
		value, err := s.store.Get(ctx, in.Key)
		if errors.Is(err, initstore.ErrNotFound) {
			return nil, fmt.Errorf("no state for key %s", in.Key)
		}
		if err != nil {
			return nil, err
		}
		return value, nil
	})
	d.Register("setState", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var in struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(params, &in); err != nil || in.Key == "" {
			return nil, fmt.Errorf("key is required")
		}
		if err := s.store.Put(ctx, in.Key, in.Value); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
	d.Register("listProcedures", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return d.Procedures(), nil
	})

	slog.Debug(fmt.Sprintf("%s - Dispatcher for %s: %v", logPrefix, req.ContextID, d.Procedures()))
	return d
}

func (s *Server) handleStateEvent(msg *comms.Msg) {
	var event events.ChannelStateEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Debug(fmt.Sprintf("%s - ignoring malformed state event: %v", logPrefix, err))
		return
	}
	if err := s.observer.PublishStateChanged(context.Background(), &event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to record state event for %s: %v", logPrefix, event.ContextID, err))
	}
}

// ClientURL is the COMMS URL clients should connect to.
func (s *Server) ClientURL() string {
	return s.clientURL
}

// Store returns the init state store frames read and write.
func (s *Server) Store() initstore.Store {
	return s.store
}

// Handler serves /, /health, /ready, /frames and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/frames", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]string{"frames": s.launcher.Active()})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

type healthOutput struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Frames    int             `json:"frames"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) health(ctx context.Context) *healthOutput {
	out := &healthOutput{
		Status:    "healthy",
		Checks:    map[string]bool{"comms": s.nc != nil && s.nc.IsConnected()},
		Frames:    len(s.launcher.Active()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.pool != nil {
		out.Checks["database"] = s.pool.Ping(ctx) == nil
	}
	for _, ok := range out.Checks {
		if !ok {
			out.Status = "unhealthy"
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	h := s.health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>embedrpc</title>
  <style>
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; max-width: 900px; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
  </style>
</head>
<body>
  <h1>embedrpc</h1>
  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{.ClientURL}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>
  <section>
    <h2>Frames</h2>
    {{if not .Frames}}
    <p>No frames running.</p>
    {{else}}
    <table>
      <thead><tr><th>Context</th><th>Address</th><th>Initialized</th></tr></thead>
      <tbody>
        {{range .Frames}}
        <tr><td>{{.ContextID}}</td><td>{{.Address}}</td><td>{{.Initialized}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

type frameRow struct {
	ContextID   string
	Address     string
	Initialized bool
}

type homeData struct {
	Health    *healthOutput
	ClientURL string
	Frames    []frameRow
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		data := homeData{Health: s.health(ctx), ClientURL: s.clientURL}
		for _, id := range s.launcher.Active() {
			f, ok := s.launcher.Frame(id)
			if !ok {
				continue
			}
			_, initialized := f.InitVars()
			data.Frames = append(data.Frames, frameRow{ContextID: id, Address: f.Address(), Initialized: initialized})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// Shutdown stops everything Start brought up. Safe on a partially started server.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	if s.stateSub != nil {
		s.stateSub.Unsubscribe()
	}
	if s.service != nil {
		s.service.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.ns != nil {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
	}
}
