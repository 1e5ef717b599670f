// Command marcusd is the coordination daemon from spec §6: it loads
// configuration, dials the configured kanban provider, and serves the
// JSON-RPC tool-calling surface worker agents drive over stdio or SSE.
// Wiring order and flag/signal handling are adapted from the teacher's
// cmd/cliaimonitor/main.go (flag parsing, graceful shutdown on
// SIGINT/SIGTERM, printed startup banner).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/coordinator"
	"github.com/CLIAIMONITOR/internal/eventstream"
	"github.com/CLIAIMONITOR/internal/health"
	"github.com/CLIAIMONITOR/internal/kanban"
	"github.com/CLIAIMONITOR/internal/kanbanwriter"
	"github.com/CLIAIMONITOR/internal/ledger"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/persistence"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigInvalid  = 1
	exitProviderUnreachable = 2
)

func main() {
	configPath := flag.String("config", "configs/marcus.yaml", "marcusd YAML configuration file")
	transport := flag.String("transport", "stdio", "tool-call transport: stdio or sse")
	flag.Parse()
	os.Exit(run(*configPath, *transport))
}

func run(configPath, transport string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: %v\n", err)
		return exitConfigInvalid
	}

	fmt.Printf("marcusd starting: provider=%s transport=%s\n", cfg.Provider, transport)

	provider, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: %v\n", err)
		return exitProviderUnreachable
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := provider.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: connect provider: %v\n", err)
		if cfg.StrictMode {
			return exitProviderUnreachable
		}
		fmt.Fprintln(os.Stderr, "marcusd: continuing in non-strict mode; provider calls will retry")
	}

	store := persistence.NewFileStore(cfg.PersistencePath)
	assignments, err := store.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: load persisted assignments: %v\n", err)
		return exitConfigInvalid
	}
	fmt.Printf("marcusd: restored %d active assignment(s) from %s\n", len(assignments), cfg.PersistencePath)

	embeddedNATS, writer, wrappedProvider, err := wireWriteBus(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: %v\n", err)
		return exitProviderUnreachable
	}
	defer writer.Close()
	defer embeddedNATS.Shutdown()

	var ledgerImpl *ledger.Ledger
	if cfg.LedgerPath != "" {
		ledgerImpl, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marcusd: open ledger: %v\n", err)
			return exitConfigInvalid
		}
		defer ledgerImpl.Close()
	}
	var coordLedger coordinator.Ledger
	var healthLedger health.Ledger
	if ledgerImpl != nil {
		coordLedger = ledgerImpl
		healthLedger = ledgerImpl
	}

	hub := eventstream.NewHub()
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)

	// srv is built before the coordinator/monitor so their EventSink can
	// fan events out to both the out-of-core visualization hub and any
	// agent holding an open SSE stream.
	srv := mcp.NewServer(cfg.AuthTokens)
	events := fanoutSink{hub: eventstream.HubEventSink{Hub: hub}, srv: srv}

	srv.SetConnectionCallbacks(
		func(agentID string) { fmt.Printf("marcusd: SSE connection opened for agent %s\n", agentID) },
		func(agentID string) { fmt.Printf("marcusd: SSE connection closed for agent %s\n", agentID) },
	)
	srv.SetPresenceCallbacks(
		func(agentID string) { events.Publish(string(eventstream.EventAgentConnected), map[string]string{"agent_id": agentID}) },
		func(agentID string) { events.Publish(string(eventstream.EventAgentDisconnected), map[string]string{"agent_id": agentID}) },
	)
	srv.StartPresenceMonitor()
	defer srv.StopPresenceMonitor()

	adapter := ai.NewLLMAdapter(ai.DefaultConfig(cfg.AIAPIKey), buildCompleter(cfg))

	coord := coordinator.New(wrappedProvider, store, adapter, events, coordLedger)
	coord.Restore(assignments)

	monitor := health.New(coord, wrappedProvider, store, events, healthLedger).
		WithInterval(cfg.MonitorInterval()).
		WithStaleThreshold(cfg.StallThreshold())

	monitorDone := make(chan struct{})
	go monitor.Run(ctx, monitorDone)
	defer close(monitorDone)

	mcp.RegisterMarcusTools(srv, coord, monitor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	switch transport {
	case "stdio":
		return runStdio(ctx, cancel, srv, sigCh)
	case "sse":
		return runSSE(ctx, cancel, cfg, srv, hub, sigCh)
	default:
		fmt.Fprintf(os.Stderr, "marcusd: unknown transport %q (want stdio or sse)\n", transport)
		return exitConfigInvalid
	}
}

// fanoutSink publishes every coordinator/monitor event to the
// out-of-core visualization hub and broadcasts it to every agent
// holding a live SSE stream, so an agent can observe board-wide state
// changes (e.g. a teammate's task completing) without polling.
type fanoutSink struct {
	hub eventstream.HubEventSink
	srv *mcp.Server
}

func (f fanoutSink) Publish(eventType string, payload interface{}) {
	f.hub.Publish(eventType, payload)
	f.srv.Broadcast(eventType, payload)
}

// buildProvider constructs the configured kanban.Provider. Only the
// in-core memory reference backend is available in this build; Planka,
// GitHub, and Linear clients are out-of-core (spec §1) and config
// validation still requires their credentials so an operator's config
// file is ready the day a concrete client is wired in.
func buildProvider(cfg *config.Config) (kanban.Provider, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		return kanban.NewMemoryProvider(nil), nil
	default:
		return nil, fmt.Errorf("provider %q has no in-core client in this build; use provider: memory", cfg.Provider)
	}
}

// buildCompleter wires the optional LLM backend. An empty AIAPIKey
// leaves the adapter on its deterministic fallback path (spec §4.6).
func buildCompleter(cfg *config.Config) ai.Completer {
	if cfg.AIAPIKey == "" {
		return nil
	}
	return ai.NewHTTPCompleter("https://api.openai.com/v1/chat/completions", cfg.AIAPIKey, "gpt-4o-mini")
}

// wireWriteBus starts the embedded NATS server and the single kanban
// writer goroutine, then wraps provider so progress/status/comment
// calls route through it (spec §9 Design Notes message-passing model).
func wireWriteBus(provider kanban.Provider) (*kanbanwriter.EmbeddedServer, *kanbanwriter.Writer, kanban.Provider, error) {
	srv, err := kanbanwriter.NewEmbeddedServer(kanbanwriter.EmbeddedServerConfig{Port: 0})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("start embedded write bus: %w", err)
	}
	if err := srv.Start(kanbanwriter.EmbeddedServerConfig{Port: 0}); err != nil {
		return nil, nil, nil, fmt.Errorf("start embedded write bus: %w", err)
	}

	writer, err := kanbanwriter.NewWriter(srv.URL(), provider)
	if err != nil {
		srv.Shutdown()
		return nil, nil, nil, fmt.Errorf("start kanban writer: %w", err)
	}

	return srv, writer, kanbanwriter.NewSerializingProvider(provider, writer), nil
}

func runStdio(ctx context.Context, cancel context.CancelFunc, srv *mcp.Server, sigCh chan os.Signal) int {
	go func() {
		<-sigCh
		cancel()
	}()

	stdio := mcp.NewStdio(srv, os.Stdin, os.Stdout)
	if err := stdio.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "marcusd: stdio transport: %v\n", err)
		return exitConfigInvalid
	}
	return exitOK
}

func runSSE(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, srv *mcp.Server, hub *eventstream.Hub, sigCh chan os.Signal) int {
	router := mux.NewRouter()
	router.HandleFunc("/sse", srv.ServeSSE)
	router.HandleFunc("/sse/messages", srv.ServeMessage)
	router.HandleFunc("/events", hub.ServeWS)

	httpSrv := &http.Server{Addr: cfg.SSEAddr, Handler: router}

	serverErr := make(chan error, 1)
	go func() { serverErr <- httpSrv.ListenAndServe() }()

	fmt.Printf("marcusd: SSE transport listening on %s\n", cfg.SSEAddr)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "marcusd: sse transport: %v\n", err)
			cancel()
			return exitConfigInvalid
		}
	case <-sigCh:
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	return exitOK
}
