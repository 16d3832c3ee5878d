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

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/config"
	"github.com/planexec/executor/internal/eventbus"
	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/httpapi"
	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/notify"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
	"github.com/planexec/executor/internal/recovery"
	"github.com/planexec/executor/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/planexec.yaml", "executor configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	registry := agent.NewRegistry(cfg.Agents)

	referenced, err := referencedAgentTypes(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load blueprints: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateAgentTypes(registry, referenced); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(1)
	}

	busServer, err := eventbus.NewServer(eventbus.ServerConfig{
		Port:          cfg.EventBus.Port,
		WebSocketPort: cfg.EventBus.WebSocketPort,
		JetStream:     cfg.EventBus.JetStream,
		DataDir:       cfg.EventBus.DataDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure event bus: %v\n", err)
		os.Exit(1)
	}
	if err := busServer.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start event bus: %v\n", err)
		os.Exit(1)
	}
	defer busServer.Shutdown()

	bus, err := eventbus.Connect(busServer.URL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to event bus: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	hub := httpapi.NewHub()
	if err := hub.SubscribeBus(bus); err != nil {
		fmt.Fprintf(os.Stderr, "failed to subscribe dashboard hub: %v\n", err)
		os.Exit(1)
	}

	notifier := notify.New(cfg.AppID, fmt.Sprintf("http://localhost%s", cfg.ListenAddr))

	pendingRegistry := pending.NewRegistry()
	queueManager := queue.NewManager(pendingRegistry, bus)
	mutationEngine := mutation.NewEngine(s)

	flags := executor.Flags{
		EnableEchoStrip:       cfg.Driver.EnableEchoStrip,
		SubprocessTimeout:     cfg.Driver.SubprocessTimeout(),
		EvaluationGracePeriod: cfg.Driver.EvaluationGrace(),
	}
	driver := executor.New(s, registry, queueManager, pendingRegistry, mutationEngine, bus, notifier, flags)

	recoverySubsystem := recovery.New(s, registry, driver, cfg.Recovery.AbsoluteDeadline(), cfg.Recovery.PollInterval())
	fmt.Println("running startup recovery pass...")
	if err := recoverySubsystem.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "recovery pass failed: %v\n", err)
		os.Exit(1)
	}
	defer recoverySubsystem.Stop()

	router := httpapi.NewRouter(s, driver, hub)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	fmt.Printf("planexec listening on %s\n", cfg.ListenAddr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
}

// referencedAgentTypes collects every agent_type named by an existing
// blueprint or node, the set config validation must be able to resolve
// before recovery starts touching them.
func referencedAgentTypes(s *store.Store) ([]string, error) {
	blueprints, err := s.ListBlueprints()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, bp := range blueprints {
		add(bp.AgentType)
		nodes, err := s.NodesByBlueprint(bp.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			add(n.AgentType)
		}
	}
	return out, nil
}
