package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/devteam-runner/internal/api"
	"github.com/jordanhubbard/devteam-runner/internal/build"
	"github.com/jordanhubbard/devteam-runner/internal/cache"
	"github.com/jordanhubbard/devteam-runner/internal/config"
	"github.com/jordanhubbard/devteam-runner/internal/containers"
	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/internal/idempotency"
	"github.com/jordanhubbard/devteam-runner/internal/keymanager"
	"github.com/jordanhubbard/devteam-runner/internal/logging"
	"github.com/jordanhubbard/devteam-runner/internal/messagebus"
	"github.com/jordanhubbard/devteam-runner/internal/projection"
	"github.com/jordanhubbard/devteam-runner/internal/statemachine"
	runnerclient "github.com/jordanhubbard/devteam-runner/internal/temporal/client"
	temporalmgr "github.com/jordanhubbard/devteam-runner/internal/temporal"
	"github.com/jordanhubbard/devteam-runner/internal/taskexecutor"
	"github.com/jordanhubbard/devteam-runner/internal/telemetry"
	"github.com/jordanhubbard/devteam-runner/internal/worker"
	"github.com/jordanhubbard/devteam-runner/internal/workflow"
	"github.com/jordanhubbard/devteam-runner/internal/wsfabric"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}
	if *showVersion {
		fmt.Printf("devteam-runner v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}

	atomicCfg := config.NewAtomicConfig(cfg)
	reloadStop := make(chan struct{})
	if err := config.WatchReload(*configPath, atomicCfg, reloadStop); err != nil {
		log.Printf("config hot-reload disabled: %v", err)
	}
	defer close(reloadStop)

	var shutdownTelemetry func(context.Context) error
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		shutdownTelemetry, err = telemetry.Init(context.Background(), "devteam-runner", otelEndpoint)
		if err != nil {
			log.Printf("Warning: telemetry init failed: %v", err)
		}
	}
	if shutdownTelemetry != nil {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				log.Printf("telemetry shutdown error: %v", err)
			}
		}()
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	idemStore := idempotency.NewStore(cfg.Database.RedisAddr, "", 0)
	defer idemStore.Close()

	events := database.NewEventStore(db, idemStore)
	executions := database.NewExecutionStore(db)
	taskContexts := database.NewTaskContextStore(db)
	taskLists := database.NewTaskListStore(db)

	logs := logging.NewManager(db.SQL())
	logs.InstallLogInterceptor()

	km := keymanager.NewManager(cfg.Cache.Root + "/.keys.json")
	masterKey := os.Getenv("RUNNER_MASTER_KEY")
	if masterKey == "" {
		log.Printf("Warning: RUNNER_MASTER_KEY not set, using default key manager password")
		masterKey = "devteam-runner-default-key"
	}
	if err := km.Unlock(masterKey); err != nil {
		log.Fatalf("failed to unlock key manager: %v", err)
	}

	cacheMgr := cache.NewManager(cache.Config{
		Root:         cfg.Cache.Root,
		TTL:          cfg.Cache.TTL,
		CloneRetries: cfg.Git.CloneRetries,
		BranchPrefix: cfg.Git.BranchPrefix,
	})

	containerMgr, err := containers.NewManager(containers.Config{
		Image:           cfg.Container.Image,
		CacheRoot:       cfg.Cache.Root,
		CPULimit:        cfg.Container.CPU,
		MemMiB:          cfg.Container.MemMiB,
		GlobalExecLimit: cfg.Container.GlobalLimit,
	})
	if err != nil {
		log.Fatalf("failed to create container manager: %v", err)
	}

	sweepStop := make(chan struct{})
	defer close(sweepStop)
	cacheMgr.StartSweepLoop(context.Background(), cfg.Cache.SweepPeriod, sweepStop)

	verifier := build.NewVerifier(containerMgr, cfg.Workflow.VerifyTimeout)
	executor := taskexecutor.NewExecutor(containerMgr, cfg.Container.ToolBinary, cfg.Workflow.ImplementTimeout)

	machine := &statemachine.Machine{
		Cache:      cacheMgr,
		Containers: containerMgr,
		Executor:   executor,
		Verifier:   verifier,
		TaskLists:  taskLists,
	}
	statemachine.Register(machine)

	engine := workflow.NewEngine(taskContexts)

	proj := projection.NewComputer(executions, taskContexts, taskLists, cfg.Database.RedisAddr, "", 0)

	fabric := wsfabric.New(cfg.WebSocket.MaxFrameBytes, time.Duration(cfg.WebSocket.CoalesceMs)*time.Millisecond)

	tm, err := temporalmgr.NewManager(runnerclient.Config{
		HostPort:  cfg.Workflow.TemporalHostPort,
		TaskQueue: cfg.Workflow.TemporalTaskQueue,
	}, engine, logs, fabric, proj)
	if err != nil {
		log.Fatalf("failed to create temporal manager: %v", err)
	}
	if err := tm.Start(); err != nil {
		log.Fatalf("failed to start temporal worker: %v", err)
	}
	defer tm.Stop()

	queue, err := messagebus.NewQueue(messagebus.Config{
		URL:        cfg.Queue.NATSUrl,
		StreamName: cfg.Queue.StreamName,
	})
	if err != nil {
		log.Fatalf("failed to connect to message queue: %v", err)
	}
	defer queue.Close()

	w := worker.New(queue, executions, taskContexts, tm, fabric, logs, cfg.Workflow.GlobalConcurrency)

	srv := api.NewServer(events, executions, taskContexts, queue, w, tm, proj, fabric, logs)
	handler := otelhttp.NewHandler(srv.Routes(), "devteam-runner-http")

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	go func() {
		log.Printf("devteam-runner listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	_ = containerMgr.StopAll(shutdownCtx)
}

func printHelp() {
	fmt.Println("Usage: runner [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config   Path to configuration file (default: config.yaml)")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -help     Show help message")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  RUNNER_MASTER_KEY           Master password for container secret encryption")
	fmt.Println("  OTEL_EXPORTER_OTLP_ENDPOINT OTLP/gRPC collector endpoint, enables tracing when set")
	fmt.Println("  See SPEC_FULL.md §6.5 for the full environment variable overlay.")
}
