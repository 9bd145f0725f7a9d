// Command flowrund runs the workflow execution engine daemon: it wires the
// configured stores, the node registry, and the engine behind the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	budgetredis "github.com/flowmesh/flowrun/features/budget/redis"
	executionmongo "github.com/flowmesh/flowrun/features/execution/mongo"
	executionclients "github.com/flowmesh/flowrun/features/execution/mongo/clients/mongo"
	objectredis "github.com/flowmesh/flowrun/features/objectstore/redis"
	streampulse "github.com/flowmesh/flowrun/features/stream/pulse"
	pulseclients "github.com/flowmesh/flowrun/features/stream/pulse/clients/pulse"
	transporthttp "github.com/flowmesh/flowrun/features/transport/http"
	workflowmongo "github.com/flowmesh/flowrun/features/workflow/mongo"
	workflowclients "github.com/flowmesh/flowrun/features/workflow/mongo/clients/mongo"

	"github.com/flowmesh/flowrun/config"
	corenodes "github.com/flowmesh/flowrun/nodes/core"
	mathnodes "github.com/flowmesh/flowrun/nodes/math"
	medianodes "github.com/flowmesh/flowrun/nodes/media"
	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/budget"
	"github.com/flowmesh/flowrun/runtime/workflow/engine"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	executioninmem "github.com/flowmesh/flowrun/runtime/workflow/execution/inmem"
	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
	objectinmem "github.com/flowmesh/flowrun/runtime/workflow/objectstore/inmem"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
	"github.com/flowmesh/flowrun/runtime/workflow/telemetry"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if *dbgF || cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	reg := registry.New()
	mathnodes.MustRegister(reg)
	corenodes.MustRegister(reg)
	medianodes.MustRegister(reg)

	var pingers []health.Pinger

	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	var (
		workflows  workflow.Store
		executions execution.Store
	)
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoClient, err := mongodriver.Connect(connectCtx, mongooptions.Client().ApplyURI(cfg.MongoURI))
		cancel()
		if err != nil {
			log.Fatalf(ctx, err, "connect mongo")
		}
		defer func() {
			_ = mongoClient.Disconnect(context.Background())
		}()

		wfClient, err := workflowclients.New(workflowclients.Options{
			Client:   mongoClient,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			log.Fatalf(ctx, err, "build workflow mongo client")
		}
		workflows, err = workflowmongo.NewStore(wfClient)
		if err != nil {
			log.Fatalf(ctx, err, "build workflow store")
		}
		execClient, err := executionclients.New(executionclients.Options{
			Client:   mongoClient,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			log.Fatalf(ctx, err, "build execution mongo client")
		}
		executions, err = executionmongo.NewStore(execClient)
		if err != nil {
			log.Fatalf(ctx, err, "build execution store")
		}
		pingers = append(pingers, wfClient, execClient)
	} else {
		log.Infof(ctx, "mongo not configured, using in-memory stores")
		workflows = staticWorkflows{}
		executions = executioninmem.New()
	}

	var objects objectstore.Store
	var meter budget.Meter
	var broadcast stream.Sink
	if redisClient != nil {
		pulseClient, err := pulseclients.New(pulseclients.Options{Redis: redisClient})
		if err != nil {
			log.Fatalf(ctx, err, "build pulse client")
		}
		streams, err := streampulse.NewEngineStreams(streampulse.EngineStreamsOptions{Client: pulseClient})
		if err != nil {
			log.Fatalf(ctx, err, "build engine streams")
		}
		defer func() {
			_ = streams.Close(context.Background())
		}()
		broadcast = streams.Sink()
		store, err := objectredis.New(objectredis.Options{
			Redis:   redisClient,
			BaseURL: "http://" + cfg.HTTPAddr + "/objects",
			Secret:  []byte(cfg.PresignSecret),
		})
		if err != nil {
			log.Fatalf(ctx, err, "build object store")
		}
		objects = store
		m, err := budgetredis.New(budgetredis.Options{Redis: redisClient})
		if err != nil {
			log.Fatalf(ctx, err, "build budget meter")
		}
		meter = m
	} else {
		log.Infof(ctx, "redis not configured, using in-memory object store and budget meter")
		objects = objectinmem.New()
		meter = budget.NewInMemMeter(nil)
	}

	eng, err := engine.New(engine.Options{
		Workflows:    workflows,
		Executions:   executions,
		Registry:     reg,
		Objects:      objects,
		Meter:        meter,
		Parallelism:  cfg.MaxNodeParallelism,
		NodeDeadline: cfg.NodeDeadline(),
		DispatchRate: rate.Limit(cfg.DispatchRatePerSecond),
		Logger:       telemetry.NewClueLogger(),
		Metrics:      telemetry.NewClueMetrics(),
		Tracer:       telemetry.NewClueTracer(),
	})
	if err != nil {
		log.Fatalf(ctx, err, "build engine")
	}

	server, err := transporthttp.New(transporthttp.Options{
		Engine:     eng,
		Registry:   reg,
		Objects:    objects,
		Broadcast:  broadcast,
		PresignTTL: cfg.PresignTTL(),
		Pingers:    pingers,
		Logger:     telemetry.NewClueLogger(),
	})
	if err != nil {
		log.Fatalf(ctx, err, "build http server")
	}

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     server.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "http server listening on %s", cfg.HTTPAddr)
		errc <- httpServer.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		log.Infof(ctx, "received %s, shutting down", sig)
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, err, "http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "http shutdown")
	}
	log.Infof(ctx, "bye")
}

// staticWorkflows is the workflow store used when Mongo is not configured.
// It never resolves any workflow; deployments without Mongo are expected to
// embed the engine as a library instead.
type staticWorkflows struct{}

func (staticWorkflows) Load(context.Context, string) (*workflow.Workflow, error) {
	return nil, workflow.ErrNotFound
}
