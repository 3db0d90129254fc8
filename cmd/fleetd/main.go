// Command fleetd is the browser-automation fleet's single process:
// it wires config, logging, the Browser Pool, the Session & Context
// Registry, the Action Executor, the Proxy Manager, and the four
// front-end adapters (HTTP, WebSocket, RPC, MCP tool-call) together
// and runs them until a shutdown signal arrives. Grounded on the
// teacher's cmd/test_runner/main.go wiring order (config -> logger ->
// services -> routes -> listen), replacing its bare flag/http.HandleFunc
// style with alecthomas/kong for argument parsing, matching the CLI
// ergonomics the rest of the domain stack favors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"browserfleet/artifact"
	"browserfleet/config"
	"browserfleet/core"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/health"
	"browserfleet/logger"
	"browserfleet/pool"
	"browserfleet/proxymgr"
	"browserfleet/registry"
	"browserfleet/shutdown"
	"browserfleet/tenant"
	"browserfleet/transport/httpapi"
	"browserfleet/transport/rpc"
	"browserfleet/transport/toolcall"
	"browserfleet/transport/wsocket"
	"browserfleet/usage"
)

const version = "0.1.0"

var cli struct {
	Config   string `help:"Path to a YAML config file layered over the built-in defaults." type:"path"`
	OpenDocs bool   `help:"Open the HTTP API's catalog endpoint in a browser once listening."`
	Stdio    bool   `help:"Run only the MCP tool-call server over stdio, instead of the network front-ends."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("fleetd"),
		kong.Description("Multi-tenant headless browser automation fleet."),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fleetd: loading config:", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Logger.Level, cfg.Logger.Encoding)
	log := logger.With("fleetd")
	log.Info("starting", zap.String("version", version), zap.String("hostname", cfg.Hostname))

	bus := eventbus.New(256)
	if cfg.EventMirror.Enabled {
		sink := eventbus.NewKafkaSink(cfg.EventMirror.Brokers, cfg.EventMirror.Topic)
		ch := bus.Subscribe("kafka-mirror", "*")
		go sink.Run(context.Background(), ch)
	}

	reg, err := buildRegistry(cfg, bus)
	if err != nil {
		log.Fatal("building registry", zap.Error(err))
	}

	driver, err := buildDriver(cfg)
	if err != nil {
		log.Fatal("building pool driver", zap.Error(err))
	}

	browserPool := pool.New(poolConfig(cfg), driver, bus)
	provider := pool.NewProvider(browserPool, reg, "chromium")

	exec := executor.New(executorConfig(cfg), reg, provider, bus)

	artifactStore, err := buildArtifactStore(cfg)
	if err != nil {
		log.Fatal("building artifact store", zap.Error(err))
	}
	exec.SetArtifactStore(artifactStore)

	proxyMgr := proxymgr.New(proxyConfig(cfg), nil, httpProber{timeout: 5 * time.Second}, bus)

	tenantMgr := tenant.New(tenant.Config{
		Tiers:       tenant.DefaultConfig().Tiers,
		DefaultTier: cfg.Tenant.DefaultTier,
	})
	usageAcct := usage.New()

	monitor := health.New(time.Now(),
		poolChecker{browserPool},
		registryChecker{reg},
		proxyChecker{proxyMgr},
	)
	// Refresh the pool/proxy counters that monitor.Status() reports.
	go func() {
		for {
			ps, xs := browserPool.Stats(), proxyMgr.Stats()
			monitor.SetPoolStats(health.PoolStats{Total: ps.Total, Idle: ps.Idle, InUse: ps.InUse, Unhealthy: ps.Unhealthy, Waiters: ps.Waiters})
			monitor.SetProxyStats(health.ProxyStats{Total: xs.Total, Healthy: xs.Healthy, Unhealthy: xs.Unhealthy, Assignments: xs.Assignments})
			time.Sleep(5 * time.Second)
		}
	}()

	coord := shutdown.NewCoordinator(30 * time.Second)

	if cli.Stdio {
		runStdio(exec)
		return
	}

	coreHandlers := &httpapi.CoreHandlers{Registry: reg, Executor: exec, Monitor: monitor, Tenant: tenantMgr, Usage: usageAcct}
	httpSrv := httpapi.New(logger.Logger, cfg.Prefix, cfg.Cors.AllowedOrigins, coreHandlers)

	wsSrv := wsocket.New(bus, reg, exec)

	rpcSrv, err := rpc.New(reg, exec)
	if err != nil {
		log.Fatal("building rpc server", zap.Error(err))
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())

	if cfg.Listen.HTTP != "" {
		go func() {
			if err := httpSrv.Listen(rootCtx, cfg.Listen.HTTP); err != nil && rootCtx.Err() == nil {
				log.Error("http listener stopped", zap.Error(err))
			}
		}()
		coord.RegisterHandler("httpapi", func(ctx context.Context) error { return nil })
		log.Info("http listening", zap.String("addr", cfg.Listen.HTTP))
		if cli.OpenDocs {
			go openDocsWhenReady(cfg)
		}
	}

	if cfg.Listen.WS != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", wsSrv)
		wsHTTP := &http.Server{Addr: cfg.Listen.WS, Handler: mux}
		go func() {
			if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("ws listener stopped", zap.Error(err))
			}
		}()
		coord.RegisterHandler("wsocket", func(ctx context.Context) error {
			wsSrv.CloseAll()
			return wsHTTP.Shutdown(ctx)
		})
		log.Info("ws listening", zap.String("addr", cfg.Listen.WS))
	}

	if cfg.Listen.RPC != "" {
		go func() {
			if err := rpcSrv.Listen(rootCtx, cfg.Listen.RPC); err != nil && rootCtx.Err() == nil {
				log.Error("rpc listener stopped", zap.Error(err))
			}
		}()
		coord.RegisterHandler("rpc", func(ctx context.Context) error { return rpcSrv.Close() })
		log.Info("rpc listening", zap.String("addr", cfg.Listen.RPC))
	}

	coord.RegisterHandler("pool", func(ctx context.Context) error { return browserPool.Shutdown(ctx) })
	coord.RegisterHandler("proxymgr", func(ctx context.Context) error { return proxyMgr.Shutdown(ctx) })
	coord.RegisterHandler("registry", func(ctx context.Context) error { return reg.Shutdown(ctx) })
	coord.RegisterHandler("root-listeners", func(ctx context.Context) error {
		cancelRoot()
		return nil
	})

	if err := browserPool.Prewarm(context.Background(), "chromium"); err != nil {
		log.Warn("prewarm failed", zap.Error(err))
	}

	coord.Start()
	log.Info("ready")
	coord.WaitForShutdown()
	log.Info("shutdown complete")
}

func runStdio(exec *executor.Executor) {
	srv := toolcall.New(version, exec)
	if err := srv.ServeStdio(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetd: mcp stdio server:", err)
		os.Exit(1)
	}
}

func openDocsWhenReady(cfg *config.Config) {
	time.Sleep(500 * time.Millisecond)
	url := fmt.Sprintf("http://localhost%s%s/catalog", cfg.Listen.HTTP, cfg.Prefix)
	if err := browser.OpenURL(url); err != nil {
		logger.Warn("fleetd: could not open docs in browser", zap.Error(err))
	}
}

func buildRegistry(cfg *config.Config, bus *eventbus.Bus) (*registry.Registry, error) {
	sweep := time.Duration(cfg.Registry.SweepIntervalSeconds) * time.Second
	if cfg.Registry.Backend == "mongo" {
		store, err := registry.NewMongoStore(context.Background(), cfg.Registry.MongoURI, cfg.Registry.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return registry.New(store, bus, sweep), nil
	}
	return registry.New(registry.NewMemStore(), bus, sweep), nil
}

func buildDriver(cfg *config.Config) (pool.Driver, error) {
	if cfg.Pool.Driver == "container" {
		return pool.NewContainerDriver("")
	}
	return pool.NewPlaywrightDriver(true)
}

func buildArtifactStore(cfg *config.Config) (artifact.Store, error) {
	if cfg.Artifact.Backend == "s3" {
		return artifact.NewS3Store(cfg.Artifact.S3Region, cfg.Artifact.S3Bucket)
	}
	return artifact.NewMemStore(), nil
}

func poolConfig(cfg *config.Config) pool.Config {
	d := pool.DefaultConfig()
	d.Min = cfg.Pool.Min
	d.Max = cfg.Pool.Max
	d.TargetIdle = cfg.Pool.TargetIdle
	d.IdleGrace = cfg.Pool.IdleGrace
	d.LaunchTimeout = time.Duration(cfg.Pool.LaunchTimeoutSeconds) * time.Second
	d.HealthCheckInterval = time.Duration(cfg.Pool.HealthCheckIntervalSeconds) * time.Second
	d.HealthCheckTimeout = time.Duration(cfg.Pool.HealthCheckTimeoutSeconds) * time.Second
	d.UnhealthyThreshold = cfg.Pool.UnhealthyThreshold
	d.DrainTimeout = time.Duration(cfg.Pool.DrainTimeoutSeconds) * time.Second
	return d
}

func proxyConfig(cfg *config.Config) proxymgr.Config {
	d := proxymgr.DefaultConfig()
	d.FailoverThreshold = cfg.Proxy.FailoverThreshold
	d.ProbeInterval = time.Duration(cfg.Proxy.ProbeIntervalSeconds) * time.Second
	if cfg.Proxy.Strategy != "" {
		d.DefaultStrategy = proxymgr.Strategy(cfg.Proxy.Strategy)
	}
	return d
}

func executorConfig(cfg *config.Config) executor.Config {
	d := executor.DefaultConfig()
	d.HistoryRingSize = cfg.Executor.HistoryRingSize
	d.MaxBatchSize = cfg.Executor.MaxBatchSize
	d.DefaultTimeout = time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second
	d.HardTimeout = time.Duration(cfg.Executor.HardTimeoutSeconds) * time.Second
	d.URLPolicy = executor.URLPolicy{
		AllowPrivateNetworks: cfg.Executor.AllowPrivateNetworks,
		AllowFileProtocol:    cfg.Executor.AllowFileProtocol,
	}
	return d
}

// httpProber issues a plain GET to the proxy endpoint's own address
// (protocol://host:port) and counts any HTTP response as success. It
// does not route a request through the proxy to a third-party URL.
type httpProber struct {
	timeout time.Duration
}

func (p httpProber) Probe(ctx context.Context, endpoint core.ProxyEndpoint) error {
	client := &http.Client{Timeout: p.timeout}
	proxyURL := fmt.Sprintf("%s://%s:%d", endpoint.Protocol, endpoint.Host, endpoint.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxyURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type poolChecker struct{ p *pool.Pool }

func (c poolChecker) Name() string { return "pool" }
func (c poolChecker) Check(ctx context.Context) health.ComponentState {
	stats := c.p.Stats()
	switch {
	case stats.Total == 0:
		return health.Degraded
	case stats.Unhealthy > 0:
		return health.Degraded
	default:
		return health.Operational
	}
}

type registryChecker struct{ r *registry.Registry }

func (c registryChecker) Name() string { return "registry" }
func (c registryChecker) Check(ctx context.Context) health.ComponentState {
	return health.Operational
}

type proxyChecker struct{ m *proxymgr.Manager }

func (c proxyChecker) Name() string { return "proxy" }
func (c proxyChecker) Check(ctx context.Context) health.ComponentState {
	stats := c.m.Stats()
	if stats.Total > 0 && stats.Healthy == 0 {
		return health.Down
	}
	if stats.Unhealthy > 0 {
		return health.Degraded
	}
	return health.Operational
}
