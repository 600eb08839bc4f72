package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrroute/discovery"
	"github.com/ryandielhenn/zephyrroute/internal/api"
	"github.com/ryandielhenn/zephyrroute/internal/config"
	"github.com/ryandielhenn/zephyrroute/internal/telemetry"
	"github.com/ryandielhenn/zephyrroute/pkg/adjacency"
	"github.com/ryandielhenn/zephyrroute/pkg/cstore"
	"github.com/ryandielhenn/zephyrroute/pkg/eventloop"
	"github.com/ryandielhenn/zephyrroute/pkg/hello"
	"github.com/ryandielhenn/zephyrroute/pkg/keychain"
	"github.com/ryandielhenn/zephyrroute/pkg/name"
	"github.com/ryandielhenn/zephyrroute/pkg/routing"
	"github.com/ryandielhenn/zephyrroute/pkg/transport"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "zephyrrouted",
	Short: "zephyrroute link-state routing daemon",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, errInterrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

var errInterrupted = errors.New("interrupted")

// recomputeDelay lets a burst of liveness transitions coalesce before the
// advertisement rebuild or route recalculation runs.
const recomputeDelay = 5 * time.Second

func run(cmd Cmd) error {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Development = false
	logConfig.Level.SetLevel(zap.DebugLevel)

	logger, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	routerName := name.MustParse(cfg.Router.Name)

	telemetry.SetBuildInfo(version, gitSHA)
	metrics := telemetry.NewHelloMetrics(telemetry.Registry)

	loop := eventloop.New()

	cs := cstore.New(cfg.Transport.ContentStoreBytes)
	tr, err := transport.NewUDP(cfg.Transport.Listen,
		transport.WithLog(log.Named("transport")),
		transport.WithCache(cs),
		transport.WithPost(loop.Post),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}
	log.Infof("hello transport listening on %s", tr.LocalAddr())

	adjacencies := adjacency.NewList()
	for _, nb := range cfg.Neighbors {
		nbName := name.MustParse(nb.Name)
		adjacencies.Add(nbName, nb.Address)
		if nb.Address == "" {
			continue
		}
		faceID, err := tr.RegisterFace(nb.Address)
		if err != nil {
			return fmt.Errorf("failed to register face for %s: %w", nb.Name, err)
		}
		adjacencies.SetFace(nbName, faceID)
		tr.AddRoute(nbName, faceID)
	}

	kc, err := keychain.New([]byte(cfg.Transport.SigningKey))
	if err != nil {
		return fmt.Errorf("failed to initialize keychain: %w", err)
	}
	validator := keychain.NewValidator(kc, log.Named("validator"))

	recompute := routing.NewRecalculator(loop, recomputeDelay,
		func() { log.Infow("adjacency advertisement rebuilt") },
		func() { log.Infow("routing table recalculated") },
		routing.WithLog(log.Named("routing")),
	)

	prober := hello.NewProber(
		hello.Config{
			RouterName:        routerName,
			SweepInterval:     cfg.Hello.SweepInterval(),
			ProbeLifetime:     cfg.Hello.ProbeLifetime(),
			RetryThreshold:    cfg.Hello.RetryThreshold,
			DataFreshness:     cfg.Hello.DataFreshness(),
			HyperbolicRouting: cfg.Router.Hyperbolic(),
		},
		tr, validator, kc, adjacencies, recompute, loop,
		hello.WithLog(log.Named("hello")),
		hello.WithMetrics(metrics),
	)
	tr.AttachHandler(prober.Namespace(), prober.HandleIncomingProbe)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Etcd.Enabled() {
		cli, err := discovery.NewClient(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout())
		if err != nil {
			return fmt.Errorf("failed to create etcd client: %w", err)
		}
		defer cli.Close()

		_, cancelKA, err := discovery.RegisterRouter(ctx, cli, routerName, cfg.Transport.Listen, cfg.Etcd.RegisterTTLS)
		if err != nil {
			return fmt.Errorf("failed to register router: %w", err)
		}
		defer cancelKA()

		go discovery.WatchRouters(ctx, cli, log.Named("discovery"), func(routers map[string]string) {
			loop.Post(func() { bindDiscoveredFaces(log, tr, adjacencies, cfg.Neighbors, routers) })
		})
	}

	apiServer := api.NewServer(routerName, adjacencies, log.Named("api"))
	httpServer := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: apiServer.Handler(telemetry.MetricsHandler()),
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return loop.Run(ctx)
	})
	wg.Go(func() error {
		return tr.Run(ctx)
	})
	wg.Go(func() error {
		log.Infof("status api listening on %s", cfg.API.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	wg.Go(func() error {
		<-ctx.Done()
		return httpServer.Close()
	})

	// First sweep runs immediately; every sweep schedules the next one.
	loop.Post(prober.RunSweep)
	log.Infof("router %s up in %s mode", routerName, cfg.Router.Mode)

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("shutting down")
	return errInterrupted
}

// bindDiscoveredFaces reconciles face bindings with the discovered registry:
// a configured neighbor present in etcd gets a face at its advertised
// endpoint, one that disappeared loses its face unless statically addressed.
func bindDiscoveredFaces(
	log *zap.SugaredLogger,
	tr *transport.UDP,
	adjacencies *adjacency.List,
	neighbors []config.NeighborConfig,
	routers map[string]string,
) {
	for _, nb := range neighbors {
		nbName := name.MustParse(nb.Name)
		addr, found := routers[nb.Name]
		if !found {
			addr = nb.Address
		}
		if addr == "" {
			if adjacencies.Face(nbName) != 0 {
				log.Infof("neighbor %s lost its endpoint", nb.Name)
				tr.RemoveRoute(nbName)
				adjacencies.SetFace(nbName, 0)
			}
			continue
		}
		faceID, err := tr.RegisterFace(addr)
		if err != nil {
			log.Warnw("cannot register discovered face", "neighbor", nb.Name, "addr", addr, zap.Error(err))
			continue
		}
		if adjacencies.Face(nbName) != faceID {
			log.Infof("neighbor %s reachable at %s", nb.Name, addr)
			adjacencies.SetFace(nbName, faceID)
			tr.AddRoute(nbName, faceID)
		}
	}
}
