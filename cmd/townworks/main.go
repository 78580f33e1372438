// Package main provides the townworks server binary: it loads settlement
// content, restores placed structures and runs the daily economy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/townworks/internal/config"
	"github.com/cory-johannsen/townworks/internal/game/activation"
	"github.com/cory-johannsen/townworks/internal/game/dice"
	"github.com/cory-johannsen/townworks/internal/game/economy"
	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/upkeep"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
	"github.com/cory-johannsen/townworks/internal/gameserver"
	"github.com/cory-johannsen/townworks/internal/observability"
	"github.com/cory-johannsen/townworks/internal/server"
	"github.com/cory-johannsen/townworks/internal/storage/postgres"
	"github.com/cory-johannsen/townworks/internal/storage/snapshot"
	"github.com/cory-johannsen/townworks/internal/storage/sqlite"
	"github.com/cory-johannsen/townworks/internal/transport/rpc"
	"github.com/cory-johannsen/townworks/internal/transport/ws"
)

// placementService is the health service name reporting whether structures can be placed.
const placementService = "townworks.placement"

// backend is the persistence selected by storage.backend.
type backend struct {
	instances structure.InstanceStore
	ledger    income.LedgerStore
	health    func(ctx context.Context, timeout time.Duration) error
	close     func()
}

func openBackend(ctx context.Context, cfg config.StorageConfig, db config.DatabaseConfig, logger *zap.Logger) (backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, db)
		if err != nil {
			return backend{}, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database connected", zap.String("host", db.Host))
		return backend{
			instances: postgres.NewInstanceRepository(pool.DB()),
			ledger:    postgres.NewLedgerRepository(pool.DB()),
			health:    pool.Health,
			close:     pool.Close,
		}, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return backend{}, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return backend{
			instances: store,
			ledger:    store,
			health:    store.Health,
			close:     func() { _ = store.Close() },
		}, nil
	default:
		// snapshot and memory keep state in the registries only.
		return backend{close: func() {}}, nil
	}
}

func loadAtlas(dir string, logger *zap.Logger) (*world.Atlas, error) {
	atlas := world.NewAtlas()
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("world directory missing, no worlds loaded", zap.String("dir", dir))
		return atlas, nil
	}
	worlds, err := world.LoadWorldsFromDir(dir)
	if err != nil {
		return nil, err
	}
	for _, w := range worlds {
		atlas.Register(w)
	}
	logger.Info("worlds loaded", zap.Strings("worlds", atlas.Names()))
	return atlas, nil
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting townworks",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("scan_mode", cfg.Economy.ScanMode),
	)

	var rng dice.Source = dice.NewCryptoSource()
	if cfg.Economy.Seed != 0 {
		rng = dice.NewSeededSource(cfg.Economy.Seed)
	}
	roller := dice.NewLoggedRoller(rng, observability.Component(logger, "dice"))

	// Content
	contentStart := time.Now()
	groups, err := resource.LoadGroups(cfg.Content.GroupsFile)
	if err != nil {
		logger.Fatal("loading block groups", zap.Error(err))
	}
	templates, err := resource.LoadTemplates(cfg.Content.TemplatesDir, groups, observability.Component(logger, "templates"))
	if err != nil {
		logger.Warn("no resource templates loaded", zap.Error(err))
		templates = resource.NewTemplateStore()
	}
	definitions, err := structure.LoadDefinitions(cfg.Content.StructuresDir, groups, observability.Component(logger, "definitions"))
	if err != nil {
		logger.Warn("no structure definitions loaded", zap.Error(err))
		definitions = structure.NewDefinitionStore()
	}
	settlements, err := settlement.LoadDirectory(cfg.Content.SettlementsFile)
	if err != nil {
		logger.Fatal("loading settlements", zap.Error(err))
	}
	atlas, err := loadAtlas(cfg.Content.WorldsDir, logger)
	if err != nil {
		logger.Fatal("loading worlds", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("groups", len(groups)),
		zap.Int("templates", templates.Len()),
		zap.Int("definitions", definitions.Len()),
		zap.Int("settlements", len(settlements.IDs())),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Persistence
	store, err := openBackend(ctx, cfg.Storage, cfg.Database, logger)
	if err != nil {
		logger.Fatal("opening storage backend", zap.Error(err))
	}

	loop := mutator.New(observability.Component(logger, "mutator"), cfg.Economy.QueueSize)
	instances := structure.NewRegistry(store.instances, observability.Component(logger, "instances"))
	if err := instances.Load(ctx); err != nil {
		logger.Fatal("loading instances", zap.Error(err))
	}

	// Notifications
	var notifier settlement.Notifier = settlement.LogNotifier{Logger: observability.Component(logger, "notices")}
	var hub *ws.Hub
	if cfg.Notify.Enabled {
		hub = ws.NewHub(cfg.Notify, settlements, observability.Component(logger, "notify"))
		notifier = settlement.MultiNotifier{notifier, hub}
	}

	engine := warehouse.NewEngine(observability.Component(logger, "warehouse"), cfg.Economy.LowDurabilityFraction)
	engine.OnLowDurability(economy.ToolLowNotices(notifier))
	warehouses := warehouse.NewRegistry(atlas, definitions, observability.Component(logger, "warehouses"))

	ledger := income.NewLedger(income.Deps{
		Definitions: definitions,
		Templates:   templates,
		Instances:   instances,
		Settlements: settlements,
		Warehouses:  warehouses,
		Engine:      engine,
		Atlas:       atlas,
		Rand:        roller,
		Store:       store.ledger,
	}, observability.Component(logger, "income"))
	if err := ledger.Load(ctx); err != nil {
		logger.Fatal("loading accruals", zap.Error(err))
	}

	clock := gameserver.NewEconomyClock(0, cfg.Economy.RolloverHour, cfg.Economy.RolloverHour, cfg.Economy.HourDuration)

	var saver *snapshot.Saver
	if cfg.Storage.Backend == config.BackendSnapshot || cfg.Storage.SnapshotPath != "" {
		saver = snapshot.NewSaver(cfg.Storage.SnapshotPath, cfg.Server.Name, loop, instances, ledger,
			func() int64 { return clock.Now().Day }, observability.Component(logger, "snapshot"))
		if cfg.Storage.Backend == config.BackendSnapshot {
			h, err := saver.Restore()
			if err != nil {
				logger.Fatal("restoring snapshot", zap.Error(err))
			}
			clock = gameserver.NewEconomyClock(h.Day, cfg.Economy.RolloverHour, cfg.Economy.RolloverHour, cfg.Economy.HourDuration)
		}
	}
	logger.Info("warehouses registered", zap.Int("count", warehouses.Rebuild(instances.Snapshot())))

	scanner := activation.NewScanner(definitions, instances, atlas, warehouses, cfg.Economy.SkipUnloaded,
		observability.Component(logger, "activation"))
	processor := upkeep.NewProcessor(upkeep.Deps{
		Definitions: definitions,
		Templates:   templates,
		Instances:   instances,
		Settlements: settlements,
		Warehouses:  warehouses,
		Sources: []upkeep.Source{
			&upkeep.WarehouseSource{Warehouses: warehouses, Engine: engine, Logger: observability.Component(logger, "upkeep")},
			&upkeep.LocalSource{Atlas: atlas, Engine: engine, Logger: observability.Component(logger, "upkeep")},
		},
		Notifier: notifier,
		Rand:     roller,
	}, observability.Component(logger, "upkeep"))
	cycle := economy.NewDailyCycle(loop, instances, processor, ledger, notifier, observability.Component(logger, "cycle"))
	svc := economy.NewService(economy.Deps{
		Loop:        loop,
		Definitions: definitions,
		Instances:   instances,
		Settlements: settlements,
		Warehouses:  warehouses,
		Ledger:      ledger,
		Scanner:     scanner,
		Atlas:       atlas,
	}, observability.Component(logger, "economy"))

	clock.OnDay(func(day int64) {
		_, _ = cycle.Run(ctx, day)
	})

	// Periodic work
	ticks := gameserver.NewTickManager(cfg.GameServer.TickInterval, observability.Component(logger, "ticks"))
	scanAll := func(ctx context.Context) func(mutator.Token) error {
		return func(tok mutator.Token) error {
			rep, err := scanner.ScanAll(ctx, tok)
			if err == nil {
				logger.Debug("full activation scan", zap.Int("scanned", rep.Scanned), zap.Int("changed", rep.Changed), zap.Int("skipped", rep.Skipped))
			}
			return err
		}
	}
	switch cfg.Economy.ScanMode {
	case config.ScanSliced:
		ticks.EveryDuration("scan-slice", cfg.Economy.ScanInterval, func(ctx context.Context) {
			err := loop.Do(ctx, func(tok mutator.Token) error {
				_, err := scanner.ScanSlice(ctx, tok, cfg.Economy.ScanSliceSize)
				return err
			})
			if err != nil {
				logger.Warn("activation slice", zap.Error(err))
			}
		})
		ticks.EveryDuration("scan-reindex", cfg.Economy.FullRefreshInterval, func(context.Context) {
			scanner.Reindex()
		})
	default:
		ticks.EveryDuration("scan-all", cfg.Economy.ScanInterval, func(ctx context.Context) {
			if err := loop.Do(ctx, scanAll(ctx)); err != nil {
				logger.Warn("activation scan", zap.Error(err))
			}
		})
	}
	if saver != nil {
		ticks.EveryDuration("snapshot", cfg.Storage.SnapshotInterval, func(ctx context.Context) {
			_ = saver.Save(ctx)
		})
	}
	// Activation is refreshed once at boot so restored flags reflect the current worlds.
	if !loop.Post(scanAll(ctx)) {
		logger.Warn("boot activation scan not queued")
	}

	// gRPC: health plus the economy surface
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	economySrv := rpc.NewServer(svc, clock, observability.Component(logger, "rpc"))
	rpc.Register(grpcServer, economySrv)
	if svc.PlacementEnabled() {
		healthSrv.SetServingStatus(placementService, healthpb.HealthCheckResponse_SERVING)
	} else {
		logger.Error("no structure definitions loaded, placement disabled")
		healthSrv.SetServingStatus(placementService, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	// Wire lifecycle. Services stop in reverse order, so storage closes last
	// and the final snapshot is captured while the loop still runs.
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	if store.health != nil {
		done := make(chan struct{})
		lifecycle.Add("storage", &server.FuncService{
			StartFn: func() error {
				t := time.NewTicker(30 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-done:
						return nil
					case <-t.C:
						if err := store.health(ctx, 5*time.Second); err != nil {
							logger.Warn("storage health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(done)
				store.close()
			},
		})
	}
	lifecycle.Add("mutator", loop)
	if saver != nil {
		lifecycle.Add("snapshot", saver)
	}
	lifecycle.Add("ticks", ticks)
	lifecycle.Add("clock", clock)
	if hub != nil {
		lifecycle.Add("notify", hub)
	}
	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", cfg.GameServer.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.GameServer.Addr(), err)
			}
			logger.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
			return grpcServer.Serve(lis)
		},
		StopFn: func() {
			economySrv.Close()
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
		},
	})

	logger.Info("townworks initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("instances", instances.Len()),
		zap.Int("accruals", ledger.Len()),
		zap.Strings("services", lifecycle.Names()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
