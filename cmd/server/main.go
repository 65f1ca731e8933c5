package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"spotex/api/grpcserver"
	"spotex/config"
	"spotex/domain/catalog"
	"spotex/domain/ledger"
	"spotex/domain/matching"
	"spotex/domain/pricing"
	"spotex/infra/bus"
	"spotex/infra/kafka"
	"spotex/infra/metrics"
	"spotex/infra/prices"
	"spotex/infra/sequence"
	"spotex/infra/store"
	entrywal "spotex/infra/wal/entry"
	exitwal "spotex/infra/wal/exit"
	"spotex/jobs/broadcaster"
	"spotex/jobs/otcupdater"
	"spotex/logging"
	"spotex/service"
	"spotex/snapshot"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "spotex",
		Short:        "Spot exchange matching core",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), journalCmd())
	return root
}

func serveCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the matching core",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&path, "config", "", "path to a YAML config file")
	return cmd
}

func journalCmd() *cobra.Command {
	var (
		dir   string
		after uint64
	)
	cmd := &cobra.Command{
		Use:   "journal <pair>",
		Short: "Print the command journal of a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			last, err := service.ReplayJournal(filepath.Join(dir, "journal", args[0]), after, func(e service.JournalEntry) error {
				c := e.Command
				_, err := fmt.Fprintf(out, "%d\t%s\t%s\torder=%d user=%d qty=%s price=%s stop=%s cost=%s\n",
					e.Seq, e.At.Format(time.RFC3339Nano), e.Type, c.OrderID, c.UserID, c.Quantity, c.Price, c.Stop, c.Cost)
				return err
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "last seq %d\n", last)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "data", "./data", "data directory")
	cmd.Flags().Uint64Var(&after, "after", 0, "skip records up to this sequence")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = log.Sync() }()

	// ---------------- Catalog & policy ----------------

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	fees, err := cfg.Fees()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	registry := catalog.NewRegistry(cat)

	// ---------------- Storage ----------------

	st, err := store.OpenPebble(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	outbox, err := exitwal.Open(filepath.Join(cfg.DataDir, "outbox"))
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer outbox.Close()

	// ---------------- Prices ----------------

	var primary, secondary pricing.Source = prices.NewMemory(cfg.PriceCacheTTL), nil
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		primary = prices.NewRedis(rdb, "external", cfg.PriceCacheTTL, log)
		secondary = prices.NewRedis(rdb, "cryptocompare", cfg.PriceCacheTTL, log)
	}

	// ---------------- Events ----------------

	m := metrics.New()
	events := bus.New(bus.Config{}, log)
	events.AddSink(outbox)

	var snapshots snapshot.Sink
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, cfg.KafkaSnapshotTopic)
		defer producer.Close()
		snapshots = producer
	}

	// ---------------- Service ----------------

	seq := service.Sequences{Orders: sequence.New(0), Transactions: sequence.New(0), Results: sequence.New(0)}
	svc, err := service.NewOrderService(service.Config{
		RequestTimeout: cfg.RequestTimeout,
		PlaceDelay:     cfg.PlaceOrderDelay,
		CancelWindow:   cfg.OrderDeleteAttemptCache,
		Worker: service.WorkerConfig{
			InboxSize:     cfg.InboxSize,
			ExportDepth:   cfg.StackExportLimit,
			CancelGuard:   cfg.StackCancelCache,
			ExchangeLimit: config.Decimal(cfg.ExchangeLimitPercentage),
			Matching: matching.Config{
				DustThreshold: config.Decimal(cfg.MinCostOrderCancel),
				FeeUserID:     cfg.FeeUserID,
				MinFee:        config.Decimal(cfg.MinFee),
			},
		},
	}, service.Deps{
		Catalog: registry,
		Ledger:  ledger.New(seq.Transactions),
		Store:   st,
		Bus:     events,
		Seq:     seq,
		Fees:    fees,
		OTC: pricing.NewOTC(pricing.OTCConfig{
			PercentLimit:   config.Decimal(cfg.OTCPercentLimit),
			ChangeGuard:    config.Decimal(cfg.ExternalPricesDeviationPercents),
			SecondaryGuard: config.Decimal(cfg.CryptocompareDeviationPercents),
		}, primary, secondary),
		External: primary,
		Policy:   policy,
		Metrics:  m,
		Log:      log,
		Journals: func(pair string) (service.Journal, error) {
			return entrywal.Open(entrywal.Config{
				Dir:         filepath.Join(cfg.DataDir, "journal", pair),
				SegmentSize: cfg.JournalSegmentSize,
			})
		},
	})
	if err != nil {
		return err
	}
	if err := svc.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// ---------------- Background jobs ----------------

	snapshotters := make([]*snapshot.Snapshotter, 0, len(svc.Workers()))
	for _, w := range svc.Workers() {
		p, err := registry.Current().Pair(w.Pair())
		if err != nil {
			return err
		}
		snapshotters = append(snapshotters, snapshot.New(w, snapshot.Config{
			Period:      cfg.StackUpdatePeriod,
			DownTimeout: cfg.StackDownTimeout,
			DownMulti:   cfg.StackDownMulti,
			Precisions:  p.Precisions,
		}, events, snapshots, snapshot.Metrics{Snapshots: m.Snapshots, StackDownAlerts: m.StackDownAlerts}, log, nil))
	}

	otc := otcupdater.New(svc, func() []string {
		var codes []string
		for _, p := range registry.Current().Pairs() {
			codes = append(codes, p.Code)
		}
		return codes
	}, cfg.OTCUpdatePeriod, log)

	var bc *broadcaster.Broadcaster
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := broadcaster.NewSyncProducer(brokers)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		bc = broadcaster.New(outbox, producer, broadcaster.Config{
			Topic:    cfg.KafkaEventsTopic,
			Interval: cfg.BroadcastInterval,
		}, m.OutboxRelayed, log)
		defer bc.Close()
	} else {
		log.Warn("KAFKA_BROKERS empty, events stay in the outbox")
	}

	// ---------------- Servers ----------------

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.Recovery(log), grpcserver.Logging(log)))
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc, log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return events.Run(ctx) })
	g.Go(func() error { return svc.RunJournalRetention(ctx, time.Hour, cfg.JournalRetain) })
	for _, s := range snapshotters {
		g.Go(func() error { return s.Run(ctx) })
	}
	g.Go(func() error { return otc.Run(ctx) })
	if bc != nil {
		g.Go(func() error { return bc.Run(ctx) })
	}
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return grpcSrv.Serve(lis) })

	log.Info("spotex running",
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Int("pairs", len(svc.Workers())),
	)

	// ---------------- Shutdown ----------------

	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("spotex stopped", zap.Error(err))
	return err
}
