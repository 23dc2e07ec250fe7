package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"localtrader/api/grpcserver"
	"localtrader/api/rest"
	"localtrader/api/ws"
	"localtrader/config"
	"localtrader/domain/orderbook"
	"localtrader/infra/kafka"
	"localtrader/infra/metrics"
	"localtrader/infra/sequence"
	entrywal "localtrader/infra/wal/entry"
	exitwal "localtrader/infra/wal/exit"
	"localtrader/jobs/broadcaster"
	"localtrader/service"
	"localtrader/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := config.ConfigureLogging(cfg.Log); err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger := log.WithField("instrument", cfg.Instrument)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---------------- Entry WAL ----------------

	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.JournalDir(),
		SegmentSize:     cfg.Storage.SegmentSize,
		SegmentDuration: cfg.Storage.SegmentDuration,
		Sync:            cfg.Storage.Sync,
	})
	if err != nil {
		log.Fatalf("entry WAL init failed: %v", err)
	}
	defer entryWAL.Close()

	// ---------------- Exit WAL ----------------

	exitWAL, err := exitwal.Open(cfg.OutboxDir())
	if err != nil {
		log.Fatalf("exit WAL init failed: %v", err)
	}
	defer exitWAL.Close()

	// ---------------- Domain + recovery ----------------

	book := orderbook.NewOrderBook(cfg.Instrument)
	svc := service.NewOrderService(book, sequence.New(0), entryWAL, exitWAL, m, logger)

	if _, err := svc.Recover(cfg.SnapshotDir(), cfg.JournalDir()); err != nil {
		log.Fatalf("recovery failed: %v", err)
	}

	// ---------------- Background jobs ----------------

	snapWriter := &snapshot.Writer{Dir: cfg.SnapshotDir()}
	svc.StartSnapshotJob(ctx, snapWriter, cfg.Jobs.SnapshotInterval)
	svc.StartCompactionJob(ctx, cfg.Jobs.CompactionInterval)

	if cfg.Kafka.Enabled {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("broadcaster init failed: %v", err)
		}
		bc := broadcaster.New(exitWAL, producer, broadcaster.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.TradesTopic,
			Interval: cfg.Jobs.BroadcastInterval,
		}, m, logger)
		bc.Start(ctx)
		defer bc.Close()

		consumer := kafka.NewConsumer(kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.OrdersTopic,
			GroupID: cfg.Kafka.GroupID,
		}), svc, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Errorf("kafka ingress stopped: %v", err)
				cancel()
			}
		}()
	}

	// ---------------- gRPC ----------------

	var grpcSrv interface{ GracefulStop() }
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("listen failed: %v", err)
		}
		srv := grpcserver.New(svc, logger)
		grpcSrv = srv
		go func() {
			logger.WithField("addr", cfg.GRPCAddr).Info("gRPC listening")
			if err := srv.Serve(lis); err != nil {
				log.Errorf("gRPC server exited: %v", err)
				cancel()
			}
		}()
	}

	// ---------------- HTTP: REST, websocket, metrics ----------------

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		api := rest.NewServer(svc, reg, logger)
		api.Handle("/ws", ws.NewGateway(svc, m, logger))
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: api, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("HTTP server exited: %v", err)
				cancel()
			}
		}()
	}

	logger.Info("localtrader engine running")
	<-ctx.Done()

	// ---------------- Shutdown ----------------

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := svc.TakeSnapshot(snapWriter); err != nil {
		log.Errorf("final snapshot failed: %v", err)
	}
	logger.Info("stopped")
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigC
		log.Info("received shutdown signal")
		cancel()
	}()
}
