// Command configflow broadcasts configuration changes from the document store
// to the message bus.
//
//	configflow -config configflow.toml [run]
//	configflow -config configflow.toml tail
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

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xzhHas/configflow"
	"github.com/xzhHas/configflow/internal/bus"
	"github.com/xzhHas/configflow/internal/logging"
	"github.com/xzhHas/configflow/types"
)

var configPath = flag.String("config", "configflow.toml", "path to the TOML configuration file")

func main() {
	os.Exit(realMain())
}

func realMain() int {
	flag.Parse()
	cmd := flag.Arg(0)

	load := configflow.LoadConfig
	switch cmd {
	case "", "run":
	case "tail":
		load = configflow.LoadConsumerConfig
	default:
		fmt.Fprintf(os.Stderr, "configflow: unknown command %q\n", cmd)
		return 2
	}

	cfg, err := load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configflow:", err)
		return 2
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configflow:", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "tail" {
		err = tail(ctx, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("configflow exited", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg configflow.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bridge, err := configflow.Open(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bridge.Close(closeCtx); err != nil {
			logger.Warn("failed to close bridge", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Start(gctx)
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("address", cfg.Metrics.Address))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics listener")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("configuration change bridge starting",
		zap.String("feed", string(cfg.Feed)),
		zap.String("bus", cfg.Bus.Driver),
		zap.Strings("collections", cfg.WatchCollections))
	return g.Wait()
}

// tail prints every update on the bus, one JSON line each.
func tail(ctx context.Context, cfg configflow.Config, logger *zap.Logger) error {
	consumer, err := bus.OpenConsumer(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	enc := json.NewEncoder(os.Stdout)
	err = consumer.Consume(ctx, func(d bus.Delivery) error {
		return enc.Encode(tailLine(d))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type line struct {
	Key      string          `json:"key"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId,omitempty"`
	Category *types.Category `json:"category,omitempty"`
	ID       string          `json:"id,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func tailLine(d bus.Delivery) line {
	l := line{Key: d.Key, Type: d.Envelope.Type}
	if d.Envelope.TenantID != uuid.Nil {
		l.TenantID = d.Envelope.TenantID.String()
	}
	switch m := d.Envelope.Message().(type) {
	case types.ConfigurationCreated:
		l.Category, l.ID = &m.Category, m.ID.String()
	case types.ConfigurationChanged:
		l.Category, l.ID = &m.Category, m.ID.String()
	case types.ConfigurationDeleted:
		l.Category, l.ID = &m.Category, m.ID.String()
	case types.NonParseableUpdate:
		l.Error = m.Err.Error()
	case types.UnknownUpdate:
		l.Error = "unknown update type"
	}
	return l
}
