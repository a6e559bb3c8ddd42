package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tsearch"
	"github.com/hupe1980/tsearch/config"
	"github.com/hupe1980/tsearch/metric"
	"github.com/hupe1980/tsearch/sqlstore"
)

// env is what every command needs: the configuration, the database, the
// object store and the metrics.
type env struct {
	cfg     *config.Config
	db      *sql.DB
	logger  *tsearch.Logger
	objects *sqlstore.Store
	metrics *metric.PrometheusCollector
	server  *http.Server
}

func newLogger(cfg config.LogConfig) (*tsearch.Logger, error) {
	level, err := tsearch.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return tsearch.NewJSONLogger(level), nil
	case "", "text":
		return tsearch.NewTextLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	dsn := c.String(flagDSN)
	if dsn == "" {
		return nil, errors.New("no database: set --dsn or TSEARCH_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(c.Context); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	tables := make([]sqlstore.Table, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		tables = append(tables, sqlstore.Table{Class: s.Class, Name: s.Table, IDColumn: s.IDColumn, Columns: s.Columns})
	}
	objects, err := sqlstore.New(db, logger.Logger, tables...)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := metric.NewPrometheusCollector(reg)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &env{cfg: cfg, db: db, logger: logger, objects: objects, metrics: metrics}
	if addr := c.String(flagMetrics); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics available", "addr", addr, "path", "/metrics")
			if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	return e, nil
}

func (e *env) engine(opts ...tsearch.Option) (*tsearch.Engine, error) {
	base := []tsearch.Option{
		tsearch.WithLogger(e.logger),
		tsearch.WithMetricsCollector(e.metrics),
	}
	return tsearch.Open(e.db, e.objects, e.cfg, append(base, opts...)...)
}

func (e *env) Close() error {
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.server.Shutdown(ctx)
	}
	return e.db.Close()
}

// withEnv runs fn with a fresh env and closes it afterwards.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(c, e)
	}
}
