package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tsearch/config"
	"github.com/hupe1980/tsearch/indexer"
	"github.com/hupe1980/tsearch/query"
	"github.com/hupe1980/tsearch/reindex"
	"github.com/hupe1980/tsearch/schedule"
	"github.com/hupe1980/tsearch/schema"
)

// interruptible cancels the command context on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "create the missing index tables",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "print", Usage: "print the SQL script instead of applying it"},
			&cli.BoolFlag{Name: "drop", Usage: "prepend DROP statements to the printed script"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			registry, err := e.cfg.Registry()
			if err != nil {
				return err
			}
			types, err := e.cfg.Types()
			if err != nil {
				return err
			}
			b, err := schema.NewBuilder(registry, types, e.cfg.Schema())
			if err != nil {
				return err
			}

			if c.Bool("print") {
				for _, stmt := range b.Script(c.Bool("drop")) {
					fmt.Fprintln(c.App.Writer, stmt)
				}
				return nil
			}

			rep, err := b.Sync(c.Context, e.db, e.cfg.Policy())
			if err != nil {
				return err
			}
			e.logger.Info("schema synchronized", "created", rep.Created, "skipped", rep.Skipped)
			return nil
		}),
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "reindex the objects scheduled by related updates",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "process one chunk and exit"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			engine, err := e.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			opts := e.cfg.WorkerOptions()
			opts.Logger = e.logger.Logger
			w := schedule.NewWorker(e.db, e.cfg.Queue(), engine.Indexer(), e.objects, opts)

			if c.Bool("once") {
				n, err := w.ProcessChunk(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%d objects reindexed\n", n)
				return nil
			}

			ctx, stop := interruptible(c.Context)
			defer stop()
			e.logger.Info("worker started", "queue", e.cfg.Index.ScheduleTable, "chunk", opts.ChunkSize)
			return w.Run(ctx)
		}),
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "copy the index into a new set of tables",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "config file of the new tables", Required: true},
			&cli.StringFlag{Name: "date-field", Usage: "datetime field walked in order", Value: "modified_at"},
			&cli.StringFlag{Name: "state", Usage: "checkpoint store (sqlite path, file://, s3://, minio://, dynamodb://)"},
			&cli.StringFlag{Name: "state-compression", Usage: "none, lz4 or zstd", Value: "zstd"},
			&cli.StringFlag{Name: "name", Usage: "run name keying the checkpoint", Value: "reindex"},
			&cli.TimestampFlag{Name: "since", Usage: "only rows changed after this date", Layout: time.RFC3339},
			&cli.IntFlag{Name: "step", Usage: "rows per step", Value: 1000},
			&cli.DurationFlag{Name: "delay", Usage: "pause between steps", Value: 500 * time.Millisecond},
			&cli.IntFlag{Name: "parallel", Usage: "objects indexed concurrently", Value: 1},
			&cli.Float64Flag{Name: "rate", Usage: "objects per second, 0 for unlimited"},
			&cli.BoolFlag{Name: "forever", Usage: "keep following new rows"},
			&cli.BoolFlag{Name: "reset", Usage: "discard the saved state first"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			target, err := config.Load(c.String("target"))
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			targetRegistry, err := target.Registry()
			if err != nil {
				return err
			}
			targetTypes, err := target.Types()
			if err != nil {
				return err
			}
			registry, err := e.cfg.Registry()
			if err != nil {
				return err
			}
			types, err := e.cfg.Types()
			if err != nil {
				return err
			}

			store, closer, err := openState(c.Context, c.String("state"), c.String("state-compression"))
			if err != nil {
				return err
			}
			defer closer.Close()
			if c.Bool("reset") {
				if err := store.Delete(c.Context, c.String("name")); err != nil {
					return err
				}
			}

			into := indexer.New(e.db, targetRegistry, targetTypes, indexer.Options{
				Policy:        target.Policy(),
				IgnoreRelated: true,
				Logger:        e.logger.Logger,
			})
			opts := reindex.Options{
				DateField:   c.String("date-field"),
				Step:        c.Int("step"),
				Delay:       c.Duration("delay"),
				Forever:     c.Bool("forever"),
				Name:        c.String("name"),
				Store:       store,
				Parallelism: c.Int("parallel"),
				Rate:        c.Float64("rate"),
				OnStep:      e.metrics.ObserveReindex,
				Logger:      e.logger.Logger,
			}
			if since := c.Timestamp("since"); since != nil {
				opts.Since = *since
			}

			r, err := reindex.New(reindex.Source{
				DB:       e.db,
				Master:   e.cfg.Index.MasterTable,
				Registry: registry,
				Types:    types,
			}, into, e.objects, opts)
			if err != nil {
				return err
			}

			ctx, stop := interruptible(c.Context)
			defer stop()
			p, err := r.Run(ctx)
			est := p.Estimate()
			fmt.Fprintf(c.App.Writer, "%d rows reindexed in %d steps (%.1f%%, %s)\n",
				p.Done, p.Steps, est.Percent, p.Elapsed.Round(time.Second))
			return err
		}),
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:      "backfill",
		Usage:     "index the objects missing from the index",
		ArgsUsage: "[classname...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "reindex every object, not only the missing ones"},
			&cli.IntFlag{Name: "report-every", Usage: "objects between two progress logs", Value: 1000},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			engine, err := e.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			classes := c.Args().Slice()
			if len(classes) == 0 {
				classes = e.objects.Classes()
			}
			b := reindex.NewBackfiller(e.db, e.cfg.Index.MasterTable, engine.Indexer(), e.objects, e.objects,
				reindex.BackfillOptions{ReportEvery: c.Int("report-every"), Logger: e.logger.Logger})

			ctx, stop := interruptible(c.Context)
			defer stop()
			for _, class := range classes {
				rep, err := b.Backfill(ctx, class, c.Bool("all"))
				e.metrics.ObserveBackfill(rep)
				if err != nil {
					return fmt.Errorf("backfill %s: %w", class, err)
				}
				fmt.Fprintf(c.App.Writer, "%s: %d objects, %d already indexed, %d indexed, %d failed in %s\n",
					rep.ClassName, rep.Total, rep.Already, rep.Indexed, rep.Failed, rep.Elapsed.Round(time.Millisecond))
			}
			return nil
		}),
	}
}

// parsePredicate turns "field__op=value" arguments into a predicate.
// Values of "__in" lookups are split on commas.
func parsePredicate(args []string, or bool) (query.Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no predicate: give field__op=value arguments")
	}
	nodes := make([]query.Node, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("bad predicate %q: want field__op=value", arg)
		}
		if strings.HasSuffix(key, "__in") {
			nodes = append(nodes, query.Q(key, strings.Split(value, ",")))
			continue
		}
		nodes = append(nodes, query.Q(key, value))
	}
	if or {
		return query.Or(nodes...), nil
	}
	return query.And(nodes...), nil
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "run a query and print the matching rows",
		ArgsUsage: "field__op=value...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "or", Usage: "join the arguments with OR"},
			&cli.StringSliceFlag{Name: "order", Usage: "order terms, a leading - sorts descending"},
			&cli.IntFlag{Name: "limit", Usage: "maximum rows, 0 for all (long queries only)", Value: 50},
			&cli.BoolFlag{Name: "long", Usage: "run a cached full scan"},
			&cli.BoolFlag{Name: "explain", Usage: "print the compiled SQL only"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			pred, err := parsePredicate(c.Args().Slice(), c.Bool("or"))
			if err != nil {
				return err
			}
			engine, err := e.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			w := c.App.Writer
			if c.Bool("explain") {
				q := engine.Compile(pred, c.StringSlice("order")...)
				if err := q.Validate(); err != nil {
					return err
				}
				where, err := q.Where()
				if err != nil {
					return err
				}
				stmt, args := where.Bind()
				fmt.Fprintf(w, "table: %s\nwhere: %s\nargs:  %v\n", q.Table(), stmt, args)
				for _, d := range q.Degradations() {
					fmt.Fprintf(w, "degraded: %s\n", d)
				}
				return nil
			}

			search := engine.Search(pred).OrderBy(c.StringSlice("order")...).Limit(c.Int("limit"))
			run := search.Short
			if c.Bool("long") {
				run = search.Long
			}
			rs, err := run(c.Context)
			if err != nil {
				return err
			}
			for _, ref := range rs.Refs() {
				fmt.Fprintf(w, "%s\t%d\n", ref.ClassName, ref.ID)
			}
			fmt.Fprintf(w, "%d rows, plan %s\n", rs.Len(), rs.Plan())
			return nil
		}),
	}
}
