// Command order-import loads orders from gzip-compressed JSON-lines files into
// the database as pending orders for the promotion processor.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/repository"
)

const (
	progressEvery = 10_000
	maxLineSize   = 4 << 20
)

// OrderCreator persists imported orders.
type OrderCreator interface {
	Create(ctx context.Context, o *order.Order) (bool, error)
}

type stats struct {
	read    atomic.Int64
	created atomic.Int64
	skipped atomic.Int64
}

func main() {
	var (
		databaseURL string
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "orders written concurrently")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("Usage: order-import [flags] orders1.jsonl.gz [orders2.jsonl.gz ...]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	var s stats
	if err := run(ctx, databaseURL, files, workers, &s); err != nil {
		lg.Error("Order import failed", zap.Error(err))
		cancel()
		_ = lg.Sync()
		os.Exit(1)
	}

	lg.Info("Order import completed",
		zap.Int64("read", s.read.Load()),
		zap.Int64("created", s.created.Load()),
		zap.Int64("skipped", s.skipped.Load()),
	)
}

func run(ctx context.Context, databaseURL string, files []string, workers int, s *stats) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return importFiles(ctx, repository.NewOrderRepository(pool), files, workers, s)
}

// importFiles streams every file concurrently into a shared queue drained by
// workers. Orders that already exist are counted as skipped.
func importFiles(ctx context.Context, repo OrderCreator, files []string, workers int, s *stats) error {
	lg := zctx.From(ctx)
	workers = max(workers, 1)
	queue := make(chan *order.Order, workers*2)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)

	for _, path := range files {
		readers.Go(func() error {
			return streamGzFile(rctx, path, func(line int, data []byte) error {
				o, err := decodeOrder(data, newID)
				if err != nil {
					return errors.Wrapf(err, "%s:%d", path, line)
				}
				if n := s.read.Add(1); n%progressEvery == 0 {
					lg.Info("Import progress", zap.Int64("read", n), zap.Int64("created", s.created.Load()))
				}
				select {
				case queue <- o:
					return nil
				case <-rctx.Done():
					return rctx.Err()
				}
			})
		})
	}

	for range workers {
		g.Go(func() error {
			for o := range queue {
				created, err := repo.Create(gctx, o)
				if err != nil {
					return err
				}
				if created {
					s.created.Add(1)
				} else {
					s.skipped.Add(1)
				}
			}
			return nil
		})
	}

	readErr := readers.Wait()
	close(queue)
	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line. Line numbers start at 1.
func streamGzFile(ctx context.Context, path string, fn func(line int, data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var line int
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(line, scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func newID() string {
	return uuid.New().String()
}
