// Command seed-db applies migrations and loads channels, catalog and
// promotions from a YAML fixtures file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xenking/kart-promotions/db"
	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion/filter"
	"github.com/xenking/kart-promotions/internal/repository"
)

func main() {
	var (
		databaseURL  string
		fixturesFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fixturesFile, "fixtures", "", "path to YAML fixtures file (embedded defaults when empty)")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, fixturesFile); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		_ = lg.Sync()
		os.Exit(1)
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, databaseURL, fixturesFile string) error {
	lg := zctx.From(ctx)

	data := db.Fixtures
	if fixturesFile != "" {
		lg.Info("Reading fixtures", zap.String("path", fixturesFile))
		b, err := os.ReadFile(fixturesFile)
		if err != nil {
			return errors.Wrap(err, "read fixtures")
		}
		data = b
	}

	var f fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "parse fixtures")
	}

	expression, err := filter.NewExpression()
	if err != nil {
		return errors.Wrap(err, "create expression filter")
	}
	promotions, err := f.promotions(expression)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := repository.NewCatalogRepository(pool)
	for _, c := range f.Channels {
		if err := catalog.UpsertChannel(ctx, order.Channel{Code: c.Code, Name: c.Name, BaseCurrencyCode: c.Currency}); err != nil {
			return err
		}
		lg.Info("Upserted channel", zap.String("code", c.Code))
	}

	for _, v := range f.variants() {
		if err := catalog.UpsertVariant(ctx, v); err != nil {
			return err
		}
		lg.Info("Upserted variant", zap.String("code", v.Code), zap.String("product", v.Product.Code))
	}

	repo := repository.NewPromotionRepository(pool)
	for _, p := range promotions {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Info("Upserted promotion",
			zap.String("code", p.Code),
			zap.Strings("channels", p.Channels),
			zap.Int("actions", len(p.Actions)),
		)
	}

	return nil
}
