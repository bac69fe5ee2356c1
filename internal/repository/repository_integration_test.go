//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-promotions/internal/adjustment"
	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/promotion/filter"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "promo",
				"POSTGRES_PASSWORD": "promo",
				"POSTGRES_DB":       "promo",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://promo:promo@%s:%s/promo?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate twice: %v", err)
	}

	if err := seedCatalog(ctx); err != nil {
		log.Fatalf("seed catalog: %v", err)
	}

	return m.Run()
}

func seedCatalog(ctx context.Context) error {
	catalog := NewCatalogRepository(testPool)
	for _, c := range []order.Channel{
		{Code: "WEB", Name: "Web store", BaseCurrencyCode: "USD"},
		{Code: "APP", Name: "Mobile app", BaseCurrencyCode: "USD"},
	} {
		if err := catalog.UpsertChannel(ctx, c); err != nil {
			return err
		}
	}
	for _, v := range []order.Variant{
		{
			Code:            "MUG-BLUE",
			Product:         order.Product{Code: "MUG", Name: "Mug", TaxonCodes: []string{"kitchen", "mugs"}},
			ChannelPricings: map[string]int64{"WEB": 1000, "APP": 900},
		},
		{
			Code:            "CAP-RED",
			Product:         order.Product{Code: "CAP", Name: "Cap", TaxonCodes: []string{"clothing"}},
			ChannelPricings: map[string]int64{"WEB": 300},
		},
	} {
		if err := catalog.UpsertVariant(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func newTestOrder(id string) *order.Order {
	return &order.Order{
		ID:      id,
		Number:  "#" + id,
		Channel: &order.Channel{Code: "WEB"},
		Items: []*order.Item{
			{
				ID:        id + "-i1",
				Variant:   order.Variant{Code: "MUG-BLUE"},
				Quantity:  2,
				UnitPrice: 1000,
				Units: []*order.Unit{
					{ID: id + "-i1-u1", Price: 1000},
					{ID: id + "-i1-u2", Price: 1000},
				},
			},
			{
				ID:        id + "-i2",
				Variant:   order.Variant{Code: "CAP-RED"},
				Quantity:  1,
				UnitPrice: 300,
				Units:     []*order.Unit{{ID: id + "-i2-u1", Price: 300}},
			},
		},
	}
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	created, err := repo.Create(ctx, newTestOrder("ord-1"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.Create(ctx, newTestOrder("ord-1"))
	require.NoError(t, err)
	assert.False(t, created, "second create is a no-op")

	o, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "#ord-1", o.Number)
	assert.Equal(t, order.StatePending, o.State)
	require.NotNil(t, o.Channel)
	assert.Equal(t, "Web store", o.Channel.Name)
	require.Len(t, o.Items, 2)

	mug := o.Items[0]
	assert.Equal(t, "MUG", mug.ProductCode())
	assert.Equal(t, []string{"kitchen", "mugs"}, mug.Variant.Product.TaxonCodes)
	assert.Equal(t, map[string]int64{"WEB": 1000, "APP": 900}, mug.Variant.ChannelPricings)
	require.Len(t, mug.Units, 2)
	assert.Equal(t, int64(2300), o.Total())

	pending, err := repo.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Contains(t, pending, "ord-1")

	require.NoError(t, repo.MarkProcessed(ctx, "ord-1"))
	pending, err = repo.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.NotContains(t, pending, "ord-1")

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
	require.ErrorIs(t, repo.MarkProcessed(ctx, "missing"), order.ErrNotFound)
}

func TestPromotionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	fixed := &promotion.Promotion{
		ID:       "promo-fixed",
		Code:     "FIXED5",
		Name:     "$5 off mugs",
		Priority: 10,
		StartsAt: &past,
		Channels: []string{"WEB", "APP"},
		Actions: []promotion.Action{{
			Type: promotion.ActionUnitFixedDiscount,
			Configuration: promotion.Configuration{"WEB": {
				Amount:  500,
				Filters: map[string]jx.Raw{promotion.SectionTaxons: jx.Raw(`{"taxons":["mugs"]}`)},
			}},
		}},
	}
	upcoming := &promotion.Promotion{
		ID:       "promo-upcoming",
		Code:     "LATER",
		Name:     "Later",
		StartsAt: &future,
		Channels: []string{"WEB"},
	}
	require.NoError(t, repo.Upsert(ctx, fixed))
	require.NoError(t, repo.Upsert(ctx, upcoming))
	// Upsert replaces channels and actions.
	require.NoError(t, repo.Upsert(ctx, fixed))

	got, err := repo.ListActiveByChannel(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "FIXED5", got[0].Code)
	assert.Equal(t, []string{"APP", "WEB"}, got[0].Channels)
	require.Len(t, got[0].Actions, 1)
	assert.Equal(t, int64(500), got[0].Actions[0].Configuration["WEB"].Amount)
	taxons, ok, err := got[0].Actions[0].Configuration["WEB"].Taxons()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"mugs"}, taxons)

	got, err = repo.ListActiveByChannel(ctx, "B2B")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplicationRepository_EndToEnd(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	promotions := NewPromotionRepository(testPool)
	applications := NewApplicationRepository(testPool)

	p := &promotion.Promotion{
		ID:         "promo-limited",
		Code:       "ONCE",
		Name:       "$4 off",
		UsageLimit: 1,
		Channels:   []string{"WEB"},
		Actions: []promotion.Action{{
			Type:          promotion.ActionUnitFixedDiscount,
			Configuration: promotion.Configuration{"WEB": {Amount: 400}},
		}},
	}
	require.NoError(t, promotions.Upsert(ctx, p))

	action := promotion.NewUnitFixedDiscount(
		adjustment.NewFactory(),
		filter.NewPriceRange(filter.ChannelPricingCalculator{}),
		filter.Taxon{},
		filter.Product{},
	)

	apply := func(id string) (promotion.Application, error) {
		_, err := orders.Create(ctx, newTestOrder(id))
		require.NoError(t, err)
		o, err := orders.Get(ctx, id)
		require.NoError(t, err)

		applied, err := action.Execute(o, p.Actions[0].Configuration, p)
		require.NoError(t, err)
		require.True(t, applied)

		var adjustments []*order.Adjustment
		for _, u := range o.Units() {
			adjustments = append(adjustments, u.Adjustments...)
		}
		a := promotion.Application{OrderID: id, Promotion: p, Adjustments: adjustments}
		return a, applications.Save(ctx, a)
	}

	a, err := apply("ord-2")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("11.00").Equal(a.DiscountTotal()))

	applied, err := applications.IsApplied(ctx, "ord-2", p.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	o, err := orders.Get(ctx, "ord-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ONCE"}, o.Promotions)
	assert.Equal(t, int64(2300-1100), o.Total())

	require.ErrorIs(t, applications.Save(ctx, a), promotion.ErrAlreadyApplied)

	_, err = apply("ord-3")
	require.ErrorIs(t, err, promotion.ErrUsageLimitReached)

	o, err = orders.Get(ctx, "ord-3")
	require.NoError(t, err)
	assert.Empty(t, o.Promotions, "failed save leaves no trace")
	assert.Equal(t, int64(2300), o.Total())
}
