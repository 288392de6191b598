package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zoff-tech/go-notifier/pkg/config"
)

var sqlOpen = sql.Open

var NewSpannerRepositoryFactory = func(client *spanner.Client) Repository {
	return &SpannerRepository{client: client}
}

var mongoConnect = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI(uri).SetBSONOptions(&options.BSONOptions{
		DefaultDocumentM: true,
	}))
}

// NewRepository opens the backend selected by cfg.Type.
func NewRepository(ctx context.Context, cfg config.StoreSettings) (Repository, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryRepository(cfg.MaxRecords), nil
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case "mongo":
		client, err := mongoConnect(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewMongoRepository(client, cfg.Database), nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewSpannerRepositoryFactory(client), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
