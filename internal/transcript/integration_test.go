package transcript_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	pg, err := db.NewPostgres(context.Background(), utils.PostgresConfig{DSN: dsn, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}

	runRepositoryContract(t, transcript.NewPostgresStore(pg.Pool))
}

func TestMongoStoreContract(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	store, err := db.NewMongo(context.Background(), utils.MongoConfig{
		URI:            uri,
		Database:       "chatrelay_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}
	defer func() {
		ctx := context.Background()
		store.Database.Drop(ctx)
		store.Close(ctx)
	}()

	if err := store.EnsureCollections(context.Background()); err != nil {
		t.Fatalf("ensure collections failed: %v", err)
	}

	runRepositoryContract(t, transcript.NewMongoStore(store.Threads, store.Turns, store.Profiles))
}
