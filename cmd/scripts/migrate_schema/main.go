package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	switch cfg.TranscriptBackend {
	case utils.BackendPostgres:
		migratePostgres(ctx, cfg.Postgres)
	case utils.BackendMongo:
		migrateMongo(ctx, cfg.Mongo)
	default:
		log.Fatalf("TRANSCRIPT_BACKEND=%q has no schema to migrate", cfg.TranscriptBackend)
	}

	fmt.Printf("done at %s\n", time.Now().Format(time.RFC3339))
}

func migratePostgres(ctx context.Context, cfg utils.PostgresConfig) {
	pg, err := db.NewPostgres(ctx, cfg)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	const verify = `SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema='public' AND table_name IN ('threads','turns') ORDER BY table_name, ordinal_position`
	rows, err := pg.Pool.Query(ctx, verify)
	if err != nil {
		log.Fatalf("verify columns: %v", err)
	}
	defer rows.Close()

	fmt.Println("columns after migration:")
	for rows.Next() {
		var table, name, dtype string
		if err := rows.Scan(&table, &name, &dtype); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("- %s.%s (%s)\n", table, name, dtype)
	}
	if rows.Err() != nil {
		log.Fatalf("rows: %v", rows.Err())
	}
}

func migrateMongo(ctx context.Context, cfg utils.MongoConfig) {
	mg, err := db.NewMongo(ctx, cfg)
	if err != nil {
		log.Fatalf("connect mongo: %v", err)
	}
	defer func() {
		if err := mg.Close(context.Background()); err != nil {
			log.Printf("close mongo: %v", err)
		}
	}()

	if err := mg.EnsureCollections(ctx); err != nil {
		log.Fatalf("ensure collections: %v", err)
	}

	specs, err := mg.Turns.Indexes().ListSpecifications(ctx)
	if err != nil {
		log.Fatalf("list indexes: %v", err)
	}

	fmt.Printf("indexes on %s.%s:\n", cfg.Database, mg.Turns.Name())
	for _, spec := range specs {
		unique := spec.Unique != nil && *spec.Unique
		fmt.Printf("- %s (unique=%t)\n", spec.Name, unique)
	}
}
