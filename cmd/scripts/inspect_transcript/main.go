package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: inspect_transcript <owner> [thread-id]")
		os.Exit(2)
	}
	owner := os.Args[1]

	_ = godotenv.Load()
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	repo, closeRepo := openRepository(ctx, cfg)
	defer closeRepo()

	if len(os.Args) < 3 {
		threads, err := repo.ListThreads(ctx, owner, transcript.DefaultThreadLimit)
		if err != nil {
			log.Fatalf("list threads: %v", err)
		}
		fmt.Printf("threads for %s:\n", owner)
		for _, thread := range threads {
			fmt.Printf("- %s %q (updated %s)\n", thread.ID, thread.Title, thread.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return
	}

	threadID := os.Args[2]
	turns, err := repo.List(ctx, owner, threadID)
	if err != nil {
		log.Fatalf("list turns: %v", err)
	}

	fmt.Printf("thread %s (%d turns):\n", threadID, len(turns))
	for _, turn := range turns {
		fmt.Printf("#%d %-9s %s\n  %s\n", turn.Seq, turn.Role, turn.Timestamp.Format("2006-01-02 15:04:05"), turn.Content)
	}
}

func openRepository(ctx context.Context, cfg *utils.Config) (transcript.Repository, func()) {
	switch cfg.TranscriptBackend {
	case utils.BackendPostgres:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		return transcript.NewPostgresStore(pg.Pool), pg.Close
	case utils.BackendMongo:
		mg, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			log.Fatalf("connect mongo: %v", err)
		}
		return transcript.NewMongoStore(mg.Threads, mg.Turns, mg.Profiles), func() { _ = mg.Close(context.Background()) }
	default:
		log.Fatalf("TRANSCRIPT_BACKEND=%q keeps nothing to inspect", cfg.TranscriptBackend)
		return nil, nil
	}
}
