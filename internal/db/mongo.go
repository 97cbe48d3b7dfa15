package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

// Index names surfaced in duplicate-key errors on users.
const (
	UsersUsernameIndex = "username_key_unique"
	UsersEmailIndex    = "email_key_unique"
)

type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	Threads  *mongo.Collection
	Turns    *mongo.Collection
	Users    *mongo.Collection
	Profiles *mongo.Collection
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo: uri is required")
	}

	timeout := timeoutOrDefault(cfg.ConnectTimeout)
	clientOpts := options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	database := client.Database(cfg.Database)
	return &Mongo{
		Client:   client,
		Database: database,
		Threads:  database.Collection("threads"),
		Turns:    database.Collection("turns"),
		Users:    database.Collection("users"),
		Profiles: database.Collection("profiles"),
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.Client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return errors.New("mongo: client not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.Client.Ping(ctx, nil)
}

// EnsureCollections creates the indexes the stores rely on: newest-thread
// lookup per owner, unique turn sequence per thread and unique account keys.
func (m *Mongo) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return errors.New("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.Threads, mongo.IndexModel{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "updated_at", Value: -1}},
		}},
		{m.Turns, mongo.IndexModel{
			Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.Users, mongo.IndexModel{
			Keys:    bson.D{{Key: "username_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(UsersUsernameIndex),
		}},
		{m.Users, mongo.IndexModel{
			Keys: bson.D{{Key: "email_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(UsersEmailIndex).
				SetPartialFilterExpression(bson.M{"email_key": bson.M{"$gt": ""}}),
		}},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("mongo: ensure index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
