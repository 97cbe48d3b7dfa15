package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/models"
)

type userDocument struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	UsernameKey  string    `bson:"username_key"`
	Email        string    `bson:"email"`
	EmailKey     string    `bson:"email_key"`
	DisplayName  string    `bson:"display_name"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type mongoDirectory struct {
	users *mongo.Collection
}

// NewMongoDirectory keeps accounts in the users collection indexed by
// db.Mongo.EnsureCollections.
func NewMongoDirectory(users *mongo.Collection) Directory {
	return &mongoDirectory{users: users}
}

func (d *mongoDirectory) Insert(ctx context.Context, user models.User) error {
	_, err := d.users.InsertOne(ctx, userDocument{
		ID:           user.ID,
		Username:     user.Username,
		UsernameKey:  foldKey(user.Username),
		Email:        user.Email,
		EmailKey:     foldKey(user.Email),
		DisplayName:  user.DisplayName,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), db.UsersEmailIndex) {
			return ErrEmailExists
		}
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("auth: insert user: %w", err)
	}
	return nil
}

func (d *mongoDirectory) Lookup(ctx context.Context, identifier string) (models.User, bool, error) {
	key := foldKey(identifier)
	if key == "" {
		return models.User{}, false, nil
	}

	var doc userDocument
	err := d.users.FindOne(ctx, bson.M{"username_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = d.users.FindOne(ctx, bson.M{"email_key": key}).Decode(&doc)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("auth: lookup user: %w", err)
	}

	return models.User{
		ID:           doc.ID,
		Username:     doc.Username,
		Email:        doc.Email,
		DisplayName:  doc.DisplayName,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, true, nil
}
