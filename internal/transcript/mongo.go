package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

type threadDocument struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Title     string    `bson:"title"`
	Seq       int64     `bson:"seq"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d threadDocument) model() models.Thread {
	return models.Thread{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type turnDocument struct {
	ThreadID  string    `bson:"thread_id"`
	Seq       int64     `bson:"seq"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"ts"`
}

// profileDocument is keyed by owner, so each owner has at most one.
type profileDocument struct {
	OwnerID          string    `bson:"_id"`
	DisplayName      string    `bson:"display_name"`
	AvatarURL        string    `bson:"avatar_url"`
	WebSearchDefault bool      `bson:"web_search_default"`
	Locale           string    `bson:"locale"`
	TZ               string    `bson:"tz"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (d profileDocument) model() models.Profile {
	return models.Profile{
		OwnerID:     d.OwnerID,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		Settings: models.ProfileSettings{
			WebSearchDefault: d.WebSearchDefault,
			Locale:           d.Locale,
			TZ:               d.TZ,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoStore keeps one document per thread, carrying the sequence counter,
// one document per turn and one document per owner profile.
type MongoStore struct {
	threads  *mongo.Collection
	turns    *mongo.Collection
	profiles *mongo.Collection
	now      func() time.Time
}

func NewMongoStore(threads, turns, profiles *mongo.Collection) *MongoStore {
	return &MongoStore{
		threads:  threads,
		turns:    turns,
		profiles: profiles,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MongoStore) Append(ctx context.Context, owner, threadID string, turn models.Turn) (models.Turn, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Turn{}, err
	}
	if err := validateTurn(turn); err != nil {
		return models.Turn{}, err
	}

	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	filter := bson.M{"_id": threadID, "owner_id": owner}
	update := bson.M{
		"$inc":         bson.M{"seq": 1},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now, "title": ""},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var thread threadDocument
	if err := s.threads.FindOneAndUpdate(ctx, filter, update, opts).Decode(&thread); err != nil {
		// the upsert collides on _id when another owner holds the thread
		if mongo.IsDuplicateKeyError(err) {
			return models.Turn{}, ErrThreadNotFound
		}
		return models.Turn{}, fmt.Errorf("transcript: reserve sequence: %w", err)
	}

	turn.Seq = thread.Seq
	doc := turnDocument{
		ThreadID:  threadID,
		Seq:       turn.Seq,
		Role:      string(turn.Role),
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
	}
	if _, err := s.turns.InsertOne(ctx, doc); err != nil {
		return models.Turn{}, fmt.Errorf("transcript: insert turn: %w", err)
	}

	return turn, nil
}

func (s *MongoStore) List(ctx context.Context, owner, threadID string) ([]models.Turn, error) {
	if _, err := s.Get(ctx, owner, threadID); err != nil {
		return nil, err
	}

	cursor, err := s.turns.Find(ctx, bson.M{"thread_id": threadID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("transcript: find turns: %w", err)
	}

	var docs []turnDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("transcript: decode turns: %w", err)
	}

	turns := make([]models.Turn, 0, len(docs))
	for _, doc := range docs {
		turns = append(turns, models.Turn{
			Role:      models.ParseRole(doc.Role),
			Content:   doc.Content,
			Seq:       doc.Seq,
			Timestamp: doc.Timestamp.UTC(),
		})
	}
	return turns, nil
}

func (s *MongoStore) Create(ctx context.Context, owner, title string) (models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return models.Thread{}, err
	}

	now := s.now()
	doc := threadDocument{ID: uuid.NewString(), OwnerID: owner, Title: title, CreatedAt: now, UpdatedAt: now}
	if _, err := s.threads.InsertOne(ctx, doc); err != nil {
		return models.Thread{}, fmt.Errorf("transcript: create thread: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Get(ctx context.Context, owner, threadID string) (models.Thread, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Thread{}, err
	}

	var doc threadDocument
	if err := s.threads.FindOne(ctx, bson.M{"_id": threadID, "owner_id": owner}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Thread{}, ErrThreadNotFound
		}
		return models.Thread{}, fmt.Errorf("transcript: find thread: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Latest(ctx context.Context, owner string) (models.Thread, error) {
	threads, err := s.ListThreads(ctx, owner, 1)
	if err != nil {
		return models.Thread{}, err
	}
	if len(threads) == 0 {
		return models.Thread{}, ErrThreadNotFound
	}
	return threads[0], nil
}

func (s *MongoStore) ListThreads(ctx context.Context, owner string, limit int) ([]models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cursor, err := s.threads.Find(ctx, bson.M{"owner_id": owner}, opts)
	if err != nil {
		return nil, fmt.Errorf("transcript: find threads: %w", err)
	}

	var docs []threadDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("transcript: decode threads: %w", err)
	}

	threads := make([]models.Thread, 0, len(docs))
	for _, doc := range docs {
		threads = append(threads, doc.model())
	}
	return threads, nil
}

func (s *MongoStore) Profile(ctx context.Context, owner string) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	var doc profileDocument
	if err := s.profiles.FindOne(ctx, bson.M{"_id": owner}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, fmt.Errorf("transcript: find profile: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) EnsureProfile(ctx context.Context, owner, displayName string) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}
	return s.upsertProfile(ctx, owner, displayName, bson.M{})
}

func (s *MongoStore) UpdateProfile(ctx context.Context, owner string, patch models.ProfileUpdate) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	set := bson.M{"updated_at": s.now()}
	if patch.DisplayName != nil {
		set["display_name"] = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		set["avatar_url"] = *patch.AvatarURL
	}
	if patch.WebSearchDefault != nil {
		set["web_search_default"] = *patch.WebSearchDefault
	}
	if patch.Locale != nil {
		set["locale"] = *patch.Locale
	}
	if patch.TZ != nil {
		set["tz"] = *patch.TZ
	}
	return s.upsertProfile(ctx, owner, "", set)
}

// upsertProfile applies set to the owner's profile, seeding every other field
// with defaults when the document does not exist yet.
func (s *MongoStore) upsertProfile(ctx context.Context, owner, displayName string, set bson.M) (models.Profile, error) {
	p := newProfile(owner, displayName, s.now())
	onInsert := bson.M{
		"display_name":       p.DisplayName,
		"avatar_url":         p.AvatarURL,
		"web_search_default": p.Settings.WebSearchDefault,
		"locale":             p.Settings.Locale,
		"tz":                 p.Settings.TZ,
		"created_at":         p.CreatedAt,
		"updated_at":         p.UpdatedAt,
	}
	// a path may not appear in both $set and $setOnInsert
	for key := range set {
		delete(onInsert, key)
	}

	update := bson.M{"$setOnInsert": onInsert}
	if len(set) > 0 {
		update["$set"] = set
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc profileDocument
	err := s.profiles.FindOneAndUpdate(ctx, bson.M{"_id": owner}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost an insert race; the document exists now
		err = s.profiles.FindOneAndUpdate(ctx, bson.M{"_id": owner}, update, opts).Decode(&doc)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("transcript: upsert profile: %w", err)
	}
	return doc.model(), nil
}
