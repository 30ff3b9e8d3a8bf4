package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"prompt-relay/internal/auth"
)

// MongoStore keeps the lists and contexts in MongoDB. Ids are stored as
// decimal strings in the admins, whitelists, blacklists and contexts
// collections.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// idField is the key each collection stores its id under.
func idField(list auth.List) string {
	if list == auth.Whitelist {
		return "groupId"
	}
	return "userId"
}

func (s *MongoStore) Contains(ctx context.Context, list auth.List, id int64) (bool, error) {
	err := s.db.Collection(string(list)).FindOne(ctx, bson.M{idField(list): formatID(id)}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	default:
		return false, errors.Wrapf(err, "find in %s", list)
	}
}

func (s *MongoStore) Add(ctx context.Context, list auth.List, id int64) error {
	_, err := s.db.Collection(string(list)).UpdateOne(ctx,
		bson.M{idField(list): formatID(id)},
		bson.M{"$setOnInsert": bson.M{"addedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "upsert into %s", list)
}

func (s *MongoStore) Remove(ctx context.Context, list auth.List, id int64) error {
	_, err := s.db.Collection(string(list)).DeleteOne(ctx, bson.M{idField(list): formatID(id)})
	return errors.Wrapf(err, "delete from %s", list)
}

func (s *MongoStore) Members(ctx context.Context, list auth.List) ([]int64, error) {
	cur, err := s.db.Collection(string(list)).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "addedAt", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", list)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", list)
	}
	out := make([]int64, 0, len(docs))
	for _, d := range docs {
		raw, _ := d[idField(list)].(string)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

type mongoContext struct {
	ChatID    string    `bson:"chatId"`
	Prompt    string    `bson:"prompt"`
	AddedAt   time.Time `bson:"addedAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (s *MongoStore) GetContext(ctx context.Context, chatID int64) (string, bool, error) {
	var doc mongoContext
	err := s.db.Collection("contexts").FindOne(ctx, bson.M{"chatId": formatID(chatID)}).Decode(&doc)
	switch {
	case err == nil:
		return doc.Prompt, true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return "", false, nil
	default:
		return "", false, errors.Wrap(err, "find context")
	}
}

func (s *MongoStore) SetContext(ctx context.Context, chatID int64, prompt string) error {
	now := time.Now().UTC()
	_, err := s.db.Collection("contexts").UpdateOne(ctx,
		bson.M{"chatId": formatID(chatID)},
		bson.M{
			"$set":         bson.M{"prompt": prompt, "updatedAt": now},
			"$setOnInsert": bson.M{"addedAt": now},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert context")
}

func (s *MongoStore) RemoveContext(ctx context.Context, chatID int64) error {
	_, err := s.db.Collection("contexts").DeleteOne(ctx, bson.M{"chatId": formatID(chatID)})
	return errors.Wrap(err, "delete context")
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
