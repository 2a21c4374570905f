package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	summariesCollection     = "summaries"
)

// MongoStore keeps the three collections in one MongoDB database.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	summaries     *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		summaries:     db.Collection(summariesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: unique}},
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: unique}},
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}}},
		{s.summaries, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "day", Value: 1}}, Options: unique}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return fmt.Errorf("create index on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]User, error) {
	cur, err := s.users.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var users []User
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "name", Value: user.Name}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: user.CreatedAt}}},
	}
	_, err := s.users.UpdateOne(ctx, bson.D{{Key: "user_id", Value: user.ID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	var c Conversation
	err := s.conversations.FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &c, nil
}

func (s *MongoStore) UpsertConversation(ctx context.Context, conv Conversation) error {
	set := bson.D{
		{Key: "user_id", Value: conv.UserID},
		{Key: "messages", Value: conv.Messages},
		{Key: "text_content", Value: conv.TextContent},
		{Key: "embedding", Value: conv.Embedding},
		{Key: "updated_at", Value: conv.UpdatedAt},
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: conv.CreatedAt}}},
	}
	_, err := s.conversations.UpdateOne(ctx, bson.D{{Key: "session_id", Value: conv.SessionID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *MongoStore) ListConversationsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Conversation, error) {
	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "created_at", Value: bson.D{{Key: "$gte", Value: start}, {Key: "$lte", Value: end}}},
	}
	cur, err := s.conversations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListSummariesByDateRange(ctx context.Context, userID string, from, to time.Time) ([]Summary, error) {
	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "day", Value: bson.D{{Key: "$gte", Value: DayOf(from)}, {Key: "$lte", Value: DayOf(to)}}},
	}
	return s.findSummaries(ctx, filter, options.Find().SetSort(bson.D{{Key: "day", Value: 1}}))
}

func (s *MongoStore) ListRecentSummaries(ctx context.Context, userID string, n int) ([]Summary, error) {
	if n <= 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "day", Value: -1}}).SetLimit(int64(n))
	return s.findSummaries(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
}

func (s *MongoStore) CreateSummary(ctx context.Context, summary Summary) error {
	summary.Day = DayOf(summary.Day)
	if _, err := s.summaries.InsertOne(ctx, summary); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSummaryExists
		}
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *MongoStore) findSummaries(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]Summary, error) {
	cur, err := s.summaries.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find summaries: %w", err)
	}
	var out []Summary
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode summaries: %w", err)
	}
	for i := range out {
		out[i].Day = out[i].Day.UTC()
	}
	return out, nil
}

var _ Store = (*MongoStore)(nil)
