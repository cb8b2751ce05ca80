package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB replay store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. blockverse
	Collection string // e.g. battle_replays
}

// MongoStore implements Store on MongoDB. Summary fields are stored next to
// the encoded document so listing never touches the event log.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	codec      *Codec
	ctxTimeout time.Duration
}

type mongoReplay struct {
	ID             string    `bson:"_id"`
	TerritoryID    string    `bson:"territory_id"`
	TerritoryName  string    `bson:"territory_name"`
	AttackerID     string    `bson:"attacker_id"`
	AttackerName   string    `bson:"attacker_name"`
	DefenderID     string    `bson:"defender_id"`
	DefenderName   string    `bson:"defender_name"`
	StartTime      time.Time `bson:"start_time"`
	Duration       float64   `bson:"duration"`
	AttackerWon    bool      `bson:"attacker_won"`
	EventCount     int       `bson:"event_count"`
	HighlightCount int       `bson:"highlight_count"`
	Document       []byte    `bson:"document,omitempty"`
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(cfg MongoConfig, codec *Codec) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "blockverse"
	}
	if cfg.Collection == "" {
		cfg.Collection = "battle_replays"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		codec:      codec,
		ctxTimeout: 5 * time.Second,
	}
	if err := store.ensureIndexes(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "territory_id", Value: 1}, {Key: "start_time", Value: -1}}, Options: options.Index().SetName("territory_start")},
		{Keys: bson.D{{Key: "attacker_id", Value: 1}}, Options: options.Index().SetName("attacker")},
		{Keys: bson.D{{Key: "defender_id", Value: 1}}, Options: options.Index().SetName("defender")},
		{Keys: bson.D{{Key: "start_time", Value: -1}}, Options: options.Index().SetName("start_time")},
	})
	return err
}

func (m *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.ctxTimeout)
}

// Save implements Store; an existing replay with the same id is replaced.
func (m *MongoStore) Save(ctx context.Context, s *battle.Session) (string, error) {
	doc, err := m.codec.EncodeSession(s)
	if err != nil {
		return "", err
	}
	sum := s.Summary()
	rec := mongoReplay{
		ID:             sum.ID,
		TerritoryID:    sum.TerritoryID,
		TerritoryName:  sum.TerritoryName,
		AttackerID:     sum.AttackerID,
		AttackerName:   sum.AttackerName,
		DefenderID:     sum.DefenderID,
		DefenderName:   sum.DefenderName,
		StartTime:      sum.StartTime,
		Duration:       sum.Duration,
		AttackerWon:    sum.AttackerWon,
		EventCount:     sum.EventCount,
		HighlightCount: sum.HighlightCount,
		Document:       doc,
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": s.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Load implements Store.
func (m *MongoStore) Load(ctx context.Context, id string) (*battle.Session, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var rec mongoReplay
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.codec.DecodeSession(rec.Document)
}

// ListSummaries implements Store.
func (m *MongoStore) ListSummaries(ctx context.Context, filter SummaryFilter, limit int) ([]battle.SessionSummary, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.TerritoryID != "" {
		query["territory_id"] = filter.TerritoryID
	}
	if filter.PlayerID != "" {
		query["$or"] = bson.A{
			bson.M{"attacker_id": filter.PlayerID},
			bson.M{"defender_id": filter.PlayerID},
		}
	}
	if !filter.Since.IsZero() {
		query["start_time"] = bson.M{"$gte": filter.Since}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"document": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := m.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var list []battle.SessionSummary
	for cur.Next(ctx) {
		var rec mongoReplay
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		list = append(list, battle.SessionSummary{
			ID:             rec.ID,
			TerritoryID:    rec.TerritoryID,
			TerritoryName:  rec.TerritoryName,
			AttackerID:     rec.AttackerID,
			AttackerName:   rec.AttackerName,
			DefenderID:     rec.DefenderID,
			DefenderName:   rec.DefenderName,
			StartTime:      rec.StartTime.UTC(),
			Duration:       rec.Duration,
			AttackerWon:    rec.AttackerWon,
			EventCount:     rec.EventCount,
			HighlightCount: rec.HighlightCount,
		})
	}
	return list, cur.Err()
}

// Close terminates connection.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
