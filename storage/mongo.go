package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "invocations"

type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *slog.Logger
}

func NewMongoStorage(uri, database string, log *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	collection := client.Database(database).Collection(collectionName)

	// Summaries filter on creation time
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "workflow", Value: 1}},
	})
	if err != nil {
		log.Warn("creating index", slog.String("error", err.Error()))
	}

	return &MongoStorage{
		client:     client,
		collection: collection,
		log:        log,
	}, nil
}

func (m *MongoStorage) Record(inv *Invocation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if inv.FinishedAt.IsZero() {
		inv.FinishedAt = time.Now()
	}
	_, err := m.collection.InsertOne(ctx, inv)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

func (m *MongoStorage) Summary(since time.Time) ([]Usage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"workflow": "$workflow", "outcome": "$outcome"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := m.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating invocations: %w", err)
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		err := cursor.Close(ctx)
		if err != nil {
			m.log.Warn("closing cursor", slog.String("error", err.Error()))
		}
	}(cursor, ctx)

	byWorkflow := make(map[string]*Usage)
	for cursor.Next(ctx) {
		var doc struct {
			Key struct {
				Workflow string `bson:"workflow"`
				Outcome  string `bson:"outcome"`
			} `bson:"_id"`
			Count int `bson:"count"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		u, ok := byWorkflow[doc.Key.Workflow]
		if !ok {
			u = &Usage{Workflow: doc.Key.Workflow, Outcomes: make(map[string]int)}
			byWorkflow[doc.Key.Workflow] = u
		}
		u.Total += doc.Count
		u.Outcomes[doc.Key.Outcome] += doc.Count
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}

	usage := make([]Usage, 0, len(byWorkflow))
	for _, u := range byWorkflow {
		usage = append(usage, *u)
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Workflow < usage[j].Workflow })
	return usage, nil
}

func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
