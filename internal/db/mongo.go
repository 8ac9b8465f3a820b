package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"parler_dump/internal/config"
	"parler_dump/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the run ledger: one document per transform or load run, and one
// per (table, input) pair that finished loading.
type MongoDB struct {
	client      *mongo.Client
	database    *mongo.Database
	runs        *mongo.Collection
	loadedFiles *mongo.Collection
}

func NewMongoDB(ctx context.Context, cfg config.MongoConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	d := &MongoDB{
		client:      client,
		database:    db,
		runs:        db.Collection(cfg.Collections.Runs),
		loadedFiles: db.Collection(cfg.Collections.LoadedFiles),
	}

	if err := d.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't create indices: %w", err)
	}

	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	_, err := d.loadedFiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "table", Value: 1}, {Key: "input", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = d.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		slog.Warn("cannot create started_at index", "error", err)
	}
	return nil
}

func (d *MongoDB) RecordRun(ctx context.Context, run *models.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.runs.InsertOne(ctx, run)
	return err
}

func (d *MongoDB) IsLoaded(ctx context.Context, table, input string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := d.loadedFiles.FindOne(ctx, bson.M{"table": table, "input": input}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	return err == nil, err
}

func (d *MongoDB) MarkLoaded(ctx context.Context, table, input string, loaded int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"table": table, "input": input}
	update := bson.M{
		"$set": models.LoadedFile{
			Table:    table,
			Input:    input,
			Loaded:   loaded,
			LoadedAt: time.Now().Unix(),
		},
	}

	_, err := d.loadedFiles.UpdateOne(ctx, filter, update, opts)
	return err
}

// RecentRuns lists the latest runs, newest first.
func (d *MongoDB) RecentRuns(ctx context.Context, limit int64) ([]models.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := d.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []models.RunRecord
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
