package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	// transactions is false on a standalone server, which has no
	// multi-document transactions.
	transactions bool
}

func NewMongoDB(ctx context.Context, uri, database string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("query mongodb topology: %w", err)
	}
	transactions := hello.SetName != "" || hello.Msg == "isdbgrid"
	if !transactions {
		slog.Warn("MongoDB is a standalone server, state changes are written without transactions")
	}

	slog.Info("Connected to MongoDB", slog.String("database", database))

	return &MongoDB{
		client:       client,
		db:           client.Database(database),
		transactions: transactions,
	}, nil
}

// Transact runs fn inside a session transaction. Operations made with the
// context handed to fn join it; nested calls join the outer one. Without
// transaction support fn runs directly.
func (m *MongoDB) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Ping checks that the primary is reachable.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
