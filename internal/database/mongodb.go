package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// ConnectMongoWithRetry retries ConnectMongo with exponential backoff for at
// most maxElapsed, to tolerate the database starting after the service.
func ConnectMongoWithRetry(ctx context.Context, uri string, timeout, maxElapsed time.Duration) (*mongo.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = maxElapsed

	var client *mongo.Client
	attempt := 0
	op := func() error {
		attempt++
		c, err := ConnectMongo(ctx, uri, timeout)
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warnf("attempt %d: failed to connect to MongoDB: %v (retry in %s)", attempt, err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB after %d attempts: %w", attempt, err)
	}
	return client, nil
}
