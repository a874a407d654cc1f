package jobstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fedutinova/readnote/internal/database"
	"github.com/google/uuid"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping Postgres store test: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, url, database.Options{MaxConns: 4, DialTimeout: 5 * time.Second})
	if err != nil {
		t.Skipf("Skipping Postgres store test: database not available: %v", err)
	}
	defer db.Close()

	s := NewPostgres(db)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	testStoreContract(t, s)
}

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	dbName := "readnote_test_" + uuid.New().String()[:8]
	client, col, err := ConnectMongo(context.Background(), uri, dbName)
	if err != nil {
		t.Skipf("Skipping Mongo store test: MongoDB not available: %v", err)
	}
	defer func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	}()

	testStoreContract(t, NewMongo(col))
}
