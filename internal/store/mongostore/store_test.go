// Tests in this package need a MongoDB server and are skipped otherwise.
// Run them with TEST_MONGO_URL=mongodb://localhost:27017 go test ./internal/store/mongostore/.

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newTestStore connects to TEST_MONGO_URL and skips the test when it is unset
// or unreachable. Each test gets its own database, dropped afterwards.
func newTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "inbox_test_" + uuid.NewString()[:8]
	s, err := New(ctx, uri, name)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		s.users.Database().Drop(context.Background())
		s.Close()
	})
	return s
}

func createUser(t *testing.T, s *MongoStore, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, DisplayName: "Full Name", Password: "pass", Public: true}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return u
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, s, "alice")

	if err := s.CreateUser(ctx, &models.User{Username: "alice", Password: "x"}); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("Expected id %s, got %s", alice.ID, got.ID)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestThreadPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")
	carol := createUser(t, s, "carol")

	for i := 1; i <= 25; i++ {
		msg := &models.Message{UserFrom: alice.Ref(), UserTo: bob.Ref(), Content: fmt.Sprintf("Message content %d", i)}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	page1, err := s.GetThreadMessages(ctx, alice.ID, bob.ID, 0, 20)
	if err != nil {
		t.Fatalf("GetThreadMessages failed: %v", err)
	}
	if len(page1) != 20 || page1[0].Content != "Message content 25" || page1[19].Content != "Message content 6" {
		t.Errorf("Unexpected first page: %d messages", len(page1))
	}
	if page1[0].UserFrom.Username != "alice" || page1[0].UserTo.ID != bob.ID {
		t.Errorf("Expected expanded user refs, got %+v -> %+v", page1[0].UserFrom, page1[0].UserTo)
	}

	page2, _ := s.GetThreadMessages(ctx, bob.ID, alice.ID, 20, 20)
	if len(page2) != 5 || page2[0].Content != "Message content 5" || page2[4].Content != "Message content 1" {
		t.Errorf("Unexpected second page: %d messages", len(page2))
	}

	other, _ := s.GetThreadMessages(ctx, carol.ID, bob.ID, 0, 20)
	if len(other) != 0 {
		t.Errorf("Expected no messages for carol, got %d", len(other))
	}

	threads, err := s.GetUserThreads(ctx, bob.ID, 0, 20)
	if err != nil {
		t.Fatalf("GetUserThreads failed: %v", err)
	}
	if len(threads) != 1 || threads[0].Message.Content != "Message content 25" {
		t.Errorf("Expected one thread pointing at the latest message, got %+v", threads)
	}
}

func TestThreadKeepsNewestMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	newer := &models.Message{UserFrom: alice.Ref(), UserTo: bob.Ref(), Content: "newer"}
	if err := s.SaveMessage(ctx, newer); err != nil {
		t.Fatal(err)
	}

	// A write carrying an older sequence must not move the thread back.
	older := &models.Message{UserFrom: bob.Ref(), UserTo: alice.Ref(), Content: "older", Seq: newer.Seq - 1}
	if _, err := s.threads.UpdateOne(ctx,
		bson.M{"_id": store.PairKey(alice.ID, bob.ID), "messageSeq": bson.M{"$lt": older.Seq}},
		bson.M{"$set": bson.M{"content": older.Content, "messageSeq": older.Seq}},
		options.Update().SetUpsert(true)); !mongo.IsDuplicateKeyError(err) {
		t.Errorf("Expected the guarded upsert to collide with the newer thread, got %v", err)
	}

	threads, _ := s.GetUserThreads(ctx, alice.ID, 0, 20)
	if len(threads) != 1 || threads[0].Message.Content != "newer" {
		t.Errorf("Expected the thread to keep the newer message, got %+v", threads)
	}
}

func TestMarkReadAndNotified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	msg := &models.Message{UserFrom: alice.Ref(), UserTo: bob.Ref(), Content: "hi", Created: time.Now().UTC().Add(-time.Hour)}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	pending, err := s.GetUnnotifiedMessages(ctx, time.Now())
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected 1 pending message, got %d (%v)", len(pending), err)
	}
	if err := s.MarkNotified(ctx, []string{msg.ID}); err != nil {
		t.Fatalf("MarkNotified failed: %v", err)
	}
	if pending, _ := s.GetUnnotifiedMessages(ctx, time.Now()); len(pending) != 0 {
		t.Errorf("Expected no pending messages, got %d", len(pending))
	}

	n, err := s.MarkRead(ctx, bob.ID, []string{msg.ID})
	if err != nil || n != 1 {
		t.Errorf("Expected 1 message marked read, got %d (%v)", n, err)
	}
	threads, _ := s.GetUserThreads(ctx, alice.ID, 0, 20)
	if len(threads) != 1 || !threads[0].Read {
		t.Errorf("Expected thread to be read, got %+v", threads)
	}
}
