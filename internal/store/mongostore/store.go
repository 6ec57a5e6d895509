// Package mongostore keeps users, messages and threads in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ store.Store = (*MongoStore)(nil)

type userDoc struct {
	ID          string    `bson:"_id"`
	Username    string    `bson:"username"`
	DisplayName string    `bson:"displayName"`
	Email       string    `bson:"email"`
	Password    string    `bson:"password"`
	Public      bool      `bson:"public"`
	Created     time.Time `bson:"created"`
}

type messageDoc struct {
	ID       string    `bson:"_id"`
	Seq      int64     `bson:"seq"`
	UserFrom string    `bson:"userFrom"`
	UserTo   string    `bson:"userTo"`
	Content  string    `bson:"content"`
	Notified bool      `bson:"notified"`
	Read     bool      `bson:"read"`
	Created  time.Time `bson:"created"`
}

type threadDoc struct {
	ID         string    `bson:"_id"`
	UserFrom   string    `bson:"userFrom"`
	UserTo     string    `bson:"userTo"`
	MessageID  string    `bson:"message"`
	MessageSeq int64     `bson:"messageSeq"`
	Content    string    `bson:"content"`
	Read       bool      `bson:"read"`
	Updated    time.Time `bson:"updated"`
}

type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	threads  *mongo.Collection
	counters *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
		threads:  db.Collection("threads"),
		counters: db.Collection("counters"),
	}
	if err := s.createIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userFrom", Value: 1}, {Key: "userTo", Value: 1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "notified", Value: 1}, {Key: "read", Value: 1}, {Key: "created", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.threads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userFrom", Value: 1}, {Key: "messageSeq", Value: -1}}},
		{Keys: bson.D{{Key: "userTo", Value: 1}, {Key: "messageSeq", Value: -1}}},
	})
	return err
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// nextSeq hands out the insertion sequence used to order messages.
func (s *MongoStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}}, opts).Decode(&counter)
	return counter.Seq, err
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Password:    user.Password,
		Public:      user.Public,
		Created:     user.Created,
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:          doc.ID,
		Username:    doc.Username,
		DisplayName: doc.DisplayName,
		Email:       doc.Email,
		Password:    doc.Password,
		Public:      doc.Public,
		Created:     doc.Created,
	}, nil
}

// SaveMessage writes the message and then the thread. A standalone mongod
// has no multi-document transactions; the thread is only moved forward
// when the new message is newer than the one it points to, so replays and
// interleavings converge.
func (s *MongoStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Created.IsZero() {
		msg.Created = time.Now().UTC()
	}

	seq, err := s.nextSeq(ctx, "messages")
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	msg.Seq = seq

	_, err = s.messages.InsertOne(ctx, messageDoc{
		ID:       msg.ID,
		Seq:      msg.Seq,
		UserFrom: msg.UserFrom.ID,
		UserTo:   msg.UserTo.ID,
		Content:  msg.Content,
		Notified: msg.Notified,
		Read:     msg.Read,
		Created:  msg.Created,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	key := store.PairKey(msg.UserFrom.ID, msg.UserTo.ID)
	update := bson.M{"$set": bson.M{
		"userFrom":   msg.UserFrom.ID,
		"userTo":     msg.UserTo.ID,
		"message":    msg.ID,
		"messageSeq": msg.Seq,
		"content":    msg.Content,
		"read":       msg.Read,
		"updated":    msg.Created,
	}}
	filter := bson.M{"_id": key, "messageSeq": bson.M{"$lt": msg.Seq}}
	_, err = s.threads.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// The thread already points at a newer message.
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func (s *MongoStore) GetThreadMessages(ctx context.Context, userID, otherID string, offset, limit int) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"userFrom": userID, "userTo": otherID},
		bson.M{"userFrom": otherID, "userTo": userID},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) GetUnnotifiedMessages(ctx context.Context, before time.Time) ([]models.Message, error) {
	filter := bson.M{
		"notified": false,
		"read":     false,
		"created":  bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs)*2)
	for _, d := range docs {
		ids = append(ids, d.UserFrom, d.UserTo)
	}
	refs, err := s.userRefs(ctx, ids)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, models.Message{
			ID:       d.ID,
			Seq:      d.Seq,
			UserFrom: refs.get(d.UserFrom),
			UserTo:   refs.get(d.UserTo),
			Content:  d.Content,
			Notified: d.Notified,
			Read:     d.Read,
			Created:  d.Created,
		})
	}
	return messages, nil
}

func (s *MongoStore) GetUserThreads(ctx context.Context, userID string, offset, limit int) ([]models.Thread, error) {
	filter := bson.M{"$or": bson.A{bson.M{"userFrom": userID}, bson.M{"userTo": userID}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "messageSeq", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.threads.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []threadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs)*2)
	for _, d := range docs {
		ids = append(ids, d.UserFrom, d.UserTo)
	}
	refs, err := s.userRefs(ctx, ids)
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(docs))
	for _, d := range docs {
		threads = append(threads, models.Thread{
			ID:       d.ID,
			UserFrom: refs.get(d.UserFrom),
			UserTo:   refs.get(d.UserTo),
			Message:  models.ThreadMessage{ID: d.MessageID, Content: d.Content},
			Read:     d.Read,
			Updated:  d.Updated,
		})
	}
	return threads, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	result, err := s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}, "userTo": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	_, err = s.threads.UpdateMany(ctx,
		bson.M{"message": bson.M{"$in": messageIDs}, "userTo": userID},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) MarkNotified(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}},
		bson.M{"$set": bson.M{"notified": true}})
	return err
}

type refMap map[string]models.UserRef

func (m refMap) get(id string) models.UserRef {
	if ref, ok := m[id]; ok {
		return ref
	}
	return models.UserRef{ID: id}
}

// userRefs loads the references for all given user ids in one query.
func (s *MongoStore) userRefs(ctx context.Context, ids []string) (refMap, error) {
	refs := refMap{}
	if len(ids) == 0 {
		return refs, nil
	}
	opts := options.Find().SetProjection(bson.M{"username": 1, "displayName": 1})
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		refs[d.ID] = models.UserRef{ID: d.ID, Username: d.Username, DisplayName: d.DisplayName}
	}
	return refs, nil
}
