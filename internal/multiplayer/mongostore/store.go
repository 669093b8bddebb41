// Package mongostore keeps shared session documents in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/pkg/game"
)

const (
	// DefaultDatabase is used when no database name is configured.
	DefaultDatabase = "tavern"
	// Collection holds one document per shared session.
	Collection = "sessions"

	defaultPollInterval = time.Second
)

// record is the stored shape of a session. Rev increases on every write.
type record struct {
	ID            string `bson:"_id"`
	Rev           int64  `bson:"rev"`
	game.Document `bson:",inline"`
}

// Store is a multiplayer.Store backed by MongoDB. Subscriptions use change
// streams and fall back to polling on servers without a replica set.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger core.Logger
	poll   time.Duration
}

var _ multiplayer.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and opens the sessions collection.
func Connect(ctx context.Context, uri, database string, logger core.Logger) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := New(client.Database(database).Collection(Collection), logger)
	s.client = client
	logger.Info("Connected to MongoDB", "database", database)
	return s, nil
}

// New wraps an existing collection.
func New(coll *mongo.Collection, logger core.Logger) *Store {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Store{coll: coll, logger: logger, poll: defaultPollInterval}
}

// Close disconnects the client opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) Create(ctx context.Context, id string, doc game.Document) error {
	_, err := s.coll.InsertOne(ctx, record{ID: id, Document: normalize(doc)})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", multiplayer.ErrSessionExists, id)
	}
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (game.Document, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return game.Document{}, err
	}
	return rec.Document, nil
}

func (s *Store) find(ctx context.Context, id string) (*record, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", multiplayer.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return &rec, nil
}

// AppendToTranscript pushes msg unless an entry with its id is already present.
func (s *Store) AppendToTranscript(ctx context.Context, id string, msg game.Message) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "messages.id", Value: bson.M{"$ne": msg.ID}},
	}
	update := bson.D{
		{Key: "$push", Value: bson.M{"messages": msg}},
		{Key: "$inc", Value: bson.M{"rev": 1}},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("append to session %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.exists(ctx, id)
}

// UpdateFields sets the fields present in patch.
func (s *Store) UpdateFields(ctx context.Context, id string, patch game.Patch) error {
	set := patchToSet(patch)
	if len(set) == 0 {
		return s.exists(ctx, id)
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$inc", Value: bson.M{"rev": 1}},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", multiplayer.ErrSessionNotFound, id)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", multiplayer.ErrSessionNotFound, id)
	}
	return nil
}

// Subscribe delivers the current document and then every later revision.
// fn runs on a dedicated goroutine, one call at a time.
func (s *Store) Subscribe(ctx context.Context, id string, fn func(game.Document)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	// Open the stream before reading so no change between the two is lost.
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}}}
	stream, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		s.logger.Warn("Change streams unavailable, polling instead", "session", id, "error", err)
		stream = nil
	}

	rec, err := s.find(ctx, id)
	if err != nil {
		if stream != nil {
			_ = stream.Close(context.Background())
		}
		cancel()
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() { once.Do(cancel) }

	fn(rec.Document)
	if stream != nil {
		go s.watch(ctx, stream, rec.Rev, fn)
	} else {
		go s.pollLoop(ctx, id, rec.Rev, fn)
	}
	return unsubscribe, nil
}

func (s *Store) watch(ctx context.Context, stream *mongo.ChangeStream, rev int64, fn func(game.Document)) {
	defer stream.Close(context.Background())
	for stream.Next(ctx) {
		var event struct {
			FullDocument *record `bson:"fullDocument"`
		}
		if err := stream.Decode(&event); err != nil {
			s.logger.Warn("Skipping undecodable change event", "error", err)
			continue
		}
		if event.FullDocument == nil || event.FullDocument.Rev <= rev {
			continue
		}
		rev = event.FullDocument.Rev
		fn(event.FullDocument.Document)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.logger.Error("Change stream ended", "error", err)
	}
}

func (s *Store) pollLoop(ctx context.Context, id string, rev int64, fn func(game.Document)) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rec, err := s.find(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Session poll failed", "session", id, "error", err)
			}
			continue
		}
		if rec.Rev <= rev {
			continue
		}
		rev = rec.Rev
		fn(rec.Document)
	}
}

// patchToSet maps the fields present in p onto their stored names.
func patchToSet(p game.Patch) bson.D {
	var set bson.D
	if p.Location != nil {
		set = append(set, bson.E{Key: "location", Value: *p.Location})
	}
	if p.Combat != nil {
		combat := p.Combat.Clone()
		combat.Combatants = nonNil(combat.Combatants)
		set = append(set, bson.E{Key: "combatState", Value: combat})
	}
	if p.MapTokens != nil {
		set = append(set, bson.E{Key: "mapTokens", Value: nonNil(*p.MapTokens)})
	}
	if p.Quests != nil {
		set = append(set, bson.E{Key: "quests", Value: nonNil(*p.Quests)})
	}
	if p.Notes != nil {
		set = append(set, bson.E{Key: "notes", Value: nonNil(*p.Notes)})
	}
	if p.StorySummary != nil {
		set = append(set, bson.E{Key: "storySummary", Value: *p.StorySummary})
	}
	return set
}

// normalize replaces nil slices so array operators always find arrays.
func normalize(d game.Document) game.Document {
	d = multiplayer.CloneDocument(d)
	d.Transcript = nonNil(d.Transcript)
	d.Quests = nonNil(d.Quests)
	d.Notes = nonNil(d.Notes)
	d.MapTokens = nonNil(d.MapTokens)
	d.Combat.Combatants = nonNil(d.Combat.Combatants)
	return d
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
