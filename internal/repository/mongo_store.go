package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/qurbani/slot-allocation/internal/model"
)

// Collection names used by the MongoDB backend.
const (
	CollShareLimits    = "share_limits"
	CollParticipations = "participations"
	CollSlots          = "slots"
	CollCompletions    = "user_completions"
)

// MongoStore implements Store with multi-document session transactions.
// Slots are stored as documents embedding their allocations and merge
// history.  Updates filter on the version field, so a write based on a
// stale read matches nothing and surfaces as ErrConflict.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore returns a store over db.  The client must be connected to a
// replica set or sharded cluster, since transactions are required.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{client: client, db: db}
}

// WithTx runs fn inside a session transaction.  The driver retries fn on
// transient transaction errors, so fn must not keep state between attempts.
func (s *MongoStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{db: s.db})
	})
	return translateMongo(err)
}

// View runs fn against a snapshot read session without a transaction.
func (s *MongoStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.client.StartSession(options.Session().SetSnapshot(true))
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)
	return translateMongo(mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		return fn(sc, &mongoTx{db: s.db, readOnly: true})
	}))
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// mongoWriteConflict is the server code for a write-write conflict inside a
// transaction.
const mongoWriteConflict = 112

func translateMongo(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == mongoWriteConflict || ce.HasErrorLabel("TransientTransactionError")) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type mongoTx struct {
	db       *mongo.Database
	readOnly bool
}

func (t *mongoTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *mongoTx) coll(name string) *mongo.Collection { return t.db.Collection(name) }

func (t *mongoTx) TierLimits(ctx context.Context, defaultMax int) ([]model.TierLimit, error) {
	if t.readOnly {
		cur, err := t.coll(CollShareLimits).Find(ctx, bson.M{})
		if err != nil {
			return nil, translateMongo(err)
		}
		var rows []model.TierLimit
		if err := cur.All(ctx, &rows); err != nil {
			return nil, err
		}
		found := make(map[model.Quality]model.TierLimit, len(rows))
		for _, r := range rows {
			found[r.Quality] = r
		}
		return withDefaults(found, defaultMax), nil
	}
	out := make([]model.TierLimit, 0, len(model.Qualities))
	for _, q := range model.Qualities {
		var lim model.TierLimit
		err := t.coll(CollShareLimits).FindOneAndUpdate(ctx,
			bson.M{"_id": q},
			bson.M{"$setOnInsert": bson.M{"max": defaultMax, "participated": 0}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&lim)
		if err != nil {
			return nil, translateMongo(err)
		}
		out = append(out, lim)
	}
	return out, nil
}

// LockTier touches the tier document so that a concurrent transaction doing
// the same conflicts immediately instead of at commit.
func (t *mongoTx) LockTier(ctx context.Context, q model.Quality, defaultMax int) (model.TierLimit, error) {
	if err := t.writable(); err != nil {
		return model.TierLimit{}, err
	}
	var lim model.TierLimit
	err := t.coll(CollShareLimits).FindOneAndUpdate(ctx,
		bson.M{"_id": q},
		bson.M{
			"$setOnInsert": bson.M{"max": defaultMax, "participated": 0},
			"$currentDate": bson.M{"locked_at": true},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&lim)
	return lim, translateMongo(err)
}

func (t *mongoTx) SaveTier(ctx context.Context, lim model.TierLimit) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.coll(CollShareLimits).UpdateOne(ctx,
		bson.M{"_id": lim.Quality},
		bson.M{"$set": bson.M{"max": lim.Max, "participated": lim.Participated}})
	return translateMongo(err)
}

func (t *mongoTx) CreateParticipation(ctx context.Context, p *model.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.coll(CollParticipations).InsertOne(ctx, p)
	return translateMongo(err)
}

func (t *mongoTx) GetParticipation(ctx context.Context, id string) (*model.Participation, error) {
	var p model.Participation
	if err := t.coll(CollParticipations).FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, translateMongo(err)
	}
	return &p, nil
}

func (t *mongoTx) UpdateParticipation(ctx context.Context, p *model.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.coll(CollParticipations).ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return translateMongo(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mongoTx) DeleteParticipation(ctx context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.coll(CollParticipations).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translateMongo(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mongoTx) ListParticipations(ctx context.Context, f model.ParticipationFilter) ([]*model.Participation, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["payment_status"] = f.Status
	}
	if f.Day != 0 {
		filter["day"] = f.Day
	}
	cur, err := t.coll(CollParticipations).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, translateMongo(err)
	}
	defer cur.Close(ctx)
	out := make([]*model.Participation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *mongoTx) findSlot(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*model.Slot, error) {
	var s model.Slot
	if err := t.coll(CollSlots).FindOne(ctx, filter, opts...).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, translateMongo(err)
	}
	return &s, nil
}

func (t *mongoTx) findSlots(ctx context.Context, filter bson.M) ([]*model.Slot, error) {
	cur, err := t.coll(CollSlots).Find(ctx, filter)
	if err != nil {
		return nil, translateMongo(err)
	}
	defer cur.Close(ctx)
	out := make([]*model.Slot, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	sortSlots(out)
	return out, nil
}

func (t *mongoTx) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	return t.findSlot(ctx, bson.M{"_id": id})
}

func (t *mongoTx) SlotAt(ctx context.Context, day int, timeSlot string) (*model.Slot, error) {
	return t.findSlot(ctx, bson.M{"day": day, "time_slot": timeSlot})
}

func (t *mongoTx) SlotsByDay(ctx context.Context, day int) ([]*model.Slot, error) {
	if day == 0 {
		return t.findSlots(ctx, bson.M{})
	}
	return t.findSlots(ctx, bson.M{"day": day})
}

func (t *mongoTx) SlotsByParticipation(ctx context.Context, participationID string) ([]*model.Slot, error) {
	return t.findSlots(ctx, bson.M{"participants.participation_id": participationID})
}

func (t *mongoTx) LatestMergedSlot(ctx context.Context) (*model.Slot, error) {
	return t.findSlot(ctx,
		bson.M{"merged_at": bson.M{"$ne": nil}, "merge_history.0": bson.M{"$exists": true}},
		options.FindOne().SetSort(bson.D{{Key: "merged_at", Value: -1}}))
}

func (t *mongoTx) CreateSlot(ctx context.Context, s *model.Slot) error {
	if err := t.writable(); err != nil {
		return err
	}
	s.Version = 1
	_, err := t.coll(CollSlots).InsertOne(ctx, s)
	return translateMongo(err)
}

func (t *mongoTx) UpdateSlot(ctx context.Context, s *model.Slot) error {
	if err := t.writable(); err != nil {
		return err
	}
	next := s.Clone()
	next.Version = s.Version + 1
	res, err := t.coll(CollSlots).ReplaceOne(ctx, bson.M{"_id": s.ID, "version": s.Version}, next)
	if err != nil {
		return translateMongo(err)
	}
	if res.MatchedCount == 0 {
		n, err := t.coll(CollSlots).CountDocuments(ctx, bson.M{"_id": s.ID})
		if err != nil {
			return translateMongo(err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	s.Version = next.Version
	return nil
}

func (t *mongoTx) DeleteSlot(ctx context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.coll(CollSlots).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translateMongo(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mongoTx) HasCompletion(ctx context.Context, userID, slotID string) (bool, error) {
	n, err := t.coll(CollCompletions).CountDocuments(ctx, bson.M{"user_id": userID, "slot_id": slotID})
	return n > 0, translateMongo(err)
}

func (t *mongoTx) CreateCompletion(ctx context.Context, c *model.CompletionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.coll(CollCompletions).InsertOne(ctx, c)
	return translateMongo(err)
}

func (t *mongoTx) ListCompletions(ctx context.Context, userID string) ([]*model.CompletionRecord, error) {
	cur, err := t.coll(CollCompletions).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, translateMongo(err)
	}
	defer cur.Close(ctx)
	out := make([]*model.CompletionRecord, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
