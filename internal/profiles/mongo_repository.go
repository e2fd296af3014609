package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the document collection holding profiles.
const CollectionName = "users"

// MongoRepository stores profiles in a MongoDB collection.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository constructs a MongoDB-backed profile repository.
func NewMongoRepository(ctx context.Context, col *mongo.Collection) (*MongoRepository, error) {
	if col == nil {
		return nil, fmt.Errorf("profiles: collection required")
	}
	index := mongo.IndexModel{Keys: bson.D{{Key: "createdAt", Value: -1}}}
	if _, err := col.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("profiles: create index: %w", err)
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (r *MongoRepository) CreateIfAbsent(ctx context.Context, profile Profile) (Profile, bool, error) {
	result, err := r.col.UpdateOne(
		ctx,
		bson.M{"_id": profile.ID},
		bson.M{"$setOnInsert": profile},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return Profile{}, false, err
	}
	if result.UpsertedCount == 1 {
		return profile, true, nil
	}
	existing, err := r.Get(ctx, profile.ID)
	if err != nil {
		return Profile{}, false, err
	}
	return existing, false, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]Profile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []Profile{}
	for cur.Next(ctx) {
		var profile Profile
		if err := cur.Decode(&profile); err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	return out, cur.Err()
}

func (r *MongoRepository) UpdateRole(ctx context.Context, id string, role Role, updatedAt time.Time) error {
	result, err := r.col.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"role": role, "updatedAt": updatedAt.UTC()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrProfileNotFound
	}
	return nil
}
