package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the document collection holding posts.
const CollectionName = "blogs"

// MongoRepository stores posts in a MongoDB collection.
type MongoRepository struct {
	col   *mongo.Collection
	clock *ServerClock
}

// NewMongoRepository constructs a MongoDB-backed post repository.
func NewMongoRepository(ctx context.Context, col *mongo.Collection, clock *ServerClock) (*MongoRepository, error) {
	if col == nil {
		return nil, fmt.Errorf("posts: collection required")
	}
	if clock == nil {
		clock = NewServerClock(nil)
	}
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "authorId", Value: 1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("posts: create indexes: %w", err)
	}
	return &MongoRepository{col: col, clock: clock}, nil
}

func (r *MongoRepository) Insert(ctx context.Context, post *Post) error {
	post.TimestampNanos = r.clock.Next()
	if _, err := r.col.InsertOne(ctx, post); err != nil {
		post.TimestampNanos = 0
		return err
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (Post, error) {
	var post Post
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (r *MongoRepository) Update(ctx context.Context, id string, patch Patch, updatedAt time.Time) error {
	set := bson.M{"updatedAt": updatedAt.UTC()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.SubTitle != nil {
		set["subTitle"] = *patch.SubTitle
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Category != nil {
		set["category"] = *patch.Category
	}
	if patch.ImageURL != nil {
		set["imageURL"] = *patch.ImageURL
	}
	if patch.IsPublished != nil {
		set["isPublished"] = *patch.IsPublished
	}
	result, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *MongoRepository) ListOrdered(ctx context.Context) ([]Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"timestamp": bson.M{"$gt": 0}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []Post{}
	for cur.Next(ctx) {
		var post Post
		if err := cur.Decode(&post); err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, cur.Err()
}
