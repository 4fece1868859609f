package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/database"
	"storefront/internal/models"
)

type CategoryStore struct {
	coll *mongo.Collection
}

func NewCategoryStore(db *mongo.Database) *CategoryStore {
	return &CategoryStore{coll: db.Collection(database.CategoriesCollection)}
}

// List returns categories sorted by name. A nil isActive returns all of them.
func (s *CategoryStore) List(ctx context.Context, isActive *bool) ([]models.Category, error) {
	filter := bson.M{}
	if isActive != nil {
		filter["isActive"] = *isActive
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	categories := make([]models.Category, 0)
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *CategoryStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error) {
	var category models.Category
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&category); err != nil {
		return nil, translate(err)
	}
	return &category, nil
}

// ExistsByName matches case-insensitively, optionally ignoring one id.
func (s *CategoryStore) ExistsByName(ctx context.Context, name string, exclude *primitive.ObjectID) (bool, error) {
	filter := bson.M{"name": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(strings.TrimSpace(name)) + "$", Options: "i"}}
	if exclude != nil {
		filter["_id"] = bson.M{"$ne": *exclude}
	}
	count, err := s.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *CategoryStore) Create(ctx context.Context, category *models.Category) error {
	res, err := s.coll.InsertOne(ctx, category)
	if err != nil {
		return translate(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		category.ID = id
	}
	return nil
}

// Update sets the non-nil fields and returns the updated category.
func (s *CategoryStore) Update(ctx context.Context, id primitive.ObjectID, name *string, isActive *bool) (*models.Category, error) {
	set := bson.M{}
	if name != nil {
		set["name"] = *name
	}
	if isActive != nil {
		set["isActive"] = *isActive
	}
	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}
	set["updatedAt"] = time.Now().UTC()

	var category models.Category
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&category)
	if err != nil {
		return nil, translate(err)
	}
	return &category, nil
}

// Deactivate hides a category from the storefront. Products keep their category name.
func (s *CategoryStore) Deactivate(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"isActive":  false,
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
