package store

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/database"
	"storefront/internal/models"
)

const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
)

// ProductFilter narrows product listings. Zero values mean "no constraint".
type ProductFilter struct {
	Category        string
	Brand           string
	Search          string
	MinPrice        *float64
	MaxPrice        *float64
	Featured        *bool
	InStockOnly     bool
	IncludeInactive bool
	Sort            string
}

type ProductStore struct {
	coll *mongo.Collection
}

func NewProductStore(db *mongo.Database) *ProductStore {
	return &ProductStore{coll: db.Collection(database.ProductsCollection)}
}

func (s *ProductStore) List(ctx context.Context, f ProductFilter, page, limit int64) ([]models.Product, int64, error) {
	filter := productQuery(f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$addFields", Value: bson.M{"effectivePrice": effectivePriceExpr}}},
		{{Key: "$sort", Value: productSort(f.Sort)}},
		{{Key: "$skip", Value: pageSkip(page, limit)}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	products, err := decodeProducts(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// GetByID returns a product that has not been deleted.
func (s *ProductStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	return s.findOne(ctx, bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}})
}

func (s *ProductStore) GetBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return s.findOne(ctx, bson.M{"slug": slug, "isDeleted": bson.M{"$ne": true}})
}

// GetMany returns the non-deleted products among ids, in no particular order.
func (s *ProductStore) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	cursor, err := s.coll.Find(ctx, bson.M{
		"_id":       bson.M{"$in": ids},
		"isDeleted": bson.M{"$ne": true},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeProducts(ctx, cursor)
}

func (s *ProductStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{"slug": slug}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *ProductStore) Create(ctx context.Context, p *models.Product) error {
	res, err := s.coll.InsertOne(ctx, p)
	if err != nil {
		return translate(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		p.ID = id
	}
	p.Decorate()
	return nil
}

// Update replaces the editable fields of a non-deleted product.
func (s *ProductStore) Update(ctx context.Context, p *models.Product) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": p.ID, "isDeleted": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"name":          p.Name,
			"slug":          p.Slug,
			"description":   p.Description,
			"brand":         p.Brand,
			"category":      p.Category,
			"images":        p.Images,
			"price":         p.Price,
			"discountPrice": p.DiscountPrice,
			"stock":         p.Stock,
			"isFeatured":    p.IsFeatured,
			"isActive":      p.IsActive,
			"updatedAt":     p.UpdatedAt,
		}},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	p.Decorate()
	return nil
}

func (s *ProductStore) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"isDeleted": true,
			"deletedAt": now,
			"isActive":  false,
			"updatedAt": now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProductStore) findOne(ctx context.Context, filter bson.M) (*models.Product, error) {
	var raw bson.M
	if err := s.coll.FindOne(ctx, filter).Decode(&raw); err != nil {
		return nil, translate(err)
	}
	product, err := normalizeProductDocument(raw)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// effectivePriceExpr mirrors models.EffectivePrice for server-side filtering and sorting.
var effectivePriceExpr = bson.M{"$cond": bson.A{
	bson.M{"$and": bson.A{
		bson.M{"$gt": bson.A{"$discountPrice", 0}},
		bson.M{"$lt": bson.A{"$discountPrice", "$price"}},
	}},
	"$discountPrice",
	"$price",
}}

func productQuery(f ProductFilter) bson.M {
	filter := bson.M{"isDeleted": bson.M{"$ne": true}}
	if !f.IncludeInactive {
		filter["isActive"] = bson.M{"$ne": false}
	}

	if category := strings.TrimSpace(f.Category); category != "" {
		filter["category"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(category) + "$", Options: "i"}
	}
	if brand := strings.TrimSpace(f.Brand); brand != "" {
		filter["brand"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(brand) + "$", Options: "i"}
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = []bson.M{
			{"name": pattern},
			{"brand": pattern},
			{"description": pattern},
		}
	}

	var bounds bson.A
	if f.MinPrice != nil {
		bounds = append(bounds, bson.M{"$gte": bson.A{effectivePriceExpr, *f.MinPrice}})
	}
	if f.MaxPrice != nil {
		bounds = append(bounds, bson.M{"$lte": bson.A{effectivePriceExpr, *f.MaxPrice}})
	}
	if len(bounds) > 0 {
		filter["$expr"] = bson.M{"$and": bounds}
	}
	if f.Featured != nil {
		filter["isFeatured"] = *f.Featured
	}
	if f.InStockOnly {
		filter["stock"] = bson.M{"$gt": 0}
	}

	return filter
}

func productSort(sort string) bson.D {
	switch sort {
	case SortPriceAsc:
		return bson.D{{Key: "effectivePrice", Value: 1}, {Key: "_id", Value: 1}}
	case SortPriceDesc:
		return bson.D{{Key: "effectivePrice", Value: -1}, {Key: "_id", Value: 1}}
	case SortName:
		return bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	}
}

// normalizeProductDocument tolerates older documents where stock was stored as a
// double or numeric string, or flags were stored as strings.
func normalizeProductDocument(raw bson.M) (models.Product, error) {
	for _, key := range []string{"isActive", "isFeatured"} {
		switch typed := raw[key].(type) {
		case bool:
		case string:
			raw[key] = strings.EqualFold(strings.TrimSpace(typed), "true")
		case nil:
			raw[key] = key == "isActive"
		default:
			raw[key] = false
		}
	}

	switch typed := raw["stock"].(type) {
	case int32:
		raw["stock"] = int(typed)
	case int64:
		raw["stock"] = int(typed)
	case float64:
		raw["stock"] = int(typed)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil || n < 0 {
			n = 0
		}
		raw["stock"] = n
	case int:
	default:
		raw["stock"] = 0
	}

	if _, ok := raw["images"]; !ok {
		if legacy, ok := raw["image"].(string); ok {
			raw["images"] = []string{legacy}
		}
		delete(raw, "image")
	}

	data, err := bson.Marshal(raw)
	if err != nil {
		return models.Product{}, err
	}

	var p models.Product
	if err := bson.Unmarshal(data, &p); err != nil {
		return models.Product{}, err
	}
	p.Decorate()
	return p, nil
}

func decodeProducts(ctx context.Context, cursor *mongo.Cursor) ([]models.Product, error) {
	products := make([]models.Product, 0)

	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}

		product, err := normalizeProductDocument(raw)
		if err != nil {
			return nil, err
		}

		products = append(products, product)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return products, nil
}
