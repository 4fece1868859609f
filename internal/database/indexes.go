package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection             = "users"
	ProductsCollection          = "products"
	CategoriesCollection        = "categories"
	OrdersCollection            = "orders"
	DeliveryLocationsCollection = "delivery_locations"
	RefreshTokensCollection     = "refresh_tokens"
)

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

func indexPlan() []collectionIndexes {
	return []collectionIndexes{
		{
			collection: UsersCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "email", Value: 1}},
					Options: options.Index().SetName("email_unique").SetUnique(true),
				},
			},
		},
		{
			collection: ProductsCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "slug", Value: 1}},
					Options: options.Index().SetName("slug_unique").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "category", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("category_createdAt"),
				},
			},
		},
		{
			collection: CategoriesCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "name", Value: 1}},
					Options: options.Index().SetName("name_unique").SetUnique(true),
				},
			},
		},
		{
			collection: OrdersCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("userId_createdAt"),
				},
				{
					Keys:    bson.D{{Key: "orderNumber", Value: 1}},
					Options: options.Index().SetName("orderNumber_unique").SetUnique(true),
				},
				{
					Keys: bson.D{{Key: "payment.reference", Value: 1}},
					Options: options.Index().
						SetName("payment_reference_unique").
						SetUnique(true).
						SetPartialFilterExpression(bson.M{
							"payment.reference": bson.M{"$type": "string"},
						}),
				},
				{
					Keys:    bson.D{{Key: "payment.references", Value: 1}},
					Options: options.Index().SetName("payment_references"),
				},
			},
		},
		{
			collection: DeliveryLocationsCollection,
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "countyKey", Value: 1},
						{Key: "subCountyKey", Value: 1},
						{Key: "locationKey", Value: 1},
					},
					Options: options.Index().SetName("location_unique").SetUnique(true),
				},
			},
		},
		{
			collection: RefreshTokensCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "tokenHash", Value: 1}},
					Options: options.Index().SetName("tokenHash_unique").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "expiresAt", Value: 1}},
					Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
				},
			},
		},
	}
}

// EnsureIndexes creates every index the storefront relies on. Creation is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database, logger *slog.Logger) error {
	for _, plan := range indexPlan() {
		createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		names, err := db.Collection(plan.collection).Indexes().CreateMany(createCtx, plan.models)
		cancel()
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", plan.collection, err)
		}
		logger.Debug("indexes ensured", "collection", plan.collection, "indexes", names)
	}
	return nil
}
