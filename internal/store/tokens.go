package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/database"
	"storefront/internal/models"
)

type RefreshTokenStore struct {
	coll *mongo.Collection
}

func NewRefreshTokenStore(db *mongo.Database) *RefreshTokenStore {
	return &RefreshTokenStore{coll: db.Collection(database.RefreshTokensCollection)}
}

func (s *RefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	res, err := s.coll.InsertOne(ctx, token)
	if err != nil {
		return translate(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		token.ID = id
	}
	return nil
}

// GetActiveByHash returns a non-revoked token. Expiry is checked by the caller.
func (s *RefreshTokenStore) GetActiveByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := s.coll.FindOne(ctx, bson.M{"tokenHash": hash, "revoked": false}).Decode(&token)
	if err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

// Claim revokes an active token by id, reporting whether this call was the one that revoked it.
func (s *RefreshTokenStore) Claim(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *RefreshTokenStore) SetReplacement(ctx context.Context, id, replacedBy primitive.ObjectID) error {
	_, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"replacedByToken": replacedBy}})
	return err
}

// RevokeByHash revokes an active token, reporting whether one matched.
func (s *RefreshTokenStore) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"tokenHash": hash, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}
