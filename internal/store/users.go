package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/database"
	"storefront/internal/models"
)

type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection(database.UsersCollection)}
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if user.Addresses == nil {
		user.Addresses = []models.Address{}
	}
	if user.Wishlist == nil {
		user.Wishlist = []primitive.ObjectID{}
	}
	res, err := s.coll.InsertOne(ctx, user)
	if err != nil {
		return translate(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = id
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.coll.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// UpdateProfile sets the non-nil fields and returns the updated user.
func (s *UserStore) UpdateProfile(ctx context.Context, id primitive.ObjectID, name, phone *string) (*models.User, error) {
	set := bson.M{"updatedAt": time.Now()}
	if name != nil {
		set["name"] = *name
	}
	if phone != nil {
		set["phone"] = *phone
	}
	return s.findOneAndSet(ctx, id, set)
}

func (s *UserStore) SetRole(ctx context.Context, id primitive.ObjectID, role string) (*models.User, error) {
	return s.findOneAndSet(ctx, id, bson.M{"role": role, "updatedAt": time.Now()})
}

func (s *UserStore) SetPasswordHash(ctx context.Context, id primitive.ObjectID, hash string) error {
	_, err := s.findOneAndSet(ctx, id, bson.M{"passwordHash": hash, "updatedAt": time.Now()})
	return err
}

func (s *UserStore) SetAddresses(ctx context.Context, id primitive.ObjectID, addresses []models.Address) error {
	if addresses == nil {
		addresses = []models.Address{}
	}
	_, err := s.findOneAndSet(ctx, id, bson.M{"addresses": addresses, "updatedAt": time.Now()})
	return err
}

func (s *UserStore) AddToWishlist(ctx context.Context, userID, productID primitive.ObjectID) error {
	res, err := s.coll.UpdateByID(ctx, userID, bson.M{
		"$addToSet": bson.M{"wishlist": productID},
		"$set":      bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) RemoveFromWishlist(ctx context.Context, userID, productID primitive.ObjectID) error {
	res, err := s.coll.UpdateByID(ctx, userID, bson.M{
		"$pull": bson.M{"wishlist": productID},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) findOneAndSet(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.User, error) {
	var updated models.User
	err := s.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return nil, translate(err)
	}
	return &updated, nil
}
