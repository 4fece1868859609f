package store

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/database"
	"storefront/internal/models"
)

// DeliveryFilter narrows the admin listing of delivery locations.
type DeliveryFilter struct {
	County    string
	SubCounty string
	IsActive  *bool
}

type DeliveryStore struct {
	coll *mongo.Collection
}

func NewDeliveryStore(db *mongo.Database) *DeliveryStore {
	return &DeliveryStore{coll: db.Collection(database.DeliveryLocationsCollection)}
}

// ListCounties returns the distinct display names of counties with an active location.
func (s *DeliveryStore) ListCounties(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "county", bson.M{"isActive": true})
}

func (s *DeliveryStore) ListSubCounties(ctx context.Context, county string) ([]string, error) {
	return s.distinct(ctx, "subCounty", bson.M{
		"isActive":  true,
		"countyKey": models.LocationKey(county),
	})
}

// ListLocations returns the active locations of a sub-county, sorted by name.
func (s *DeliveryStore) ListLocations(ctx context.Context, county, subCounty string) ([]models.DeliveryLocation, error) {
	filter := bson.M{
		"isActive":     true,
		"countyKey":    models.LocationKey(county),
		"subCountyKey": models.LocationKey(subCounty),
	}
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "location", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	locations := make([]models.DeliveryLocation, 0)
	if err := cursor.All(ctx, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

// FindActive resolves an exact, active (county, subCounty, location) match.
func (s *DeliveryStore) FindActive(ctx context.Context, county, subCounty, location string) (*models.DeliveryLocation, error) {
	var loc models.DeliveryLocation
	err := s.coll.FindOne(ctx, bson.M{
		"isActive":     true,
		"countyKey":    models.LocationKey(county),
		"subCountyKey": models.LocationKey(subCounty),
		"locationKey":  models.LocationKey(location),
	}).Decode(&loc)
	if err != nil {
		return nil, translate(err)
	}
	return &loc, nil
}

func (s *DeliveryStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.DeliveryLocation, error) {
	var loc models.DeliveryLocation
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&loc); err != nil {
		return nil, translate(err)
	}
	return &loc, nil
}

func (s *DeliveryStore) List(ctx context.Context, f DeliveryFilter, page, limit int64) ([]models.DeliveryLocation, int64, error) {
	filter := bson.M{}
	if f.County != "" {
		filter["countyKey"] = models.LocationKey(f.County)
	}
	if f.SubCounty != "" {
		filter["subCountyKey"] = models.LocationKey(f.SubCounty)
	}
	if f.IsActive != nil {
		filter["isActive"] = *f.IsActive
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "county", Value: 1}, {Key: "subCounty", Value: 1}, {Key: "location", Value: 1}}).
		SetSkip(pageSkip(page, limit)).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	locations := make([]models.DeliveryLocation, 0)
	if err := cursor.All(ctx, &locations); err != nil {
		return nil, 0, err
	}
	return locations, total, nil
}

func (s *DeliveryStore) Create(ctx context.Context, loc *models.DeliveryLocation) error {
	loc.SetKeys()
	res, err := s.coll.InsertOne(ctx, loc)
	if err != nil {
		return translate(err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		loc.ID = id
	}
	return nil
}

func (s *DeliveryStore) Update(ctx context.Context, loc *models.DeliveryLocation) error {
	loc.SetKeys()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": loc.ID},
		bson.M{"$set": bson.M{
			"county":       loc.County,
			"subCounty":    loc.SubCounty,
			"location":     loc.Location,
			"countyKey":    loc.CountyKey,
			"subCountyKey": loc.SubCountyKey,
			"locationKey":  loc.LocationKey,
			"fee":          loc.Fee,
			"isActive":     loc.IsActive,
			"updatedAt":    loc.UpdatedAt,
		}},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DeliveryStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts or refreshes a location keyed by its normalized triple.
// It reports whether a new document was created.
func (s *DeliveryStore) Upsert(ctx context.Context, loc models.DeliveryLocation) (bool, error) {
	loc.SetKeys()
	now := time.Now()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"countyKey":    loc.CountyKey,
			"subCountyKey": loc.SubCountyKey,
			"locationKey":  loc.LocationKey,
		},
		bson.M{
			"$set": bson.M{
				"county":    loc.County,
				"subCounty": loc.SubCounty,
				"location":  loc.Location,
				"fee":       loc.Fee,
				"isActive":  true,
				"updatedAt": now,
			},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (s *DeliveryStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *DeliveryStore) distinct(ctx context.Context, field string, filter bson.M) ([]string, error) {
	values, err := s.coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := v.(string); ok && name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
