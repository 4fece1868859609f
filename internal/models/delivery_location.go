package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryLocation maps a (county, subCounty, location) triple to a flat delivery fee.
// The *Key fields hold the normalized values used for lookups and the unique index.
type DeliveryLocation struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	County       string             `bson:"county" json:"county"`
	SubCounty    string             `bson:"subCounty" json:"subCounty"`
	Location     string             `bson:"location" json:"location"`
	CountyKey    string             `bson:"countyKey" json:"-"`
	SubCountyKey string             `bson:"subCountyKey" json:"-"`
	LocationKey  string             `bson:"locationKey" json:"-"`
	Fee          float64            `bson:"fee" json:"fee"`
	IsActive     bool               `bson:"isActive" json:"isActive"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// LocationKey normalizes a place name for case-insensitive matching.
func LocationKey(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// SetKeys recomputes the normalized lookup fields from the display names.
func (d *DeliveryLocation) SetKeys() {
	d.County = strings.TrimSpace(d.County)
	d.SubCounty = strings.TrimSpace(d.SubCounty)
	d.Location = strings.TrimSpace(d.Location)
	d.CountyKey = LocationKey(d.County)
	d.SubCountyKey = LocationKey(d.SubCounty)
	d.LocationKey = LocationKey(d.Location)
}
