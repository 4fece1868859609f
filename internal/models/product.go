package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Product struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name" json:"name"`
	Slug           string             `bson:"slug" json:"slug"`
	Description    string             `bson:"description,omitempty" json:"description,omitempty"`
	Brand          string             `bson:"brand,omitempty" json:"brand,omitempty"`
	Category       string             `bson:"category" json:"category"`
	Images         StringList         `bson:"images" json:"images"`
	Price          float64            `bson:"price" json:"price"`
	DiscountPrice  float64            `bson:"discountPrice" json:"discountPrice"`
	EffectivePrice float64            `bson:"-" json:"effectivePrice"`
	IsOnSale       bool               `bson:"-" json:"isOnSale"`
	Stock          int                `bson:"stock" json:"stock"`
	InStock        bool               `bson:"-" json:"inStock"`
	IsFeatured     bool               `bson:"isFeatured" json:"isFeatured"`
	IsActive       bool               `bson:"isActive" json:"isActive"`
	IsDeleted      bool               `bson:"isDeleted" json:"isDeleted,omitempty"`
	DeletedAt      *time.Time         `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Decorate fills the computed, non-persisted fields.
func (p *Product) Decorate() {
	p.IsOnSale = IsOnSale(p.Price, p.DiscountPrice)
	p.EffectivePrice = EffectivePrice(p.Price, p.DiscountPrice)
	p.InStock = p.Stock > 0
}

// PrimaryImage returns the first image URL, or "" when the product has none.
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}
