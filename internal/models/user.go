package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Address is a saved delivery address in a user's address book.
type Address struct {
	ID        string `bson:"id" json:"id"`
	Label     string `bson:"label,omitempty" json:"label,omitempty"`
	FullName  string `bson:"fullName" json:"fullName"`
	Phone     string `bson:"phone" json:"phone"`
	County    string `bson:"county" json:"county"`
	SubCounty string `bson:"subCounty" json:"subCounty"`
	Location  string `bson:"location" json:"location"`
	Address   string `bson:"address" json:"address"`
	Notes     string `bson:"notes,omitempty" json:"notes,omitempty"`
	IsDefault bool   `bson:"isDefault" json:"isDefault"`
}

// User represents a storefront account. Admins are users with RoleAdmin.
type User struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name         string               `bson:"name" json:"name"`
	Email        string               `bson:"email" json:"email"`
	Phone        string               `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash string               `bson:"passwordHash" json:"-"`
	Role         string               `bson:"role" json:"role"`
	IsActive     bool                 `bson:"isActive" json:"isActive"`
	Addresses    []Address            `bson:"addresses" json:"addresses"`
	Wishlist     []primitive.ObjectID `bson:"wishlist" json:"wishlist"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
