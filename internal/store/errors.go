package store

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicate               = errors.New("duplicate")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// OutOfStockError is returned when a product cannot cover the requested quantity.
type OutOfStockError struct {
	ProductID primitive.ObjectID
	Name      string
	Available int
	Requested int
}

func (e OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: available %d, requested %d", e.ProductID.Hex(), e.Available, e.Requested)
}

// ProductNotFoundError is returned when an ordered product is missing, inactive or deleted.
type ProductNotFoundError struct {
	ProductID primitive.ObjectID
}

func (e ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID.Hex())
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func pageSkip(page, limit int64) int64 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
