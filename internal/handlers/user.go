package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/account"
	"storefront/internal/middleware"
)

type wishlistRequest struct {
	ProductID string `json:"productId" binding:"required"`
}

func respondAccountError(c *gin.Context, route string, err error) {
	switch {
	case isValidationError(err):
		respondValidationError(c, err)
	case errors.Is(err, account.ErrUserNotFound):
		respondWithError(c, http.StatusNotFound, route, "user not found")
	case errors.Is(err, account.ErrProductNotFound):
		respondWithError(c, http.StatusNotFound, route, "product not found")
	case errors.Is(err, account.ErrAddressNotFound):
		respondWithError(c, http.StatusNotFound, route, "address not found")
	default:
		respondInternal(c, route, err)
	}
}

func requireUser(c *gin.Context, route string) (primitive.ObjectID, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
	}
	return userID, ok
}

func GetWishlist(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /user/wishlist"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		products, err := svc.Wishlist(ctx, userID)
		if err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": products})
	}
}

func AddToWishlist(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /user/wishlist"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}

		var req wishlistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		productID, err := primitive.ObjectIDFromHex(strings.TrimSpace(req.ProductID))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid productId")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.AddToWishlist(ctx, userID, productID); err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"productId": productID.Hex()})
	}
}

func RemoveFromWishlist(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /user/wishlist/:productId"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}
		productID, ok := objectIDParam(c, route, "productId")
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.RemoveFromWishlist(ctx, userID, productID); err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "removed from wishlist"})
	}
}

func GetUserAddresses(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /user/addresses"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		addresses, err := svc.Addresses(ctx, userID)
		if err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"addresses": addresses})
	}
}

func CreateUserAddress(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /user/addresses"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}

		var req account.AddressInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		address, err := svc.CreateAddress(ctx, userID, req)
		if err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"address": address})
	}
}

func UpdateUserAddress(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /user/addresses/:id"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}
		addressID := strings.TrimSpace(c.Param("id"))
		if addressID == "" {
			respondWithError(c, http.StatusBadRequest, route, "invalid address id")
			return
		}

		var req account.AddressInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		address, err := svc.UpdateAddress(ctx, userID, addressID, req)
		if err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": address})
	}
}

func DeleteUserAddress(svc AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /user/addresses/:id"
		defer handlePanic(c, route)

		userID, ok := requireUser(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.DeleteAddress(ctx, userID, strings.TrimSpace(c.Param("id"))); err != nil {
			respondAccountError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "address deleted"})
	}
}
