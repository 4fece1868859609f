package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/middleware"
)

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type ProfileRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func respondAuthError(c *gin.Context, route string, err error) {
	switch {
	case isValidationError(err):
		respondValidationError(c, err)
	case errors.Is(err, auth.ErrEmailTaken):
		respondWithError(c, http.StatusConflict, route, "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
	case errors.Is(err, auth.ErrInactive):
		respondWithError(c, http.StatusForbidden, route, "account is disabled")
	case errors.Is(err, auth.ErrRefreshExpired):
		respondWithError(c, http.StatusUnauthorized, route, "refresh token expired")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		respondWithError(c, http.StatusUnauthorized, route, "invalid refresh token")
	case errors.Is(err, auth.ErrUserNotFound):
		respondWithError(c, http.StatusNotFound, route, "user not found")
	default:
		respondInternal(c, route, err)
	}
}

func Register(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/register"
		defer handlePanic(c, route)

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		session, err := svc.Register(ctx, auth.RegisterInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Phone:    req.Phone,
		})
		if err != nil {
			respondAuthError(c, route, err)
			return
		}

		c.JSON(http.StatusCreated, session)
	}
}

func Login(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/login"
		defer handlePanic(c, route)

		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		session, err := svc.Login(ctx, req.Email, req.Password)
		if err != nil {
			respondAuthError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// Refresh rotates the refresh token and issues a new pair.
func Refresh(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/refresh"
		defer handlePanic(c, route)

		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		session, err := svc.Refresh(ctx, req.RefreshToken)
		if err != nil {
			respondAuthError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func Logout(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/logout"
		defer handlePanic(c, route)

		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := svc.Logout(ctx, req.RefreshToken); err != nil {
			respondAuthError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	}
}

func GetMe(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /auth/me"
		defer handlePanic(c, route)

		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		user, err := svc.Me(ctx, userID)
		if err != nil {
			respondAuthError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func UpdateMe(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /auth/me"
		defer handlePanic(c, route)

		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
			return
		}

		var req ProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		user, err := svc.UpdateProfile(ctx, userID, req.Name, req.Phone)
		if err != nil {
			respondAuthError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
