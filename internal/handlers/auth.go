package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/middleware"
	"cleancity-backend/internal/models"
	"cleancity-backend/pkg/utils"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK    bool                 `json:"ok"`
	Token string               `json:"token,omitempty"`
	User  *models.UserResponse `json:"user,omitempty"`
}

func Login(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		log.Printf("🔐 Login attempt for: %s", email)

		user, err := d.Store.GetUserByEmail(r.Context(), email)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				utils.RespondAppError(w, err)
				return
			}
			log.Printf("❌ User not found: %s", email)
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Printf("❌ Invalid password for: %s", email)
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		token, err := middleware.IssueToken(d.JWTSecret, user, d.Clock.Now())
		if err != nil {
			log.Printf("❌ Failed to create token: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}

		resp := user.ToUserResponse()
		log.Printf("✅ Login successful: %s (%s)", user.Email, user.Role)
		utils.RespondJSON(w, http.StatusOK, LoginResponse{OK: true, Token: token, User: &resp})
	}
}

// Me returns the authenticated user's profile
func Me(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		user, err := d.Store.GetUser(r.Context(), claims.UserID)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, user.ToUserResponse())
	}
}
