package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cleancity-backend/internal/apperr"
	"cleancity-backend/internal/models"
	"cleancity-backend/pkg/utils"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "resident", "collector" or "admin"
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser creates a resident, collector or admin account
// Requires admin authentication
func CreateUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("📥 REQUEST: POST /api/users - Create new user")

		var req CreateUserRequest
		if !decodeBody(w, r, &req) {
			return
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			log.Println("❌ Missing required fields")
			utils.RespondError(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}
		if !models.ValidRole(req.Role) {
			log.Printf("❌ Invalid role: %s", req.Role)
			utils.RespondError(w, http.StatusBadRequest, "Role must be 'resident', 'collector', or 'admin'")
			return
		}

		ctx := r.Context()
		if _, err := d.Store.GetUserByEmail(ctx, req.Email); err == nil {
			log.Printf("❌ User already exists: %s", req.Email)
			utils.RespondError(w, http.StatusConflict, "User with this email already exists")
			return
		} else if !errors.Is(err, apperr.ErrNotFound) {
			utils.RespondAppError(w, err)
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := d.Clock.Now().Unix()
		user := &models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hashed),
			Name:      req.Name,
			Role:      req.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := d.Store.CreateUser(ctx, user); err != nil {
			utils.RespondAppError(w, err)
			return
		}

		resp := user.ToUserResponse()
		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)
		utils.RespondJSON(w, http.StatusCreated, CreateUserResponse{Success: true, User: &resp, Message: "User created successfully"})
	}
}

func ListUsers(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.URL.Query().Get("role")
		if role != "" && !models.ValidRole(role) {
			utils.RespondError(w, http.StatusBadRequest, "Unknown role")
			return
		}
		users, err := d.Store.ListUsers(r.Context(), role)
		if err != nil {
			utils.RespondAppError(w, err)
			return
		}
		resp := make([]models.UserResponse, 0, len(users))
		for i := range users {
			resp = append(resp, users[i].ToUserResponse())
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// RegisterDevice stores the caller's FCM token for push delivery
func RegisterDevice(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req RegisterDeviceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.RespondError(w, http.StatusBadRequest, "device_type must be 'ios' or 'android'")
			return
		}

		now := d.Clock.Now().Unix()
		token := &models.DeviceToken{
			UserID:     claims.UserID,
			Token:      req.Token,
			DeviceType: req.DeviceType,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := d.Store.UpsertDeviceToken(r.Context(), token); err != nil {
			utils.RespondAppError(w, err)
			return
		}
		log.Printf("📱 Registered %s device for %s", req.DeviceType, claims.UserID)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
