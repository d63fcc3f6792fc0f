package models

// Roles
const (
	RoleResident  = "resident"
	RoleCollector = "collector"
	RoleAdmin     = "admin"
)

type User struct {
	ID             string `json:"id" db:"id"`
	Email          string `json:"email" db:"email"`
	Password       string `json:"-" db:"password"` // Never return password in JSON
	Name           string `json:"name" db:"name"`
	Role           string `json:"role" db:"role"` // "resident", "collector" or "admin"
	RewardPoints   int    `json:"reward_points" db:"reward_points"`
	StreakCount    int    `json:"streak_count" db:"streak_count"`
	LastReportDate *int64 `json:"last_report_date,omitempty" db:"last_report_date"` // Unix timestamp
	CreatedAt      int64  `json:"created_at" db:"created_at"`
	UpdatedAt      int64  `json:"updated_at" db:"updated_at"`
	Version        int    `json:"version" db:"version"`
}

type UserResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	RewardPoints int    `json:"reward_points"`
	StreakCount  int    `json:"streak_count"`
	CreatedAt    int64  `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		RewardPoints: u.RewardPoints,
		StreakCount:  u.StreakCount,
		CreatedAt:    u.CreatedAt,
	}
}

// ValidRole reports whether role is one the backend knows about
func ValidRole(role string) bool {
	return role == RoleResident || role == RoleCollector || role == RoleAdmin
}
