package models

import (
	"time"

	"github.com/google/uuid"
)

// InitialTokenGrant is the prepaid analysis balance given to every new account.
const InitialTokenGrant = 15

// User represents an account that uploads images and consumes analysis quota.
// Pro accounts analyze without limits; everyone else spends prepaid tokens
// first and then a small daily free allowance.
type User struct {
	ID                 uuid.UUID `db:"id"                    json:"id"`
	Email              string    `db:"email"                 json:"email"`
	Name               string    `db:"name"                  json:"name"`
	Role               string    `db:"role"                  json:"role"`
	IsPro              bool      `db:"is_pro"                json:"is_pro"`
	TokensTotal        int       `db:"tokens_total"          json:"tokens_total"`
	TokensUsedToday    int       `db:"tokens_used_today"     json:"tokens_used_today"`
	TokenLastResetDate time.Time `db:"token_last_reset_date" json:"token_last_reset_date"`
	CreatedAt          time.Time `db:"created_at"            json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"            json:"updated_at"`
}
