package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the unit of usage attribution. A tenant owns zero or more API
// keys; everything else about it lives outside the gateway.
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
