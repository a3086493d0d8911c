package org

import (
	"context"
	"encoding/json"
	"errors"
)

// Workflow is the calling campaign/script definition a run executes against.
// Only the fields the gateway needs are modeled here; workflow authoring
// lives elsewhere.
type Workflow struct {
	ID             int64  `json:"id" db:"id"`
	OrganizationID int64  `json:"organization_id" db:"organization_id"`
	UserID         int64  `json:"user_id" db:"user_id"`
	Name           string `json:"name" db:"name"`
}

// UserConfig carries per-user settings the gateway reads.
type UserConfig struct {
	UserID          int64  `json:"user_id" db:"user_id"`
	TestPhoneNumber string `json:"test_phone_number" db:"test_phone_number"`
}

// TelephonyConfigKey is the organization configuration key holding the
// provider credentials document (a tagged union parsed by
// internal/telephony).
const TelephonyConfigKey = "TELEPHONY_CONFIGURATION"

var ErrNotFound = errors.New("not found")

// Repo reads organization-scoped records. The gateway never writes them;
// configuration CRUD belongs to the admin surface.
type Repo interface {
	Workflow(ctx context.Context, id int64) (Workflow, error)
	TelephonyConfig(ctx context.Context, organizationID int64) (json.RawMessage, error)
	UserConfig(ctx context.Context, userID int64) (UserConfig, error)
}
