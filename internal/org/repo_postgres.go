package org

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRepo reads workflows, organization configurations and user
// configurations. Organization configuration is a key/value table holding
// one JSON document per key.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (p *PostgresRepo) Workflow(ctx context.Context, id int64) (Workflow, error) {
	var w Workflow
	err := p.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, name
		FROM workflows
		WHERE id = $1`, id,
	).Scan(&w.ID, &w.OrganizationID, &w.UserID, &w.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

func (p *PostgresRepo) TelephonyConfig(ctx context.Context, organizationID int64) (json.RawMessage, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value
		FROM organization_configurations
		WHERE organization_id = $1 AND key = $2`,
		organizationID, TelephonyConfigKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get telephony config: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (p *PostgresRepo) UserConfig(ctx context.Context, userID int64) (UserConfig, error) {
	var (
		uc    UserConfig
		phone sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, test_phone_number
		FROM user_configurations
		WHERE user_id = $1`, userID,
	).Scan(&uc.UserID, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return UserConfig{}, ErrNotFound
	}
	if err != nil {
		return UserConfig{}, fmt.Errorf("get user config: %w", err)
	}
	uc.TestPhoneNumber = phone.String
	return uc, nil
}
