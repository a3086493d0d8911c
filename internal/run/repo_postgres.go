package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRepo stores runs in the workflow_runs table. JSON documents
// (contexts, cost info, logs) live in jsonb columns and are mutated with
// jsonb merge/append expressions so concurrent callbacks never overwrite
// each other's fields.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const runColumns = `id, name, workflow_id, user_id, mode, state, call_type,
	initial_context, gathered_context, cost_info, logs,
	campaign_id, queued_run_id, is_completed, created_at, updated_at`

func (p *PostgresRepo) Create(ctx context.Context, r Run) (Run, error) {
	if r.State == "" {
		r.State = StateInitialized
	}
	initCtx, err := marshalDoc(r.InitialContext)
	if err != nil {
		return Run{}, err
	}
	gathered, err := marshalDoc(r.GatheredContext)
	if err != nil {
		return Run{}, err
	}

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO workflow_runs
			(name, workflow_id, user_id, mode, state, call_type,
			 initial_context, gathered_context, cost_info, logs,
			 campaign_id, queued_run_id, is_completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}', '{}', $9, $10, false, now(), now())
		RETURNING id, created_at, updated_at`,
		r.Name, r.WorkflowID, r.UserID, r.Mode, r.State, r.CallType,
		initCtx, gathered, r.CampaignID, r.QueuedRunID,
	)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

func (p *PostgresRepo) Get(ctx context.Context, id int64) (Run, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)
	return scanRun(row)
}

func (p *PostgresRepo) FindByCallID(ctx context.Context, workflowID int64, callID string) (Run, error) {
	needle, err := json.Marshal(map[string]string{"call_id": callID})
	if err != nil {
		return Run{}, err
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM workflow_runs
		WHERE workflow_id = $1 AND initial_context @> $2::jsonb
		ORDER BY created_at DESC
		LIMIT 1`,
		workflowID, needle,
	)
	return scanRun(row)
}

func (p *PostgresRepo) MarkRunning(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3`,
		id, StateRunning, StateInitialized,
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (p *PostgresRepo) Complete(ctx context.Context, id int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = $2, is_completed = true, updated_at = now()
		WHERE id = $1 AND is_completed = false`,
		id, StateCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return true, nil
	}
	if _, err := p.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (p *PostgresRepo) MergeInitialContext(ctx context.Context, id int64, kv map[string]any) error {
	return p.mergeColumn(ctx, "initial_context", id, kv)
}

func (p *PostgresRepo) MergeGatheredContext(ctx context.Context, id int64, kv map[string]any) error {
	return p.mergeColumn(ctx, "gathered_context", id, kv)
}

func (p *PostgresRepo) MergeCostInfo(ctx context.Context, id int64, kv map[string]any) error {
	return p.mergeColumn(ctx, "cost_info", id, kv)
}

func (p *PostgresRepo) AppendCallTags(ctx context.Context, id int64, tags []string) error {
	doc, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET gathered_context = jsonb_set(
			COALESCE(gathered_context, '{}'::jsonb),
			'{call_tags}',
			COALESCE(gathered_context->'call_tags', '[]'::jsonb) || $2::jsonb,
			true
		), updated_at = now()
		WHERE id = $1`,
		id, doc,
	)
	if err != nil {
		return fmt.Errorf("append call tags: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresRepo) AppendLog(ctx context.Context, id int64, stream string, entry map[string]any) error {
	doc, err := json.Marshal([]map[string]any{entry})
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET logs = jsonb_set(
			COALESCE(logs, '{}'::jsonb),
			ARRAY[$2],
			COALESCE(logs->$2, '[]'::jsonb) || $3::jsonb,
			true
		), updated_at = now()
		WHERE id = $1`,
		id, stream, doc,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresRepo) mergeColumn(ctx context.Context, column string, id int64, kv map[string]any) error {
	doc, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	// column is one of three fixed names above, never user input.
	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET `+column+` = COALESCE(`+column+`, '{}'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1`,
		id, doc,
	)
	if err != nil {
		return fmt.Errorf("merge %s: %w", column, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		initCtx  []byte
		gathered []byte
		costInfo []byte
		logs     []byte
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.WorkflowID, &r.UserID, &r.Mode, &r.State, &r.CallType,
		&initCtx, &gathered, &costInfo, &logs,
		&r.CampaignID, &r.QueuedRunID, &r.IsCompleted, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if err := unmarshalDoc(initCtx, &r.InitialContext); err != nil {
		return Run{}, err
	}
	if err := unmarshalDoc(gathered, &r.GatheredContext); err != nil {
		return Run{}, err
	}
	if err := unmarshalDoc(costInfo, &r.CostInfo); err != nil {
		return Run{}, err
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &r.Logs); err != nil {
			return Run{}, fmt.Errorf("scan run logs: %w", err)
		}
	}
	return r, nil
}

func marshalDoc(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalDoc(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
