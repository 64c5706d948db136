package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResourceStore = (*ResourceRepo)(nil)

// ResourceRepo is the SQLite implementation of the ResourceStore port.
type ResourceRepo struct {
	db *DB
}

// NewResourceRepo creates a new ResourceRepo backed by the given DB.
func NewResourceRepo(db *DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

// Register persists a newly created (or adopted) resource with status active.
func (r *ResourceRepo) Register(ctx context.Context, resource model.Resource) error {
	metadata, err := json.Marshal(orEmpty(resource.Metadata))
	if err != nil {
		return fmt.Errorf("marshal resource metadata: %w", err)
	}

	const query = `
		INSERT INTO resources (id, session_id, kind, platform, external_ref, name, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		resource.ID, resource.SessionID, resource.Kind, resource.Platform,
		resource.ExternalRef, resource.Name, model.ResourceStatusActive, string(metadata))
	if err != nil {
		return fmt.Errorf("register resource %s (%s %s): %w", resource.ID, resource.Kind, resource.Name, err)
	}
	return nil
}

// ListBySession returns all resources owned by a session, oldest first.
func (r *ResourceRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Resource, error) {
	const query = `
		SELECT id, session_id, kind, platform, external_ref, name, status, created_at, metadata
		FROM resources WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Reader.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list resources for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var resources []model.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// MarkExpired flips resources in expired sessions to delete_pending in a
// single statement: active resources become eligible for deletion, and failed
// resources are requeued for another attempt. Returns the rows transitioned.
func (r *ResourceRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE resources SET status = 'delete_pending'
		WHERE status IN ('active', 'failed')
		AND session_id IN (
			SELECT id FROM sessions
			WHERE expires_at IS NOT NULL AND expires_at <= ?
		)`
	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("mark expired resources: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark expired rows affected: %w", err)
	}
	return n, nil
}

// ListDeletePending returns every delete_pending resource joined with its
// owner's email, oldest first.
func (r *ResourceRepo) ListDeletePending(ctx context.Context) ([]model.PendingResource, error) {
	const query = `
		SELECT r.id, r.session_id, r.kind, r.platform, r.external_ref, r.name, r.status, r.created_at, r.metadata, s.email
		FROM resources r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.status = 'delete_pending'
		ORDER BY r.created_at ASC, r.id ASC`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list delete_pending resources: %w", err)
	}
	defer rows.Close()

	var pending []model.PendingResource
	for rows.Next() {
		var (
			res       model.Resource
			createdAt string
			metadata  string
			email     string
		)
		err := rows.Scan(&res.ID, &res.SessionID, &res.Kind, &res.Platform,
			&res.ExternalRef, &res.Name, &res.Status, &createdAt, &metadata, &email)
		if err != nil {
			return nil, fmt.Errorf("scan pending resource: %w", err)
		}
		res.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &res.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for resource %s: %w", res.ID, err)
		}
		pending = append(pending, model.PendingResource{Resource: res, OwnerEmail: email})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending resources: %w", err)
	}
	return pending, nil
}

// SetStatus transitions a resource to the given status.
func (r *ResourceRepo) SetStatus(ctx context.Context, id string, status model.ResourceStatus) error {
	const query = `UPDATE resources SET status = ? WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set resource %s status %s: %w", id, status, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set resource %s status: %w", id, driven.ErrResourceNotFound)
	}
	return nil
}

func scanResource(s scanner) (*model.Resource, error) {
	var (
		res       model.Resource
		createdAt string
		metadata  string
	)
	err := s.Scan(&res.ID, &res.SessionID, &res.Kind, &res.Platform,
		&res.ExternalRef, &res.Name, &res.Status, &createdAt, &metadata)
	if err != nil {
		return nil, err
	}

	res.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &res.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &res, nil
}
