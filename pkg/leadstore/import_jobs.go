package leadstore

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/leadguard/pkg/database"
	"github.com/jordanlanch/leadguard/pkg/models"
	"github.com/jordanlanch/leadguard/pkg/protection"
)

func finishedImportStatusArgs() []any {
	return []any{string(models.ImportCompleted), string(models.ImportFailed)}
}

// CreateImportJob inserts a new import job record.
func (s *Store) CreateImportJob(ctx context.Context, j *models.ImportJob) (*models.ImportJob, error) {
	status := j.Status
	if status == "" {
		status = models.ImportPending
	}
	query, args := s.builder().Insert(database.ImportJobsTable).
		Columns("source", "status", "rows_total", "rows_imported", "created_at", "completed_at", "ttl_expires_at").
		Values(j.Source, string(status), j.RowsTotal, j.RowsImported, ts(j.CreatedAt), nullableTime(j.CompletedAt), nullableTime(j.TTLExpiresAt)).
		Returning("id").
		Query()

	id, err := insertReturningID(ctx, s.drv, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to insert import job: %w", err)
	}
	created := *j
	created.ID = id
	created.Status = status
	return &created, nil
}

// GetImportJob loads an import job by id.
func (s *Store) GetImportJob(ctx context.Context, id int) (*models.ImportJob, error) {
	b := s.builder()
	query, args := b.Select(importJobColumns...).
		From(b.Table(database.ImportJobsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	jobs, err := s.queryImportJobs(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch import job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// MarkImportJobFinished closes a running job and starts its retention TTL.
func (s *Store) MarkImportJobFinished(ctx context.Context, id int, status models.ImportJobStatus, rowsImported int, now time.Time) (bool, error) {
	if !status.Finished() {
		return false, fmt.Errorf("import job status %q is not final", status)
	}
	query, args := s.builder().Update(database.ImportJobsTable).
		Set("status", string(status)).
		Set("rows_imported", rowsImported).
		Set("completed_at", ts(now)).
		Set("ttl_expires_at", ts(protection.ImportJobTTL(now))).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.NotIn("status", finishedImportStatusArgs()...),
		)).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to finish import job: %w", err)
	}
	return n == 1, nil
}

// FindArchivableImportJobs returns finished jobs whose TTL has passed.
func (s *Store) FindArchivableImportJobs(ctx context.Context, now time.Time, limit int) ([]*models.ImportJob, error) {
	b := s.builder()
	query, args := b.Select(importJobColumns...).
		From(b.Table(database.ImportJobsTable)).
		Where(archivableGuard(now)).
		OrderBy(entsql.Asc("ttl_expires_at"), entsql.Asc("id")).
		Limit(limit).
		Query()

	jobs, err := s.queryImportJobs(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query archivable import jobs: %w", err)
	}
	return jobs, nil
}

func archivableGuard(now time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.In("status", finishedImportStatusArgs()...),
		entsql.NotNull("ttl_expires_at"),
		entsql.LT("ttl_expires_at", ts(now)),
	)
}

// DeleteImportJob removes a finished job whose TTL has passed.
func (s *Store) DeleteImportJob(ctx context.Context, id int, now time.Time) (bool, error) {
	query, args := s.builder().Delete(database.ImportJobsTable).
		Where(entsql.And(entsql.EQ("id", id), archivableGuard(now))).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to delete import job: %w", err)
	}
	return n == 1, nil
}

func (s *Store) queryImportJobs(ctx context.Context, query string, args []any) ([]*models.ImportJob, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		j, err := scanImportJob(&rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, rows.Close()
}
