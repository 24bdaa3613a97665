package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/grabd/grabd/internal/domain"
)

func (s *PersistentStore) SaveJob(job *domain.Job) error {

	variantsJSON := []byte("[]")
	if job.Variants != nil {
		var err error
		variantsJSON, err = json.Marshal(job.Variants)
		if err != nil {
			return fmt.Errorf("failed to encode variants: %w", err)
		}
	}

	var selected sql.NullString
	if job.Variant != nil {
		b, err := json.Marshal(job.Variant)
		if err != nil {
			return fmt.Errorf("failed to encode selected variant: %w", err)
		}
		selected = sql.NullString{String: string(b), Valid: true}
	}

	snap := job.Progress.Snapshot(job.RetryCount)

	query := `INSERT OR REPLACE INTO jobs
              (id, url, title, state, variants, variant, dest_path, retry_count, last_error, queue_seq, bytes_done, total_bytes, created_at, finished_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		job.ID,
		job.URL,
		job.Title,
		string(job.State),
		string(variantsJSON),
		selected,
		job.DestPath,
		job.RetryCount,
		job.LastError,
		job.QueueSeq,
		snap.BytesDone,
		snap.TotalBytes,
		job.CreatedAt.Unix(),
		unixOrZero(job.FinishedAt),
	)
	return err
}

func (s *PersistentStore) GetJobs() ([]*domain.Job, error) {
	rows, err := s.db.Query(`SELECT id, url, title, state, variants, variant, dest_path, retry_count, last_error, queue_seq, bytes_done, total_bytes, created_at, finished_at FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sort by KSUID (Chronological)
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})

	return jobs, nil
}

func (s *PersistentStore) GetJob(id string) (*domain.Job, error) {
	row := s.db.QueryRow(`SELECT id, url, title, state, variants, variant, dest_path, retry_count, last_error, queue_seq, bytes_done, total_bytes, created_at, finished_at FROM jobs WHERE id = ? LIMIT 1`, id)

	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return job, nil
}

func (s *PersistentStore) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func scanJob(scan func(...any) error) (*domain.Job, error) {
	job := &domain.Job{}
	var state, variantsJSON string
	var selected sql.NullString
	var bytesDone, totalBytes, createdAt, finishedAt int64

	err := scan(
		&job.ID, &job.URL, &job.Title, &state,
		&variantsJSON, &selected, &job.DestPath,
		&job.RetryCount, &job.LastError, &job.QueueSeq,
		&bytesDone, &totalBytes, &createdAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = domain.JobState(state)
	if err := json.Unmarshal([]byte(variantsJSON), &job.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants for %s: %w", job.ID, err)
	}
	if selected.Valid {
		v := &domain.VariantDescriptor{}
		if err := json.Unmarshal([]byte(selected.String), v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected variant for %s: %w", job.ID, err)
		}
		job.Variant = v
	}

	job.Progress.AddBytes(bytesDone)
	if totalBytes > 0 {
		job.Progress.SetTotal(totalBytes)
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	if finishedAt > 0 {
		job.FinishedAt = time.Unix(finishedAt, 0)
	}

	return job, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
