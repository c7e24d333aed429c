// Package store provides the SQLite-backed persistence for a drone: the
// startup schema gate and the host/job reads and writes the state machine
// makes afterwards.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/whitf/swarm/internal/models"
	_ "modernc.org/sqlite"
)

// Store provides access to the drone database. Obtain one with Open.
type Store struct {
	db   *sql.DB
	path string
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// TableCount returns the number of user tables in the database.
func (s *Store) TableCount() (int, error) {
	var count int
	if err := s.db.QueryRow(selectTableCount).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return count, nil
}

// Version returns the stored schema version marker.
func (s *Store) Version() (string, error) {
	var version string
	if err := s.db.QueryRow(selectDatabaseVersion).Scan(&version); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// JobStatuses returns the seeded job status lookup values in id order.
func (s *Store) JobStatuses() ([]models.JobStatus, error) {
	rows, err := s.db.Query(`SELECT job_status FROM job_status_enum ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query job statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.JobStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("scan job status: %w", err)
		}
		statuses = append(statuses, models.JobStatus(st))
	}
	return statuses, rows.Err()
}

// --- Host Operations ---

// UpsertHost inserts a host or replaces the stored address, port and
// status of an existing one.
func (s *Store) UpsertHost(h *models.Host) error {
	_, err := s.db.Exec(
		`INSERT INTO drone (id, address, port, online, status) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET address = excluded.address, port = excluded.port,
		 online = excluded.online, status = excluded.status`,
		h.ID.String(), h.Address, h.Port, h.Online, string(h.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert host: %w", err)
	}
	return nil
}

// GetHost retrieves a host by ID. It returns nil if there is none.
func (s *Store) GetHost(id uuid.UUID) (*models.Host, error) {
	row := s.db.QueryRow(
		`SELECT id, address, port, online, status FROM drone WHERE id = ?`,
		id.String(),
	)
	h, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query host: %w", err)
	}
	return h, nil
}

// ListHosts returns every known host.
func (s *Store) ListHosts() ([]models.Host, error) {
	rows, err := s.db.Query(`SELECT id, address, port, online, status FROM drone ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHost(row scanner) (*models.Host, error) {
	var h models.Host
	var id, status string
	if err := row.Scan(&id, &h.Address, &h.Port, &h.Online, &status); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse host id %q: %w", id, err)
	}
	h.ID = parsed
	h.Status = models.HostStatus(status)
	return &h, nil
}

// --- Job Operations ---

// SaveJob inserts a job or updates the mutable fields of an existing one.
func (s *Store) SaveJob(j *models.Job) error {
	tagsJSON, err := json.Marshal(j.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	var finished sql.NullTime
	if j.Finished != nil {
		finished = sql.NullTime{Time: *j.Finished, Valid: true}
	}

	_, err = s.db.Exec(
		`INSERT INTO job (id, active, status, tags, created, finished) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET active = excluded.active, status = excluded.status,
		 tags = excluded.tags, finished = excluded.finished`,
		j.ID.String(), j.Active, string(j.Status), string(tagsJSON), j.Created, finished,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. It returns nil if there is none.
func (s *Store) GetJob(id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRow(jobColumns+` WHERE j.id = ?`, id.String())
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs in submission order, optionally only active ones.
func (s *Store) ListJobs(activeOnly bool) ([]models.Job, error) {
	query := jobColumns
	if activeOnly {
		query += ` WHERE j.active = 1`
	}
	query += ` ORDER BY j.rowid ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// jobColumns selects a job with its most recent owner. SaveJob updates in
// place, so rowid keeps submission order.
const jobColumns = `SELECT j.id, j.active, j.status, j.tags, j.created, j.finished,
	(SELECT o.drone_id FROM drone_ownership o WHERE o.job_id = j.id ORDER BY o.rowid DESC LIMIT 1)
	FROM job j`

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	var id, status string
	var tags, owner sql.NullString
	var created time.Time
	var finished sql.NullTime

	if err := row.Scan(&id, &j.Active, &status, &tags, &created, &finished, &owner); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	j.ID = parsed
	if owner.Valid {
		if j.Owner, err = uuid.Parse(owner.String); err != nil {
			return nil, fmt.Errorf("parse owner of job %s: %w", id, err)
		}
	}
	j.Status = models.JobStatus(status)
	j.Created = created
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &j.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if finished.Valid {
		t := finished.Time
		j.Finished = &t
	}
	return &j, nil
}

// --- Ownership Operations ---

// AssignJob records that droneID owns jobID. Repeated assignments are
// ignored.
func (s *Store) AssignJob(droneID, jobID uuid.UUID) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO drone_ownership (drone_id, job_id) VALUES (?, ?)`,
		droneID.String(), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("assign job: %w", err)
	}
	return nil
}

// JobOwners returns the drones that own jobID.
func (s *Store) JobOwners(jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(
		`SELECT drone_id FROM drone_ownership WHERE job_id = ? ORDER BY drone_id`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse owner id %q: %w", id, err)
		}
		owners = append(owners, parsed)
	}
	return owners, rows.Err()
}
