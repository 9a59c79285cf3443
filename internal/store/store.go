package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
)

var (
	bucketJobs      = []byte("jobs")
	bucketByCreated = []byte("idx_created")
	bucketPending   = []byte("idx_pending")
	bucketRetrying  = []byte("idx_retrying")
	bucketRunning   = []byte("idx_processing")
)

var (
	// ErrNotFound is returned when no job exists under the given ID.
	ErrNotFound = errors.New("job not found")
	// ErrNotClaimable is returned when a claim loses the race or the job is
	// no longer due. The caller must skip the job for this pass.
	ErrNotClaimable = errors.New("job not claimable")
	// ErrNotRetrying is returned by ResetRetryTimer for jobs outside the
	// retrying state; terminal jobs cannot be revived.
	ErrNotRetrying = errors.New("job not in retrying state")
	// ErrTerminal is returned when a status update targets a completed or
	// failed job.
	ErrTerminal = errors.New("job in terminal state")
)

// JobStore persists campaign jobs in BoltDB. Every mutation runs inside a
// single write transaction; bbolt serializes writers, which is what makes
// ClaimJob an atomic compare-and-set.
type JobStore struct {
	db *bolt.DB
}

// Open opens (creating if needed) the job database at path.
func Open(path string) (*JobStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketByCreated, bucketPending, bucketRetrying, bucketRunning} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &JobStore{db: db}, nil
}

// Close closes the database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketJobs) == nil {
			return errors.New("jobs bucket missing")
		}
		return nil
	})
}

// CreateJob persists a new job and indexes it for listing and scheduling.
func (s *JobStore) CreateJob(ctx context.Context, j *campaign.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJob(tx, j); err != nil {
			return err
		}

		created := tx.Bucket(bucketByCreated)
		if err := created.Put(makeIndexKey(j.CreatedAt, j.ID), []byte(j.ID)); err != nil {
			return fmt.Errorf("failed to add to created index: %w", err)
		}

		return addStatusIndex(tx, j)
	})
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (*campaign.Job, error) {
	var job *campaign.Job

	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})

	return job, err
}

// JobsDueForProcessing returns jobs eligible for a runner pass: pending
// jobs, retrying jobs whose NextRetryAt has elapsed, and processing jobs
// abandoned by a killed pass (no progress write for at least staleAfter).
// Terminal jobs are never returned. Retry-due jobs come first, then pending
// by age, then abandoned ones.
func (s *JobStore) JobsDueForProcessing(ctx context.Context, now time.Time, staleAfter time.Duration) ([]*campaign.Job, error) {
	var jobs []*campaign.Job
	seen := make(map[string]bool)

	err := s.db.View(func(tx *bolt.Tx) error {
		collect := func(j *campaign.Job) {
			if !seen[j.ID] {
				seen[j.ID] = true
				jobs = append(jobs, j)
			}
		}

		// Retrying jobs: index is keyed by NextRetryAt, so the scan can
		// stop at the first future entry.
		c := tx.Bucket(bucketRetrying).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break
			}
			j, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			if isDue(j, now, staleAfter) {
				collect(j)
			}
		}

		c = tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			j, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			if isDue(j, now, staleAfter) {
				collect(j)
			}
		}

		// Abandoned processing jobs: the index key is the claim time, but
		// staleness is judged on the record's UpdatedAt since every batch
		// write bumps it.
		c = tx.Bucket(bucketRunning).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			j, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			if isDue(j, now, staleAfter) {
				collect(j)
			}
		}

		return nil
	})

	return jobs, err
}

// ClaimJob atomically transitions a due job to processing. A second claim
// racing on the same job gets ErrNotClaimable and must not process it.
//
// A claim from pending or retrying starts a fresh attempt: progress
// counters, failed recipients, and the error field are reset. A claim of an
// abandoned processing job keeps them so the pass resumes at the persisted
// batch position.
func (s *JobStore) ClaimJob(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (*campaign.Job, error) {
	var claimed *campaign.Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if !isDue(j, now, staleAfter) {
			return ErrNotClaimable
		}

		if err := removeStatusIndex(tx, j); err != nil {
			return err
		}

		fresh := j.Status != campaign.StatusProcessing
		j.Status = campaign.StatusProcessing
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
		if fresh {
			j.Progress.Sent = 0
			j.Progress.Failed = 0
			j.Progress.CurrentBatch = 0
			j.FailedRecipients = nil
			j.Error = ""
		}
		j.UpdatedAt = now

		if err := putJob(tx, j); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRunning).Put(makeIndexKey(now, j.ID), []byte(j.ID)); err != nil {
			return fmt.Errorf("failed to add to processing index: %w", err)
		}

		claimed = j
		return nil
	})

	return claimed, err
}

// UpdateProgress rewrites a job's progress counters and UpdatedAt, leaving
// recipients, retry state, and status untouched. Callers persist after
// every batch so a killed pass loses at most one in-flight batch.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, p campaign.Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}

		j.Progress = p
		j.UpdatedAt = time.Now().UTC()

		return putJob(tx, j)
	})
}

// StatusExtra carries the fields written alongside a status transition.
// Error and FailedRecipients are assigned as given (empty clears them,
// matching the per-attempt reset policy); Retry and CompletedAt are applied
// only when non-nil.
type StatusExtra struct {
	Error            string
	FailedRecipients []campaign.FailedRecipient
	Retry            *campaign.Retry
	CompletedAt      *time.Time
}

// UpdateStatus applies a status transition with its associated fields.
// Recipients are never touched. Terminal jobs reject further transitions.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status campaign.Status, extra StatusExtra) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return ErrTerminal
		}

		if err := removeStatusIndex(tx, j); err != nil {
			return err
		}

		j.Status = status
		j.Error = extra.Error
		j.FailedRecipients = extra.FailedRecipients
		if extra.Retry != nil {
			j.Retry = *extra.Retry
		}
		if extra.CompletedAt != nil {
			j.CompletedAt = extra.CompletedAt
		}
		j.UpdatedAt = time.Now().UTC()

		if err := putJob(tx, j); err != nil {
			return err
		}
		return addStatusIndex(tx, j)
	})
}

// ResetRetryTimer clears a retrying job's NextRetryAt to now so the next
// pass picks it up immediately. Attempts are not reset. Jobs in any other
// state, including terminal failed, are rejected with ErrNotRetrying.
func (s *JobStore) ResetRetryTimer(ctx context.Context, id string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if j.Status != campaign.StatusRetrying {
			return ErrNotRetrying
		}

		if err := removeStatusIndex(tx, j); err != nil {
			return err
		}

		t := now
		j.Retry.NextRetryAt = &t
		j.UpdatedAt = now

		if err := putJob(tx, j); err != nil {
			return err
		}
		return addStatusIndex(tx, j)
	})
}

// JobsForCompany returns all jobs of one tenant, newest first.
func (s *JobStore) JobsForCompany(ctx context.Context, companyID string) ([]*campaign.Job, error) {
	var jobs []*campaign.Job

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByCreated).Cursor()

		// Iterate in reverse order (newest first)
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			j, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			if j.CompanyID == companyID {
				jobs = append(jobs, j)
			}
		}
		return nil
	})

	return jobs, err
}

// Stats contains per-status job counts.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Stats returns job counts by status.
func (s *JobStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j campaign.Job
			if err := json.Unmarshal(v, &j); err != nil {
				continue
			}

			stats.Total++
			switch j.Status {
			case campaign.StatusPending:
				stats.Pending++
			case campaign.StatusProcessing:
				stats.Processing++
			case campaign.StatusRetrying:
				stats.Retrying++
			case campaign.StatusCompleted:
				stats.Completed++
			case campaign.StatusFailed:
				stats.Failed++
			}
		}

		return nil
	})

	return stats, err
}

// CleanupTerminal deletes completed and failed jobs whose last update is
// older than maxAge. The queue core never deletes; this is the retention
// hook used by the cleaner and CLI.
func (s *JobStore) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobsBucket := tx.Bucket(bucketJobs)
		c := jobsBucket.Cursor()

		var toDelete []*campaign.Job

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j campaign.Job
			if err := json.Unmarshal(v, &j); err != nil {
				continue
			}
			if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
				jc := j
				toDelete = append(toDelete, &jc)
			}
		}

		created := tx.Bucket(bucketByCreated)
		for _, j := range toDelete {
			if err := created.Delete(makeIndexKey(j.CreatedAt, j.ID)); err != nil {
				return err
			}
			if err := jobsBucket.Delete([]byte(j.ID)); err != nil {
				return err
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}

// isDue reports whether a job is eligible for claiming at now.
func isDue(j *campaign.Job, now time.Time, staleAfter time.Duration) bool {
	switch j.Status {
	case campaign.StatusPending:
		return true
	case campaign.StatusRetrying:
		return j.Retry.NextRetryAt == nil || !j.Retry.NextRetryAt.After(now)
	case campaign.StatusProcessing:
		return staleAfter > 0 && !j.UpdatedAt.After(now.Add(-staleAfter))
	}
	return false
}

func getJob(tx *bolt.Tx, id string) (*campaign.Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}

	j := &campaign.Job{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return j, nil
}

func putJob(tx *bolt.Tx, j *campaign.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := tx.Bucket(bucketJobs).Put([]byte(j.ID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

// addStatusIndex indexes a job under its current status. Pending jobs are
// keyed by creation time, retrying jobs by NextRetryAt so due scans stay
// ordered. Processing entries are written by ClaimJob; terminal statuses
// carry no index.
func addStatusIndex(tx *bolt.Tx, j *campaign.Job) error {
	switch j.Status {
	case campaign.StatusPending:
		return tx.Bucket(bucketPending).Put(makeIndexKey(j.CreatedAt, j.ID), []byte(j.ID))
	case campaign.StatusRetrying:
		at := j.UpdatedAt
		if j.Retry.NextRetryAt != nil {
			at = *j.Retry.NextRetryAt
		}
		return tx.Bucket(bucketRetrying).Put(makeIndexKey(at, j.ID), []byte(j.ID))
	}
	return nil
}

// removeStatusIndex drops the index entry of a job's current status. The
// pending and retrying keys are recomputed from the record; the processing
// key holds the claim time, which later writes do not track, so it is
// removed by value scan.
func removeStatusIndex(tx *bolt.Tx, j *campaign.Job) error {
	switch j.Status {
	case campaign.StatusPending:
		return tx.Bucket(bucketPending).Delete(makeIndexKey(j.CreatedAt, j.ID))
	case campaign.StatusRetrying:
		at := j.UpdatedAt
		if j.Retry.NextRetryAt != nil {
			at = *j.Retry.NextRetryAt
		}
		return tx.Bucket(bucketRetrying).Delete(makeIndexKey(at, j.ID))
	case campaign.StatusProcessing:
		c := tx.Bucket(bucketRunning).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == j.ID {
				return c.Delete()
			}
		}
	}
	return nil
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}
