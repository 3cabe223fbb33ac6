package transcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
)

// Default timeout for database operations
const defaultQueryTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error_detail TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER,
	width INTEGER,
	height INTEGER,
	frame_rate REAL,
	thumbnail_path TEXT NOT NULL DEFAULT '',
	master_playlist TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS renditions (
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	quality TEXT NOT NULL,
	playlist_path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	bitrate_kbps INTEGER NOT NULL,
	PRIMARY KEY (job_id, quality)
);

CREATE TABLE IF NOT EXISTS segments (
	job_id TEXT NOT NULL,
	quality TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	path TEXT NOT NULL,
	duration REAL NOT NULL,
	PRIMARY KEY (job_id, quality, sequence),
	FOREIGN KEY (job_id, quality) REFERENCES renditions(job_id, quality) ON DELETE CASCADE
);
`

// SQLStore is a Store backed by a SQLite database file.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) the SQLite database at path and
// applies the schema. The parent directory must already exist.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	// busy_timeout helps prevent "database is locked" errors under concurrent runs
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to database: %w", err), db.Close())
	}

	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize database schema: %w", err), db.Close())
	}

	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateJob implements Store.CreateJob.
func (s *SQLStore) CreateJob(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	now := time.Now().UTC()
	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}
	dur, width, height, fps := metadataColumns(job.Metadata)

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (id, source_path, status, progress, error_detail,
		duration_seconds, width, height, frame_rate,
		thumbnail_path, master_playlist, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(job.ID), job.SourcePath, string(job.Status), job.Progress, job.ErrorDetail,
		dur, width, height, fps,
		job.ThumbnailPath, job.MasterPlaylist, created.Unix(), now.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return err
}

// GetJob implements Store.GetJob.
func (s *SQLStore) GetJob(ctx context.Context, id JobID) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var (
		job                  Job
		status               string
		dur, width, height   sql.NullInt64
		fps                  sql.NullFloat64
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT id, source_path, status, progress, error_detail,
		duration_seconds, width, height, frame_rate,
		thumbnail_path, master_playlist, created_at, updated_at
	FROM jobs WHERE id = ?
	`, string(id)).Scan(
		&job.ID, &job.SourcePath, &status, &job.Progress, &job.ErrorDetail,
		&dur, &width, &height, &fps,
		&job.ThumbnailPath, &job.MasterPlaylist, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	if dur.Valid {
		job.Metadata = &Metadata{
			DurationSeconds: int(dur.Int64),
			Width:           int(width.Int64),
			Height:          int(height.Int64),
			FrameRate:       fps.Float64,
		}
	}
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &job, nil
}

// SaveJob implements Store.SaveJob.
func (s *SQLStore) SaveJob(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	dur, width, height, fps := metadataColumns(job.Metadata)
	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET
		source_path = ?, status = ?, progress = ?, error_detail = ?,
		duration_seconds = ?, width = ?, height = ?, frame_rate = ?,
		thumbnail_path = ?, master_playlist = ?, updated_at = ?
	WHERE id = ?
	`,
		job.SourcePath, string(job.Status), job.Progress, job.ErrorDetail,
		dur, width, height, fps,
		job.ThumbnailPath, job.MasterPlaylist, time.Now().UTC().Unix(),
		string(job.ID),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

// UpsertRendition implements Store.UpsertRendition.
func (s *SQLStore) UpsertRendition(ctx context.Context, r *Rendition) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO renditions (job_id, quality, playlist_path, size_bytes, bitrate_kbps)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(job_id, quality) DO UPDATE SET
		playlist_path = excluded.playlist_path,
		size_bytes = excluded.size_bytes,
		bitrate_kbps = excluded.bitrate_kbps
	`, string(r.JobID), string(r.Quality), r.PlaylistPath, r.SizeBytes, r.BitrateKbps)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %s", ErrJobNotFound, r.JobID)
	}
	return err
}

// DeleteRendition implements Store.DeleteRendition. Segment rows go with it
// through the foreign key cascade.
func (s *SQLStore) DeleteRendition(ctx context.Context, id JobID, q Quality) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM renditions WHERE job_id = ? AND quality = ?",
		string(id), string(q),
	)
	return err
}

// ListRenditions implements Store.ListRenditions.
func (s *SQLStore) ListRenditions(ctx context.Context, id JobID) ([]Rendition, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT job_id, quality, playlist_path, size_bytes, bitrate_kbps
	FROM renditions WHERE job_id = ?
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rendition
	for rows.Next() {
		var r Rendition
		if err := rows.Scan(&r.JobID, &r.Quality, &r.PlaylistPath, &r.SizeBytes, &r.BitrateKbps); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceSegments implements Store.ReplaceSegments. The upserts and the trim
// of stale rows commit together.
func (s *SQLStore) ReplaceSegments(ctx context.Context, id JobID, q Quality, segs []Segment) (err error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO segments (job_id, quality, sequence, path, duration)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(job_id, quality, sequence) DO UPDATE SET
		path = excluded.path,
		duration = excluded.duration
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, seg := range segs {
		if _, err = stmt.ExecContext(ctx, string(id), string(q), seg.Sequence, seg.Path, seg.Duration); err != nil {
			return fmt.Errorf("upsert segment %d: %w", seg.Sequence, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		"DELETE FROM segments WHERE job_id = ? AND quality = ? AND sequence >= ?",
		string(id), string(q), len(segs),
	); err != nil {
		return fmt.Errorf("trim stale segments: %w", err)
	}

	return tx.Commit()
}

// ListSegments implements Store.ListSegments.
func (s *SQLStore) ListSegments(ctx context.Context, id JobID, q Quality) ([]Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT sequence, path, duration FROM segments
	WHERE job_id = ? AND quality = ?
	ORDER BY sequence ASC
	`, string(id), string(q))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.Sequence, &seg.Path, &seg.Duration); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func metadataColumns(m *Metadata) (dur, width, height sql.NullInt64, fps sql.NullFloat64) {
	if m == nil {
		return
	}
	return sql.NullInt64{Int64: int64(m.DurationSeconds), Valid: true},
		sql.NullInt64{Int64: int64(m.Width), Valid: true},
		sql.NullInt64{Int64: int64(m.Height), Valid: true},
		sql.NullFloat64{Float64: m.FrameRate, Valid: true}
}
