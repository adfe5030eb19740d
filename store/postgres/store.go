package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/store"
)

var (
	queryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "versiontracker",
			Subsystem: "postgres",
			Name:      "queries_total",
			Help:      "Total number of database queries issued by store/postgres.",
		},
		[]string{"query"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "versiontracker",
			Subsystem: "postgres",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries issued by store/postgres.",
		},
		[]string{"query"},
	)
)

// Store is a VersionStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	closed bool
}

var _ store.VersionStore = (*Store)(nil)

// Open wraps an already-connected pool (see Connect) as a VersionStore,
// ensuring the schema exists.
func Open(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := EnsureSchema(ctx, pool); err != nil {
		return nil, &versiontracker.Error{Op: "postgres.Open", Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	return &Store{pool: pool}, nil
}

func (s *Store) closedErr(op string) error {
	if s.closed {
		return &versiontracker.Error{Op: op, Kind: versiontracker.ErrProgrammer, Message: "store is closed"}
	}
	return nil
}

func observe(query string) func() {
	start := time.Now()
	queryCounter.WithLabelValues(query).Inc()
	return func() {
		queryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

// GetAllVersions implements store.VersionStore.
func (s *Store) GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error) {
	const op = "postgres.Store.GetAllVersions"
	if err := s.closedErr(op); err != nil {
		return nil, err
	}
	defer observe("get_all_versions")()

	rows, err := s.pool.Query(ctx, `SELECT group_id, artifact_id FROM artifact ORDER BY group_id, artifact_id`)
	if err != nil {
		return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	var keys [][2]string
	for rows.Next() {
		var g, a string
		if err := rows.Scan(&g, &a); err != nil {
			rows.Close()
			return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
		}
		keys = append(keys, [2]string{g, a})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}

	out := make([]*versiontracker.VersionInfo, 0, len(keys))
	for _, k := range keys {
		info, err := s.GetVersionInfo(ctx, k[0], k[1])
		if err != nil {
			return nil, err
		}
		if info != nil {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetVersionInfo implements store.VersionStore.
func (s *Store) GetVersionInfo(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, error) {
	const op = "postgres.Store.GetVersionInfo"
	if err := s.closedErr(op); err != nil {
		return nil, err
	}
	defer observe("get_version_info")()

	info := &versiontracker.VersionInfo{Artifact: versiontracker.Artifact{GroupID: groupID, ArtifactID: artifactID}}
	var latestRelease, latestSnapshot *string
	row := s.pool.QueryRow(ctx, `
		SELECT creation_date, last_request_date, last_success_date, last_failure_date,
		       last_repository_update, latest_release_version, latest_snapshot_version
		FROM artifact WHERE group_id = $1 AND artifact_id = $2`, groupID, artifactID)
	err := row.Scan(&info.CreationDate, &info.LastRequestDate, &info.LastSuccessDate, &info.LastFailureDate,
		&info.LastRepositoryUpdate, &latestRelease, &latestSnapshot)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT version_string, release_date, first_seen_by_server
		FROM artifact_version WHERE group_id = $1 AND artifact_id = $2`, groupID, artifactID)
	if err != nil {
		return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	for rows.Next() {
		var v versiontracker.Version
		if err := rows.Scan(&v.VersionString, &v.ReleaseDate, &v.FirstSeenByServer); err != nil {
			rows.Close()
			return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
		}
		info.Versions = append(info.Versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}

	if latestRelease != nil {
		if v := info.FindVersion(*latestRelease); v != nil {
			clone := v.Clone()
			info.LatestReleaseVersion = &clone
		}
	}
	if latestSnapshot != nil {
		if v := info.FindVersion(*latestSnapshot); v != nil {
			clone := v.Clone()
			info.LatestSnapshotVersion = &clone
		}
	}
	return info, nil
}

// SaveOrUpdate implements store.VersionStore.
func (s *Store) SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error {
	const op = "postgres.Store.SaveOrUpdate"
	if err := s.closedErr(op); err != nil {
		return err
	}
	return s.SaveOrUpdateAll(ctx, []*versiontracker.VersionInfo{info})
}

// SaveOrUpdateAll implements store.VersionStore.
func (s *Store) SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error {
	const op = "postgres.Store.SaveOrUpdateAll"
	if err := s.closedErr(op); err != nil {
		return err
	}
	defer observe("save_or_update_all")()

	log := zerolog.Ctx(ctx).With().Str("component", op).Logger()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	defer tx.Rollback(ctx)

	for _, info := range infos {
		cp := info.Clone()
		var latestRelease, latestSnapshot *string
		if cp.LatestReleaseVersion != nil {
			latestRelease = &cp.LatestReleaseVersion.VersionString
		}
		if cp.LatestSnapshotVersion != nil {
			latestSnapshot = &cp.LatestSnapshotVersion.VersionString
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO artifact (group_id, artifact_id, creation_date, last_request_date,
				last_success_date, last_failure_date, last_repository_update,
				latest_release_version, latest_snapshot_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (group_id, artifact_id) DO UPDATE SET
				creation_date = EXCLUDED.creation_date,
				last_request_date = EXCLUDED.last_request_date,
				last_success_date = EXCLUDED.last_success_date,
				last_failure_date = EXCLUDED.last_failure_date,
				last_repository_update = EXCLUDED.last_repository_update,
				latest_release_version = EXCLUDED.latest_release_version,
				latest_snapshot_version = EXCLUDED.latest_snapshot_version`,
			cp.Artifact.GroupID, cp.Artifact.ArtifactID, cp.CreationDate, cp.LastRequestDate,
			cp.LastSuccessDate, cp.LastFailureDate, cp.LastRepositoryUpdate,
			latestRelease, latestSnapshot)
		if err != nil {
			return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM artifact_version WHERE group_id = $1 AND artifact_id = $2`,
			cp.Artifact.GroupID, cp.Artifact.ArtifactID); err != nil {
			return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
		}

		batch := &pgx.Batch{}
		for _, v := range cp.Versions {
			batch.Queue(`
				INSERT INTO artifact_version (group_id, artifact_id, version_string, release_date, first_seen_by_server)
				VALUES ($1, $2, $3, $4, $5)`,
				cp.Artifact.GroupID, cp.Artifact.ArtifactID, v.VersionString, v.ReleaseDate, v.FirstSeenByServer)
		}
		if batch.Len() > 0 {
			res := tx.SendBatch(ctx, batch)
			for i := 0; i < batch.Len(); i++ {
				if _, err := res.Exec(); err != nil {
					res.Close()
					return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
				}
			}
			if err := res.Close(); err != nil {
				return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	log.Debug().Int("count", len(infos)).Msg("saved version info batch")
	return nil
}

// Statistics implements store.VersionStore.
func (s *Store) Statistics(ctx context.Context) (versiontracker.Stats, error) {
	const op = "postgres.Store.Statistics"
	if err := s.closedErr(op); err != nil {
		return versiontracker.Stats{}, err
	}
	start := time.Now()
	var count int
	var sizeBytes int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM artifact`).Scan(&count)
	if err != nil {
		return versiontracker.Stats{}, &versiontracker.Error{Op: op, Kind: versiontracker.ErrStorageIO, Inner: err}
	}
	_ = s.pool.QueryRow(ctx, `SELECT pg_total_relation_size('artifact') + pg_total_relation_size('artifact_version')`).Scan(&sizeBytes)
	return versiontracker.Stats{
		EntryCount:      count,
		FileSizeBytes:   sizeBytes,
		LastLoadElapsed: time.Since(start),
	}, nil
}

// Close implements store.VersionStore.
func (s *Store) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
