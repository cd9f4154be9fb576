package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongodb"
)

// SQLStore persists to PostgreSQL or SQLite through sqlx. Queries are
// written with "?" placeholders and rebound for the driver.
type SQLStore struct {
	db      *sqlx.DB
	cfg     config.StorageConfig
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewSQLStore connects and, when auto_migrate is set, applies migrations.
func NewSQLStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*SQLStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// One writer at a time avoids SQLITE_BUSY under concurrent runs.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &SQLStore{
		db:      db,
		cfg:     cfg,
		timeout: cfg.QueryTimeout,
		logger:  logger.With("component", cfg.Driver+"_storage"),
		now:     time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}

	if cfg.AutoMigrate {
		if err := s.MigrateUp(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLStore) Name() string { return s.cfg.Driver }

func (s *SQLStore) Close() error {
	s.logger.Debug("sql storage closing")
	return s.db.Close()
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// --- Pools ---

const poolColumns = `season, region_id, age_group_id, pool_value, pool_name, tournament_level,
	season_name, region_name, age_group_name, color_tag, hex_color`

func (s *SQLStore) LoadPools(ctx context.Context, season string) ([]types.PoolDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var pools []types.PoolDefinition
	query := s.db.Rebind(`SELECT ` + poolColumns + ` FROM cal_sync_pools WHERE season = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &pools, query, season); err != nil {
		return nil, persistenceErr(s.Name(), "load_pools", err)
	}
	return pools, nil
}

func (s *SQLStore) SavePools(ctx context.Context, pools []types.PoolDefinition) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, persistenceErr(s.Name(), "save_pools", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.db.Rebind(`INSERT INTO cal_sync_pools (` + poolColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (season, region_id, age_group_id, pool_value) DO UPDATE SET
			pool_name = excluded.pool_name,
			tournament_level = excluded.tournament_level,
			season_name = excluded.season_name,
			region_name = excluded.region_name,
			age_group_name = excluded.age_group_name,
			color_tag = excluded.color_tag,
			hex_color = excluded.hex_color`)

	for _, p := range pools {
		_, err := tx.ExecContext(ctx, query,
			p.Season, p.RegionID, p.AgeGroupID, p.PoolValue, p.PoolName, p.TournamentLevel,
			p.SeasonName, p.RegionName, p.AgeGroupName, p.ColorTag, p.HexColor)
		if err != nil {
			return 0, persistenceErr(s.Name(), "save_pools", fmt.Errorf("pool %s: %w", p.Label(), err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, persistenceErr(s.Name(), "save_pools", err)
	}
	return len(pools), nil
}

// --- Matches ---

// matchRow is the table model of cal_sync_matches.
type matchRow struct {
	MatchID          string         `db:"match_id"`
	HomeTeam         string         `db:"home_team"`
	AwayTeam         string         `db:"away_team"`
	HomeTeamID       sql.NullString `db:"home_team_id"`
	AwayTeamID       sql.NullString `db:"away_team_id"`
	MatchDate        string         `db:"match_date"`
	MatchTime        sql.NullString `db:"match_time"`
	Venue            string         `db:"venue"`
	HomeScore        sql.NullString `db:"home_score"`
	AwayScore        sql.NullString `db:"away_score"`
	Round            sql.NullString `db:"round"`
	PoolName         string         `db:"pool_name"`
	Season           string         `db:"season"`
	ExtractionMethod string         `db:"extraction_method"`
	RawData          []byte         `db:"raw_data"`
	ScrapedAt        time.Time      `db:"scraped_at"`
}

func (r matchRow) record() (*types.MatchRecord, error) {
	rec := &types.MatchRecord{
		MatchID:          r.MatchID,
		HomeTeam:         r.HomeTeam,
		AwayTeam:         r.AwayTeam,
		HomeTeamID:       nullable(r.HomeTeamID),
		AwayTeamID:       nullable(r.AwayTeamID),
		Date:             r.MatchDate,
		Time:             nullable(r.MatchTime),
		Venue:            r.Venue,
		HomeScore:        nullable(r.HomeScore),
		AwayScore:        nullable(r.AwayScore),
		Round:            nullable(r.Round),
		PoolName:         r.PoolName,
		Season:           r.Season,
		ExtractionMethod: r.ExtractionMethod,
		RawData:          types.NewRawRow(),
		ScrapedAt:        r.ScrapedAt,
	}
	if len(r.RawData) > 0 {
		if err := json.Unmarshal(r.RawData, &rec.RawData); err != nil {
			return nil, fmt.Errorf("decode raw_data of %s: %w", r.MatchID, err)
		}
	}
	return rec, nil
}

func (s *SQLStore) InsertMatches(ctx context.Context, records []*types.MatchRecord, meta types.RunMetadata) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceErr(s.Name(), "insert_matches", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.db.Rebind(`INSERT INTO cal_sync_matches (
			match_id, home_team, away_team, home_team_id, away_team_id, match_date, match_time,
			venue, home_score, away_score, round, pool_name, season, extraction_method, raw_data,
			session_id, log_id, scraped_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			home_team_id = excluded.home_team_id,
			away_team_id = excluded.away_team_id,
			match_date = excluded.match_date,
			match_time = excluded.match_time,
			venue = excluded.venue,
			home_score = excluded.home_score,
			away_score = excluded.away_score,
			round = excluded.round,
			pool_name = excluded.pool_name,
			season = excluded.season,
			extraction_method = excluded.extraction_method,
			raw_data = excluded.raw_data,
			session_id = excluded.session_id,
			log_id = excluded.log_id,
			scraped_at = excluded.scraped_at,
			updated_at = excluded.updated_at`)

	now := s.now().UTC()
	for _, rec := range records {
		raw, err := json.Marshal(rec.RawData)
		if err != nil {
			return persistenceErr(s.Name(), "insert_matches", fmt.Errorf("encode raw_data of %s: %w", rec.MatchID, err))
		}
		season := rec.Season
		if season == "" {
			season = meta.Season
		}
		_, err = tx.ExecContext(ctx, query,
			rec.MatchID, rec.HomeTeam, rec.AwayTeam, rec.HomeTeamID, rec.AwayTeamID, rec.Date, rec.Time,
			rec.Venue, rec.HomeScore, rec.AwayScore, rec.Round, rec.PoolName, season, rec.ExtractionMethod, string(raw),
			meta.SessionID, meta.LogID, rec.ScrapedAt.UTC(), now)
		if err != nil {
			return persistenceErr(s.Name(), "insert_matches", fmt.Errorf("match %s: %w", rec.MatchID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return persistenceErr(s.Name(), "insert_matches", err)
	}

	s.logger.Debug("matches stored", "count", len(records), "pool", meta.Pool.Label(), "session_id", meta.SessionID)
	return nil
}

func (s *SQLStore) ListMatches(ctx context.Context, season string) ([]*types.MatchRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT match_id, home_team, away_team, home_team_id, away_team_id, match_date, match_time,
		venue, home_score, away_score, round, pool_name, season, extraction_method, raw_data, scraped_at
		FROM cal_sync_matches`
	var args []any
	if season != "" {
		query += ` WHERE season = ?`
		args = append(args, season)
	}
	query += ` ORDER BY match_date, match_time, match_id`

	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, persistenceErr(s.Name(), "list_matches", err)
	}

	out := make([]*types.MatchRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, persistenceErr(s.Name(), "list_matches", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) DeleteAllMatches(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, "cal_sync_matches", "delete_matches")
}

// --- Logs ---

const logColumns = `log_id, session_id, season, venue, start_datetime, end_datetime, total_matches, message, status`

func (s *SQLStore) StartLog(ctx context.Context, sessionID, season, venue string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	logID := types.NewLogID(now, sessionID)
	query := s.db.Rebind(`INSERT INTO cal_sync_logs (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, NULL, 0, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, logID, sessionID, season, venue, now,
		"Scraping started", string(types.SessionRunning))
	if err != nil {
		return "", persistenceErr(s.Name(), "start_log", err)
	}
	return logID, nil
}

func (s *SQLStore) UpdateLog(ctx context.Context, logID string, u types.LogUpdate) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var end *time.Time
	if u.Finished {
		t := s.now().UTC()
		end = &t
	}
	query := s.db.Rebind(`UPDATE cal_sync_logs
		SET total_matches = ?, message = ?, status = ?, end_datetime = COALESCE(?, end_datetime)
		WHERE log_id = ?`)
	res, err := s.db.ExecContext(ctx, query, u.TotalMatches, u.Message, u.Status, end, logID)
	if err != nil {
		return persistenceErr(s.Name(), "update_log", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistenceErr(s.Name(), "update_log", fmt.Errorf("log %s: %w", logID, types.ErrNotFound))
	}
	return nil
}

func (s *SQLStore) LatestLogBySession(ctx context.Context, sessionID string) (*types.LogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entry types.LogEntry
	query := s.db.Rebind(`SELECT ` + logColumns + ` FROM cal_sync_logs
		WHERE session_id = ? ORDER BY start_datetime DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &entry, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, persistenceErr(s.Name(), "latest_log", err)
	}
	return &entry, nil
}

func (s *SQLStore) RecentLogs(ctx context.Context, limit int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLogs
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entries []types.LogEntry
	query := s.db.Rebind(`SELECT ` + logColumns + ` FROM cal_sync_logs
		ORDER BY start_datetime DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, persistenceErr(s.Name(), "recent_logs", err)
	}
	return entries, nil
}

func (s *SQLStore) ClearLogs(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, "cal_sync_logs", "clear_logs")
}

// --- Venue searches ---

func (s *SQLStore) SaveVenueSearch(ctx context.Context, venue, searchTime string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.db.Rebind(`INSERT INTO venue_searches (venue, search_time, created_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, venue, searchTime, s.now().UTC()); err != nil {
		return persistenceErr(s.Name(), "save_venue", err)
	}
	return nil
}

func (s *SQLStore) LastVenue(ctx context.Context) (*types.VenueSearch, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var v types.VenueSearch
	err := s.db.GetContext(ctx, &v, `SELECT id, venue, search_time, created_at FROM venue_searches
		ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, persistenceErr(s.Name(), "last_venue", err)
	}
	return &v, nil
}

func (s *SQLStore) deleteAll(ctx context.Context, table, op string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, persistenceErr(s.Name(), op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr(s.Name(), op, err)
	}
	s.logger.Info("table cleared", "table", table, "rows", n)
	return n, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return types.Ptr(ns.String)
}
