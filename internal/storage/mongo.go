package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

// Collection names mirror the SQL table names.
const (
	collPools   = "cal_sync_pools"
	collMatches = "cal_sync_matches"
	collLogs    = "cal_sync_logs"
	collVenues  = "venue_searches"
)

// MongoStore persists to a MongoDB database.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// matchDoc is the document model of a stored match.
type matchDoc struct {
	MatchID          string    `bson:"match_id"`
	HomeTeam         string    `bson:"home_team"`
	AwayTeam         string    `bson:"away_team"`
	HomeTeamID       *string   `bson:"home_team_id,omitempty"`
	AwayTeamID       *string   `bson:"away_team_id,omitempty"`
	Date             string    `bson:"match_date"`
	Time             *string   `bson:"match_time,omitempty"`
	Venue            string    `bson:"venue"`
	HomeScore        *string   `bson:"home_score,omitempty"`
	AwayScore        *string   `bson:"away_score,omitempty"`
	Round            *string   `bson:"round,omitempty"`
	PoolName         string    `bson:"pool_name"`
	Season           string    `bson:"season"`
	ExtractionMethod string    `bson:"extraction_method"`
	RawData          bson.D    `bson:"raw_data"`
	SessionID        string    `bson:"session_id"`
	LogID            string    `bson:"log_id"`
	ScrapedAt        time.Time `bson:"scraped_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func newMatchDoc(rec *types.MatchRecord, meta types.RunMetadata, now time.Time) matchDoc {
	raw := make(bson.D, 0, rec.RawData.Len())
	for _, k := range rec.RawData.Keys {
		raw = append(raw, bson.E{Key: k, Value: rec.RawData.GetString(k)})
	}
	season := rec.Season
	if season == "" {
		season = meta.Season
	}
	return matchDoc{
		MatchID:          rec.MatchID,
		HomeTeam:         rec.HomeTeam,
		AwayTeam:         rec.AwayTeam,
		HomeTeamID:       rec.HomeTeamID,
		AwayTeamID:       rec.AwayTeamID,
		Date:             rec.Date,
		Time:             rec.Time,
		Venue:            rec.Venue,
		HomeScore:        rec.HomeScore,
		AwayScore:        rec.AwayScore,
		Round:            rec.Round,
		PoolName:         rec.PoolName,
		Season:           season,
		ExtractionMethod: rec.ExtractionMethod,
		RawData:          raw,
		SessionID:        meta.SessionID,
		LogID:            meta.LogID,
		ScrapedAt:        rec.ScrapedAt.UTC(),
		UpdatedAt:        now,
	}
}

func (d matchDoc) record() *types.MatchRecord {
	rec := &types.MatchRecord{
		MatchID:          d.MatchID,
		HomeTeam:         d.HomeTeam,
		AwayTeam:         d.AwayTeam,
		HomeTeamID:       d.HomeTeamID,
		AwayTeamID:       d.AwayTeamID,
		Date:             d.Date,
		Time:             d.Time,
		Venue:            d.Venue,
		HomeScore:        d.HomeScore,
		AwayScore:        d.AwayScore,
		Round:            d.Round,
		PoolName:         d.PoolName,
		Season:           d.Season,
		ExtractionMethod: d.ExtractionMethod,
		RawData:          types.NewRawRow(),
		ScrapedAt:        d.ScrapedAt,
	}
	for _, e := range d.RawData {
		if s, ok := e.Value.(string); ok {
			rec.RawData.Set(e.Key, s)
		}
	}
	return rec
}

// NewMongoStore connects, pings and ensures the unique indexes exist.
func NewMongoStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	s := &MongoStore{
		client:  client,
		db:      client.Database(cfg.MongoDatabase),
		timeout: cfg.QueryTimeout,
		logger:  logger.With("component", "mongo_storage"),
		now:     time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		collPools: {
			Keys: bson.D{
				{Key: "season", Value: 1}, {Key: "region_id", Value: 1},
				{Key: "age_group_id", Value: 1}, {Key: "pool_value", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		collMatches: {
			Keys:    bson.D{{Key: "match_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		collLogs: {
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "start_datetime", Value: -1}},
		},
	}
	for coll, model := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("mongodb index %s: %w", coll, err)
		}
	}
	return nil
}

func (s *MongoStore) Name() string { return DriverMongo }

func (s *MongoStore) Close() error {
	s.logger.Debug("mongodb storage closing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) LoadPools(ctx context.Context, season string) ([]types.PoolDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.db.Collection(collPools).Find(ctx, bson.D{{Key: "season", Value: season}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, persistenceErr(s.Name(), "load_pools", err)
	}
	var pools []types.PoolDefinition
	if err := cur.All(ctx, &pools); err != nil {
		return nil, persistenceErr(s.Name(), "load_pools", err)
	}
	return pools, nil
}

func (s *MongoStore) SavePools(ctx context.Context, pools []types.PoolDefinition) (int, error) {
	if len(pools) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(pools))
	for _, p := range pools {
		filter := bson.D{
			{Key: "season", Value: p.Season}, {Key: "region_id", Value: p.RegionID},
			{Key: "age_group_id", Value: p.AgeGroupID}, {Key: "pool_value", Value: p.PoolValue},
		}
		models = append(models, mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(p).SetUpsert(true))
	}
	if _, err := s.db.Collection(collPools).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return 0, persistenceErr(s.Name(), "save_pools", err)
	}
	return len(pools), nil
}

func (s *MongoStore) InsertMatches(ctx context.Context, records []*types.MatchRecord, meta types.RunMetadata) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "match_id", Value: rec.MatchID}}).
			SetReplacement(newMatchDoc(rec, meta, now)).
			SetUpsert(true))
	}
	if _, err := s.db.Collection(collMatches).BulkWrite(ctx, models); err != nil {
		return persistenceErr(s.Name(), "insert_matches", err)
	}
	s.logger.Debug("matches stored in mongodb", "count", len(records), "pool", meta.Pool.Label())
	return nil
}

func (s *MongoStore) ListMatches(ctx context.Context, season string) ([]*types.MatchRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.D{}
	if season != "" {
		filter = bson.D{{Key: "season", Value: season}}
	}
	sort := bson.D{{Key: "match_date", Value: 1}, {Key: "match_time", Value: 1}, {Key: "match_id", Value: 1}}
	cur, err := s.db.Collection(collMatches).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, persistenceErr(s.Name(), "list_matches", err)
	}
	var docs []matchDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, persistenceErr(s.Name(), "list_matches", err)
	}
	out := make([]*types.MatchRecord, len(docs))
	for i, d := range docs {
		out[i] = d.record()
	}
	return out, nil
}

func (s *MongoStore) DeleteAllMatches(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, collMatches, "delete_matches")
}

func (s *MongoStore) StartLog(ctx context.Context, sessionID, season, venue string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	entry := types.LogEntry{
		LogID:         types.NewLogID(now, sessionID),
		SessionID:     sessionID,
		Season:        season,
		Venue:         venue,
		StartDatetime: now,
		Message:       "Scraping started",
		Status:        string(types.SessionRunning),
	}
	if _, err := s.db.Collection(collLogs).InsertOne(ctx, entry); err != nil {
		return "", persistenceErr(s.Name(), "start_log", err)
	}
	return entry.LogID, nil
}

func (s *MongoStore) UpdateLog(ctx context.Context, logID string, u types.LogUpdate) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set := bson.D{
		{Key: "total_matches", Value: u.TotalMatches},
		{Key: "message", Value: u.Message},
		{Key: "status", Value: u.Status},
	}
	if u.Finished {
		set = append(set, bson.E{Key: "end_datetime", Value: s.now().UTC()})
	}
	res, err := s.db.Collection(collLogs).UpdateOne(ctx,
		bson.D{{Key: "log_id", Value: logID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return persistenceErr(s.Name(), "update_log", err)
	}
	if res.MatchedCount == 0 {
		return persistenceErr(s.Name(), "update_log", fmt.Errorf("log %s: %w", logID, types.ErrNotFound))
	}
	return nil
}

func (s *MongoStore) LatestLogBySession(ctx context.Context, sessionID string) (*types.LogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entry types.LogEntry
	err := s.db.Collection(collLogs).FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}},
		options.FindOne().SetSort(bson.D{{Key: "start_datetime", Value: -1}})).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, persistenceErr(s.Name(), "latest_log", err)
	}
	return &entry, nil
}

func (s *MongoStore) RecentLogs(ctx context.Context, limit int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLogs
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.db.Collection(collLogs).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "start_datetime", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, persistenceErr(s.Name(), "recent_logs", err)
	}
	var entries []types.LogEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, persistenceErr(s.Name(), "recent_logs", err)
	}
	return entries, nil
}

func (s *MongoStore) ClearLogs(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, collLogs, "clear_logs")
}

func (s *MongoStore) SaveVenueSearch(ctx context.Context, venue, searchTime string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := types.VenueSearch{Venue: venue, SearchTime: searchTime, CreatedAt: s.now().UTC()}
	if _, err := s.db.Collection(collVenues).InsertOne(ctx, doc); err != nil {
		return persistenceErr(s.Name(), "save_venue", err)
	}
	return nil
}

func (s *MongoStore) LastVenue(ctx context.Context) (*types.VenueSearch, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var v types.VenueSearch
	err := s.db.Collection(collVenues).FindOne(ctx, bson.D{},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, persistenceErr(s.Name(), "last_venue", err)
	}
	return &v, nil
}

func (s *MongoStore) deleteAll(ctx context.Context, coll, op string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.Collection(coll).DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, persistenceErr(s.Name(), op, err)
	}
	s.logger.Info("collection cleared", "collection", coll, "documents", res.DeletedCount)
	return res.DeletedCount, nil
}
