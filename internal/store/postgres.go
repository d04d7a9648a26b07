package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/promo-cli/internal/db"
	"github.com/sells-group/promo-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_businesses (
	row_id       TEXT PRIMARY KEY,
	business_id  TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	review_count INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	category     TEXT NOT NULL DEFAULT '',
	payload      JSON,
	captured_at  TIMESTAMPTZ NOT NULL,
	staged_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_enrichment (
	row_id      TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	source      TEXT NOT NULL,
	website     TEXT NOT NULL DEFAULT '',
	links       JSONB NOT NULL DEFAULT '[]',
	captured_at TIMESTAMPTZ NOT NULL,
	staged_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS qualified_businesses (
	business_id     TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	review_count    INTEGER NOT NULL DEFAULT 0,
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT '',
	filter_passed   BOOLEAN NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	raw_captured_at TIMESTAMPTZ NOT NULL,
	qualified_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	business_id   TEXT PRIMARY KEY,
	website_clean TEXT,
	facebook_url  TEXT,
	instagram_url TEXT,
	process_flag  TEXT,
	enriched_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS master_records (
	business_id   TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	review_count  INTEGER NOT NULL DEFAULT 0,
	score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	website_clean TEXT,
	facebook_url  TEXT,
	instagram_url TEXT,
	process_flag  TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	retired_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS promo_payloads (
	id           TEXT PRIMARY KEY,
	business_id  TEXT NOT NULL REFERENCES master_records(business_id),
	path         TEXT NOT NULL CHECK (path IN ('ad_transparency', 'email', 'website_subpage')),
	content      BYTEA NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	charset      TEXT NOT NULL DEFAULT '',
	captured_at  TIMESTAMPTZ NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS structuring_outcomes (
	id         TEXT PRIMARY KEY,
	payload_id TEXT NOT NULL REFERENCES promo_payloads(id),
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	offers     INTEGER NOT NULL DEFAULT 0,
	model      TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS structured_offers (
	id               TEXT PRIMARY KEY,
	payload_id       TEXT NOT NULL REFERENCES promo_payloads(id),
	business_id      TEXT NOT NULL REFERENCES master_records(business_id),
	path             TEXT NOT NULL,
	category         TEXT,
	subcategory      TEXT,
	service          TEXT,
	price            TEXT,
	duration_minutes INTEGER,
	description      TEXT,
	flags            JSONB NOT NULL DEFAULT '[]',
	raw              JSONB,
	oracle_model     TEXT NOT NULL DEFAULT '',
	run_id           TEXT NOT NULL REFERENCES structuring_outcomes(id),
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_results (
	id                   TEXT PRIMARY KEY,
	offer_id             TEXT NOT NULL REFERENCES structured_offers(id),
	business_id          TEXT NOT NULL REFERENCES master_records(business_id),
	query                TEXT NOT NULL DEFAULT '',
	score                DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 1),
	manual_review_needed BOOLEAN NOT NULL DEFAULT false,
	status               TEXT NOT NULL CHECK (status IN ('pass', 'fail', 'review')),
	reviewer             TEXT NOT NULL DEFAULT '',
	notes                TEXT,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_unresolved (
	id          TEXT PRIMARY KEY,
	offer_id    TEXT NOT NULL REFERENCES structured_offers(id),
	business_id TEXT NOT NULL REFERENCES master_records(business_id),
	query       TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_businesses_business ON raw_businesses(business_id, captured_at);
CREATE INDEX IF NOT EXISTS idx_raw_enrichment_business ON raw_enrichment(business_id);
CREATE INDEX IF NOT EXISTS idx_promo_payloads_business_path ON promo_payloads(business_id, path);
CREATE INDEX IF NOT EXISTS idx_outcomes_payload ON structuring_outcomes(payload_id, created_at);
CREATE INDEX IF NOT EXISTS idx_offers_payload ON structured_offers(payload_id);
CREATE INDEX IF NOT EXISTS idx_offers_business ON structured_offers(business_id);
CREATE INDEX IF NOT EXISTS idx_qa_results_offer ON qa_results(offer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_qa_unresolved_offer ON qa_unresolved(offer_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendRawBusinesses(ctx context.Context, recs []model.RawBusinessRecord) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{newID(), r.ID, r.Name, r.Address, r.City, r.Website, r.ReviewCount, r.Score,
			r.Category, nullJSON(r.Payload), r.CapturedAt.UTC(), now}
	}
	n, err := db.CopyFrom(ctx, s.pool, "raw_businesses", []string{
		"row_id", "business_id", "name", "address", "city", "website", "review_count", "score",
		"category", "payload", "captured_at", "staged_at",
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append raw businesses")
	}
	return int(n), nil
}

func (s *PostgresStore) LatestRawBusinesses(ctx context.Context) ([]model.RawBusinessRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+prefixed("r", rawBusinessCols)+` FROM raw_businesses r
		WHERE `+latestRawPred+` ORDER BY r.business_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest raw businesses")
	}
	return collectPg(rows, scanRawBusiness, "postgres: scan raw business")
}

func (s *PostgresStore) AppendRawEnrichment(ctx context.Context, payloads []model.RawEnrichmentPayload) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(payloads))
	for i, p := range payloads {
		rows[i] = []any{newID(), p.BusinessID, string(p.Source), p.Website, jsonList(p.Links), p.CapturedAt.UTC(), now}
	}
	n, err := db.CopyFrom(ctx, s.pool, "raw_enrichment", []string{
		"row_id", "business_id", "source", "website", "links", "captured_at", "staged_at",
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append raw enrichment")
	}
	return int(n), nil
}

func (s *PostgresStore) ListRawEnrichment(ctx context.Context) ([]model.RawEnrichmentPayload, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+rawEnrichCols+` FROM raw_enrichment ORDER BY business_id, captured_at, row_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw enrichment")
	}
	return collectPg(rows, scanRawEnrichment, "postgres: scan raw enrichment")
}

func (s *PostgresStore) UpsertQualified(ctx context.Context, recs []model.QualifiedBusinessRecord) error {
	rows := make([][]any, len(recs))
	for i, q := range recs {
		rows[i] = []any{q.BusinessID, q.Name, q.Address, q.City, q.Website, q.ReviewCount, q.Score,
			q.Category, q.FilterPassed, q.Reason, q.RawCapturedAt.UTC(), q.QualifiedAt.UTC()}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "qualified_businesses",
		Columns:      splitCols(qualifiedCols),
		ConflictKeys: []string{"business_id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert qualified")
}

func (s *PostgresStore) ListQualified(ctx context.Context, passedOnly bool) ([]model.QualifiedBusinessRecord, error) {
	c := conds{d: postgresDialect}
	if passedOnly {
		c.raw("filter_passed")
	}
	rows, err := s.pool.Query(ctx, `SELECT `+qualifiedCols+` FROM qualified_businesses`+c.where()+` ORDER BY business_id`, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list qualified")
	}
	return collectPg(rows, scanQualified, "postgres: scan qualified")
}

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, recs []model.EnrichmentRecord) error {
	rows := make([][]any, len(recs))
	for i, e := range recs {
		rows[i] = []any{e.BusinessID, e.WebsiteClean, e.FacebookURL, e.InstagramURL, e.ProcessFlag, e.EnrichedAt.UTC()}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "enrichment_records",
		Columns:      splitCols(enrichmentCols),
		ConflictKeys: []string{"business_id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert enrichment")
}

func (s *PostgresStore) ListEnrichment(ctx context.Context) ([]model.EnrichmentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+enrichmentCols+` FROM enrichment_records ORDER BY business_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichment")
	}
	return collectPg(rows, scanEnrichment, "postgres: scan enrichment")
}

func (s *PostgresStore) UpsertMasters(ctx context.Context, recs []model.MasterRecord) error {
	rows := make([][]any, len(recs))
	for i, m := range recs {
		rows[i] = []any{m.BusinessID, m.Name, m.Address, m.City, m.Category, m.ReviewCount, m.Score,
			m.WebsiteClean, m.FacebookURL, m.InstagramURL, m.ProcessFlag,
			m.CreatedAt.UTC(), m.UpdatedAt.UTC(), nullTime(m.RetiredAt)}
	}
	cols := splitCols(masterCols)
	update := make([]string, 0, len(cols))
	for _, c := range cols {
		// created_at belongs to the first consolidation.
		if c != "business_id" && c != "created_at" {
			update = append(update, c)
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "master_records",
		Columns:      cols,
		ConflictKeys: []string{"business_id"},
		UpdateCols:   update,
	}, rows)
	return eris.Wrap(err, "postgres: upsert masters")
}

func (s *PostgresStore) GetMaster(ctx context.Context, businessID string) (*model.MasterRecord, error) {
	m, err := scanMaster(s.pool.QueryRow(ctx, `SELECT `+masterCols+` FROM master_records WHERE business_id = $1`, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: master %s", businessID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get master %s", businessID)
	}
	return &m, nil
}

func (s *PostgresStore) ListMasters(ctx context.Context, activeOnly bool) ([]model.MasterRecord, error) {
	c := conds{d: postgresDialect}
	if activeOnly {
		c.raw("retired_at IS NULL")
	}
	rows, err := s.pool.Query(ctx, `SELECT `+masterCols+` FROM master_records`+c.where()+` ORDER BY business_id`, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list masters")
	}
	return collectPg(rows, scanMaster, "postgres: scan master")
}

func (s *PostgresStore) InsertPromoPayload(ctx context.Context, p model.RawPromoPayload) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO promo_payloads (`+payloadCols+`)
		SELECT $1::text, $2::text, $3::text, $4::bytea, $5::text, $6::text, $7::timestamptz, $8::timestamptz
		WHERE EXISTS (SELECT 1 FROM master_records WHERE business_id = $2 AND retired_at IS NULL)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.BusinessID, string(p.Path), []byte(p.Content), p.ContentType, p.Charset, p.CapturedAt.UTC(), p.IngestedAt.UTC(),
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return false, eris.Wrapf(ErrOrphan, "postgres: payload %s references business %s", p.ID, p.BusinessID)
		}
		return false, eris.Wrapf(err, "postgres: insert promo payload %s", p.ID)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM promo_payloads WHERE id = $1`, p.ID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrOrphan, "postgres: payload %s references business %s", p.ID, p.BusinessID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check payload %s", p.ID)
	}
	return false, nil
}

func (s *PostgresStore) GetPromoPayload(ctx context.Context, id string) (*model.RawPromoPayload, error) {
	p, err := scanPayload(s.pool.QueryRow(ctx, `SELECT `+payloadCols+` FROM promo_payloads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: payload %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get payload %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListPromoPayloads(ctx context.Context, f PayloadFilter) ([]model.RawPromoPayload, error) {
	c := conds{d: postgresDialect}
	if f.BusinessID != "" {
		c.add("p.business_id = %s", f.BusinessID)
	}
	if f.Path != "" {
		c.add("p.path = %s", string(f.Path))
	}
	if f.Unprocessed {
		c.raw(unprocessedPred)
	}
	q := `SELECT ` + prefixed("p", payloadCols) + ` FROM promo_payloads p` + c.where() + ` ORDER BY p.ingested_at, p.id`
	q += c.limit(f.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list payloads")
	}
	return collectPg(rows, scanPayload, "postgres: scan payload")
}

func (s *PostgresStore) RecordStructuring(ctx context.Context, outcome model.StructuringOutcome, offers []model.StructuredOffer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: record structuring: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO structuring_outcomes (`+outcomeCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		outcome.ID, outcome.PayloadID, string(outcome.Status), outcome.Attempts, outcome.Offers,
		outcome.Model, outcome.Error, outcome.CreatedAt.UTC(),
	); err != nil {
		if db.IsForeignKeyViolation(err) {
			return eris.Wrapf(ErrOrphan, "postgres: outcome for payload %s", outcome.PayloadID)
		}
		return eris.Wrapf(err, "postgres: insert outcome %s", outcome.ID)
	}

	if len(offers) > 0 {
		batch := &pgx.Batch{}
		for _, o := range offers {
			batch.Queue(`INSERT INTO structured_offers (`+offerCols+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				o.ID, o.PayloadID, o.BusinessID, string(o.Path), o.Category, o.Subcategory, o.Service,
				o.Price, nullInt(o.DurationMinutes), o.Description, jsonList(o.Flags), nullJSON(o.Raw),
				o.OracleModel, o.RunID, o.CreatedAt.UTC(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if db.IsForeignKeyViolation(err) {
				return eris.Wrapf(ErrOrphan, "postgres: offers for payload %s", outcome.PayloadID)
			}
			return eris.Wrapf(err, "postgres: insert offers for payload %s", outcome.PayloadID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: record structuring: commit")
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, f OutcomeFilter) ([]model.StructuringOutcome, error) {
	c := conds{d: postgresDialect}
	if f.PayloadID != "" {
		c.add("so.payload_id = %s", f.PayloadID)
	}
	if f.Status != "" {
		c.add("so.status = %s", string(f.Status))
	}
	if f.LatestOnly {
		c.raw(latestOutcomePred)
	}
	q := `SELECT ` + prefixed("so", outcomeCols) + ` FROM structuring_outcomes so` + c.where() + ` ORDER BY so.created_at, so.id` + c.limit(f.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	return collectPg(rows, scanOutcome, "postgres: scan outcome")
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*model.StructuredOffer, error) {
	o, err := scanOffer(s.pool.QueryRow(ctx, `SELECT `+offerCols+` FROM structured_offers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: offer %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get offer %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) ListOffers(ctx context.Context, f OfferFilter) ([]model.StructuredOffer, error) {
	c := conds{d: postgresDialect}
	if f.PayloadID != "" {
		c.add("o.payload_id = %s", f.PayloadID)
	}
	if f.BusinessID != "" {
		c.add("o.business_id = %s", f.BusinessID)
	}
	if f.Unscored {
		c.raw(unscoredPred)
	}
	if f.CurrentOnly {
		c.raw(currentRunPred)
	}
	q := `SELECT ` + prefixed("o", offerCols) + ` FROM structured_offers o` + c.where() + ` ORDER BY o.created_at, o.id`
	q += c.limit(f.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list offers")
	}
	return collectPg(rows, scanOffer, "postgres: scan offer")
}

func (s *PostgresStore) AppendQAResult(ctx context.Context, r model.QAResult) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO qa_results (`+qaCols+`)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::double precision, $6::boolean, $7::text, $8::text, $9::text, $10::timestamptz
		WHERE EXISTS (SELECT 1 FROM structured_offers WHERE id = $2 AND business_id = $3)`,
		r.ID, r.OfferID, r.BusinessID, r.Query, r.Score, r.ManualReviewNeeded, string(r.Status),
		r.Reviewer, r.Notes, r.CreatedAt.UTC(),
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return eris.Wrapf(ErrOrphan, "postgres: qa result references offer %s", r.OfferID)
		}
		return eris.Wrapf(err, "postgres: insert qa result for offer %s", r.OfferID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var businessID string
	err = s.pool.QueryRow(ctx, `SELECT business_id FROM structured_offers WHERE id = $1`, r.OfferID).Scan(&businessID)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrOrphan, "postgres: qa result references offer %s", r.OfferID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check offer %s", r.OfferID)
	}
	return model.Invalidf("qa result business %s does not match offer business %s", r.BusinessID, businessID)
}

func (s *PostgresStore) ListQAResults(ctx context.Context, offerID string) ([]model.QAResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+qaCols+` FROM qa_results WHERE offer_id = $1 ORDER BY created_at, id`, offerID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list qa results for %s", offerID)
	}
	return collectPg(rows, scanQA, "postgres: scan qa result")
}

func (s *PostgresStore) CurrentQAResults(ctx context.Context, f QAFilter) ([]model.QAResult, error) {
	c := conds{d: postgresDialect}
	c.raw(latestQAPred)
	if f.Status != "" {
		c.add("q.status = %s", string(f.Status))
	}
	if f.BusinessID != "" {
		c.add("q.business_id = %s", f.BusinessID)
	}
	q := `SELECT ` + prefixed("q", qaCols) + ` FROM qa_results q` + c.where() + ` ORDER BY q.created_at, q.id` + c.limit(f.Limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current qa results")
	}
	return collectPg(rows, scanQA, "postgres: scan qa result")
}

// AppendReview locks the offer row so concurrent reviewers serialize; the
// second one sees the first decision and gets ErrStale.
func (s *PostgresStore) AppendReview(ctx context.Context, r model.QAResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: append review: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var businessID string
	err = tx.QueryRow(ctx, `SELECT business_id FROM structured_offers WHERE id = $1 FOR UPDATE`, r.OfferID).Scan(&businessID)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrOrphan, "postgres: review references offer %s", r.OfferID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lock offer %s", r.OfferID)
	}
	if businessID != r.BusinessID {
		return model.Invalidf("review business %s does not match offer business %s", r.BusinessID, businessID)
	}

	tag, err := tx.Exec(ctx, `INSERT INTO qa_results (`+qaCols+`)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::double precision, $6::boolean, $7::text, $8::text, $9::text, $10::timestamptz
		WHERE EXISTS (SELECT 1 FROM qa_results q WHERE q.offer_id = $2 AND q.status = 'review' AND `+latestQAPred+`)`,
		r.ID, r.OfferID, r.BusinessID, r.Query, r.Score, r.ManualReviewNeeded, string(r.Status),
		r.Reviewer, r.Notes, r.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert review for offer %s", r.OfferID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStale, "postgres: offer %s is no longer in review", r.OfferID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: append review: commit")
}

func (s *PostgresStore) RecordQAUnresolved(ctx context.Context, u model.QAUnresolved) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO qa_unresolved (`+qaUnresolvedCols+`)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::integer, $6::text, $7::timestamptz
		WHERE EXISTS (SELECT 1 FROM structured_offers WHERE id = $2 AND business_id = $3)`,
		u.ID, u.OfferID, u.BusinessID, u.Query, u.Attempts, u.Error, u.CreatedAt.UTC(),
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return eris.Wrapf(ErrOrphan, "postgres: qa unresolved references offer %s", u.OfferID)
		}
		return eris.Wrapf(err, "postgres: insert qa unresolved for offer %s", u.OfferID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrOrphan, "postgres: qa unresolved references offer %s of business %s", u.OfferID, u.BusinessID)
	}
	return nil
}

func (s *PostgresStore) ListQAUnresolved(ctx context.Context, limit int) ([]model.QAUnresolved, error) {
	c := conds{d: postgresDialect}
	c.raw(openQAUnresolvedPred)
	q := `SELECT ` + prefixed("u", qaUnresolvedCols) + ` FROM qa_unresolved u` + c.where() + ` ORDER BY u.created_at, u.id` + c.limit(limit)

	rows, err := s.pool.Query(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list qa unresolved")
	}
	return collectPg(rows, scanQAUnresolved, "postgres: scan qa unresolved")
}

func collectPg[T any](rows pgx.Rows, scan func(scannable) (T, error), op string) ([]T, error) {
	defer rows.Close()
	return iterate(rows, scan, op)
}
