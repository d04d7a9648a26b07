package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/promo-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteParams enables FK enforcement and a busy timeout on every pooled
// connection, and takes the write lock at BEGIN so read-then-write
// transactions cannot deadlock on lock upgrade.
const sqliteParams = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqliteParams
	} else {
		dsn += "?" + sqliteParams
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_businesses (
	row_id       TEXT PRIMARY KEY,
	business_id  TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	review_count INTEGER NOT NULL DEFAULT 0,
	score        REAL NOT NULL DEFAULT 0,
	category     TEXT NOT NULL DEFAULT '',
	payload      BLOB,
	captured_at  DATETIME NOT NULL,
	staged_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_enrichment (
	row_id      TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	source      TEXT NOT NULL,
	website     TEXT NOT NULL DEFAULT '',
	links       BLOB NOT NULL,
	captured_at DATETIME NOT NULL,
	staged_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS qualified_businesses (
	business_id     TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	review_count    INTEGER NOT NULL DEFAULT 0,
	score           REAL NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT '',
	filter_passed   INTEGER NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	raw_captured_at DATETIME NOT NULL,
	qualified_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	business_id   TEXT PRIMARY KEY,
	website_clean TEXT,
	facebook_url  TEXT,
	instagram_url TEXT,
	process_flag  TEXT,
	enriched_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS master_records (
	business_id   TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	review_count  INTEGER NOT NULL DEFAULT 0,
	score         REAL NOT NULL DEFAULT 0,
	website_clean TEXT,
	facebook_url  TEXT,
	instagram_url TEXT,
	process_flag  TEXT,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	retired_at    DATETIME
);

CREATE TABLE IF NOT EXISTS promo_payloads (
	id           TEXT PRIMARY KEY,
	business_id  TEXT NOT NULL REFERENCES master_records(business_id),
	path         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	charset      TEXT NOT NULL DEFAULT '',
	captured_at  DATETIME NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS structuring_outcomes (
	id         TEXT PRIMARY KEY,
	payload_id TEXT NOT NULL REFERENCES promo_payloads(id),
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	offers     INTEGER NOT NULL DEFAULT 0,
	model      TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
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
	flags            BLOB NOT NULL,
	raw              BLOB,
	oracle_model     TEXT NOT NULL DEFAULT '',
	run_id           TEXT NOT NULL REFERENCES structuring_outcomes(id),
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_results (
	id                   TEXT PRIMARY KEY,
	offer_id             TEXT NOT NULL REFERENCES structured_offers(id),
	business_id          TEXT NOT NULL REFERENCES master_records(business_id),
	query                TEXT NOT NULL DEFAULT '',
	score                REAL NOT NULL,
	manual_review_needed INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	reviewer             TEXT NOT NULL DEFAULT '',
	notes                TEXT,
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_unresolved (
	id          TEXT PRIMARY KEY,
	offer_id    TEXT NOT NULL REFERENCES structured_offers(id),
	business_id TEXT NOT NULL REFERENCES master_records(business_id),
	query       TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendRawBusinesses(ctx context.Context, recs []model.RawBusinessRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	err := s.withTx(ctx, "append raw businesses", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO raw_businesses (row_id, `+rawBusinessCols+`, staged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if _, err := stmt.ExecContext(ctx, newID(), r.ID, r.Name, r.Address, r.City, r.Website,
				r.ReviewCount, r.Score, r.Category, nullJSON(r.Payload), r.CapturedAt.UTC(), now); err != nil {
				return eris.Wrapf(err, "insert raw business %s", r.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *SQLiteStore) LatestRawBusinesses(ctx context.Context) ([]model.RawBusinessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prefixed("r", rawBusinessCols)+` FROM raw_businesses r
		WHERE `+latestRawPred+` ORDER BY r.business_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest raw businesses")
	}
	return collect(rows, scanRawBusiness, "sqlite: scan raw business")
}

func (s *SQLiteStore) AppendRawEnrichment(ctx context.Context, payloads []model.RawEnrichmentPayload) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	err := s.withTx(ctx, "append raw enrichment", func(tx *sql.Tx) error {
		for _, p := range payloads {
			if _, err := tx.ExecContext(ctx, `INSERT INTO raw_enrichment (row_id, `+rawEnrichCols+`, staged_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				newID(), p.BusinessID, string(p.Source), p.Website, jsonList(p.Links), p.CapturedAt.UTC(), now,
			); err != nil {
				return eris.Wrapf(err, "insert raw enrichment %s", p.BusinessID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(payloads), nil
}

func (s *SQLiteStore) ListRawEnrichment(ctx context.Context) ([]model.RawEnrichmentPayload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawEnrichCols+` FROM raw_enrichment ORDER BY business_id, captured_at, row_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw enrichment")
	}
	return collect(rows, scanRawEnrichment, "sqlite: scan raw enrichment")
}

func (s *SQLiteStore) UpsertQualified(ctx context.Context, recs []model.QualifiedBusinessRecord) error {
	return s.withTx(ctx, "upsert qualified", func(tx *sql.Tx) error {
		for _, q := range recs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO qualified_businesses (`+qualifiedCols+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (business_id) DO UPDATE SET
					name = excluded.name, address = excluded.address, city = excluded.city,
					website = excluded.website, review_count = excluded.review_count, score = excluded.score,
					category = excluded.category, filter_passed = excluded.filter_passed, reason = excluded.reason,
					raw_captured_at = excluded.raw_captured_at, qualified_at = excluded.qualified_at`,
				q.BusinessID, q.Name, q.Address, q.City, q.Website, q.ReviewCount, q.Score, q.Category,
				q.FilterPassed, q.Reason, q.RawCapturedAt.UTC(), q.QualifiedAt.UTC(),
			); err != nil {
				return eris.Wrapf(err, "upsert qualified %s", q.BusinessID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListQualified(ctx context.Context, passedOnly bool) ([]model.QualifiedBusinessRecord, error) {
	c := conds{d: sqliteDialect}
	if passedOnly {
		c.raw("filter_passed = 1")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+qualifiedCols+` FROM qualified_businesses`+c.where()+` ORDER BY business_id`, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list qualified")
	}
	return collect(rows, scanQualified, "sqlite: scan qualified")
}

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, recs []model.EnrichmentRecord) error {
	return s.withTx(ctx, "upsert enrichment", func(tx *sql.Tx) error {
		for _, e := range recs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO enrichment_records (`+enrichmentCols+`)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (business_id) DO UPDATE SET
					website_clean = excluded.website_clean, facebook_url = excluded.facebook_url,
					instagram_url = excluded.instagram_url, process_flag = excluded.process_flag,
					enriched_at = excluded.enriched_at`,
				e.BusinessID, e.WebsiteClean, e.FacebookURL, e.InstagramURL, e.ProcessFlag, e.EnrichedAt.UTC(),
			); err != nil {
				return eris.Wrapf(err, "upsert enrichment %s", e.BusinessID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListEnrichment(ctx context.Context) ([]model.EnrichmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+enrichmentCols+` FROM enrichment_records ORDER BY business_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichment")
	}
	return collect(rows, scanEnrichment, "sqlite: scan enrichment")
}

func (s *SQLiteStore) UpsertMasters(ctx context.Context, recs []model.MasterRecord) error {
	return s.withTx(ctx, "upsert masters", func(tx *sql.Tx) error {
		for _, m := range recs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO master_records (`+masterCols+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (business_id) DO UPDATE SET
					name = excluded.name, address = excluded.address, city = excluded.city,
					category = excluded.category, review_count = excluded.review_count, score = excluded.score,
					website_clean = excluded.website_clean, facebook_url = excluded.facebook_url,
					instagram_url = excluded.instagram_url, process_flag = excluded.process_flag,
					updated_at = excluded.updated_at, retired_at = excluded.retired_at`,
				m.BusinessID, m.Name, m.Address, m.City, m.Category, m.ReviewCount, m.Score,
				m.WebsiteClean, m.FacebookURL, m.InstagramURL, m.ProcessFlag,
				m.CreatedAt.UTC(), m.UpdatedAt.UTC(), nullTime(m.RetiredAt),
			); err != nil {
				return eris.Wrapf(err, "upsert master %s", m.BusinessID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetMaster(ctx context.Context, businessID string) (*model.MasterRecord, error) {
	m, err := scanMaster(s.db.QueryRowContext(ctx,
		`SELECT `+masterCols+` FROM master_records WHERE business_id = ?`, businessID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: master %s", businessID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get master %s", businessID)
	}
	return &m, nil
}

func (s *SQLiteStore) ListMasters(ctx context.Context, activeOnly bool) ([]model.MasterRecord, error) {
	c := conds{d: sqliteDialect}
	if activeOnly {
		c.raw("retired_at IS NULL")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+masterCols+` FROM master_records`+c.where()+` ORDER BY business_id`, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list masters")
	}
	return collect(rows, scanMaster, "sqlite: scan master")
}

func (s *SQLiteStore) InsertPromoPayload(ctx context.Context, p model.RawPromoPayload) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO promo_payloads (`+payloadCols+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM master_records WHERE business_id = ? AND retired_at IS NULL)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.BusinessID, string(p.Path), p.Content, p.ContentType, p.Charset,
		p.CapturedAt.UTC(), p.IngestedAt.UTC(), p.BusinessID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert promo payload %s", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM promo_payloads WHERE id = ?`, p.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrOrphan, "sqlite: payload %s references business %s", p.ID, p.BusinessID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check payload %s", p.ID)
	}
	return false, nil
}

func (s *SQLiteStore) GetPromoPayload(ctx context.Context, id string) (*model.RawPromoPayload, error) {
	p, err := scanPayload(s.db.QueryRowContext(ctx, `SELECT `+payloadCols+` FROM promo_payloads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: payload %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get payload %s", id)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPromoPayloads(ctx context.Context, f PayloadFilter) ([]model.RawPromoPayload, error) {
	c := conds{d: sqliteDialect}
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

	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list payloads")
	}
	return collect(rows, scanPayload, "sqlite: scan payload")
}

func (s *SQLiteStore) RecordStructuring(ctx context.Context, outcome model.StructuringOutcome, offers []model.StructuredOffer) error {
	return s.withTx(ctx, "record structuring", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO structuring_outcomes (`+outcomeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			outcome.ID, outcome.PayloadID, string(outcome.Status), outcome.Attempts, outcome.Offers,
			outcome.Model, outcome.Error, outcome.CreatedAt.UTC(),
		); err != nil {
			if isSQLiteFK(err) {
				return eris.Wrapf(ErrOrphan, "outcome for payload %s", outcome.PayloadID)
			}
			return eris.Wrapf(err, "insert outcome %s", outcome.ID)
		}
		for _, o := range offers {
			if _, err := tx.ExecContext(ctx, `INSERT INTO structured_offers (`+offerCols+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, o.PayloadID, o.BusinessID, string(o.Path), o.Category, o.Subcategory, o.Service,
				o.Price, nullInt(o.DurationMinutes), o.Description, jsonList(o.Flags), nullJSON(o.Raw),
				o.OracleModel, o.RunID, o.CreatedAt.UTC(),
			); err != nil {
				if isSQLiteFK(err) {
					return eris.Wrapf(ErrOrphan, "offer %s", o.ID)
				}
				return eris.Wrapf(err, "insert offer %s", o.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, f OutcomeFilter) ([]model.StructuringOutcome, error) {
	c := conds{d: sqliteDialect}
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

	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	return collect(rows, scanOutcome, "sqlite: scan outcome")
}

func (s *SQLiteStore) GetOffer(ctx context.Context, id string) (*model.StructuredOffer, error) {
	o, err := scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerCols+` FROM structured_offers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: offer %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get offer %s", id)
	}
	return &o, nil
}

func (s *SQLiteStore) ListOffers(ctx context.Context, f OfferFilter) ([]model.StructuredOffer, error) {
	c := conds{d: sqliteDialect}
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

	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list offers")
	}
	return collect(rows, scanOffer, "sqlite: scan offer")
}

func (s *SQLiteStore) AppendQAResult(ctx context.Context, r model.QAResult) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO qa_results (`+qaCols+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM structured_offers WHERE id = ? AND business_id = ?)`,
		r.ID, r.OfferID, r.BusinessID, r.Query, r.Score, r.ManualReviewNeeded, string(r.Status),
		r.Reviewer, r.Notes, r.CreatedAt.UTC(), r.OfferID, r.BusinessID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert qa result for offer %s", r.OfferID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return nil
	}

	var businessID string
	err = s.db.QueryRowContext(ctx, `SELECT business_id FROM structured_offers WHERE id = ?`, r.OfferID).Scan(&businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrOrphan, "sqlite: qa result references offer %s", r.OfferID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check offer %s", r.OfferID)
	}
	return model.Invalidf("qa result business %s does not match offer business %s", r.BusinessID, businessID)
}

func (s *SQLiteStore) ListQAResults(ctx context.Context, offerID string) ([]model.QAResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+qaCols+` FROM qa_results WHERE offer_id = ? ORDER BY created_at, id`, offerID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list qa results for %s", offerID)
	}
	return collect(rows, scanQA, "sqlite: scan qa result")
}

func (s *SQLiteStore) CurrentQAResults(ctx context.Context, f QAFilter) ([]model.QAResult, error) {
	c := conds{d: sqliteDialect}
	c.raw(latestQAPred)
	if f.Status != "" {
		c.add("q.status = %s", string(f.Status))
	}
	if f.BusinessID != "" {
		c.add("q.business_id = %s", f.BusinessID)
	}
	q := `SELECT ` + prefixed("q", qaCols) + ` FROM qa_results q` + c.where() + ` ORDER BY q.created_at, q.id` + c.limit(f.Limit)

	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current qa results")
	}
	return collect(rows, scanQA, "sqlite: scan qa result")
}

// AppendReview relies on SQLite serializing writers: the latest-status
// check and the insert run as one statement.
func (s *SQLiteStore) AppendReview(ctx context.Context, r model.QAResult) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO qa_results (`+qaCols+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM qa_results q WHERE q.offer_id = ? AND q.business_id = ?
			AND q.status = 'review' AND `+latestQAPred+`)`,
		r.ID, r.OfferID, r.BusinessID, r.Query, r.Score, r.ManualReviewNeeded, string(r.Status),
		r.Reviewer, r.Notes, r.CreatedAt.UTC(), r.OfferID, r.BusinessID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert review for offer %s", r.OfferID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return nil
	}

	var businessID string
	err = s.db.QueryRowContext(ctx, `SELECT business_id FROM structured_offers WHERE id = ?`, r.OfferID).Scan(&businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrOrphan, "sqlite: review references offer %s", r.OfferID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check offer %s", r.OfferID)
	}
	if businessID != r.BusinessID {
		return model.Invalidf("review business %s does not match offer business %s", r.BusinessID, businessID)
	}
	return eris.Wrapf(ErrStale, "sqlite: offer %s is no longer in review", r.OfferID)
}

func (s *SQLiteStore) RecordQAUnresolved(ctx context.Context, u model.QAUnresolved) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO qa_unresolved (`+qaUnresolvedCols+`)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM structured_offers WHERE id = ? AND business_id = ?)`,
		u.ID, u.OfferID, u.BusinessID, u.Query, u.Attempts, u.Error, u.CreatedAt.UTC(), u.OfferID, u.BusinessID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert qa unresolved for offer %s", u.OfferID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrOrphan, "sqlite: qa unresolved references offer %s of business %s", u.OfferID, u.BusinessID)
	}
	return nil
}

func (s *SQLiteStore) ListQAUnresolved(ctx context.Context, limit int) ([]model.QAUnresolved, error) {
	c := conds{d: sqliteDialect}
	c.raw(openQAUnresolvedPred)
	q := `SELECT ` + prefixed("u", qaUnresolvedCols) + ` FROM qa_unresolved u` + c.where() + ` ORDER BY u.created_at, u.id` + c.limit(limit)

	rows, err := s.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list qa unresolved")
	}
	return collect(rows, scanQAUnresolved, "sqlite: scan qa unresolved")
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return eris.Wrapf(err, "sqlite: %s", op)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func isSQLiteFK(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// rowIter is the iteration surface shared by database/sql and pgx rows.
type rowIter interface {
	scannable
	Next() bool
	Err() error
}

func collect[T any](rows *sql.Rows, scan func(scannable) (T, error), op string) ([]T, error) {
	defer rows.Close()
	return iterate(rows, scan, op)
}

func iterate[T any](rows rowIter, scan func(scannable) (T, error), op string) ([]T, error) {
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, op)
	}
	return out, nil
}

// prefixed qualifies every column in a comma-separated list with alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
