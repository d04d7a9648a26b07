package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/promo-cli/internal/model"
)

type dialect int

const (
	sqliteDialect dialect = iota
	postgresDialect
)

// conds accumulates WHERE clauses with dialect-specific placeholders. Each
// expression uses %s where its argument goes.
type conds struct {
	d       dialect
	clauses []string
	args    []any
}

func (c *conds) add(expr string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(expr, c.placeholder(len(c.args))))
}

func (c *conds) raw(expr string) {
	c.clauses = append(c.clauses, expr)
}

func (c *conds) placeholder(n int) string {
	if c.d == postgresDialect {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (c *conds) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func (c *conds) limit(n int) string {
	if n <= 0 {
		return ""
	}
	c.args = append(c.args, n)
	return " LIMIT " + c.placeholder(len(c.args))
}

// Column lists shared by both backends; scan helpers depend on the order.
const (
	rawBusinessCols  = `business_id, name, address, city, website, review_count, score, category, payload, captured_at`
	rawEnrichCols    = `business_id, source, website, links, captured_at`
	qualifiedCols    = `business_id, name, address, city, website, review_count, score, category, filter_passed, reason, raw_captured_at, qualified_at`
	enrichmentCols   = `business_id, website_clean, facebook_url, instagram_url, process_flag, enriched_at`
	masterCols       = `business_id, name, address, city, category, review_count, score, website_clean, facebook_url, instagram_url, process_flag, created_at, updated_at, retired_at`
	payloadCols      = `id, business_id, path, content, content_type, charset, captured_at, ingested_at`
	outcomeCols      = `id, payload_id, status, attempts, offers, model, error, created_at`
	offerCols        = `id, payload_id, business_id, path, category, subcategory, service, price, duration_minutes, description, flags, raw, oracle_model, run_id, created_at`
	qaCols           = `id, offer_id, business_id, query, score, manual_review_needed, status, reviewer, notes, created_at`
	qaUnresolvedCols = `id, offer_id, business_id, query, attempts, error, created_at`
)

// Shared predicates.
const (
	unprocessedPred = `NOT EXISTS (SELECT 1 FROM structuring_outcomes so WHERE so.payload_id = p.id AND so.status = 'processed')`
	unscoredPred    = `NOT EXISTS (SELECT 1 FROM qa_results q WHERE q.offer_id = o.id)`
	currentRunPred  = `o.run_id = (SELECT so.id FROM structuring_outcomes so WHERE so.payload_id = o.payload_id AND so.status = 'processed' ORDER BY so.created_at DESC, so.id DESC LIMIT 1)`

	// "Latest" means no newer row for the same key; ties on the timestamp
	// fall back to the time-ordered id.
	latestRawPred = `NOT EXISTS (SELECT 1 FROM raw_businesses n WHERE n.business_id = r.business_id
		AND (n.captured_at > r.captured_at OR (n.captured_at = r.captured_at AND n.row_id > r.row_id)))`
	latestOutcomePred = `NOT EXISTS (SELECT 1 FROM structuring_outcomes n WHERE n.payload_id = so.payload_id
		AND (n.created_at > so.created_at OR (n.created_at = so.created_at AND n.id > so.id)))`
	latestQAPred = `NOT EXISTS (SELECT 1 FROM qa_results n WHERE n.offer_id = q.offer_id
		AND (n.created_at > q.created_at OR (n.created_at = q.created_at AND n.id > q.id)))`

	// An unresolved mark is open while it is the newest for its offer and no
	// QA result was recorded at or after it.
	openQAUnresolvedPred = `NOT EXISTS (SELECT 1 FROM qa_unresolved n WHERE n.offer_id = u.offer_id
		AND (n.created_at > u.created_at OR (n.created_at = u.created_at AND n.id > u.id)))
		AND NOT EXISTS (SELECT 1 FROM qa_results r WHERE r.offer_id = u.offer_id AND r.created_at >= u.created_at)`
)

// splitCols turns a column list constant into identifiers.
func splitCols(cols string) []string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRawBusiness(row scannable) (model.RawBusinessRecord, error) {
	var r model.RawBusinessRecord
	var payload []byte
	err := row.Scan(&r.ID, &r.Name, &r.Address, &r.City, &r.Website, &r.ReviewCount, &r.Score, &r.Category, &payload, &r.CapturedAt)
	if err != nil {
		return r, err
	}
	if len(payload) > 0 {
		r.Payload = json.RawMessage(payload)
	}
	return r, nil
}

func scanRawEnrichment(row scannable) (model.RawEnrichmentPayload, error) {
	var p model.RawEnrichmentPayload
	var source string
	var links []byte
	if err := row.Scan(&p.BusinessID, &source, &p.Website, &links, &p.CapturedAt); err != nil {
		return p, err
	}
	p.Source = model.EnrichmentSource(source)
	if len(links) > 0 {
		if err := json.Unmarshal(links, &p.Links); err != nil {
			return p, eris.Wrapf(err, "unmarshal links for %s", p.BusinessID)
		}
	}
	return p, nil
}

func scanQualified(row scannable) (model.QualifiedBusinessRecord, error) {
	var q model.QualifiedBusinessRecord
	err := row.Scan(&q.BusinessID, &q.Name, &q.Address, &q.City, &q.Website, &q.ReviewCount, &q.Score,
		&q.Category, &q.FilterPassed, &q.Reason, &q.RawCapturedAt, &q.QualifiedAt)
	return q, err
}

func scanEnrichment(row scannable) (model.EnrichmentRecord, error) {
	var e model.EnrichmentRecord
	err := row.Scan(&e.BusinessID, &e.WebsiteClean, &e.FacebookURL, &e.InstagramURL, &e.ProcessFlag, &e.EnrichedAt)
	return e, err
}

func scanMaster(row scannable) (model.MasterRecord, error) {
	var m model.MasterRecord
	err := row.Scan(&m.BusinessID, &m.Name, &m.Address, &m.City, &m.Category, &m.ReviewCount, &m.Score,
		&m.WebsiteClean, &m.FacebookURL, &m.InstagramURL, &m.ProcessFlag, &m.CreatedAt, &m.UpdatedAt, &m.RetiredAt)
	return m, err
}

func scanPayload(row scannable) (model.RawPromoPayload, error) {
	var p model.RawPromoPayload
	var path string
	var content []byte
	err := row.Scan(&p.ID, &p.BusinessID, &path, &content, &p.ContentType, &p.Charset, &p.CapturedAt, &p.IngestedAt)
	p.Path = model.PromoPath(path)
	p.Content = string(content)
	return p, err
}

func scanOutcome(row scannable) (model.StructuringOutcome, error) {
	var o model.StructuringOutcome
	var status string
	err := row.Scan(&o.ID, &o.PayloadID, &status, &o.Attempts, &o.Offers, &o.Model, &o.Error, &o.CreatedAt)
	o.Status = model.OutcomeStatus(status)
	return o, err
}

func scanOffer(row scannable) (model.StructuredOffer, error) {
	var o model.StructuredOffer
	var path string
	var duration *int64
	var flags, raw []byte
	err := row.Scan(&o.ID, &o.PayloadID, &o.BusinessID, &path, &o.Category, &o.Subcategory, &o.Service,
		&o.Price, &duration, &o.Description, &flags, &raw, &o.OracleModel, &o.RunID, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	o.Path = model.PromoPath(path)
	if duration != nil {
		d := int(*duration)
		o.DurationMinutes = &d
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &o.Flags); err != nil {
			return o, eris.Wrapf(err, "unmarshal flags for offer %s", o.ID)
		}
	}
	if len(raw) > 0 {
		o.Raw = json.RawMessage(raw)
	}
	return o, nil
}

func scanQA(row scannable) (model.QAResult, error) {
	var r model.QAResult
	var status string
	err := row.Scan(&r.ID, &r.OfferID, &r.BusinessID, &r.Query, &r.Score, &r.ManualReviewNeeded,
		&status, &r.Reviewer, &r.Notes, &r.CreatedAt)
	r.Status = model.QAStatus(status)
	return r, err
}

func scanQAUnresolved(row scannable) (model.QAUnresolved, error) {
	var u model.QAUnresolved
	err := row.Scan(&u.ID, &u.OfferID, &u.BusinessID, &u.Query, &u.Attempts, &u.Error, &u.CreatedAt)
	return u, err
}

// jsonList encodes a string slice, never as null.
func jsonList(items []string) []byte {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return b
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
