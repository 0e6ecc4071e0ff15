package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"appraisal-review-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a document or case does not exist
var ErrNotFound = errors.New("record not found")

// CaseRepository handles database operations for the case corpus:
// documents, their cases, and the pgvector embedding index
type CaseRepository struct {
	db *pgxpool.Pool
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool) *CaseRepository {
	return &CaseRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

const caseColumns = `case_id, doc_id, report_type, address, district, street,
		area, price, usage, build_year, current_floor, total_floor,
		orientation, decoration, structure, extra, has_embedding, created_at`

func scanCase(row pgx.Row) (*models.Case, error) {
	c := &models.Case{}
	err := row.Scan(
		&c.CaseID,
		&c.DocID,
		&c.ReportType,
		&c.Address,
		&c.District,
		&c.Street,
		&c.Area,
		&c.Price,
		&c.Usage,
		&c.BuildYear,
		&c.CurrentFloor,
		&c.TotalFloor,
		&c.Orientation,
		&c.Decoration,
		&c.Structure,
		&c.Extra,
		&c.HasEmbedding,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateDocument inserts a new document record
func (r *CaseRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (
			doc_id, filename, report_type, address, area, case_count, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		doc.DocID,
		doc.Filename,
		doc.ReportType,
		doc.Address,
		doc.Area,
		doc.CaseCount,
		doc.Metadata,
	).Scan(&doc.CreatedAt)
}

// GetDocument retrieves a document by doc_id
func (r *CaseRepository) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	doc := &models.Document{}
	query := `
		SELECT doc_id, filename, report_type, address, area, case_count, metadata, created_at
		FROM documents
		WHERE doc_id = $1`

	err := r.db.QueryRow(ctx, query, docID).Scan(
		&doc.DocID,
		&doc.Filename,
		&doc.ReportType,
		&doc.Address,
		&doc.Area,
		&doc.CaseCount,
		&doc.Metadata,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return doc, nil
}

// DeleteDocument removes a document; its cases go with it via the
// ON DELETE CASCADE constraint
func (r *CaseRepository) DeleteDocument(ctx context.Context, docID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDocuments retrieves documents, optionally filtered by report type
func (r *CaseRepository) ListDocuments(ctx context.Context, reportType models.ReportType, limit int) ([]*models.Document, error) {
	query := `
		SELECT doc_id, filename, report_type, address, area, case_count, metadata, created_at
		FROM documents`

	args := []interface{}{}
	if reportType != "" {
		query += ` WHERE report_type = $1`
		args = append(args, reportType)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc := &models.Document{}
		err := rows.Scan(
			&doc.DocID,
			&doc.Filename,
			&doc.ReportType,
			&doc.Address,
			&doc.Area,
			&doc.CaseCount,
			&doc.Metadata,
			&doc.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// CreateCase inserts a new corpus case. The case starts unembedded;
// UpsertEmbedding marks it embedded once a vector is stored.
func (r *CaseRepository) CreateCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (
			case_id, doc_id, report_type, address, district, street,
			area, price, usage, build_year, current_floor, total_floor,
			orientation, decoration, structure, extra, has_embedding
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, false
		) RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		c.CaseID,
		c.DocID,
		c.ReportType,
		c.Address,
		c.District,
		c.Street,
		c.Area,
		c.Price,
		c.Usage,
		c.BuildYear,
		c.CurrentFloor,
		c.TotalFloor,
		c.Orientation,
		c.Decoration,
		c.Structure,
		c.Extra,
	).Scan(&c.CreatedAt)
}

// GetCase retrieves a case by case_id
func (r *CaseRepository) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE case_id = $1`
	c, err := scanCase(r.db.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetCasesByIDs retrieves cases for a set of case_ids
func (r *CaseRepository) GetCasesByIDs(ctx context.Context, caseIDs []string) ([]models.Case, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE case_id = ANY($1)`
	rows, err := r.db.Query(ctx, query, caseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}

	return cases, rows.Err()
}

// Query retrieves cases matching the structured constraints
func (r *CaseRepository) Query(ctx context.Context, q models.CaseQuery) ([]models.Case, error) {
	conditions := []string{}
	args := []interface{}{}

	addCond := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if q.ReportType != "" {
		addCond("report_type = $%d", q.ReportType)
	}
	if q.District != "" {
		addCond("district = $%d", q.District)
	}
	if q.Usage != "" {
		addCond("usage = $%d", q.Usage)
	}
	if q.Keyword != "" {
		addCond("address LIKE $%d", "%"+q.Keyword+"%")
	}
	if q.MinPrice != nil {
		addCond("price >= $%d", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		addCond("price <= $%d", *q.MaxPrice)
	}
	if q.MinArea != nil {
		addCond("area >= $%d", *q.MinArea)
	}
	if q.MaxArea != nil {
		addCond("area <= $%d", *q.MaxArea)
	}
	if q.MinFloor != nil {
		addCond("current_floor >= $%d", *q.MinFloor)
	}
	if q.MaxFloor != nil {
		addCond("current_floor <= $%d", *q.MaxFloor)
	}
	if q.MinBuildYear != nil {
		addCond("build_year >= $%d", *q.MinBuildYear)
	}
	if q.MaxBuildYear != nil {
		addCond("build_year <= $%d", *q.MaxBuildYear)
	}

	whereClause := "1=1"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT `+caseColumns+`
		FROM cases
		WHERE %s
		ORDER BY created_at DESC, case_id
		LIMIT $%d`, whereClause, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}

	return cases, rows.Err()
}

// UpsertEmbedding stores a case embedding and marks the case embedded
func (r *CaseRepository) UpsertEmbedding(ctx context.Context, caseID string, embedding []float64) error {
	query := `
		UPDATE cases SET
			embedding = $2::vector,
			has_embedding = true
		WHERE case_id = $1`

	tag, err := r.db.Exec(ctx, query, caseID, formatVector(embedding))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUnembedded explicitly records that a case has no usable embedding
func (r *CaseRepository) MarkUnembedded(ctx context.Context, caseID string) error {
	query := `
		UPDATE cases SET
			embedding = NULL,
			has_embedding = false
		WHERE case_id = $1`

	_, err := r.db.Exec(ctx, query, caseID)
	return err
}

// ListUnembedded retrieves cases still waiting for an embedding
func (r *CaseRepository) ListUnembedded(ctx context.Context, limit int) ([]models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE has_embedding = false ORDER BY created_at LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}

	return cases, rows.Err()
}

// SearchByEmbedding runs a cosine nearest-neighbor query against embedded
// cases. Hard constraints in the query pre-filter the candidate set before
// ranking. Scores are 1 - cosine distance, clamped to [0,1].
func (r *CaseRepository) SearchByEmbedding(ctx context.Context, embedding []float64, k int, q models.CaseQuery) ([]models.CaseNeighbor, error) {
	if len(embedding) == 0 {
		return nil, errors.New("empty query embedding")
	}

	conditions := []string{"has_embedding = true"}
	args := []interface{}{formatVector(embedding)}

	if q.ReportType != "" {
		args = append(args, q.ReportType)
		conditions = append(conditions, fmt.Sprintf("report_type = $%d", len(args)))
	}
	if q.Usage != "" {
		args = append(args, q.Usage)
		conditions = append(conditions, fmt.Sprintf("usage = $%d", len(args)))
	}
	if q.District != "" {
		args = append(args, q.District)
		conditions = append(conditions, fmt.Sprintf("district = $%d", len(args)))
	}

	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT case_id, embedding <=> $1::vector AS distance
		FROM cases
		WHERE %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding index: %w", err)
	}
	defer rows.Close()

	var neighbors []models.CaseNeighbor
	for rows.Next() {
		var n models.CaseNeighbor
		var distance float64
		if err := rows.Scan(&n.CaseID, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		score := 1 - distance
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		n.Score = score
		neighbors = append(neighbors, n)
	}

	return neighbors, rows.Err()
}

// PriceRange returns min/max/avg price over the corpus, optionally
// restricted to one report type
func (r *CaseRepository) PriceRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error) {
	return r.fieldRange(ctx, "price", reportType)
}

// AreaRange returns min/max/avg area over the corpus
func (r *CaseRepository) AreaRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error) {
	return r.fieldRange(ctx, "area", reportType)
}

func (r *CaseRepository) fieldRange(ctx context.Context, column string, reportType models.ReportType) (*models.RangeStats, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MIN(%[1]s), 0), COALESCE(MAX(%[1]s), 0), COALESCE(AVG(%[1]s), 0), COUNT(*)
		FROM cases
		WHERE %[1]s > 0`, column)

	args := []interface{}{}
	if reportType != "" {
		query += ` AND report_type = $1`
		args = append(args, reportType)
	}

	stats := &models.RangeStats{}
	err := r.db.QueryRow(ctx, query, args...).Scan(&stats.Min, &stats.Max, &stats.Avg, &stats.Count)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
