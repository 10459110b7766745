package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type policyReadModel struct{}

// NewPolicyReadModel returns a pgx-backed PolicyReadModel.
func NewPolicyReadModel() PolicyReadModel {
	return &policyReadModel{}
}

const policyColumns = `id, policy_number, quote_number, account_id, product_code, lob_code, status,
	effective_date, expiration_date, premium_amount, premium_currency, version, created_at, updated_at`

func (r *policyReadModel) InsertPolicy(ctx context.Context, db DBTX, row domain.PolicyView) error {
	_, err := db.Exec(ctx, `
		INSERT INTO policies (`+policyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.ID,
		nullString(row.PolicyNumber),
		nullString(row.QuoteNumber),
		row.AccountID,
		row.ProductCode,
		row.LOBCode,
		row.Status,
		row.EffectiveDate.Ptr(),
		row.ExpirationDate.Ptr(),
		CentsToNumeric(row.Premium.Cents),
		row.Premium.Currency,
		row.Version,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// UpdatePolicy builds its SET clause from the non-nil patch fields. A premium
// delta is applied server-side and only when the currency matches.
func (r *policyReadModel) UpdatePolicy(ctx context.Context, db DBTX, id uuid.UUID, patch domain.PolicyPatch) error {
	setClauses := []string{"version = $1", "updated_at = $2"}
	args := []interface{}{patch.Version, patch.UpdatedAt}
	argIdx := 3

	add := func(clause string, v interface{}) {
		setClauses = append(setClauses, fmt.Sprintf(clause, argIdx))
		args = append(args, v)
		argIdx++
	}

	if patch.Status != nil {
		add("status = $%d", *patch.Status)
	}
	if patch.PolicyNumber != nil {
		add("policy_number = $%d", nullString(*patch.PolicyNumber))
	}
	if patch.QuoteNumber != nil {
		add("quote_number = $%d", nullString(*patch.QuoteNumber))
	}
	if patch.EffectiveDate != nil {
		add("effective_date = $%d", patch.EffectiveDate.Ptr())
	}
	if patch.ExpirationDate != nil {
		add("expiration_date = $%d", patch.ExpirationDate.Ptr())
	}
	if patch.Premium != nil {
		add("premium_amount = $%d", CentsToNumeric(patch.Premium.Cents))
		add("premium_currency = $%d", patch.Premium.Currency)
	}

	where := fmt.Sprintf("id = $%d", argIdx)
	args = append(args, id)
	argIdx++
	if patch.PremiumDelta != nil {
		add("premium_amount = premium_amount + $%d", CentsToNumeric(patch.PremiumDelta.Cents))
		where += fmt.Sprintf(" AND premium_currency = $%d", argIdx)
		args = append(args, patch.PremiumDelta.Currency)
	}

	query := fmt.Sprintf(`UPDATE policies SET %s WHERE %s RETURNING premium_currency`,
		strings.Join(setClauses, ", "), where)

	var currency string
	err := db.QueryRow(ctx, query, args...).Scan(&currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainMissedUpdate(ctx, db, id, patch)
		}
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

// explainMissedUpdate distinguishes a missing row from a currency mismatch
// after an UPDATE matched nothing.
func (r *policyReadModel) explainMissedUpdate(ctx context.Context, db DBTX, id uuid.UUID, patch domain.PolicyPatch) error {
	var currency string
	err := db.QueryRow(ctx, `SELECT premium_currency FROM policies WHERE id = $1`, id).Scan(&currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound("policy", id.String())
	}
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if patch.PremiumDelta != nil {
		return &domain.CurrencyMismatchError{Expected: currency, Actual: patch.PremiumDelta.Currency}
	}
	return fmt.Errorf("update policy %s: no row updated", id)
}

func (r *policyReadModel) InsertRisk(ctx context.Context, db DBTX, row domain.RiskView) error {
	_, err := db.Exec(ctx, `
		INSERT INTO policy_risks (id, policy_id, risk_type, data, position)
		VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.PolicyID, row.RiskType, jsonOrNull(row.Data), row.Position)
	if err != nil {
		return fmt.Errorf("insert risk: %w", err)
	}
	return nil
}

func (r *policyReadModel) DeleteRisk(ctx context.Context, db DBTX, policyID, riskID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM policy_risks WHERE policy_id = $1 AND id = $2`, policyID, riskID)
	if err != nil {
		return fmt.Errorf("delete risk: %w", err)
	}
	return nil
}

func (r *policyReadModel) InsertCoverage(ctx context.Context, db DBTX, row domain.CoverageView) error {
	_, err := db.Exec(ctx, `
		INSERT INTO policy_coverages
		  (id, policy_id, coverage_code, limit_amount, limit_currency, deductible_amount, deductible_currency,
		   premium_amount, premium_currency, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, row.PolicyID, row.CoverageCode,
		CentsToNumeric(row.Limit.Cents), row.Limit.Currency,
		CentsToNumeric(row.Deductible.Cents), row.Deductible.Currency,
		CentsToNumeric(row.Premium.Cents), row.Premium.Currency,
		row.Position)
	if err != nil {
		return fmt.Errorf("insert coverage: %w", err)
	}
	return nil
}

func (r *policyReadModel) DeleteCoverage(ctx context.Context, db DBTX, policyID, coverageID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM policy_coverages WHERE policy_id = $1 AND id = $2`, policyID, coverageID)
	if err != nil {
		return fmt.Errorf("delete coverage: %w", err)
	}
	return nil
}

func (r *policyReadModel) DeletePolicy(ctx context.Context, db DBTX, id uuid.UUID) error {
	for _, stmt := range []string{
		`DELETE FROM policy_coverages WHERE policy_id = $1`,
		`DELETE FROM policy_risks WHERE policy_id = $1`,
		`DELETE FROM policies WHERE id = $1`,
	} {
		if _, err := db.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete policy rows: %w", err)
		}
	}
	return nil
}

func (r *policyReadModel) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.PolicyView, error) {
	row := db.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	return scanPolicy(row)
}

func (r *policyReadModel) FindByPolicyNumber(ctx context.Context, db DBTX, policyNumber string) (*domain.PolicyView, error) {
	row := db.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE policy_number = $1`, policyNumber)
	return scanPolicy(row)
}

func (r *policyReadModel) ListByAccount(ctx context.Context, db DBTX, accountID string) ([]domain.PolicyView, error) {
	rows, err := db.Query(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list policies by account: %w", err)
	}
	defer rows.Close()

	var out []domain.PolicyView
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *policyReadModel) ListRisks(ctx context.Context, db DBTX, policyID uuid.UUID) ([]domain.RiskView, error) {
	rows, err := db.Query(ctx, `
		SELECT id, policy_id, risk_type, data, position
		FROM policy_risks
		WHERE policy_id = $1
		ORDER BY position ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list risks: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskView
	for rows.Next() {
		var (
			rv   domain.RiskView
			data []byte
		)
		if err := rows.Scan(&rv.ID, &rv.PolicyID, &rv.RiskType, &data, &rv.Position); err != nil {
			return nil, fmt.Errorf("scan risk: %w", err)
		}
		rv.Data = data
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *policyReadModel) ListCoverages(ctx context.Context, db DBTX, policyID uuid.UUID) ([]domain.CoverageView, error) {
	rows, err := db.Query(ctx, `
		SELECT id, policy_id, coverage_code, limit_amount, limit_currency, deductible_amount, deductible_currency,
		       premium_amount, premium_currency, position
		FROM policy_coverages
		WHERE policy_id = $1
		ORDER BY position ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list coverages: %w", err)
	}
	defer rows.Close()

	var out []domain.CoverageView
	for rows.Next() {
		var (
			cv                        domain.CoverageView
			limitNum, dedNum, premNum pgtype.Numeric
		)
		err := rows.Scan(&cv.ID, &cv.PolicyID, &cv.CoverageCode,
			&limitNum, &cv.Limit.Currency, &dedNum, &cv.Deductible.Currency,
			&premNum, &cv.Premium.Currency, &cv.Position)
		if err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		if cv.Limit.Cents, err = NumericToCents(limitNum); err != nil {
			return nil, fmt.Errorf("convert limit_amount: %w", err)
		}
		if cv.Deductible.Cents, err = NumericToCents(dedNum); err != nil {
			return nil, fmt.Errorf("convert deductible_amount: %w", err)
		}
		if cv.Premium.Cents, err = NumericToCents(premNum); err != nil {
			return nil, fmt.Errorf("convert premium_amount: %w", err)
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func scanPolicy(row pgx.Row) (*domain.PolicyView, error) {
	var (
		p                   domain.PolicyView
		policyNumber, quote *string
		effective, expires  *time.Time
		premium             pgtype.Numeric
	)
	err := row.Scan(&p.ID, &policyNumber, &quote, &p.AccountID, &p.ProductCode, &p.LOBCode, &p.Status,
		&effective, &expires, &premium, &p.Premium.Currency, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	if policyNumber != nil {
		p.PolicyNumber = *policyNumber
	}
	if quote != nil {
		p.QuoteNumber = *quote
	}
	if effective != nil {
		p.EffectiveDate = domain.DateOf(*effective)
	}
	if expires != nil {
		p.ExpirationDate = domain.DateOf(*expires)
	}
	if p.Premium.Cents, err = NumericToCents(premium); err != nil {
		return nil, fmt.Errorf("convert premium_amount: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonOrNull(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}
