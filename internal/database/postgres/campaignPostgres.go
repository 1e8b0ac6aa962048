package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

const campaignColumns = `
	id, code, description, target, type, value, max_discount_amount,
	active, valid_from, valid_until, usage_limit, used_count, created_at
`

type campaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *entity.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}

	query := `
		INSERT INTO campaigns (
			id, code, description, target, type, value, max_discount_amount,
			active, valid_from, valid_until, usage_limit, used_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12)
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.Code,
		campaign.Description,
		campaign.Target,
		campaign.Type,
		campaign.Value,
		campaign.MaxDiscountAmount,
		campaign.Active,
		campaign.ValidFrom,
		campaign.ValidUntil,
		campaign.UsageLimit,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %v", err)
	}

	campaign.CreatedAt = now
	return nil
}

func (r *campaignRepository) GetByCode(ctx context.Context, code string) (*entity.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE code = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, entity.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %v", err)
	}
	return campaign, nil
}

func (r *campaignRepository) GetActive(ctx context.Context) ([]*entity.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE active = true ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active campaigns: %v", err)
	}
	defer rows.Close()

	var campaigns []*entity.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %v", err)
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, rows.Err()
}

// IncrementUsage увеличивает счетчик использований, пока не исчерпан
// лимит. Охрана в WHERE исключает превышение лимита под гонкой.
func (r *campaignRepository) IncrementUsage(ctx context.Context, code string) error {
	query := `
		UPDATE campaigns
		SET used_count = used_count + 1
		WHERE code = $1 AND active = true
		  AND (usage_limit = 0 OR used_count < usage_limit)
	`

	result, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return fmt.Errorf("failed to increment campaign usage: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrCampaignNotApplicable
	}
	return nil
}

func scanCampaign(row rowScanner) (*entity.Campaign, error) {
	var campaign entity.Campaign
	var description sql.NullString
	var validFrom, validUntil sql.NullTime

	err := row.Scan(
		&campaign.ID,
		&campaign.Code,
		&description,
		&campaign.Target,
		&campaign.Type,
		&campaign.Value,
		&campaign.MaxDiscountAmount,
		&campaign.Active,
		&validFrom,
		&validUntil,
		&campaign.UsageLimit,
		&campaign.UsedCount,
		&campaign.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	campaign.Description = description.String
	if validFrom.Valid {
		campaign.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		campaign.ValidUntil = &validUntil.Time
	}

	return &campaign, nil
}
