package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"aromazen-backend-go/internal/models"
)

// postgresConversionRepository implements ConversionRepository against the
// append-only conversions table.
type postgresConversionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresConversionRepository creates a new conversion repository.
func NewPostgresConversionRepository(pool *pgxpool.Pool) ConversionRepository {
	return &postgresConversionRepository{pool: pool}
}

// Insert appends one conversion row. The unique event_id constraint plus
// ON CONFLICT DO NOTHING makes redelivered checkout.session.completed
// events harmless.
func (r *postgresConversionRepository) Insert(ctx context.Context, c *models.Conversion) error {
	if c.EventID == "" {
		return errors.New("conversion event ID cannot be empty")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversions (
			event_id, session_id, user_id, plan, coupon_code,
			amount_total, currency, stripe_customer_id, stripe_subscription_id,
			utm_source, utm_medium, utm_campaign, pixel_sent, created_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8, $9,
			NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13, now()
		)
		ON CONFLICT (event_id) DO NOTHING`,
		c.EventID, c.SessionID, c.UserID, string(c.Plan), c.CouponCode,
		c.AmountTotal, c.Currency, c.StripeCustomerID, c.StripeSubscriptionID,
		c.UTMSource, c.UTMMedium, c.UTMCampaign, c.PixelSent)
	if err != nil {
		return fmt.Errorf("failed to insert conversion for event %s: %w", c.EventID, err)
	}
	return nil
}
