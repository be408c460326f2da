package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aromazen-backend-go/internal/models"
)

// ErrNotFound is returned when a row does not exist. Repositories map
// pgx.ErrNoRows to this so services never import the driver.
var ErrNotFound = errors.New("record not found")

const profileColumns = `
	id, email, COALESCE(full_name, ''), subscription_tier,
	COALESCE(subscription_plan, ''), COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''), subscription_start_date,
	ai_questions_used, created_at, updated_at`

// postgresProfileRepository implements ProfileRepository against the
// Supabase profiles table.
type postgresProfileRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresProfileRepository creates a new profile repository.
func NewPostgresProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &postgresProfileRepository{pool: pool}
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.SubscriptionTier,
		&p.SubscriptionPlan, &p.StripeCustomerID,
		&p.StripeSubscriptionID, &p.SubscriptionStartDate,
		&p.AIQuestionsUsed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postgresProfileRepository) GetByID(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty for GetByID operation")
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return p, nil
}

func (r *postgresProfileRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	if customerID == "" {
		return nil, errors.New("customerID cannot be empty for GetByStripeCustomerID operation")
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = $1`, customerID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile for customer %s: %w", customerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile for customer %s: %w", customerID, err)
	}
	return p, nil
}

func (r *postgresProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		return errors.New("profile ID cannot be empty for Create operation")
	}
	if profile.SubscriptionTier == "" {
		profile.SubscriptionTier = models.TierFree
	}
	// ON CONFLICT DO NOTHING keeps this safe against the signup trigger
	// racing the portal repair path; whichever write lands first wins and
	// both produce a free-tier row.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, email, full_name, subscription_tier, ai_questions_used, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, 0, now(), now())
		ON CONFLICT (id) DO NOTHING`,
		profile.ID, profile.Email, profile.FullName, profile.SubscriptionTier)
	if err != nil {
		return fmt.Errorf("failed to create profile %s: %w", profile.ID, err)
	}
	return nil
}

func (r *postgresProfileRepository) ActivateSubscription(ctx context.Context, userID, customerID, subscriptionID string, plan models.SubscriptionPlan, startedAt time.Time) (*models.Profile, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE profiles SET
			subscription_tier = $2,
			subscription_plan = NULLIF($3, ''),
			stripe_customer_id = $4,
			stripe_subscription_id = $5,
			subscription_start_date = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns,
		userID, models.TierPremium, string(plan), customerID, subscriptionID, startedAt)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to activate subscription for profile %s: %w", userID, err)
	}
	return p, nil
}

func (r *postgresProfileRepository) UpdateTierByCustomer(ctx context.Context, customerID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) (*models.Profile, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE profiles SET
			subscription_tier = $2,
			subscription_plan = NULLIF($3, ''),
			updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING `+profileColumns,
		customerID, tier, string(plan))
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile for customer %s: %w", customerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update tier for customer %s: %w", customerID, err)
	}
	return p, nil
}

func (r *postgresProfileRepository) UpdateTierOnlyByCustomer(ctx context.Context, customerID string, tier models.SubscriptionTier) (*models.Profile, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE profiles SET
			subscription_tier = $2,
			updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING `+profileColumns,
		customerID, tier)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("profile for customer %s: %w", customerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update tier for customer %s: %w", customerID, err)
	}
	return p, nil
}

func (r *postgresProfileRepository) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to update stripe customer id for profile %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (r *postgresProfileRepository) IncrementAIQuestions(ctx context.Context, userID string, limit int) (int, bool, error) {
	// The guard lives in SQL so the counter can never race past the limit:
	// the conditional UPDATE is atomic per row.
	var used int
	err := r.pool.QueryRow(ctx, `
		UPDATE profiles SET ai_questions_used = ai_questions_used + 1, updated_at = now()
		WHERE id = $1 AND ai_questions_used < $2
		RETURNING ai_questions_used`,
		userID, limit).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to increment ai questions for profile %s: %w", userID, err)
	}

	// No row matched: either the profile is missing or the counter is
	// already at the limit. Re-read to tell the two apart.
	p, err := r.GetByID(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return p.AIQuestionsUsed, false, nil
}
