package core

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"aromazen-backend-go/internal/db"
	"aromazen-backend-go/internal/models"
)

// ErrQuestionLimitReached is returned by Consume when a free-tier user has
// exhausted the monthly allowance.
var ErrQuestionLimitReached = errors.New("question limit reached")

const (
	// FreeQuestionLimit is the monthly AI-question allowance on the free tier.
	FreeQuestionLimit = 30

	// warnWindow is how many remaining questions trigger the soft warning.
	warnWindow = 5
)

// UsageStatus is the allowance snapshot handed to clients. Remaining is -1
// for premium users, meaning unlimited.
type UsageStatus struct {
	Tier        models.SubscriptionTier
	Used        int
	Limit       int
	Remaining   int
	ShowWarning bool
}

// usageService implements UsageService.
type usageService struct {
	profiles db.ProfileRepository
	logger   *zap.Logger
}

// NewUsageService creates a new UsageService.
func NewUsageService(profiles db.ProfileRepository, logger *zap.Logger) UsageService {
	return &usageService{profiles: profiles, logger: logger}
}

// Status reports the current allowance. Backend errors fail open: the user
// gets a fresh free-tier default instead of a blocked request.
func (s *usageService) Status(ctx context.Context, userID string) UsageStatus {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.logger.Error("failed to load usage status, failing open",
				zap.String("user_id", userID), zap.Error(err))
		}
		return freeStatus(0)
	}
	return statusFor(profile.SubscriptionTier, profile.AIQuestionsUsed)
}

// Consume counts one question atomically. Premium users are never counted;
// backend errors fail open so a flaky database cannot lock users out.
func (s *usageService) Consume(ctx context.Context, userID string) (UsageStatus, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.logger.Error("failed to load profile for usage consume, failing open",
				zap.String("user_id", userID), zap.Error(err))
		}
		return freeStatus(0), nil
	}
	if profile.IsPremium() {
		return statusFor(profile.SubscriptionTier, profile.AIQuestionsUsed), nil
	}

	used, incremented, err := s.profiles.IncrementAIQuestions(ctx, userID, FreeQuestionLimit)
	if err != nil {
		s.logger.Error("failed to increment question counter, failing open",
			zap.String("user_id", userID), zap.Error(err))
		return freeStatus(profile.AIQuestionsUsed), nil
	}
	if !incremented {
		return statusFor(models.TierFree, used), ErrQuestionLimitReached
	}
	return statusFor(models.TierFree, used), nil
}

func statusFor(tier models.SubscriptionTier, used int) UsageStatus {
	if tier == models.TierPremium {
		return UsageStatus{
			Tier:      models.TierPremium,
			Used:      used,
			Limit:     FreeQuestionLimit,
			Remaining: -1,
		}
	}
	return freeStatus(used)
}

func freeStatus(used int) UsageStatus {
	remaining := FreeQuestionLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return UsageStatus{
		Tier:        models.TierFree,
		Used:        used,
		Limit:       FreeQuestionLimit,
		Remaining:   remaining,
		ShowWarning: remaining > 0 && remaining <= warnWindow,
	}
}
