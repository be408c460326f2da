package core

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/db"
	"aromazen-backend-go/internal/models"
)

// Diagnostic markers reported by the portal repair flow. The keys and
// values are part of the client contract and must stay stable.
const (
	StepProfile  = "perfil"
	StepCustomer = "cliente"
	StepPortal   = "portal"

	StepOK        = "ok"
	StepCreated   = "criado"
	StepRecreated = "recriado"
	StepFailed    = "falhou"
)

// PortalRepairResult reports the outcome of each repair step plus the
// portal URL when every step succeeded.
type PortalRepairResult struct {
	Success     bool
	Diagnostics map[string]string
	PortalURL   string
	Err         string
}

// portalService implements PortalService.
type portalService struct {
	profiles db.ProfileRepository
	gateway  billing.Gateway
	logger   *zap.Logger
}

// NewPortalService creates a new PortalService.
func NewPortalService(profiles db.ProfileRepository, gateway billing.Gateway, logger *zap.Logger) PortalService {
	return &portalService{profiles: profiles, gateway: gateway, logger: logger}
}

// RepairAndCreateSession walks profile -> customer -> portal, fixing what
// it can along the way. It never touches subscription_tier or
// subscription_plan: entitlement writes belong to the webhook reconciler.
func (s *portalService) RepairAndCreateSession(ctx context.Context, userID, email, fullName string) *PortalRepairResult {
	result := &PortalRepairResult{Diagnostics: map[string]string{}}

	profile, err := s.repairProfile(ctx, result, userID, email, fullName)
	if err != nil {
		return result
	}

	customerID, err := s.repairCustomer(ctx, result, profile, email, fullName)
	if err != nil {
		return result
	}

	url, err := s.gateway.CreatePortalSession(ctx, customerID)
	if err != nil {
		s.logger.Error("failed to create portal session",
			zap.String("user_id", userID),
			zap.String("customer_id", customerID),
			zap.Error(err))
		result.Diagnostics[StepPortal] = StepFailed
		result.Err = "não foi possível abrir o portal de pagamentos"
		return result
	}

	result.Diagnostics[StepPortal] = StepOK
	result.PortalURL = url
	result.Success = true
	return result
}

func (s *portalService) repairProfile(ctx context.Context, result *PortalRepairResult, userID, email, fullName string) (*models.Profile, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err == nil {
		result.Diagnostics[StepProfile] = StepOK
		return profile, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		s.logger.Error("failed to load profile for portal repair",
			zap.String("user_id", userID), zap.Error(err))
		result.Diagnostics[StepProfile] = StepFailed
		result.Err = "não foi possível carregar o perfil"
		return nil, err
	}

	// Missing row, usually a signup whose bootstrap trigger never ran.
	profile = &models.Profile{
		ID:               userID,
		Email:            email,
		FullName:         fullName,
		SubscriptionTier: models.TierFree,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		s.logger.Error("failed to bootstrap profile for portal repair",
			zap.String("user_id", userID), zap.Error(err))
		result.Diagnostics[StepProfile] = StepFailed
		result.Err = "não foi possível criar o perfil"
		return nil, err
	}

	s.logger.Info("bootstrapped missing profile during portal repair",
		zap.String("user_id", userID))
	result.Diagnostics[StepProfile] = StepCreated
	return profile, nil
}

func (s *portalService) repairCustomer(ctx context.Context, result *PortalRepairResult, profile *models.Profile, email, fullName string) (string, error) {
	if email == "" {
		email = profile.Email
	}
	if fullName == "" {
		fullName = profile.FullName
	}

	marker := StepCreated
	if profile.StripeCustomerID != "" {
		exists, err := s.gateway.CustomerExists(ctx, profile.StripeCustomerID)
		if err != nil {
			s.logger.Error("failed to verify gateway customer",
				zap.String("user_id", profile.ID),
				zap.String("customer_id", profile.StripeCustomerID),
				zap.Error(err))
			result.Diagnostics[StepCustomer] = StepFailed
			result.Err = "não foi possível verificar o cliente de pagamentos"
			return "", err
		}
		if exists {
			result.Diagnostics[StepCustomer] = StepOK
			return profile.StripeCustomerID, nil
		}
		marker = StepRecreated
	}

	customerID, err := s.gateway.CreateCustomer(ctx, billing.CustomerParams{
		UserID: profile.ID,
		Email:  email,
		Name:   fullName,
	})
	if err != nil {
		s.logger.Error("failed to create gateway customer",
			zap.String("user_id", profile.ID), zap.Error(err))
		result.Diagnostics[StepCustomer] = StepFailed
		result.Err = "não foi possível criar o cliente de pagamentos"
		return "", err
	}

	// Only the customer linkage is repaired here, never the tier.
	if err := s.profiles.UpdateStripeCustomerID(ctx, profile.ID, customerID); err != nil {
		s.logger.Error("failed to store repaired customer id",
			zap.String("user_id", profile.ID),
			zap.String("customer_id", customerID),
			zap.Error(err))
		result.Diagnostics[StepCustomer] = StepFailed
		result.Err = "não foi possível salvar o cliente de pagamentos"
		return "", err
	}

	s.logger.Info("repaired gateway customer linkage",
		zap.String("user_id", profile.ID),
		zap.String("customer_id", customerID),
		zap.String("marker", marker))
	result.Diagnostics[StepCustomer] = marker
	return customerID, nil
}
