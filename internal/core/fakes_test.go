package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v83"

	"aromazen-backend-go/internal/attribution"
	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/db"
	"aromazen-backend-go/internal/models"
)

// --- Profile repository fake ---

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile

	createErr    error
	getErr       error
	activateErr  error
	updateErr    error
	incrementErr error

	updateCustomerCalls []string
}

func newFakeProfileRepo(profiles ...*models.Profile) *fakeProfileRepo {
	repo := &fakeProfileRepo{profiles: map[string]*models.Profile{}}
	for _, p := range profiles {
		cp := *p
		repo.profiles[p.ID] = &cp
	}
	return repo
}

func (r *fakeProfileRepo) get(userID string) *models.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *fakeProfileRepo) GetByID(_ context.Context, userID string) (*models.Profile, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	p := r.get(userID)
	if p == nil {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (r *fakeProfileRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *fakeProfileRepo) Create(_ context.Context, profile *models.Profile) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; ok {
		return nil // ON CONFLICT DO NOTHING semantics
	}
	cp := *profile
	r.profiles[profile.ID] = &cp
	return nil
}

func (r *fakeProfileRepo) ActivateSubscription(_ context.Context, userID, customerID, subscriptionID string, plan models.SubscriptionPlan, startedAt time.Time) (*models.Profile, error) {
	if r.activateErr != nil {
		return nil, r.activateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	p.StripeCustomerID = customerID
	p.StripeSubscriptionID = subscriptionID
	p.SubscriptionTier = models.TierPremium
	p.SubscriptionPlan = plan
	p.SubscriptionStartDate = &startedAt
	cp := *p
	return &cp, nil
}

func (r *fakeProfileRepo) byCustomerLocked(customerID string) *models.Profile {
	for _, p := range r.profiles {
		if p.StripeCustomerID == customerID {
			return p
		}
	}
	return nil
}

func (r *fakeProfileRepo) UpdateTierByCustomer(_ context.Context, customerID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) (*models.Profile, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byCustomerLocked(customerID)
	if p == nil {
		return nil, db.ErrNotFound
	}
	p.SubscriptionTier = tier
	p.SubscriptionPlan = plan
	cp := *p
	return &cp, nil
}

func (r *fakeProfileRepo) UpdateTierOnlyByCustomer(_ context.Context, customerID string, tier models.SubscriptionTier) (*models.Profile, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byCustomerLocked(customerID)
	if p == nil {
		return nil, db.ErrNotFound
	}
	p.SubscriptionTier = tier
	cp := *p
	return &cp, nil
}

func (r *fakeProfileRepo) UpdateStripeCustomerID(_ context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return db.ErrNotFound
	}
	p.StripeCustomerID = customerID
	r.updateCustomerCalls = append(r.updateCustomerCalls, customerID)
	return nil
}

func (r *fakeProfileRepo) IncrementAIQuestions(_ context.Context, userID string, limit int) (int, bool, error) {
	if r.incrementErr != nil {
		return 0, false, r.incrementErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return 0, false, db.ErrNotFound
	}
	if p.AIQuestionsUsed >= limit {
		return p.AIQuestionsUsed, false, nil
	}
	p.AIQuestionsUsed++
	return p.AIQuestionsUsed, true, nil
}

// --- Conversion repository fake ---

type fakeConversionRepo struct {
	mu        sync.Mutex
	inserted  []models.Conversion
	insertErr error
}

func (r *fakeConversionRepo) Insert(_ context.Context, conversion *models.Conversion) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, *conversion)
	return nil
}

func (r *fakeConversionRepo) all() []models.Conversion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Conversion(nil), r.inserted...)
}

// --- Gateway fake ---

type fakeGateway struct {
	mu sync.Mutex

	event        *stripe.Event
	constructErr error

	subscription    *billing.SubscriptionInfo
	subscriptionErr error

	checkoutSession    *billing.CheckoutSession
	checkoutErr        error
	lastCheckoutParams billing.CheckoutParams

	existingCustomers map[string]bool
	customerExistsErr error
	createdCustomers  []billing.CustomerParams
	createCustomerErr error

	portalURL string
	portalErr error

	coupon    *billing.CouponInfo
	couponErr error
}

var fakePlanPrices = map[models.SubscriptionPlan]string{
	models.PlanMonthly:   "price_monthly",
	models.PlanQuarterly: "price_quarterly",
	models.PlanAnnual:    "price_annual",
}

func (g *fakeGateway) ConstructEvent(_ []byte, _ string) (*stripe.Event, error) {
	if g.constructErr != nil {
		return nil, g.constructErr
	}
	return g.event, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	g.lastCheckoutParams = params
	g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	if g.checkoutSession != nil {
		return g.checkoutSession, nil
	}
	return &billing.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*billing.SubscriptionInfo, error) {
	if g.subscriptionErr != nil {
		return nil, g.subscriptionErr
	}
	if g.subscription != nil {
		return g.subscription, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
}

func (g *fakeGateway) CustomerExists(_ context.Context, customerID string) (bool, error) {
	if g.customerExistsErr != nil {
		return false, g.customerExistsErr
	}
	return g.existingCustomers[customerID], nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, params billing.CustomerParams) (string, error) {
	if g.createCustomerErr != nil {
		return "", g.createCustomerErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdCustomers = append(g.createdCustomers, params)
	return fmt.Sprintf("cus_new_%d", len(g.createdCustomers)), nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID string) (string, error) {
	if g.portalErr != nil {
		return "", g.portalErr
	}
	if g.portalURL != "" {
		return g.portalURL, nil
	}
	return "https://billing.stripe.com/p/session/" + customerID, nil
}

func (g *fakeGateway) ValidateCoupon(_ context.Context, code string) (*billing.CouponInfo, error) {
	if g.couponErr != nil {
		return nil, g.couponErr
	}
	if g.coupon != nil {
		return g.coupon, nil
	}
	return nil, billing.ErrCouponInvalid
}

func (g *fakeGateway) PriceForPlan(plan models.SubscriptionPlan) (string, bool) {
	price, ok := fakePlanPrices[plan]
	return price, ok
}

func (g *fakeGateway) PlanForPrice(priceID string) (models.SubscriptionPlan, bool) {
	for plan, price := range fakePlanPrices {
		if price == priceID {
			return plan, true
		}
	}
	return models.PlanNone, false
}

// --- Side-effect fakes ---

type syncCall struct {
	UserID string
	Tier   models.SubscriptionTier
	Plan   models.SubscriptionPlan
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	err   error
}

func (f *fakeSyncer) SyncTier(_ context.Context, userID string, tier models.SubscriptionTier, plan models.SubscriptionPlan) error {
	f.mu.Lock()
	f.calls = append(f.calls, syncCall{UserID: userID, Tier: tier, Plan: plan})
	f.mu.Unlock()
	return f.err
}

func (f *fakeSyncer) all() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.calls...)
}

type fakeAttribution struct {
	mu     sync.Mutex
	events []attribution.PurchaseEvent
	err    error
}

func (f *fakeAttribution) SendPurchase(_ context.Context, event attribution.PurchaseEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published [][]byte
	queues    []string
}

func (f *fakeQueue) Publish(queueName string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queueName)
	f.published = append(f.published, body)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

type sentMail struct {
	Recipient string
	Subject   string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) Send(recipient, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{Recipient: recipient, Subject: subject})
	return nil
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeDedup) Get(_ context.Context, _ string) (string, error) { return "", errors.New("miss") }
func (f *fakeDedup) Set(_ context.Context, _ string, _ interface{}, _ time.Duration) error {
	return nil
}
func (f *fakeDedup) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}

func (f *fakeDedup) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}
