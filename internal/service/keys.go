// Package service implements the key lifecycle: issuing, revoking, renewing
// and validating API keys, plus the gateway protected routes authenticate
// through.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// DefaultExpirationWindow is how long a new or renewed key stays valid.
const DefaultExpirationWindow = 15 * 24 * time.Hour

// maxIssueAttempts bounds key regeneration after api_key collisions.
const maxIssueAttempts = 3

// Options configures a KeyService. Zero values select the defaults.
type Options struct {
	ExpirationWindow time.Duration
	Dispatcher       Dispatcher
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *telemetry.Metrics
	Policy           credential.Policy
}

// KeyService is the key lifecycle engine. It holds no key state of its own;
// every call reads the store.
type KeyService struct {
	store      store.Store
	window     time.Duration
	dispatcher Dispatcher
	now        func() time.Time
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	policy     credential.Policy
}

// NewKeyService creates a KeyService on top of st.
func NewKeyService(st store.Store, opts Options) *KeyService {
	s := &KeyService{
		store:      st,
		window:     opts.ExpirationWindow,
		dispatcher: opts.Dispatcher,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		policy:     opts.Policy,
	}
	if s.window <= 0 {
		s.window = DefaultExpirationWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.dispatcher == nil {
		s.dispatcher = NewAsyncDispatcher(DefaultUsageWorkers, s.logger, s.metrics)
	}
	return s
}

// ExpirationWindow returns the configured validity window.
func (s *KeyService) ExpirationWindow() time.Duration {
	return s.window
}

func (s *KeyService) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// IssueRequest holds the optional owner metadata of a new key.
type IssueRequest struct {
	OwnerName   string
	OwnerEmail  string
	Password    string
	NeverExpire bool
}

// Issue creates a new active key and returns it. The email is normalized and
// the password checked against the policy and hashed when given. An existing
// key for the same owner name or email fails with ErrUserExists, whether it
// is found up front or reported by the store's unique constraint on insert.
func (s *KeyService) Issue(ctx context.Context, req IssueRequest) (string, error) {
	name := strings.TrimSpace(req.OwnerName)

	var email string
	if strings.TrimSpace(req.OwnerEmail) != "" {
		normalized, err := credential.NormalizeEmail(req.OwnerEmail)
		if err != nil {
			return "", err
		}
		email = normalized
	}

	var hash string
	if req.Password != "" {
		if err := credential.ValidatePassword(req.Password); err != nil {
			return "", err
		}
		h, err := s.policy.HashPassword(req.Password)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	if err := s.checkOwner(ctx, name, email); err != nil {
		return "", err
	}

	now := s.clock()
	rec := &model.KeyRecord{
		IsActive:       true,
		NeverExpire:    req.NeverExpire,
		ExpirationDate: now.Add(s.window),
		OwnerName:      name,
		OwnerEmail:     email,
		CredentialHash: hash,
		CreatedAt:      now,
	}

	for attempt := 1; ; attempt++ {
		rec.APIKey = uuid.NewString()

		err := s.store.Insert(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return "", storeUnavailable("insert key", err)
		}

		// Either another request registered the same owner after our
		// check, or the generated key collided.
		if err := s.checkOwner(ctx, name, email); err != nil {
			return "", err
		}
		if attempt == maxIssueAttempts {
			return "", fmt.Errorf("%w: insert rejected %d times", ErrUserExists, attempt)
		}
		s.logger.Warn("generated api key collided, retrying", "attempt", attempt)
	}

	s.metrics.KeyIssued()
	s.logger.Info("api key issued",
		"api_key_prefix", rec.Prefix(),
		"owner", name,
		"never_expire", rec.NeverExpire,
		"expiration_date", model.ISOSeconds(rec.ExpirationDate),
	)
	return rec.APIKey, nil
}

// checkOwner returns ErrUserExists when name or email already owns a key.
func (s *KeyService) checkOwner(ctx context.Context, name, email string) error {
	if name == "" && email == "" {
		return nil
	}
	_, err := s.store.FindByOwner(ctx, name, email)
	switch {
	case err == nil:
		return ErrUserExists
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return storeUnavailable("find owner", err)
	}
}

// Lookup returns the stored record for key.
func (s *KeyService) Lookup(ctx context.Context, key string) (*model.KeyRecord, error) {
	if key == "" {
		return nil, ErrKeyNotFound
	}
	rec, err := s.store.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storeUnavailable("find key", err)
	}
	return rec, nil
}

// Revoke deactivates key. Revoking a revoked key succeeds.
func (s *KeyService) Revoke(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyNotFound
	}
	err := s.store.UpdateFields(ctx, key, store.Fields{IsActive: store.Bool(false)})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return storeUnavailable("revoke key", err)
	}

	s.metrics.KeyRevoked()
	s.logger.Info("api key revoked", "api_key_prefix", model.KeyPrefix(key))
	return nil
}

// RenewResult describes a successful renewal.
type RenewResult struct {
	Message        string
	ExpirationDate time.Time
	Reactivated    bool
}

const (
	reactivatedMessage = "This API key was revoked and has been reactivated."
	renewedMessage     = "The new expiration date for the API key is %s"
)

// Renew sets a new expiration date on key and reactivates it. An empty date
// renews for one expiration window from now; otherwise date must be ISO-8601.
// A date that does not parse fails with ErrInvalidDate and changes nothing.
func (s *KeyService) Renew(ctx context.Context, key, date string) (*RenewResult, error) {
	rec, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	expiration := s.clock().Add(s.window)
	if strings.TrimSpace(date) != "" {
		expiration, err = ParseExpirationDate(date)
		if err != nil {
			return nil, err
		}
	}

	err = s.store.UpdateFields(ctx, key, store.Fields{
		IsActive:       store.Bool(true),
		ExpirationDate: &expiration,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storeUnavailable("renew key", err)
	}

	result := &RenewResult{
		ExpirationDate: expiration,
		Reactivated:    !rec.IsActive,
	}
	msg := fmt.Sprintf(renewedMessage, model.ISOSeconds(expiration))
	if result.Reactivated {
		msg = reactivatedMessage + " " + msg
	}
	result.Message = msg

	s.metrics.KeyRenewed()
	s.logger.Info("api key renewed",
		"api_key_prefix", model.KeyPrefix(key),
		"expiration_date", model.ISOSeconds(expiration),
		"reactivated", result.Reactivated,
	)
	return result, nil
}

// IsValid reports whether key exists, is active and is not expired. A valid
// key gets its usage recorded in the background; IsValid does not wait for
// that write.
func (s *KeyService) IsValid(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	rec, err := s.store.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveValidation(telemetry.ResultUnknown)
			return false, nil
		}
		s.metrics.ObserveValidation(telemetry.ResultError)
		return false, storeUnavailable("find key", err)
	}

	now := s.clock()
	switch rec.State(now) {
	case model.KeyStateRevoked:
		s.metrics.ObserveValidation(telemetry.ResultRevoked)
		return false, nil
	case model.KeyStateExpired:
		s.metrics.ObserveValidation(telemetry.ResultExpired)
		return false, nil
	}

	s.metrics.ObserveValidation(telemetry.ResultValid)
	s.recordUsage(key, now)
	return true, nil
}

// Check is IsValid for callers that only need a yes or no. Store failures
// are logged and reported as invalid.
func (s *KeyService) Check(ctx context.Context, key string) bool {
	ok, err := s.IsValid(ctx, key)
	if err != nil {
		s.logger.Error("api key check failed", "api_key_prefix", model.KeyPrefix(key), "error", err)
		return false
	}
	return ok
}

func (s *KeyService) recordUsage(key string, at time.Time) {
	s.dispatcher.Dispatch(func(ctx context.Context) {
		err := s.store.UpdateFields(ctx, key, store.Fields{
			LatestQueryDate: &at,
			QueriesDelta:    1,
		})
		s.metrics.ObserveUsageWrite(err)
		if err != nil {
			s.logger.Error("usage accounting failed", "api_key_prefix", model.KeyPrefix(key), "error", err)
		}
	})
}

// UsageStats returns every record, most recently used first and never-used
// keys last.
func (s *KeyService) UsageStats(ctx context.Context) ([]model.KeyRecord, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, storeUnavailable("list keys", err)
	}
	return records, nil
}

// Ping checks that the store is reachable.
func (s *KeyService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return storeUnavailable("ping", err)
	}
	return nil
}
