package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/audit"
	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/lifecycle"
	"github.com/prn-tf/keygate/internal/lock"
	"github.com/prn-tf/keygate/internal/metrics"
	"github.com/prn-tf/keygate/internal/repository"
)

// KeyService handles license key operations.
type KeyService struct {
	keys       repository.KeyRepository
	events     repository.AuditRepository
	recorder   audit.Recorder
	engine     *lifecycle.Engine
	guard      *lock.Guard
	authorizer auth.AdminAuthorizer
	metrics    *metrics.Metrics
	policy     config.KeysConfig
	logger     zerolog.Logger
}

// NewKeyService creates a new KeyService.
func NewKeyService(
	repos *repository.Repositories,
	recorder audit.Recorder,
	engine *lifecycle.Engine,
	guard *lock.Guard,
	authorizer auth.AdminAuthorizer,
	m *metrics.Metrics,
	policy config.KeysConfig,
	logger zerolog.Logger,
) *KeyService {
	return &KeyService{
		keys:       repos.Keys,
		events:     repos.Audit,
		recorder:   recorder,
		engine:     engine,
		guard:      guard,
		authorizer: authorizer,
		metrics:    m,
		policy:     policy,
		logger:     logger.With().Str("service", "keys").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// GenerateInput contains the data needed to issue a batch of keys.
// Nil fields take the configured defaults.
type GenerateInput struct {
	Credential string
	Amount     *int
	Days       *int
	MaxResets  *int
	Notes      string
	Origin     string
}

// GenerateOutput lists the issued keys.
type GenerateOutput struct {
	Keys         []string
	ExpiresAt    time.Time
	ValidityDays int
	MaxResets    int
}

// CheckInput contains the data needed to validate a key.
type CheckInput struct {
	Key    string
	HWID   string
	Origin string
}

// ActivateInput contains the data needed to bind a key.
type ActivateInput struct {
	Key       string
	HWID      string
	DiscordID string
	Origin    string
}

// ResetInput contains the data needed to clear a key's hardware binding.
type ResetInput struct {
	Key        string
	Credential string
	DiscordID  string
	Reason     string
	Origin     string
}

// DeleteInput contains the data needed to delete a key.
type DeleteInput struct {
	Key        string
	Credential string
	Reason     string
	Origin     string
}

// =============================================================================
// Operations
// =============================================================================

// Generate issues a batch of keys. If the store fails part way through, the
// returned *domain.PartialGenerationError lists the keys that were persisted.
func (s *KeyService) Generate(ctx context.Context, input GenerateInput) (out *GenerateOutput, err error) {
	defer func() { s.observe("generate", err) }()

	if !s.authorizer.AuthorizeAdmin(input.Credential) {
		return nil, domain.ErrUnauthorized
	}

	in := lifecycle.GenerateInput{
		Count:        valueOr(input.Amount, 1),
		ValidityDays: valueOr(input.Days, s.policy.DefaultValidityDays),
		MaxResets:    valueOr(input.MaxResets, s.policy.DefaultMaxResets),
		Notes:        input.Notes,
	}
	if s.policy.MaxBatch > 0 && in.Count > s.policy.MaxBatch {
		return nil, domain.NewValidationError("amount exceeds the batch limit", "amount")
	}
	if s.policy.MaxValidityDays > 0 && in.ValidityDays > s.policy.MaxValidityDays {
		return nil, domain.NewValidationError("days exceeds the validity limit", "days")
	}

	batch, err := s.engine.NewBatch(in)
	if err != nil {
		return nil, err
	}

	persisted := make([]string, 0, len(batch.Records))
	var failure error
	for _, rec := range batch.Records {
		if failure = s.insert(ctx, rec); failure != nil {
			break
		}
		persisted = append(persisted, rec.Key)
	}

	s.recorder.Record(ctx, s.engine.GeneratedEvent(persisted, input.Origin))
	s.metrics.AddGenerated(len(persisted))

	if failure != nil {
		s.logger.Error().
			Err(failure).
			Int("requested", in.Count).
			Int("persisted", len(persisted)).
			Msg("key generation stopped early")
		return nil, &domain.PartialGenerationError{
			Requested: in.Count,
			Persisted: persisted,
			Err:       failure,
		}
	}

	s.logger.Info().
		Int("amount", len(persisted)).
		Int("days", in.ValidityDays).
		Int("max_resets", in.MaxResets).
		Msg("keys generated")

	return &GenerateOutput{
		Keys:         persisted,
		ExpiresAt:    batch.ExpiresAt,
		ValidityDays: in.ValidityDays,
		MaxResets:    in.MaxResets,
	}, nil
}

// insert stores rec, drawing a new token after each uniqueness violation.
func (s *KeyService) insert(ctx context.Context, rec *domain.KeyRecord) error {
	attempts := max(s.policy.GenerateAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.keys.Create(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return storageError("insert key", err)
		}

		s.logger.Warn().Int("attempt", attempt).Msg("generated key collided, regenerating")
		if attempt < attempts {
			if genErr := s.engine.Regenerate(rec); genErr != nil {
				return storageError("regenerate key", genErr)
			}
		}
	}
	return storageError("insert key", err)
}

// Check validates a key against a hardware id. Outcomes other than a store
// failure are reported in the result, not as errors.
func (s *KeyService) Check(ctx context.Context, input CheckInput) (result lifecycle.CheckResult, err error) {
	defer func() {
		if err != nil {
			s.observe("check", err)
		} else {
			s.metrics.ObserveOperation("check", string(result.Status))
		}
	}()

	if input.Key == "" || input.HWID == "" {
		return lifecycle.CheckResult{}, domain.NewValidationError("key and hwid are required", "key", "hwid")
	}

	rec, err := s.load(ctx, input.Key)
	if err != nil {
		return lifecycle.CheckResult{}, err
	}

	d := s.engine.Check(rec, lifecycle.CheckInput{Key: input.Key, HWID: input.HWID, Origin: input.Origin})
	s.recorder.Record(ctx, d.Event)
	return d.Result, nil
}

// Activate binds a key to an owner and a device.
func (s *KeyService) Activate(ctx context.Context, input ActivateInput) (result lifecycle.ActivateResult, err error) {
	defer func() { s.observe("activate", err) }()

	in := lifecycle.ActivateInput(input)
	if in.Key == "" || in.HWID == "" || in.DiscordID == "" {
		return lifecycle.ActivateResult{}, domain.NewValidationError("key, hwid and discord_id are required", "key", "hwid", "discord_id")
	}

	result, err = transition(ctx, s, "activate", in.Key, func(rec *domain.KeyRecord) (lifecycle.Decision[lifecycle.ActivateResult], error) {
		return s.engine.Activate(rec, in)
	})
	if err != nil {
		return lifecycle.ActivateResult{}, err
	}

	s.logger.Info().
		Str("key", result.Key).
		Str("discord_id", result.DiscordID).
		Bool("rebound", result.Rebound).
		Msg("key activated")
	return result, nil
}

// Reset clears the hardware binding of a key. A credential that fails
// authorization is treated as absent, so the owner path still applies.
func (s *KeyService) Reset(ctx context.Context, input ResetInput) (result lifecycle.ResetResult, err error) {
	defer func() { s.observe("reset", err) }()

	if input.Key == "" {
		return lifecycle.ResetResult{}, domain.NewValidationError("key is required", "key")
	}

	in := lifecycle.ResetInput{
		Key:       input.Key,
		Admin:     input.Credential != "" && s.authorizer.AuthorizeAdmin(input.Credential),
		DiscordID: input.DiscordID,
		Reason:    input.Reason,
		Origin:    input.Origin,
	}
	if input.Credential != "" && !in.Admin {
		s.logger.Warn().Str("key", input.Key).Msg("reset presented an invalid admin credential")
	}

	result, err = transition(ctx, s, "reset", in.Key, func(rec *domain.KeyRecord) (lifecycle.Decision[lifecycle.ResetResult], error) {
		return s.engine.Reset(rec, in)
	})
	if err != nil {
		return lifecycle.ResetResult{}, err
	}

	s.logger.Info().
		Str("key", result.Key).
		Bool("admin", result.ByAdmin).
		Int("used", result.UsedResets).
		Int("max", result.MaxResets).
		Msg("hwid reset")
	return result, nil
}

// Info returns the read-only projection of a key.
func (s *KeyService) Info(ctx context.Context, key string) (info lifecycle.KeyInfo, err error) {
	defer func() { s.observe("info", err) }()

	if key == "" {
		return lifecycle.KeyInfo{}, domain.NewValidationError("key is required", "key")
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return lifecycle.KeyInfo{}, err
	}
	return s.engine.Info(rec)
}

// Stats returns the administrative report.
func (s *KeyService) Stats(ctx context.Context, credential string) (stats *lifecycle.Stats, err error) {
	defer func() { s.observe("stats", err) }()

	if !s.authorizer.AuthorizeAdmin(credential) {
		return nil, domain.ErrUnauthorized
	}

	records, err := s.keys.List(ctx)
	if err != nil {
		return nil, storageError("list keys", err)
	}

	recent, err := s.events.ListRecent(ctx, lifecycle.RecentEventsLimit)
	if err != nil {
		return nil, storageError("list audit events", err)
	}

	report := s.engine.Stats(records, recent)
	return &report, nil
}

// Delete permanently removes a key.
func (s *KeyService) Delete(ctx context.Context, input DeleteInput) (err error) {
	defer func() { s.observe("delete", err) }()

	if !s.authorizer.AuthorizeAdmin(input.Credential) {
		return domain.ErrUnauthorized
	}
	if input.Key == "" {
		return domain.NewValidationError("key is required", "key")
	}

	err = s.withKeyLock(ctx, input.Key, func(ctx context.Context) error {
		n, err := s.keys.DeleteByKey(ctx, input.Key)
		if err != nil {
			return storageError("delete key", err)
		}
		if n == 0 {
			return domain.ErrKeyNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, s.engine.DeletedEvent(input.Key, input.Reason, input.Origin))
	s.logger.Info().Str("key", input.Key).Str("reason", input.Reason).Msg("key deleted")
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// transition runs load, decide and conditional write under the key's lock.
// A lost conditional write is retried from a fresh load up to MaxWriteAttempts times.
func transition[T any](
	ctx context.Context,
	s *KeyService,
	op string,
	key string,
	decide func(rec *domain.KeyRecord) (lifecycle.Decision[T], error),
) (T, error) {
	var result T

	err := s.withKeyLock(ctx, key, func(ctx context.Context) error {
		for attempt := 1; attempt <= MaxWriteAttempts; attempt++ {
			rec, err := s.load(ctx, key)
			if err != nil {
				return err
			}

			d, err := decide(rec)
			if err != nil {
				return err
			}

			if d.Mutation != nil {
				err := s.keys.UpdateConditional(ctx, d.Mutation.Key, d.Mutation.Expected, d.Mutation.Next)
				switch {
				case errors.Is(err, repository.ErrConflict):
					s.metrics.ObserveConflict(op)
					s.logger.Debug().Str("key", key).Int("attempt", attempt).Msg("conditional update lost, retrying")
					continue
				case errors.Is(err, repository.ErrNotFound):
					return domain.ErrKeyNotFound
				case err != nil:
					return storageError("update key", err)
				}
			}

			s.recorder.Record(ctx, d.Event)
			result = d.Result
			return nil
		}
		return storageError(op, ErrWriteConflict)
	})
	return result, err
}

func (s *KeyService) withKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.guard.WithLock(ctx, lock.Keys.LicenseKey(key), fn)
	if errors.Is(err, repository.ErrLockNotAcquired) {
		return storageError("lock key", err)
	}
	return err
}

// load returns the record, or nil if it does not exist.
func (s *KeyService) load(ctx context.Context, key string) (*domain.KeyRecord, error) {
	rec, err := s.keys.GetByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("load key", err)
	}
	return rec, nil
}

func (s *KeyService) observe(op string, err error) {
	s.metrics.ObserveOperation(op, domain.Code(err))
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
