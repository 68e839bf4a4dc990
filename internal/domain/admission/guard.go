// Package admission verifies inbound score events before any state changes:
// request shape, signed proof-of-action, caller binding, replay detection and
// rate limits.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/okian/topkboard/internal/domain/dedupe"
	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

const (
	maxTokenIDLen   = 128
	maxUserIDLen    = 128
	maxMetadataSize = 4 << 10
	limiterIdle     = 10 * time.Minute
)

var actionTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]{0,63}$`) //nolint:gochecknoglobals // compiled once

// Outcome is the result of a successful admission: either a freshly
// accepted event or a duplicate carrying the first submission's result.
type Outcome struct {
	Event     model.ScoreEvent
	Duplicate bool
	Result    model.IngestResult
}

// Guard is the admission guard.
type Guard struct {
	ledger   dedupe.Ledger
	verifier *verifier
	users    *keyedLimiter
	sources  *keyedLimiter
	log      logger.Logger

	deltaCap    int64
	skew        time.Duration
	maxTTL      time.Duration
	userRate    float64
	userBurst   int
	sourceRate  float64
	sourceBurst int
	now         func() time.Time
}

// New creates a guard recording consumed tokens in ledger and verifying
// proofs against keys indexed by key version.
func New(ledger dedupe.Ledger, keys map[string][]byte, opts ...Option) (*Guard, error) {
	if len(keys) == 0 {
		return nil, ErrNoSigningKeys
	}
	g := &Guard{
		ledger:      ledger,
		deltaCap:    1_000,
		skew:        5 * time.Second,
		maxTTL:      30 * time.Second,
		userRate:    20,
		userBurst:   40,
		sourceRate:  500,
		sourceBurst: 1_000,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Named("admission")
	}
	g.verifier = newVerifier(keys, g.skew, g.maxTTL, g.now)
	g.users = newKeyedLimiter(g.userRate, g.userBurst, limiterIdle)
	g.sources = newKeyedLimiter(g.sourceRate, g.sourceBurst, limiterIdle)
	return g, nil
}

// Admit runs every admission check in order and stops at the first failure.
// Rejections wrap model.ErrValidation, model.ErrAuth or model.ErrRateLimited
// and leave no trace in the ledger.
func (g *Guard) Admit(ctx context.Context, req model.IngestRequest) (Outcome, error) {
	out, err := g.admit(ctx, req)
	switch {
	case err != nil:
		reason := model.Reason(err)
		metrics.RecordEventRejected(reason)
		g.log.Debug(ctx, "event rejected",
			logger.String("user_id", req.UserID),
			logger.String("action_token_id", req.ActionTokenID),
			logger.String("reason", reason),
			logger.Error(err))
	case out.Duplicate:
		metrics.RecordEventDuplicate()
	default:
		metrics.RecordEventAdmitted()
	}
	return out, err
}

func (g *Guard) admit(ctx context.Context, req model.IngestRequest) (Outcome, error) {
	if err := g.validate(req); err != nil {
		return Outcome{}, model.Wrap(model.ErrValidation, err)
	}

	claims, err := g.verifier.verify(req.Proof)
	if err != nil {
		return Outcome{}, model.Wrap(model.ErrAuth, err)
	}
	if claims.Subject != req.UserID {
		return Outcome{}, model.Wrap(model.ErrAuth, ErrSubjectMismatch)
	}
	if claims.ID != req.ActionTokenID || claims.ActionType != req.ActionType {
		return Outcome{}, model.Wrap(model.ErrAuth, ErrProofMismatch)
	}
	if req.Delta > claims.DeltaCap {
		return Outcome{}, model.Wrap(model.ErrAuth,
			fmt.Errorf("%w: %d > %d", ErrDeltaExceedsCap, req.Delta, claims.DeltaCap))
	}

	now := g.now()
	// The token cannot be presented again once it has expired, so the
	// ledger only needs to remember it that long.
	ttl := claims.ExpiresAt.Time.Add(g.skew).Sub(now)
	if ttl <= 0 {
		ttl = g.skew
	}
	eventID := ulid.MustNewDefault(now).String()

	claim, err := g.ledger.Reserve(ctx, req.ActionTokenID, eventID, ttl)
	switch {
	case errors.Is(err, dedupe.ErrLedgerFull):
		return Outcome{}, model.Wrap(model.ErrRateLimited, err)
	case err != nil:
		return Outcome{}, fmt.Errorf("reserve action token: %w", err)
	case !claim.Fresh:
		return Outcome{Duplicate: true, Result: claim.Result.Replay()}, nil
	}

	if err := g.checkRate(req, now); err != nil {
		if relErr := g.ledger.Release(context.WithoutCancel(ctx), req.ActionTokenID); relErr != nil {
			g.log.Warn(ctx, "release action token failed",
				logger.String("action_token_id", req.ActionTokenID), logger.Error(relErr))
		}
		return Outcome{}, model.Wrap(model.ErrRateLimited, err)
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return Outcome{Event: model.ScoreEvent{
		EventID:        claim.EventID,
		UserID:         req.UserID,
		Delta:          req.Delta,
		ActionType:     req.ActionType,
		ActionTokenID:  req.ActionTokenID,
		SourceID:       req.SourceID,
		CreatedAt:      createdAt,
		IngestedAt:     now,
		ClientMetadata: req.ClientMetadata,
	}}, nil
}

func (g *Guard) validate(req model.IngestRequest) error {
	switch {
	case req.UserID == "" || len(req.UserID) > maxUserIDLen:
		return fmt.Errorf("user id must be 1..%d bytes", maxUserIDLen)
	case req.Delta < 1:
		return fmt.Errorf("delta must be positive, got %d", req.Delta)
	case req.Delta > g.deltaCap:
		return fmt.Errorf("delta %d exceeds cap %d", req.Delta, g.deltaCap)
	case !actionTypePattern.MatchString(req.ActionType):
		return fmt.Errorf("malformed action type %q", req.ActionType)
	case req.ActionTokenID == "" || len(req.ActionTokenID) > maxTokenIDLen:
		return fmt.Errorf("action token id must be 1..%d bytes", maxTokenIDLen)
	case len(req.ClientMetadata) > maxMetadataSize:
		return fmt.Errorf("client metadata exceeds %d bytes", maxMetadataSize)
	case len(req.ClientMetadata) > 0 && !json.Valid(req.ClientMetadata):
		return errors.New("client metadata is not valid JSON")
	}
	return nil
}

func (g *Guard) checkRate(req model.IngestRequest, now time.Time) error {
	if !g.users.Allow(req.UserID, now) {
		return ErrUserRateLimited
	}
	if req.SourceID != "" && !g.sources.Allow(req.SourceID, now) {
		return ErrSourceRateLimit
	}
	return nil
}
