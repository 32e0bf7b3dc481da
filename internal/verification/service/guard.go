package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"submit/internal/identity"
	"submit/internal/identity/vault"
	journeyModels "submit/internal/journey/models"
	programModels "submit/internal/program/models"
	tokenModels "submit/internal/submittoken/models"
	"submit/internal/verification/metrics"
	"submit/internal/verification/models"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/sentinel"
	"submit/pkg/requestcontext"
)

// AttemptStore is the verification attempt ledger; its submit id uniqueness is
// the replay guard of record.
type AttemptStore interface {
	Create(ctx context.Context, a *models.Attempt) (int64, error)
	ExistsBySubmitID(ctx context.Context, submitID string) (bool, error)
}

type TokenLedger interface {
	Authorize(ctx context.Context, submitID, idvRec, program string) (bool, *tokenModels.Token, error)
	Consume(ctx context.Context, submitID string)
}

type ProgramLookup interface {
	FindBySlug(ctx context.Context, slug string) (*programModels.Program, error)
}

type IdentitySource interface {
	FetchIdentity(ctx context.Context, idvRec string) (identity.Identity, error)
}

type JourneyRecorder interface {
	Record(ctx context.Context, e journeyModels.Event) int64
}

// Caller-facing messages.
const (
	MsgTokenUsed          = "Submit token already used"
	MsgProgramNotFound    = "Program not found"
	MsgProgramInactive    = "Program is inactive"
	MsgTokenRequired      = "Submit token required"
	MsgTokenUnauthorized  = "Submit token not authorized for this identity"
	MsgMissingParams      = "Missing required parameters: idv_rec, first_name, last_name, email"
	MsgServerConfig       = "Server configuration error"
	MsgFetchFailed        = "Failed to fetch user data"
	MsgNoIdentity         = "Identity data not found in response"
	MsgRejected           = "Your submission was rejected. Visit identity.hackclub.com for more info."
	MsgPending            = "Your identity verification is pending. Please wait for approval."
	MsgNotApproved        = "We couldn't find an approved verification yet. Check identity.hackclub.com for more information."
	MsgIneligible         = "YSWS programs are for individuals 18 and under only"
	MsgInternal           = "Internal server error"
	reasonReused          = "submit_id_reused"
	reasonMissingSubmitID = "missing_submit_id"
	reasonNotAuthorized   = "submit_id_not_authorized"
)

// Recorded failure reasons, also used as outcome metric labels.
const (
	OutcomeReplay          = "replay"
	OutcomeProgramNotFound = "program_not_found"
	OutcomeProgramInactive = "program_inactive"
	OutcomeUnauthorized    = "unauthorized_submit_id"
	OutcomeMissingParams   = "missing_params"
	OutcomeServerConfig    = "server_config"
	OutcomeFetchTimeout    = "fetch_timeout"
	OutcomeFetchFailed     = "fetch_failed"
	OutcomeNotFound        = "404"
	OutcomeInvalidJSON     = "invalid_json"
	OutcomeNoIdentity      = "no_identity_data"
	OutcomeNotVerified     = "not_verified"
	OutcomeIneligible      = "ysws_ineligible"
	OutcomeVerified        = "verified"
	OutcomeMismatch        = "mismatch"
	OutcomeException       = "exception"
)

// errReplay signals a submit id that already produced an attempt.
var errReplay = errors.New("submit id already used")

// Guard answers verification requests from program backends. Every branch
// leaves an audit trail; audit failures never change the answer.
type Guard struct {
	attempts AttemptStore
	tokens   TokenLedger
	programs ProgramLookup
	vault    IdentitySource
	journey  JourneyRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func New(attempts AttemptStore, tokens TokenLedger, programs ProgramLookup, vault IdentitySource, journey JourneyRecorder, opts ...Option) *Guard {
	g := &Guard{
		attempts: attempts,
		tokens:   tokens,
		programs: programs,
		vault:    vault,
		journey:  journey,
		logger:   slog.Default(),
		tracer:   otel.Tracer("submit/internal/verification"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify runs the guard. A non-nil error carries the status code and message
// for the caller; a Result is always a 200 answer.
func (g *Guard) Verify(ctx context.Context, in models.Input) (*models.Result, error) {
	ctx, span := g.tracer.Start(ctx, "verification.Verify")
	defer span.End()
	start := time.Now()

	res, outcome, err := g.verify(ctx, in)
	if errors.Is(err, errReplay) {
		g.recordReuse(ctx, in)
		res, outcome, err = nil, OutcomeReplay, dErrors.New(dErrors.CodeGone, MsgTokenUsed)
	}

	span.SetAttributes(
		attribute.String("verification.outcome", outcome),
		attribute.Bool("verification.program_scoped", in.Program != ""),
	)
	g.metrics.IncrementOutcome(outcome)
	g.metrics.ObserveDuration(start)
	g.logger.InfoContext(ctx, "verification attempt",
		"request_id", requestcontext.RequestID(ctx),
		"program", in.Program,
		"outcome", outcome,
	)
	return res, err
}

func (g *Guard) verify(ctx context.Context, in models.Input) (*models.Result, string, error) {
	if in.SubmitID != "" {
		used, err := g.attempts.ExistsBySubmitID(ctx, in.SubmitID)
		if err != nil {
			return g.exception(ctx, in, err)
		}
		if used {
			return nil, OutcomeReplay, errReplay
		}
	}

	var program *programModels.Program
	if in.Program != "" {
		p, err := g.programs.FindBySlug(ctx, in.Program)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			g.record(ctx, journeyModels.KindVerificationAttempt, in, nil, journeyModels.Metadata{
				journeyModels.MetaError: OutcomeProgramNotFound, journeyModels.MetaSubmitID: in.SubmitID,
			})
			return nil, OutcomeProgramNotFound, dErrors.New(dErrors.CodeNotFound, MsgProgramNotFound)
		case err != nil:
			return g.exception(ctx, in, err)
		case !p.Active:
			g.record(ctx, journeyModels.KindVerificationAttempt, in, nil, journeyModels.Metadata{
				journeyModels.MetaError: OutcomeProgramInactive, journeyModels.MetaSubmitID: in.SubmitID,
			})
			return nil, OutcomeProgramInactive, dErrors.New(dErrors.CodeForbidden, MsgProgramInactive)
		}
		program = p
	}

	if in.SubmitID == "" {
		g.record(ctx, journeyModels.KindUnauthorizedSubmitID, in, nil, journeyModels.Metadata{
			journeyModels.MetaError: reasonMissingSubmitID,
		})
		return nil, OutcomeUnauthorized, dErrors.New(dErrors.CodeForbidden, MsgTokenRequired)
	}
	ok, tok, err := g.tokens.Authorize(ctx, in.SubmitID, in.IDVRec, in.Program)
	if err != nil {
		return g.exception(ctx, in, err)
	}
	if !ok {
		meta := journeyModels.Metadata{
			journeyModels.MetaError:    reasonNotAuthorized,
			journeyModels.MetaSubmitID: in.SubmitID,
		}
		if tok != nil {
			meta["token_program"] = tok.Program
		}
		g.record(ctx, journeyModels.KindUnauthorizedSubmitID, in, nil, meta)
		return nil, OutcomeUnauthorized, dErrors.New(dErrors.CodeForbidden, MsgTokenUnauthorized)
	}

	if !in.Complete() {
		g.record(ctx, journeyModels.KindVerificationAttempt, in, nil, journeyModels.Metadata{
			journeyModels.MetaError: OutcomeMissingParams, journeyModels.MetaSubmitID: in.SubmitID,
		})
		return nil, OutcomeMissingParams, dErrors.New(dErrors.CodeInvalidInput, MsgMissingParams)
	}

	raw, err := g.vault.FetchIdentity(ctx, in.IDVRec)
	if err != nil {
		return g.fetchFailure(ctx, in, err)
	}
	user := identity.Normalize(raw)

	if !user.Verified() || user.String(identity.FieldRejectionReason) != "" {
		filtered := programModels.FilterIdentity(program, user)
		id, err := g.persist(ctx, in, program, attemptOutcome{identity: filtered, user: user})
		if err != nil {
			return nil, OutcomeReplay, err
		}
		g.record(ctx, journeyModels.KindVerificationAttempt, in, id, journeyModels.Metadata{
			journeyModels.MetaError:           OutcomeNotVerified,
			journeyModels.MetaStatus:          user.String(identity.FieldVerificationStatus),
			journeyModels.MetaRejectionReason: user.String(identity.FieldRejectionReason),
			journeyModels.MetaSubmitID:        in.SubmitID,
		})
		return &models.Result{Message: gatingMessage(user), Identity: filtered, AttemptID: deref(id)}, OutcomeNotVerified, nil
	}

	if !user.Eligible() {
		filtered := programModels.FilterIdentity(program, user)
		id, err := g.persist(ctx, in, program, attemptOutcome{identity: filtered, user: user})
		if err != nil {
			return nil, OutcomeReplay, err
		}
		g.record(ctx, journeyModels.KindVerificationAttempt, in, id, journeyModels.Metadata{
			journeyModels.MetaError: OutcomeIneligible, journeyModels.MetaSubmitID: in.SubmitID,
		})
		return &models.Result{Message: MsgIneligible, Identity: filtered, AttemptID: deref(id)}, OutcomeIneligible, nil
	}

	verified := in.Matches(user)
	filtered := programModels.FilterIdentity(program, user)
	id, err := g.persist(ctx, in, program, attemptOutcome{verified: verified, identity: filtered, user: user})
	if err != nil {
		return nil, OutcomeReplay, err
	}
	g.record(ctx, journeyModels.KindVerificationAttempt, in, id, journeyModels.Metadata{
		journeyModels.MetaVerified: verified, journeyModels.MetaSubmitID: in.SubmitID,
	})
	g.tokens.Consume(ctx, in.SubmitID)

	outcome := OutcomeVerified
	if !verified {
		outcome = OutcomeMismatch
	}
	return &models.Result{Verified: verified, Identity: filtered, AttemptID: deref(id)}, outcome, nil
}

// fetchFailure records a failed vault lookup. A missing identity is a normal
// unverified answer; transport and status failures are 500s.
func (g *Guard) fetchFailure(ctx context.Context, in models.Input, fetchErr error) (*models.Result, string, error) {
	var (
		outcome string
		meta    = journeyModels.Metadata{journeyModels.MetaSubmitID: in.SubmitID}
		result  *models.Result
		retErr  error
	)
	switch vault.KindOf(fetchErr) {
	case vault.KindNotConfigured:
		outcome, retErr = OutcomeServerConfig, dErrors.Wrap(fetchErr, dErrors.CodeInternal, MsgServerConfig)
		g.logger.ErrorContext(ctx, "missing identity vault configuration", "request_id", requestcontext.RequestID(ctx))
	case vault.KindNotFound:
		outcome, result = OutcomeNotFound, &models.Result{}
	case vault.KindMalformed:
		outcome, result = OutcomeInvalidJSON, &models.Result{Message: MsgNoIdentity}
	case vault.KindNoIdentity:
		outcome, result = OutcomeNoIdentity, &models.Result{Message: MsgNoIdentity}
	case vault.KindStatus:
		outcome, retErr = OutcomeFetchFailed, dErrors.Wrap(fetchErr, dErrors.CodeUpstream, MsgFetchFailed)
		meta["code"] = strconv.Itoa(vault.StatusOf(fetchErr))
	default:
		outcome, retErr = OutcomeFetchTimeout, dErrors.Wrap(fetchErr, dErrors.CodeUpstream, MsgFetchFailed)
	}
	if retErr != nil && outcome != OutcomeServerConfig {
		g.logger.ErrorContext(ctx, "identity vault lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"outcome", outcome,
			"error", fetchErr,
		)
	}
	meta[journeyModels.MetaError] = outcome

	id, err := g.persist(ctx, in, nil, attemptOutcome{})
	if err != nil {
		return nil, OutcomeReplay, err
	}
	g.record(ctx, journeyModels.KindVerificationAttempt, in, id, meta)
	if result != nil {
		result.AttemptID = deref(id)
	}
	return result, outcome, retErr
}

// exception handles store failures outside the expected taxonomy.
func (g *Guard) exception(ctx context.Context, in models.Input, cause error) (*models.Result, string, error) {
	g.logger.ErrorContext(ctx, "verification failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", cause,
	)
	id, err := g.persist(ctx, in, nil, attemptOutcome{})
	if err != nil {
		return nil, OutcomeReplay, err
	}
	g.record(ctx, journeyModels.KindVerificationAttempt, in, id, journeyModels.Metadata{
		journeyModels.MetaError: OutcomeException, journeyModels.MetaSubmitID: in.SubmitID,
	})
	return nil, OutcomeException, dErrors.Wrap(cause, dErrors.CodeInternal, MsgInternal)
}

type attemptOutcome struct {
	verified bool
	identity identity.Identity
	user     identity.Identity
}

// persist writes the attempt. Only a submit id collision is returned, as
// errReplay; any other store failure is logged and yields a nil id.
func (g *Guard) persist(ctx context.Context, in models.Input, program *programModels.Program, o attemptOutcome) (*int64, error) {
	a := &models.Attempt{
		IDVRec:           in.IDVRec,
		SubmitID:         in.SubmitID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Verified:         o.verified,
		IdentityResponse: o.identity,
		Program:          in.Program,
		IP:               requestcontext.ClientIP(ctx),
		CreatedAt:        requestcontext.Now(ctx),
	}
	if program != nil {
		a.Program = program.Slug
	}
	if o.user != nil {
		a.VerificationStatus = o.user.String(identity.FieldVerificationStatus)
		a.RejectionReason = o.user.String(identity.FieldRejectionReason)
		if v, ok := o.user[identity.FieldYSWSEligible].(bool); ok {
			a.YSWSEligible = &v
		}
	}

	id, err := g.attempts.Create(ctx, a)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return nil, errReplay
	}
	if err != nil {
		g.logger.WarnContext(ctx, "verification attempt not recorded",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, nil
	}
	return &id, nil
}

func (g *Guard) record(ctx context.Context, kind journeyModels.Kind, in models.Input, attemptID *int64, meta journeyModels.Metadata) {
	g.journey.Record(ctx, journeyModels.Event{
		Type:                  string(kind),
		Program:               in.Program,
		IDVRec:                in.IDVRec,
		Email:                 in.Email,
		Metadata:              meta,
		VerificationAttemptID: attemptID,
	})
}

func (g *Guard) recordReuse(ctx context.Context, in models.Input) {
	g.record(ctx, journeyModels.KindVerificationAttemptReuse, in, nil, journeyModels.Metadata{
		journeyModels.MetaError:    reasonReused,
		journeyModels.MetaSubmitID: in.SubmitID,
	})
}

func gatingMessage(user identity.Identity) string {
	switch {
	case user.String(identity.FieldRejectionReason) != "":
		return MsgRejected
	case user.String(identity.FieldVerificationStatus) == identity.StatusPending:
		return MsgPending
	default:
		return MsgNotApproved
	}
}

func deref(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
