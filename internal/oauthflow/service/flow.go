// Package service runs the browser side of verification: the program page,
// the Identity Vault redirect flow ending at the program form, and the popup
// flow that completes an authorization request.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	authModels "submit/internal/authorization/models"
	"submit/internal/formurl"
	"submit/internal/identity"
	journeyModels "submit/internal/journey/models"
	journeyService "submit/internal/journey/service"
	programModels "submit/internal/program/models"
	"submit/internal/session"
	"submit/internal/statetoken"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/sentinel"
	"submit/pkg/requestcontext"
)

// Callback paths registered with the Identity Vault.
const (
	RedirectCallbackPath = "/identity"
	PopupCallbackPath    = "/popup/authorize/callback"
)

// MsgServerConfig is the one internal error message shown to callers.
const MsgServerConfig = "Server configuration error"

// State payload keys.
const (
	stateProgram        = "program"
	stateSubmitID       = "submit_id"
	stateAuthID         = "auth_id"
	stateOriginalParams = "originalParams"
)

// ProgramLookup resolves programs by slug.
type ProgramLookup interface {
	FindBySlug(ctx context.Context, slug string) (*programModels.Program, error)
}

// OAuthClient is the Identity Vault authorization-code client.
type OAuthClient interface {
	OAuthConfigured() bool
	AuthorizeURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	Me(ctx context.Context, accessToken string) (identity.Identity, error)
}

// TokenIssuer records submit tokens for verified identities.
type TokenIssuer interface {
	IssueWithID(ctx context.Context, submitID, idvRec, program string) error
}

// Authorizations is the popup authorization state machine.
type Authorizations interface {
	Pending(ctx context.Context, authID string) (*authModels.Request, error)
	Complete(ctx context.Context, authID, idvRec string, filtered identity.Identity) error
	Fail(ctx context.Context, authID, reason string) error
}

type JourneyRecorder interface {
	Record(ctx context.Context, e journeyModels.Event) int64
}

// Deps groups the collaborators of a Flow.
type Deps struct {
	Programs       ProgramLookup
	Codec          *statetoken.Codec
	Vault          OAuthClient
	Tokens         TokenIssuer
	Authorizations Authorizations
	Journey        JourneyRecorder
	// BaseURL is the public origin the Identity Vault redirects back to.
	BaseURL string
}

// Flow implements the browser-facing verification steps.
type Flow struct {
	Deps
	logger *slog.Logger
}

type Option func(*Flow)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

func New(deps Deps, opts ...Option) *Flow {
	f := &Flow{Deps: deps, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProgramPage starts a fresh submission for the program: every visit gets a
// new session submit id.
func (f *Flow) ProgramPage(ctx context.Context, slug, rawQuery string, sess *session.Data) (*programModels.Program, error) {
	p, err := f.findProgram(ctx, slug)
	if err != nil {
		return nil, err
	}
	sess.SubmitID = uuid.NewString()

	meta := journeyModels.Metadata{}
	for k, v := range journeyService.DescribeUserAgent(requestcontext.UserAgent(ctx)) {
		meta[k] = v
	}
	meta[journeyModels.MetaQueryParams] = rawQuery
	meta[journeyModels.MetaSubmitID] = sess.SubmitID
	f.Journey.Record(ctx, journeyModels.Event{
		Type:     string(journeyModels.KindProgramPage),
		Program:  p.Slug,
		Metadata: meta,
	})
	return p, nil
}

// AuthorizeURL prepares the redirect flow for program and returns the
// Identity Vault authorize URL. The session receives the state nonce and
// keeps (or gets) its submit id.
func (f *Flow) AuthorizeURL(ctx context.Context, slug, originalParams string, sess *session.Data) (string, error) {
	if slug == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "Program parameter required")
	}
	p, err := f.findProgram(ctx, slug)
	if err != nil {
		return "", err
	}
	if !p.Active {
		return "", dErrors.New(dErrors.CodeForbidden, "Program is inactive")
	}
	if !f.Vault.OAuthConfigured() {
		f.logger.ErrorContext(ctx, "identity vault oauth client is not configured",
			"request_id", requestcontext.RequestID(ctx),
		)
		return "", dErrors.New(dErrors.CodeInternal, MsgServerConfig)
	}

	if sess.SubmitID == "" {
		sess.SubmitID = uuid.NewString()
	}
	state := map[string]any{
		stateProgram:  p.Slug,
		stateSubmitID: sess.SubmitID,
	}
	if op := formurl.SanitizeOriginalParams(originalParams); op != "" {
		state[stateOriginalParams] = op
	}
	token, err := f.encodeState(state, sess)
	if err != nil {
		return "", err
	}
	sess.Program = p.Slug
	return f.Vault.AuthorizeURL(f.BaseURL+RedirectCallbackPath, token), nil
}

// Start is AuthorizeURL for a direct browser navigation; it also records the
// oauth_start journey event.
func (f *Flow) Start(ctx context.Context, slug, originalParams string, sess *session.Data) (string, error) {
	target, err := f.AuthorizeURL(ctx, slug, originalParams, sess)
	if err != nil {
		return "", err
	}
	f.Journey.Record(ctx, journeyModels.Event{
		Type:    string(journeyModels.KindOAuthStart),
		Program: slug,
		Metadata: journeyModels.Metadata{
			journeyModels.MetaUserAgent:      requestcontext.UserAgent(ctx),
			journeyModels.MetaOriginalParams: formurl.SanitizeOriginalParams(originalParams),
			journeyModels.MetaSubmitID:       sess.SubmitID,
		},
	})
	return target, nil
}

func (f *Flow) findProgram(ctx context.Context, slug string) (*programModels.Program, error) {
	p, err := f.Programs.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "Program not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
	}
	return p, nil
}

func (f *Flow) encodeState(payload map[string]any, sess *session.Data) (string, error) {
	nonce, err := statetoken.NewNonce()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate state nonce")
	}
	token, err := f.Codec.Encode(payload, nonce)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign state")
	}
	sess.StateNonce = nonce
	return token, nil
}

func stateString(state map[string]any, key string) string {
	s, _ := state[key].(string)
	return s
}
