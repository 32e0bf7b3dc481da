package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"submit/internal/formurl"
	"submit/internal/identity"
	"submit/internal/identity/vault"
	journeyModels "submit/internal/journey/models"
	"submit/internal/session"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/requestcontext"
)

// Reasons recorded on oauth_failed events.
const (
	ReasonBadState                    = "bad_state"
	ReasonStateNonceMismatch          = "state_nonce_mismatch"
	ReasonTokenExchangeException      = "token_exchange_exception"
	ReasonTokenExchangeFailed         = "token_exchange_failed"
	ReasonUserInfoTimeout             = "user_info_timeout"
	ReasonUserInfoFetchFailed         = "user_info_fetch_failed"
	ReasonRejected                    = "rejected"
	ReasonPendingVerification         = "pending_verification"
	ReasonMissingApprovedVerification = "missing_approved_verification"
	ReasonOver18                      = "over_18"
)

// Alerts shown to the browser after a failed redirect flow.
const (
	AlertDefault         = "Identity verification failed"
	AlertMissingParams   = "Missing authorization code or state"
	AlertRejected        = "Your submission got rejected! Go to identity.hackclub.com for more info."
	AlertPending         = "Your identity verification is pending. Please wait for approval."
	AlertNotApproved     = "We couldn't find an approved verification yet. Visit identity.hackclub.com for more information."
	AlertIneligible      = "YSWS programs are for individuals 18 and under only."
	AlertProgramNotFound = "Program not found"
	AlertProgramClosed   = "This program is closed."
)

// failure describes one oauth_failed event.
type failure struct {
	reason  string
	alert   string
	program string
	who     identity.Identity
	extra   journeyModels.Metadata
	err     error
}

// Callback finishes the redirect flow. On success it returns the program
// form URL carrying the identity reference and scope-permitted fields. Every
// error carries the alert to show the browser as its message.
func (f *Flow) Callback(ctx context.Context, code, stateToken string, sess *session.Data) (string, error) {
	if code == "" || stateToken == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, AlertMissingParams)
	}

	f.Journey.Record(ctx, journeyModels.Event{
		Type: string(journeyModels.KindOAuthCallback),
		Metadata: journeyModels.Metadata{
			journeyModels.MetaUserAgent: requestcontext.UserAgent(ctx),
			"has_code":                  true,
			"has_state":                 true,
		},
	})

	state, ok := f.Codec.Decode(stateToken)
	if !ok {
		return "", f.fail(ctx, failure{reason: ReasonBadState})
	}
	if _, ok := f.Codec.Verify(stateToken, sess.StateNonce); !ok {
		return "", f.fail(ctx, failure{
			reason: ReasonStateNonceMismatch,
			extra:  journeyModels.Metadata{"stored_nonce_blank": sess.StateNonce == ""},
		})
	}
	sess.StateNonce = ""

	submitID := stateString(state, stateSubmitID)
	if submitID == "" {
		submitID = sess.SubmitID
	}
	if submitID == "" {
		submitID = uuid.NewString()
	}
	sess.SubmitID = submitID
	slug := stateString(state, stateProgram)

	user, fl := f.fetchUser(ctx, code, f.BaseURL+RedirectCallbackPath)
	if fl != nil {
		fl.program = slug
		return "", f.fail(ctx, *fl)
	}

	if fl, ok := gate(user, submitID); ok {
		fl.program = slug
		return "", f.fail(ctx, fl)
	}

	identityKey := user.ID()
	p, err := f.findProgram(ctx, slug)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, AlertProgramNotFound)
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, AlertDefault)
	}
	if !p.Active {
		return "", dErrors.New(dErrors.CodeForbidden, AlertProgramClosed)
	}

	finalURL, err := formurl.Build(formurl.Input{
		FormURL:        p.FormURL,
		Mappings:       p.Mappings,
		Scopes:         p.Scopes,
		IdentityKey:    identityKey,
		SubmitID:       submitID,
		Identity:       user,
		OriginalParams: stateString(state, stateOriginalParams),
	})
	if err == nil {
		finalURL, err = formurl.AppendParam(finalURL, "program", p.Slug)
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to build form url",
			"request_id", requestcontext.RequestID(ctx),
			"program", p.Slug,
			"error", err,
		)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, AlertDefault)
	}

	if err := f.Tokens.IssueWithID(ctx, submitID, identityKey, p.Slug); err != nil {
		// the form still opens; verification will report the missing token
		f.logger.ErrorContext(ctx, "failed to issue submit token",
			"request_id", requestcontext.RequestID(ctx),
			"program", p.Slug,
			"error", err,
		)
	}

	names := journeyModels.Metadata{
		journeyModels.MetaFirstName: user.String(identity.FieldFirstName),
		journeyModels.MetaLastName:  user.String(identity.FieldLastName),
		journeyModels.MetaSlackID:   user.String(identity.FieldSlackID),
		journeyModels.MetaSubmitID:  submitID,
	}
	passed := merge(names, journeyModels.Metadata{
		journeyModels.MetaVerificationStatus: user.String(identity.FieldVerificationStatus),
		identity.FieldYSWSEligible:           user[identity.FieldYSWSEligible],
		journeyModels.MetaOriginalParams:     stateString(state, stateOriginalParams),
	})
	f.Journey.Record(ctx, journeyModels.Event{
		Type:     string(journeyModels.KindOAuthPassed),
		Program:  slug,
		IDVRec:   identityKey,
		Email:    user.String(identity.FieldEmail),
		Metadata: passed,
	})
	f.Journey.Record(ctx, journeyModels.Event{
		Type:     string(journeyModels.KindRedirectToForm),
		Program:  slug,
		IDVRec:   identityKey,
		Email:    user.String(identity.FieldEmail),
		Metadata: merge(names, journeyModels.Metadata{journeyModels.MetaFinalURL: finalURL}),
	})
	return finalURL, nil
}

// fetchUser exchanges the code and loads the normalized identity. A failure
// names the reason to record.
func (f *Flow) fetchUser(ctx context.Context, code, redirectURI string) (identity.Identity, *failure) {
	tok, err := f.Vault.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		if vault.KindOf(err) == vault.KindStatus {
			return nil, &failure{
				reason: ReasonTokenExchangeFailed,
				err:    err,
				extra:  journeyModels.Metadata{"http_code": vault.StatusOf(err)},
			}
		}
		return nil, &failure{
			reason: ReasonTokenExchangeException,
			err:    err,
			extra:  journeyModels.Metadata{"error_class": errorClass(err), journeyModels.MetaError: err.Error()},
		}
	}

	user, err := f.Vault.Me(ctx, tok.AccessToken)
	if err != nil {
		if vault.KindOf(err) == vault.KindUnreachable {
			return nil, &failure{
				reason: ReasonUserInfoTimeout,
				err:    err,
				extra:  journeyModels.Metadata{"error_class": errorClass(err), journeyModels.MetaError: err.Error()},
			}
		}
		return nil, &failure{
			reason: ReasonUserInfoFetchFailed,
			err:    err,
			extra:  journeyModels.Metadata{"http_code": vault.StatusOf(err), journeyModels.MetaError: err.Error()},
		}
	}
	return identity.Normalize(user), nil
}

// gate applies the redirect flow's eligibility ladder. It reports the first
// failing rung, if any.
func gate(user identity.Identity, submitID string) (failure, bool) {
	status := user.String(identity.FieldVerificationStatus)
	switch {
	case user.String(identity.FieldRejectionReason) != "":
		return failure{
			reason: ReasonRejected,
			alert:  AlertRejected,
			who:    user,
			extra: journeyModels.Metadata{
				journeyModels.MetaRejectionReason:    user.String(identity.FieldRejectionReason),
				journeyModels.MetaVerificationStatus: status,
				journeyModels.MetaSubmitID:           submitID,
			},
		}, true
	case status == identity.StatusPending:
		return failure{
			reason: ReasonPendingVerification,
			alert:  AlertPending,
			who:    user,
			extra: journeyModels.Metadata{
				journeyModels.MetaVerificationStatus: status,
				journeyModels.MetaSubmitID:           submitID,
			},
		}, true
	case !user.Verified():
		return failure{
			reason: ReasonMissingApprovedVerification,
			alert:  AlertNotApproved,
			who:    user,
			extra: journeyModels.Metadata{
				journeyModels.MetaVerificationStatus: status,
				identity.FieldYSWSEligible:           user[identity.FieldYSWSEligible],
				journeyModels.MetaSubmitID:           submitID,
			},
		}, true
	case !user.Eligible():
		return failure{
			reason: ReasonOver18,
			alert:  AlertIneligible,
			who:    user,
			extra: journeyModels.Metadata{
				identity.FieldYSWSEligible: false,
				journeyModels.MetaSubmitID: submitID,
			},
		}, true
	}
	return failure{}, false
}

// fail records an oauth_failed event and returns the alert as an error.
func (f *Flow) fail(ctx context.Context, fl failure) error {
	if fl.alert == "" {
		fl.alert = AlertDefault
	}
	meta := merge(journeyModels.Metadata{journeyModels.MetaReason: fl.reason}, fl.extra)
	f.logger.WarnContext(ctx, "oauth callback failed",
		"request_id", requestcontext.RequestID(ctx),
		"reason", fl.reason,
		"program", fl.program,
	)
	f.Journey.Record(ctx, journeyModels.Event{
		Type:     string(journeyModels.KindOAuthFailed),
		Program:  fl.program,
		IDVRec:   fl.who.ID(),
		Email:    fl.who.String(identity.FieldEmail),
		Metadata: meta,
	})
	return dErrors.New(dErrors.CodeForbidden, fl.alert)
}

func merge(base, extra journeyModels.Metadata) journeyModels.Metadata {
	out := make(journeyModels.Metadata, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func errorClass(err error) string {
	var ve *vault.Error
	if errors.As(err, &ve) && ve.Err != nil {
		return fmt.Sprintf("%T", ve.Err)
	}
	return fmt.Sprintf("%T", err)
}
