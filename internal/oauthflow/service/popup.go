package service

import (
	"context"

	"github.com/google/uuid"

	"submit/internal/identity"
	journeyModels "submit/internal/journey/models"
	programModels "submit/internal/program/models"
	"submit/internal/session"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/requestcontext"
)

// Popup messages.
const (
	MsgPopupExpired       = "Authorization request not found or expired"
	MsgPopupProgram       = "Program not found or inactive"
	MsgPopupInvalidState  = "Invalid state token"
	MsgPopupStateMismatch = "State verification failed"
	MsgPopupAuthIDMissing = "Authorization ID missing"
	MsgPopupAuthFailed    = "Authentication failed"
	MsgPopupRejected      = "Your submission was rejected. Visit identity.hackclub.com for more info."
	MsgPopupIneligible    = "YSWS programs are for individuals 18 and under only"
)

// PopupView is what the popup page needs to send the user to the vault.
type PopupView struct {
	AuthID   string
	Program  *programModels.Program
	OAuthURL string
}

// PopupResult describes a completed popup authorization.
type PopupResult struct {
	AuthID   string
	Program  string
	SubmitID string
}

// PopupStart prepares the vault redirect for a pending authorization
// request. It never expires the request; only status reads do.
func (f *Flow) PopupStart(ctx context.Context, authID string, sess *session.Data) (*PopupView, error) {
	req, err := f.Authorizations.Pending(ctx, authID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeGone, MsgPopupExpired)
	}
	p, err := f.Programs.FindBySlug(ctx, req.Program)
	if err != nil || !p.Active {
		return nil, dErrors.New(dErrors.CodeNotFound, MsgPopupProgram)
	}

	token, err := f.encodeState(map[string]any{
		stateProgram:  p.Slug,
		stateSubmitID: uuid.NewString(),
		stateAuthID:   req.AuthID,
	}, sess)
	if err != nil {
		return nil, err
	}
	sess.AuthID = req.AuthID
	return &PopupView{
		AuthID:   req.AuthID,
		Program:  p,
		OAuthURL: f.Vault.AuthorizeURL(f.BaseURL+PopupCallbackPath, token),
	}, nil
}

// PopupCallback completes the authorization request with the scope-filtered
// identity and issues the submit token carried in the state. Failures after
// the request is known move it to failed.
func (f *Flow) PopupCallback(ctx context.Context, code, stateToken string, sess *session.Data) (*PopupResult, error) {
	if code == "" || stateToken == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, AlertMissingParams)
	}
	state, ok := f.Codec.Decode(stateToken)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, MsgPopupInvalidState)
	}
	if _, ok := f.Codec.Verify(stateToken, sess.StateNonce); !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, MsgPopupStateMismatch)
	}

	authID := stateString(state, stateAuthID)
	if authID == "" {
		authID = sess.AuthID
	}
	if authID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, MsgPopupAuthIDMissing)
	}
	req, err := f.Authorizations.Pending(ctx, authID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeGone, MsgPopupExpired)
	}

	user, fl := f.fetchUser(ctx, code, f.BaseURL+PopupCallbackPath)
	if fl != nil {
		f.popupError(ctx, authID, req.Program, fl.reason, fl.err)
		return nil, dErrors.Wrap(fl.err, dErrors.CodeUpstream, MsgPopupAuthFailed)
	}
	if reason, msg, ok := popupGate(user); ok {
		f.popupError(ctx, authID, req.Program, reason, nil)
		return nil, dErrors.New(dErrors.CodeForbidden, msg)
	}

	// a missing program falls back to the minimal field set
	var p *programModels.Program
	if found, err := f.Programs.FindBySlug(ctx, req.Program); err == nil {
		p = found
	}
	idvRec := user.ID()
	if err := f.Authorizations.Complete(ctx, authID, idvRec, programModels.FilterIdentity(p, user)); err != nil {
		f.recordPopupError(ctx, authID, req.Program, "complete_failed", err)
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeGone, MsgPopupExpired)
	}

	submitID := stateString(state, stateSubmitID)
	if submitID == "" {
		submitID = uuid.NewString()
	}
	if err := f.Tokens.IssueWithID(ctx, submitID, idvRec, req.Program); err != nil {
		f.logger.ErrorContext(ctx, "failed to issue submit token",
			"request_id", requestcontext.RequestID(ctx),
			"auth_id", authID,
			"error", err,
		)
	}

	f.Journey.Record(ctx, journeyModels.Event{
		Type:    string(journeyModels.KindPopupOAuthSuccess),
		Program: req.Program,
		IDVRec:  idvRec,
		Email:   user.String(identity.FieldEmail),
		Metadata: journeyModels.Metadata{
			journeyModels.MetaAuthID:             authID,
			journeyModels.MetaSubmitID:           submitID,
			journeyModels.MetaFirstName:          user.String(identity.FieldFirstName),
			journeyModels.MetaLastName:           user.String(identity.FieldLastName),
			journeyModels.MetaVerificationStatus: user.String(identity.FieldVerificationStatus),
		},
	})
	sess.StateNonce = ""
	sess.AuthID = ""
	return &PopupResult{AuthID: authID, Program: req.Program, SubmitID: submitID}, nil
}

// popupGate reports why a fetched identity cannot complete a popup request.
func popupGate(user identity.Identity) (reason, msg string, failed bool) {
	switch {
	case user.String(identity.FieldVerificationStatus) == identity.StatusPending:
		return ReasonPendingVerification, AlertPending, true
	case user.String(identity.FieldVerificationStatus) == "rejected":
		return ReasonRejected, MsgPopupRejected, true
	case !user.Verified():
		return ReasonMissingApprovedVerification, AlertNotApproved, true
	case !user.Eligible():
		return ReasonOver18, MsgPopupIneligible, true
	}
	return "", "", false
}

// popupError fails the request and records popup_oauth_error. Both writes
// are best-effort.
func (f *Flow) popupError(ctx context.Context, authID, program, reason string, cause error) {
	if err := f.Authorizations.Fail(ctx, authID, reason); err != nil {
		f.logger.WarnContext(ctx, "failed to mark authorization request failed",
			"request_id", requestcontext.RequestID(ctx),
			"auth_id", authID,
			"error", err,
		)
	}
	f.recordPopupError(ctx, authID, program, reason, cause)
}

func (f *Flow) recordPopupError(ctx context.Context, authID, program, reason string, cause error) {
	meta := journeyModels.Metadata{
		journeyModels.MetaAuthID: authID,
		journeyModels.MetaReason: reason,
	}
	if cause != nil {
		meta[journeyModels.MetaError] = cause.Error()
		meta["error_class"] = errorClass(cause)
	}
	f.Journey.Record(ctx, journeyModels.Event{
		Type:     string(journeyModels.KindPopupOAuthError),
		Program:  program,
		Metadata: meta,
	})
}
