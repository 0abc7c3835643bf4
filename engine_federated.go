package patAuth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/federated"
)

const federatedPasswordBytes = 32

// AuthenticateWithProvider signs a user in with an identity-provider ID
// token and returns a token pair.
//
// The user is found by provider subject, then by verified email (linking
// the subject), and is otherwise created when Federated.AllowRegistration is
// set. Usernames for new users come from the email local part with a
// numeric suffix until unique.
//
//	Flow: verify -> audience -> expiry -> find/link/create -> issue pair
func (e *Engine) AuthenticateWithProvider(ctx context.Context, idToken string, cc ClientContext) (FederatedResult, error) {
	if e == nil || !e.flows.Initialized() {
		return FederatedResult{}, ErrEngineNotReady
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return FederatedResult{}, ErrProviderTokenMissing
	}
	if !e.federatedReady() {
		e.logger.Error("federated sign-in requested but not configured")
		return FederatedResult{}, ErrProviderNotConfigured
	}
	if _, err := e.signingManager(); err != nil {
		e.logger.Error("federated sign-in refused", zap.Error(err))
		return FederatedResult{}, err
	}
	cc = e.clientContext(ctx, cc)

	info, err := e.verifyProviderToken(ctx, idToken)
	if err != nil {
		e.metricInc(MetricFederatedFailure)
		e.logger.Info("provider token rejected", zap.Error(err))
		return FederatedResult{}, err
	}

	user, linked, created, err := e.resolveFederatedUser(ctx, info)
	if err != nil {
		e.metricInc(MetricFederatedFailure)
		e.logger.Warn("federated user resolution failed", zap.String("subject", info.Subject), zap.Error(err))
		return FederatedResult{}, err
	}
	if created {
		e.metricInc(MetricFederatedUserCreated)
	}

	issued, res, err := e.issueFor(ctx, user, cc)
	if err != nil {
		e.metricInc(MetricFederatedFailure)
		return FederatedResult{}, err
	}
	refresh := e.flows.IssueRefresh(ctx, user.ID, res.PAT)
	if refresh.Err != nil {
		e.metricInc(MetricFederatedFailure)
		e.logger.Warn("refresh token issue failed", zap.String("user_id", user.ID), zap.String("pat", res.PAT), zap.Error(refresh.Err))
		return FederatedResult{}, refresh.Err
	}
	e.metricInc(MetricRefreshIssued)
	e.metricInc(MetricFederatedSuccess)

	return FederatedResult{
		Token:           issued.Token,
		RefreshToken:    refresh.Token,
		PAT:             issued.PAT,
		User:            user,
		ProviderSubject: info.Subject,
		Created:         created,
		Linked:          linked,
	}, nil
}

// ProviderUserInfo returns the local account of userID with its provider
// link, if any.
func (e *Engine) ProviderUserInfo(ctx context.Context, userID string) (ProviderUserInfo, error) {
	if e == nil || !e.flows.Initialized() {
		return ProviderUserInfo{}, ErrEngineNotReady
	}
	if e.providers == nil {
		return ProviderUserInfo{}, ErrProviderNotConfigured
	}

	user, err := e.findUserByID(ctx, userID)
	if err != nil {
		return ProviderUserInfo{}, err
	}
	out := ProviderUserInfo{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}

	identity, err := directoryCall(e, ctx, func(ctx context.Context) (ProviderIdentity, error) {
		return e.providers.ProviderIdentity(ctx, user.ID, e.config.Federated.Provider)
	})
	switch {
	case err == nil:
		out.ProviderSubject = identity.Subject
		out.ProviderEmail = identity.Email
		out.Linked = identity.Linked
	case errors.Is(err, ErrProviderIdentityNotFound):
	default:
		return ProviderUserInfo{}, err
	}
	return out, nil
}

func (e *Engine) federatedReady() bool {
	return e.config.Federated.Enabled &&
		e.config.Federated.ClientID != "" &&
		e.verifier != nil &&
		e.providers != nil
}

func (e *Engine) verifyProviderToken(ctx context.Context, idToken string) (*federated.TokenInfo, error) {
	info, err := e.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, federated.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: %v", ErrProviderTokenInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderVerification, err)
	}
	if info.Audience != e.config.Federated.ClientID {
		return nil, ErrProviderAudience
	}
	if info.ExpiresAt <= e.now().Unix() {
		return nil, ErrProviderTokenExpired
	}
	return info, nil
}

func (e *Engine) resolveFederatedUser(ctx context.Context, info *federated.TokenInfo) (User, bool, bool, error) {
	provider := e.config.Federated.Provider

	user, err := directoryCall(e, ctx, func(ctx context.Context) (User, error) {
		return e.providers.FindByProviderSubject(ctx, provider, info.Subject)
	})
	if err == nil {
		return user, false, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, false, err
	}

	identity := ProviderIdentity{Provider: provider, Subject: info.Subject, Email: info.Email, Linked: true}

	// Only a verified email may link an existing account.
	if info.Email != "" && info.EmailVerified {
		user, err = directoryCall(e, ctx, func(ctx context.Context) (User, error) {
			return e.users.FindByEmail(ctx, info.Email)
		})
		if err == nil {
			if err := e.linkProvider(ctx, user.ID, identity); err != nil {
				return User{}, false, false, err
			}
			return user, true, false, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return User{}, false, false, err
		}
	}

	if !e.config.Federated.AllowRegistration {
		return User{}, false, false, ErrRegistrationDisabled
	}
	user, err = e.createFederatedUser(ctx, info)
	if err != nil {
		return User{}, false, false, err
	}
	if err := e.linkProvider(ctx, user.ID, identity); err != nil {
		return User{}, false, false, err
	}
	return user, true, true, nil
}

func (e *Engine) linkProvider(ctx context.Context, userID string, identity ProviderIdentity) error {
	_, err := directoryCall(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.providers.LinkProviderIdentity(ctx, userID, identity)
	})
	return err
}

func (e *Engine) createFederatedUser(ctx context.Context, info *federated.TokenInfo) (User, error) {
	base := federated.UsernameFromEmail(info.Email)
	username, err := federated.UniqueUsername(ctx, base, func(ctx context.Context, candidate string) (bool, error) {
		_, err := directoryCall(e, ctx, func(ctx context.Context) (User, error) {
			return e.users.FindByLogin(ctx, candidate)
		})
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return User{}, errors.Join(ErrUserCreationFailed, err)
	}

	secret := make([]byte, federatedPasswordBytes)
	if _, err := io.ReadFull(e.random, secret); err != nil {
		return User{}, errors.Join(ErrUserCreationFailed, err)
	}

	display := info.Name
	if display == "" {
		display = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}
	if display == "" {
		display = username
	}

	email := ""
	if info.EmailVerified {
		email = info.Email
	}
	user, err := directoryCall(e, ctx, func(ctx context.Context) (User, error) {
		return e.providers.CreateUser(ctx, NewUser{
			Username:    username,
			Email:       email,
			DisplayName: display,
			FirstName:   info.GivenName,
			LastName:    info.FamilyName,
			Password:    hex.EncodeToString(secret),
		})
	})
	if err != nil {
		return User{}, errors.Join(ErrUserCreationFailed, err)
	}
	e.logger.Info("federated user created", zap.String("user_id", user.ID), zap.String("username", username))
	return user, nil
}
