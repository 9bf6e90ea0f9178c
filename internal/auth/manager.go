package auth

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultClientID is the public client registration used for device-code
// sign-in. Override with SetClientID for custom app registrations.
const DefaultClientID = "d2b7b1e2-7aa4-4c6e-9f3a-3c1e5b8f2d10"

// Scopes requested at sign-in. offline_access yields a refresh token.
var Scopes = []string{"Files.ReadWrite", "offline_access", "User.Read"}

// Manager owns the OAuth lifecycle for one profile: device-code sign-in,
// silent refresh via TokenSource, and credential reset.
type Manager struct {
	profile  string
	store    *TokenStore
	oauthCfg *oauth2.Config
	logger   logging.Logger
}

// NewManager creates an auth manager for the given profile
func NewManager(profile string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Manager{
		profile: profile,
		store:   NewTokenStore(),
		oauthCfg: &oauth2.Config{
			ClientID: DefaultClientID,
			Endpoint: microsoft.AzureADEndpoint("common"),
			Scopes:   Scopes,
		},
		logger: logger,
	}
}

// SetClientID overrides the app registration
func (m *Manager) SetClientID(clientID string) {
	m.oauthCfg.ClientID = clientID
}

// Profile returns the profile name this manager serves
func (m *Manager) Profile() string {
	return m.profile
}

// IsAuthenticated reports whether stored credentials exist for the profile.
// It does not guarantee the refresh token is still honored by the server.
func (m *Manager) IsAuthenticated() bool {
	_, err := m.store.Load(m.profile)
	return err == nil
}

// TokenSource returns a self-refreshing token source seeded from the
// keychain. Refreshed tokens are written back so the next process start
// does not need to refresh again.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := m.store.Load(m.profile)
	if err != nil {
		if err == ErrNoToken {
			return nil, utils.NewAppError(utils.NewSyncError(utils.ErrCodeAuthRequired,
				fmt.Sprintf("profile %q is not signed in, run 'odsync auth login'", m.profile)).
				Build())
		}
		return nil, err
	}
	return &persistingTokenSource{
		inner:   m.oauthCfg.TokenSource(ctx, token),
		store:   m.store,
		profile: m.profile,
		last:    token,
	}, nil
}

// Login runs the device-code flow, printing the verification prompt
// through promptFn, and stores the resulting token.
func (m *Manager) Login(ctx context.Context, promptFn func(userCode, verificationURL string)) error {
	deviceAuth, err := m.oauthCfg.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("failed to start device sign-in: %w", err)
	}

	if promptFn != nil {
		promptFn(deviceAuth.UserCode, deviceAuth.VerificationURI)
	}

	token, err := m.oauthCfg.DeviceAccessToken(ctx, deviceAuth)
	if err != nil {
		return fmt.Errorf("device sign-in failed: %w", err)
	}

	if err := m.store.Save(m.profile, token); err != nil {
		return err
	}

	m.logger.Info("Signed in", logging.F("profile", m.profile))
	return nil
}

// Reset discards stored credentials for the profile
func (m *Manager) Reset() error {
	if err := m.store.Delete(m.profile); err != nil {
		return err
	}
	m.logger.Info("Credentials cleared", logging.F("profile", m.profile))
	return nil
}

// persistingTokenSource writes refreshed tokens back to the keychain
type persistingTokenSource struct {
	inner   oauth2.TokenSource
	store   *TokenStore
	profile string
	last    *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, utils.NewAppError(utils.NewSyncError(utils.ErrCodeAuthExpired,
			fmt.Sprintf("token refresh failed: %v", err)).
			WithContext("profile", p.profile).
			Build())
	}
	if token.AccessToken != p.last.AccessToken {
		p.last = token
		// Persisting is best-effort; a failed write only costs a refresh
		// on the next start
		_ = p.store.Save(p.profile, token)
	}
	return token, nil
}
