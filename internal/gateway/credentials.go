package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/voxgate/voxgate/internal/channel"
)

// CredentialResolver resolves delivery credentials for one (tenant, channel,
// target). target may be empty for the channel-wide default.
type CredentialResolver interface {
	Resolve(tenant, channelName, targetID string) (channel.Credentials, error)
}

// CredentialStore maps (tenant, channel, target) to credentials loaded from
// a JSON config file. The file holds environment variable NAMES, never
// secret values; resolution reads the environment at call time so rotated
// secrets apply without a reload.
//
//	{
//	  "tenants": {
//	    "acme": {
//	      "channels": {
//	        "line": {
//	          "token_env": "ACME_LINE_TOKEN",
//	          "secret_env": "ACME_LINE_SECRET",
//	          "targets": {
//	            "G-dev": {"token_env": "ACME_LINE_DEV_TOKEN"}
//	          }
//	        }
//	      }
//	    }
//	  }
//	}
type CredentialStore struct {
	path   string
	getenv func(string) string

	mu  sync.RWMutex
	cfg credentialsFile
}

var _ CredentialResolver = (*CredentialStore)(nil)

type credentialsFile struct {
	Tenants map[string]tenantCreds `json:"tenants"`
}

type tenantCreds struct {
	Channels map[string]channelCreds `json:"channels"`
}

type channelCreds struct {
	TokenEnv  string                 `json:"token_env"`
	SecretEnv string                 `json:"secret_env"`
	Targets   map[string]targetCreds `json:"targets,omitempty"`
}

type targetCreds struct {
	TokenEnv  string `json:"token_env"`
	SecretEnv string `json:"secret_env"`
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithGetenv overrides environment lookup. Tests inject a map-backed getenv.
func WithGetenv(getenv func(string) string) CredentialOption {
	return func(s *CredentialStore) { s.getenv = getenv }
}

// LoadCredentials reads and parses the credential config at path.
func LoadCredentials(path string, opts ...CredentialOption) (*CredentialStore, error) {
	s := &CredentialStore{path: path, getenv: os.Getenv}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseCredentials builds a store from raw config bytes. Reload is
// unavailable without a backing file.
func ParseCredentials(data []byte, opts ...CredentialOption) (*CredentialStore, error) {
	s := &CredentialStore{getenv: os.Getenv}
	for _, opt := range opts {
		opt(s)
	}
	cfg, err := parseCredentials(data)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

func parseCredentials(data []byte) (credentialsFile, error) {
	var cfg credentialsFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return credentialsFile{}, fmt.Errorf("gateway: parse credentials: %w", err)
	}
	return cfg, nil
}

// Reload re-reads the backing file. The previous config stays active when
// the new one fails to parse.
func (s *CredentialStore) Reload() error {
	if s.path == "" {
		return fmt.Errorf("gateway: reload credentials: no backing file")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("gateway: read credentials: %w", err)
	}
	cfg, err := parseCredentials(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Tenants returns the tenant IDs present in the loaded config, with the
// channels each tenant has credentials for. The gateway derives default
// policy rules from it: a tenant may use exactly the channels it holds
// credentials on.
func (s *CredentialStore) Tenants() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.cfg.Tenants))
	for tenant, tc := range s.cfg.Tenants {
		channels := make([]string, 0, len(tc.Channels))
		for name := range tc.Channels {
			channels = append(channels, name)
		}
		out[tenant] = channels
	}
	return out
}

// Resolve implements CredentialResolver. A target-specific entry overrides
// the channel default field by field; unset fields inherit.
func (s *CredentialStore) Resolve(tenant, channelName, targetID string) (channel.Credentials, error) {
	s.mu.RLock()
	tc, ok := s.cfg.Tenants[tenant]
	s.mu.RUnlock()
	if !ok {
		return channel.Credentials{}, fmt.Errorf("gateway: no credentials for tenant %q", tenant)
	}
	cc, ok := tc.Channels[channelName]
	if !ok {
		return channel.Credentials{}, fmt.Errorf("gateway: no credentials for tenant %q channel %q", tenant, channelName)
	}

	tokenEnv, secretEnv := cc.TokenEnv, cc.SecretEnv
	if targetID != "" {
		if tgt, ok := cc.Targets[targetID]; ok {
			if tgt.TokenEnv != "" {
				tokenEnv = tgt.TokenEnv
			}
			if tgt.SecretEnv != "" {
				secretEnv = tgt.SecretEnv
			}
		}
	}

	if tokenEnv == "" {
		return channel.Credentials{}, fmt.Errorf("gateway: tenant %q channel %q has no token_env", tenant, channelName)
	}
	token := s.getenv(tokenEnv)
	if token == "" {
		return channel.Credentials{}, fmt.Errorf("gateway: credential env %s is empty", tokenEnv)
	}
	creds := channel.Credentials{Token: token}
	if secretEnv != "" {
		creds.Secret = s.getenv(secretEnv)
	}
	return creds, nil
}
