// Package apikey authenticates requests by bearer API key.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ModuleType is the configuration name of this module.
const ModuleType = "apikey"

// PrincipalKey is the Request.Items key holding the authenticated
// principal.
const PrincipalKey = "principal"

// Key is one accepted API key, stored as its SHA-256 hash.
type Key struct {
	Hash      string
	Principal string
}

// Module rejects requests without a valid key during AuthenticateRequest.
type Module struct {
	keys []Key
}

var _ pipeline.Module = (*Module)(nil)

// New creates a module accepting keys.
func New(keys []Key) *Module {
	return &Module{keys: keys}
}

func (m *Module) Init(ev *pipeline.Events) error {
	return ev.On(domain.Stages(domain.StageAuthenticateRequest), m.authenticate)
}

func (m *Module) authenticate(req *pipeline.Request) error {
	token, err := ExtractAPIKey(req.Header.Get("Authorization"))
	if err != nil {
		return deny(err.Error())
	}

	principal, ok := m.lookup(HashAPIKey(token))
	if !ok {
		return deny("invalid API key")
	}
	req.Items[PrincipalKey] = principal
	return nil
}

// lookup compares against every key so timing does not reveal which
// prefix matched.
func (m *Module) lookup(hash string) (string, bool) {
	var principal string
	found := 0
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(k.Hash)) == 1 {
			principal = k.Principal
			found = 1
		}
	}
	return principal, found == 1
}

func (m *Module) Dispose() {}

func deny(reason string) error {
	return &domain.DeniedError{
		StageName: domain.StageAuthenticateRequest.String(),
		Reason:    reason,
		Status:    401,
	}
}

// ExtractAPIKey extracts the API key from an Authorization header value.
func ExtractAPIKey(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

func build(p catalog.Params) (func() pipeline.Module, error) {
	cfg := p.Config.APIKey
	if cfg == nil || len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("%w: apikey requires at least one key", domain.ErrInvalidArgument)
	}

	keys := make([]Key, 0, len(cfg.Keys))
	for i, k := range cfg.Keys {
		hash := strings.ToLower(strings.TrimSpace(k.KeyHash))
		if _, err := hex.DecodeString(hash); err != nil || len(hash) != sha256.Size*2 {
			return nil, fmt.Errorf("%w: apikey keys[%d] is not a SHA-256 hex digest", domain.ErrInvalidArgument, i)
		}
		principal := k.Principal
		if principal == "" {
			principal = hash[:12]
		}
		keys = append(keys, Key{Hash: hash, Principal: principal})
	}

	return func() pipeline.Module { return New(keys) }, nil
}

// Register adds the module to the catalog.
func Register() {
	if catalog.IsRegistered(ModuleType) {
		return
	}
	catalog.RegisterFactory(catalog.Factory{
		Type:        ModuleType,
		Description: "Authenticates requests by bearer API key",
		Build:       build,
	})
}
