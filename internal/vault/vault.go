// Package vault resolves per-user provider credentials (C9 Key Vault).
//
// Keys are stored encrypted in the document store's api_keys collection,
// looked up by (user_id, service_name, is_active). Encryption uses AES-GCM
// with a single master key — the corpus carries no third-party secrets-
// management client (Vault, KMS SDK, …), so this is implemented on the
// standard library's crypto/aes and crypto/cipher, the idiomatic minimum for
// symmetric at-rest encryption (see DESIGN.md).
//
// Results are not cached here: callers (internal/call.Session) own a
// per-session cache so a decrypted secret never outlives the call that
// requested it.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Radicalscale/virevo/pkg/docstore"
)

// ErrKeyMissing is the domain error raised when no credential can be
// resolved for a (user, provider) pair, after alias resolution and pattern
// fallback have both been tried.
var ErrKeyMissing = errors.New("vault: no key available for provider")

// serviceAliases maps an agent-configured or caller-provided service name to
// its canonical stored service_name.
var serviceAliases = map[string]string{
	"xai":   "grok",
	"x.ai":  "grok",
	"gpt":   "openai",
	"gpt-4": "openai",
	"gpt-5": "openai",
	"claude": "anthropic",
	"google": "gemini",
}

// knownPrefixes maps a canonical provider name to the key-format prefix used
// by its pattern-fallback lookup.
var knownPrefixes = map[string]string{
	"openai":      "sk-",
	"grok":        "xai-",
	"anthropic":   "sk-ant-",
	"gemini":      "AIza",
	"elevenlabs":  "sk_",
}

// canonicalService resolves an alias to its canonical service_name; if
// service is not a known alias it is returned unchanged.
func canonicalService(service string) string {
	if canon, ok := serviceAliases[strings.ToLower(service)]; ok {
		return canon
	}
	return service
}

// Vault resolves and decrypts provider API keys.
type Vault struct {
	store     docstore.Store
	masterKey []byte
}

// New creates a Vault backed by store, decrypting with masterKey (must be
// 16, 24, or 32 bytes — AES-128/192/256).
func New(store docstore.Store, masterKey []byte) (*Vault, error) {
	if _, err := aes.NewCipher(masterKey); err != nil {
		return nil, fmt.Errorf("vault: invalid master key: %w", err)
	}
	return &Vault{store: store, masterKey: masterKey}, nil
}

// GetKey resolves the active API key for (userID, serviceName). serviceName
// may be a raw provider name or a recognized alias (see serviceAliases).
//
// Resolution order: exact (user, canonical service) lookup; then, on miss,
// a pattern-fallback scan of the user's active keys stored under the
// catch-all service_name "generic" for one whose decrypted value starts with
// the canonical provider's known prefix. On
// total miss, returns ErrKeyMissing wrapping the provider name.
func (v *Vault) GetKey(ctx context.Context, userID, serviceName string) (string, error) {
	canon := canonicalService(serviceName)

	keys, err := v.store.ListAPIKeys(ctx, userID, canon)
	if err != nil {
		return "", fmt.Errorf("vault: list keys for %q: %w", canon, err)
	}
	if len(keys) > 0 {
		secret, err := v.decrypt(keys[0].EncryptedKey)
		if err != nil {
			return "", fmt.Errorf("vault: decrypt key %q: %w", keys[0].ID, err)
		}
		_ = v.store.TouchAPIKey(ctx, keys[0].ID)
		return secret, nil
	}

	if secret, id, ok := v.patternFallback(ctx, userID, canon); ok {
		_ = v.store.TouchAPIKey(ctx, id)
		return secret, nil
	}

	return "", fmt.Errorf("%w: %s", ErrKeyMissing, canon)
}

// patternFallback scans the user's active keys stored under the service_name
// "generic" for one whose decrypted value matches the canonical provider's
// known key prefix. Keys stored under other service names are not scanned.
func (v *Vault) patternFallback(ctx context.Context, userID, canon string) (secret string, id string, ok bool) {
	prefix, known := knownPrefixes[canon]
	if !known {
		return "", "", false
	}

	// api_keys has no "list all services for a user" lookup in the
	// contract (§6); the generic service_name is conventionally "generic"
	// for catch-all keys, matching how the original stores a fallback key.
	keys, err := v.store.ListAPIKeys(ctx, userID, "generic")
	if err != nil {
		return "", "", false
	}
	for _, k := range keys {
		plain, err := v.decrypt(k.EncryptedKey)
		if err != nil {
			continue
		}
		if strings.HasPrefix(plain, prefix) {
			return plain, k.ID, true
		}
	}
	return "", "", false
}

// decrypt reverses Encrypt.
func (v *Vault) decrypt(ciphertext []byte) (string, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt encrypts plaintext with the vault's master key. Exposed for
// provisioning tooling (seeding api_keys rows); the core itself never
// encrypts, only decrypts.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}
