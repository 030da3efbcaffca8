package interfaces

import "context"

// TokenKey is one key as reported by the signer gateway.
type TokenKey struct {
	ID        string `json:"id"`
	Usage     string `json:"usage"`
	Available bool   `json:"available"`
}

// Token is one cryptographic token (HSM slot or software token) as reported
// by the signer gateway.
type Token struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Active    bool       `json:"active"`    // logged in
	Available bool       `json:"available"` // reachable
	Keys      []TokenKey `json:"keys"`
}

// TokenChoice is a token offered to the operator for key generation.
type TokenChoice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Usable bool   `json:"usable"`
}

// SignerGateway is the remote token/HSM service holding the actual key
// material. It is independently operated and possibly offline: every call can
// fail, no call is retried transparently, and local state must stay usable
// while it is down.
type SignerGateway interface {
	ListTokens(ctx context.Context) ([]Token, error)
	GenerateKey(ctx context.Context, tokenID string) (keyID string, err error)
	DeleteKey(ctx context.Context, keyID string, force bool) error
	InitializeToken(ctx context.Context, tokenID string, pin []byte) error
	LogoutToken(ctx context.Context, tokenID string) error
}

// KeyAnnotation is a local key record annotated with availability reported by
// the signer gateway. Gateway-derived fields stay false when the gateway is
// unreachable.
type KeyAnnotation struct {
	Key            SigningKey `json:"key"`
	Active         bool       `json:"active"`
	TokenLabel     string     `json:"token_label"`
	TokenActive    bool       `json:"token_active"`
	TokenAvailable bool       `json:"token_available"`
	KeyAvailable   bool       `json:"key_available"`
}
