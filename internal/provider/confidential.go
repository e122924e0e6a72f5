package provider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"

	"stealthdca/internal/config"
	"stealthdca/internal/tokens"
)

type Ciphertext struct {
	Value     string `json:"ciphertext"`
	Simulated bool   `json:"simulated"`
}

// Encryptor produces a ciphertext of an amount under an external encryption service.
type Encryptor interface {
	Name() string
	Simulated() bool
	EncryptAmount(ctx context.Context, amount uint64, asset tokens.Token) (*Ciphertext, error)
}

type ConfidentialService struct {
	rest *restClient
}

func NewConfidentialService(cfg config.ProviderConfig) *ConfidentialService {
	return &ConfidentialService{rest: newRestClient("confidential", cfg.BaseURL, cfg.APIKey, "Authorization", cfg.Timeout)}
}

func (c *ConfidentialService) Name() string    { return "confidential" }
func (c *ConfidentialService) Simulated() bool { return false }

func (c *ConfidentialService) Probe(ctx context.Context) error {
	return c.rest.probe(ctx, "/health")
}

func (c *ConfidentialService) EncryptAmount(ctx context.Context, amount uint64, asset tokens.Token) (*Ciphertext, error) {
	in := map[string]string{
		"amount": strconv.FormatUint(amount, 10),
		"mint":   asset.Mint.String(),
	}
	var out Ciphertext
	if err := c.rest.do(ctx, http.MethodPost, "/encrypt", nil, in, &out); err != nil {
		return nil, err
	}
	out.Simulated = false
	return &out, nil
}

// SimulatedEncryptor returns a digest labelled as a placeholder. It hides nothing.
type SimulatedEncryptor struct{}

func (SimulatedEncryptor) Name() string    { return "simulated-confidential" }
func (SimulatedEncryptor) Simulated() bool { return true }

func (SimulatedEncryptor) EncryptAmount(_ context.Context, amount uint64, asset tokens.Token) (*Ciphertext, error) {
	sum := sha256.Sum256([]byte(asset.Symbol + ":" + strconv.FormatUint(amount, 10)))
	return &Ciphertext{Value: "sim:" + base64.RawStdEncoding.EncodeToString(sum[:16]), Simulated: true}, nil
}
