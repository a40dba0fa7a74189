// Package tenant exposes per-tenant extraction policy: budget ceilings, LLM limits and the
// escalation threshold.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
)

// DefaultKey is the policy entry applied to tenants without their own block.
const DefaultKey = "default"

// Policy is the tenant configuration consumed by the engine. Zero limits are unlimited.
type Policy struct {
	DefaultCurrency      string   `yaml:"default_currency" json:"default_currency"`
	DailySpendCeilingUSD float64  `yaml:"daily_spend_ceiling_usd" json:"daily_spend_ceiling_usd"`
	MaxPages             int      `yaml:"max_pages" json:"max_pages"`
	MaxTokens            int      `yaml:"max_tokens" json:"max_tokens"`
	EscalationConfidence float64  `yaml:"escalation_confidence" json:"escalation_confidence"`
	CustomerReferences   []string `yaml:"customer_references" json:"customer_references"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		EscalationConfidence: constants.EscalationConfidence,
		MaxTokens:            constants.DefaultVisionTokensPerBatch * 4,
	}
}

// Provider looks up the policy for a tenant.
type Provider interface {
	Policy(ctx context.Context, tenantID string) (Policy, error)
}

// StaticProvider serves policies parsed from a YAML document keyed by tenant id.
type StaticProvider struct {
	logger   *slog.Logger
	policies map[string]Policy
}

// NewStaticProvider parses raw YAML. A missing default entry falls back to DefaultPolicy.
func NewStaticProvider(logger *slog.Logger, raw []byte) (*StaticProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policies := map[string]Policy{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &policies); err != nil {
			return nil, fmt.Errorf("parse tenant policies: %w", err)
		}
	}
	def, ok := policies[DefaultKey]
	if !ok {
		def = DefaultPolicy()
	}
	policies[DefaultKey] = fillDefaults(def, DefaultPolicy())
	for id, p := range policies {
		if id != DefaultKey {
			policies[id] = fillDefaults(p, policies[DefaultKey])
		}
		if err := validatePolicy(policies[id]); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", id, err)
		}
	}
	return &StaticProvider{logger: logger, policies: policies}, nil
}

// LoadStaticProvider reads the policy file at path; an empty path yields defaults only.
func LoadStaticProvider(logger *slog.Logger, path string) (*StaticProvider, error) {
	if path == "" {
		return NewStaticProvider(logger, nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant policies: %w", err)
	}
	return NewStaticProvider(logger, raw)
}

func (p *StaticProvider) Policy(_ context.Context, tenantID string) (Policy, error) {
	if pol, ok := p.policies[tenantID]; ok {
		return pol, nil
	}
	p.logger.Debug("tenant.policy.default", "tenant_id", tenantID)
	return p.policies[DefaultKey], nil
}

func validatePolicy(p Policy) error {
	v := common.NewValidator()
	v.Field("default_currency", p.DefaultCurrency, common.CurrencyCode)
	v.Field("escalation_confidence", p.EscalationConfidence, common.Between(0, 1))
	v.Field("daily_spend_ceiling_usd", p.DailySpendCeilingUSD, common.Between(0, math.MaxFloat64))
	v.Field("max_pages", p.MaxPages, common.Between(0, math.MaxInt32))
	v.Field("max_tokens", p.MaxTokens, common.Between(0, math.MaxInt32))
	return v.Error()
}

func fillDefaults(p, def Policy) Policy {
	if p.DefaultCurrency == "" {
		p.DefaultCurrency = def.DefaultCurrency
	}
	p.DefaultCurrency = strings.ToUpper(p.DefaultCurrency)
	if p.DailySpendCeilingUSD == 0 {
		p.DailySpendCeilingUSD = def.DailySpendCeilingUSD
	}
	if p.MaxPages == 0 {
		p.MaxPages = def.MaxPages
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = def.MaxTokens
	}
	if p.EscalationConfidence == 0 {
		p.EscalationConfidence = def.EscalationConfidence
	}
	return p
}
