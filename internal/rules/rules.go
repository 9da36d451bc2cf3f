package rules

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

//go:embed rules.json
var embeddedRules embed.FS

// Rule is one operator-authored extraction rule, scoped to a domain or to a
// (domain, product-name-pattern) pair. Rules are loaded once at startup and
// immutable during a run.
type Rule struct {
	Domain         string   `json:"domain" validate:"required,fqdn"`
	ProductPattern string   `json:"product_pattern,omitempty"`
	URLPattern     string   `json:"url_pattern,omitempty"`
	Selectors      []string `json:"selectors,omitempty" validate:"dive,min=1"`
	Blacklist      []string `json:"blacklist,omitempty" validate:"dive,min=1"`
	MinPrice       float64  `json:"min_price,omitempty" validate:"gte=0"`
	MaxPrice       float64  `json:"max_price,omitempty" validate:"gte=0"`

	AvoidMetaTags       bool   `json:"avoid_meta_tags,omitempty"`
	RequiresInteraction bool   `json:"requires_interaction,omitempty"`
	DefaultVariant      string `json:"default_variant,omitempty"`
}

// ruleFile is the on-disk shape of the rule config.
type ruleFile struct {
	Rules []Rule `json:"rules" validate:"dive"`
}

// Resolved is the merged view handed to one extraction attempt: the
// product-specific and domain-default selector lists stay separate because
// they are distinct pipeline tiers.
type Resolved struct {
	Domain              string
	ProductSelectors    []string
	DomainSelectors     []string
	Blacklist           []string
	MinPrice            float64
	MaxPrice            float64
	AvoidMetaTags       bool
	RequiresInteraction bool
	DefaultVariant      string
}

// HasRange reports whether the rule carries an expected price range.
func (r Resolved) HasRange() bool { return r.MaxPrice > 0 }

// InRange checks a value against the expected range; rules without a range
// accept everything.
func (r Resolved) InRange(v float64) bool {
	if !r.HasRange() {
		return true
	}
	return v >= r.MinPrice && v <= r.MaxPrice
}

// Resolver answers RulesFor lookups with explicit precedence:
// product-specific rule over domain default over the empty heuristic rule.
type Resolver struct {
	byDomain map[string][]Rule
}

// NewResolver validates every rule and fails fast on malformed input.
func NewResolver(all []Rule) (*Resolver, error) {
	v := validator.New()
	byDomain := make(map[string][]Rule)
	for i, rule := range all {
		if err := v.Struct(rule); err != nil {
			return nil, fmt.Errorf("rule %d (domain %q) is invalid: %w", i, rule.Domain, err)
		}
		if rule.MaxPrice > 0 && rule.MinPrice > rule.MaxPrice {
			return nil, fmt.Errorf("rule %d (domain %q): min_price %.2f exceeds max_price %.2f",
				i, rule.Domain, rule.MinPrice, rule.MaxPrice)
		}
		d := strings.ToLower(rule.Domain)
		byDomain[d] = append(byDomain[d], rule)
	}
	return &Resolver{byDomain: byDomain}, nil
}

// RulesFor resolves the effective rule for one extraction. A
// product-specific rule must match the product name and, when it declares a
// URL pattern, the URL as well. Missing scopes degrade to pure heuristic
// mode (an empty Resolved).
func (r *Resolver) RulesFor(domain, productName, rawURL string) Resolved {
	resolved := Resolved{Domain: domain}

	candidates := r.byDomain[strings.ToLower(domain)]
	name := strings.ToLower(productName)
	urlLower := strings.ToLower(rawURL)

	var product, domainDefault *Rule
	for i := range candidates {
		rule := &candidates[i]
		if rule.ProductPattern == "" {
			if domainDefault == nil {
				domainDefault = rule
			}
			continue
		}
		if product != nil {
			continue
		}
		if !strings.Contains(name, strings.ToLower(rule.ProductPattern)) {
			continue
		}
		if rule.URLPattern != "" && !strings.Contains(urlLower, strings.ToLower(rule.URLPattern)) {
			continue
		}
		product = rule
	}

	if domainDefault != nil {
		resolved.DomainSelectors = domainDefault.Selectors
		resolved.Blacklist = append(resolved.Blacklist, domainDefault.Blacklist...)
		resolved.MinPrice = domainDefault.MinPrice
		resolved.MaxPrice = domainDefault.MaxPrice
		resolved.AvoidMetaTags = domainDefault.AvoidMetaTags
		resolved.RequiresInteraction = domainDefault.RequiresInteraction
		resolved.DefaultVariant = domainDefault.DefaultVariant
	}
	if product != nil {
		resolved.ProductSelectors = product.Selectors
		resolved.Blacklist = append(resolved.Blacklist, product.Blacklist...)
		if product.MaxPrice > 0 {
			resolved.MinPrice = product.MinPrice
			resolved.MaxPrice = product.MaxPrice
		}
		if product.AvoidMetaTags {
			resolved.AvoidMetaTags = true
		}
		if product.RequiresInteraction {
			resolved.RequiresInteraction = true
		}
		if product.DefaultVariant != "" {
			resolved.DefaultVariant = product.DefaultVariant
		}
	}

	return resolved
}

// Load tries rule sources in order: embedded rules.json, then the external
// override file, then an empty rule set (pure heuristic mode everywhere).
func Load(externalPath string) (*Resolver, error) {
	if data, err := embeddedRules.ReadFile("rules.json"); err == nil {
		if res, parseErr := parse(data); parseErr == nil {
			if externalPath != "" {
				if fileRes, fileErr := loadFile(externalPath); fileErr == nil {
					slog.Info("Loaded extraction rules from external file", "path", externalPath)
					return fileRes, nil
				} else if !errors.Is(fileErr, os.ErrNotExist) {
					slog.Warn("Failed to load external rules override, using embedded rules",
						"path", externalPath, "error", fileErr)
				}
			}
			slog.Info("Loaded extraction rules from embedded config")
			return res, nil
		} else {
			return nil, fmt.Errorf("embedded rules are invalid: %w", parseErr)
		}
	}

	if externalPath != "" {
		if res, err := loadFile(externalPath); err == nil {
			slog.Info("Loaded extraction rules from external file", "path", externalPath)
			return res, nil
		} else {
			slog.Warn("Failed to load external rules, running in heuristic mode", "path", externalPath, "error", err)
		}
	}
	return NewResolver(nil)
}

func loadFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Resolver, error) {
	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule config JSON: %w", err)
	}
	return NewResolver(file.Rules)
}
