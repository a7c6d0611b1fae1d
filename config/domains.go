package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Domain beschreibt ein anerkanntes Fachgebiet.
type Domain struct {
	Tag        string `yaml:"tag"`
	HighImpact bool   `yaml:"high_impact"`
	// MinReviews überschreibt das Policy-Quorum für dieses Fachgebiet (0 = Default).
	MinReviews int `yaml:"min_reviews"`
}

// DomainRegistry hält alle anerkannten Fachgebiete und die wenigen
// Scroll-IDs, auf die Vorwärtszitate ausnahmsweise erlaubt sind.
type DomainRegistry struct {
	Domains []Domain `yaml:"domains"`
	// ForwardExceptions: Ziel-IDs, die zitiert werden dürfen, bevor sie
	// publiziert sind (ko-temporale Einreichungen).
	ForwardExceptions []string `yaml:"forward_exceptions"`

	byTag map[string]Domain
	fwd   map[string]bool
}

// DefaultRegistry liefert die eingebaute Registry, falls keine Datei vorliegt.
func DefaultRegistry() *DomainRegistry {
	r := &DomainRegistry{
		Domains: []Domain{
			{Tag: "ai-theory", HighImpact: true},
			{Tag: "ai-safety", HighImpact: true},
			{Tag: "cryptography", HighImpact: true},
			{Tag: "systems"},
			{Tag: "biology"},
			{Tag: "mathematics"},
			{Tag: "economics"},
		},
	}
	r.index()
	return r
}

// LoadRegistry liest die Domain-Registry aus einer YAML-Datei.
func LoadRegistry(path string) (*DomainRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain registry: %w", err)
	}
	var r DomainRegistry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse domain registry: %w", err)
	}
	if len(r.Domains) == 0 {
		return nil, fmt.Errorf("domain registry %s contains no domains", path)
	}
	r.index()
	return &r, nil
}

func (r *DomainRegistry) index() {
	r.byTag = make(map[string]Domain, len(r.Domains))
	for _, d := range r.Domains {
		r.byTag[d.Tag] = d
	}
	r.fwd = make(map[string]bool, len(r.ForwardExceptions))
	for _, id := range r.ForwardExceptions {
		r.fwd[id] = true
	}
}

// Tags liefert die anerkannten Domain-Tags in Registry-Reihenfolge.
func (r *DomainRegistry) Tags() []string {
	tags := make([]string, 0, len(r.Domains))
	for _, d := range r.Domains {
		tags = append(tags, d.Tag)
	}
	return tags
}

// Recognized meldet, ob ein Domain-Tag anerkannt ist.
func (r *DomainRegistry) Recognized(tag string) bool {
	_, ok := r.byTag[tag]
	return ok
}

// HighImpact meldet, ob ein Fachgebiet als high-impact markiert ist.
func (r *DomainRegistry) HighImpact(tag string) bool {
	return r.byTag[tag].HighImpact
}

// Quorum liefert das Review-Minimum für ein Fachgebiet.
func (r *DomainRegistry) Quorum(tag string, policy PolicyConfig) int {
	d, ok := r.byTag[tag]
	if ok && d.MinReviews > 0 {
		return d.MinReviews
	}
	if ok && d.HighImpact {
		return policy.MinReviewsHighImpact
	}
	return policy.MinReviewsNormal
}

// ForwardReferenceAllowed meldet, ob ein unveröffentlichtes Ziel
// ausnahmsweise zitiert werden darf.
func (r *DomainRegistry) ForwardReferenceAllowed(scrollID string) bool {
	return r.fwd[scrollID]
}
