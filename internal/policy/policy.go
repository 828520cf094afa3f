package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"findsanity/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

const (
	ProfileAnalysis   = "analysis"
	ProfileModeration = "moderation"
)

const (
	TemplateSafety     = "safety"
	TemplateAnonymize  = "anonymize"
	TemplateUnified    = "unified"
	TemplateModeration = "moderation"
)

var requiredTemplates = []string{TemplateSafety, TemplateAnonymize, TemplateUnified, TemplateModeration}

type IntentPolicy struct {
	Instructions string `yaml:"instructions"`
	ClearAsk     string `yaml:"clear_ask"`
}

type Template struct {
	Profile   string `yaml:"profile"`
	MaxTokens int    `yaml:"max_tokens"`
	Body      string `yaml:"body"`

	compiled *template.Template
}

// Policy is the tunable text that drives every classifier pass.
type Policy struct {
	Persona            string                  `yaml:"persona"`
	ModerationPreamble string                  `yaml:"moderation_preamble"`
	DefaultIntent      string                  `yaml:"default_intent"`
	CrisisReason       string                  `yaml:"crisis_reason"`
	IdentifiableReason string                  `yaml:"identifiable_reason"`
	Intents            map[string]IntentPolicy `yaml:"intents"`
	Templates          map[string]*Template    `yaml:"templates"`
}

// Default returns the embedded policy.
func Default() *Policy {
	p, err := Parse(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded policy is invalid: %v", err))
	}
	return p
}

// Load reads a policy file, or returns the embedded default when path is empty.
func Load(path string) (*Policy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for name, t := range p.Templates {
		compiled, err := template.New(name).Option("missingkey=error").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("compile template %s: %w", name, err)
		}
		t.compiled = compiled
	}
	return &p, nil
}

func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Persona) == "" {
		return fmt.Errorf("policy: persona is empty")
	}
	if strings.TrimSpace(p.ModerationPreamble) == "" {
		return fmt.Errorf("policy: moderation_preamble is empty")
	}
	if strings.TrimSpace(p.CrisisReason) == "" {
		return fmt.Errorf("policy: crisis_reason is empty")
	}
	for _, intent := range domain.Intents {
		ip, ok := p.Intents[string(intent)]
		if !ok || strings.TrimSpace(ip.Instructions) == "" {
			return fmt.Errorf("policy: missing instructions for intent %q", intent)
		}
	}
	if p.DefaultIntent == "" {
		p.DefaultIntent = string(domain.IntentProcessing)
	}
	if _, ok := p.Intents[p.DefaultIntent]; !ok {
		return fmt.Errorf("policy: default_intent %q has no instructions", p.DefaultIntent)
	}
	for _, name := range requiredTemplates {
		t, ok := p.Templates[name]
		if !ok || t == nil || strings.TrimSpace(t.Body) == "" {
			return fmt.Errorf("policy: missing template %q", name)
		}
		switch t.Profile {
		case ProfileAnalysis, ProfileModeration:
		default:
			return fmt.Errorf("policy: template %q has unknown profile %q", name, t.Profile)
		}
	}
	return nil
}

func (p *Policy) intentPolicy(intent domain.Intent) IntentPolicy {
	if ip, ok := p.Intents[string(intent)]; ok {
		return ip
	}
	return p.Intents[p.DefaultIntent]
}

// IntentInstructions selects the analysis style block; unknown intents get the default.
func (p *Policy) IntentInstructions(intent domain.Intent) string {
	return strings.TrimSpace(p.intentPolicy(intent).Instructions)
}

func (p *Policy) ClearAsk(intent domain.Intent) string {
	ask := strings.TrimSpace(p.intentPolicy(intent).ClearAsk)
	if ask == "" {
		ask = strings.TrimSpace(p.Intents[p.DefaultIntent].ClearAsk)
	}
	return ask
}

// Preamble returns the fixed system text for a profile.
func (p *Policy) Preamble(profile string) string {
	if profile == ProfileModeration {
		return strings.TrimSpace(p.ModerationPreamble)
	}
	return strings.TrimSpace(p.Persona)
}

func (p *Policy) Template(name string) (*Template, error) {
	t, ok := p.Templates[name]
	if !ok || t == nil || t.compiled == nil {
		return nil, fmt.Errorf("policy: unknown template %q (have %s)", name, strings.Join(p.templateNames(), ", "))
	}
	return t, nil
}

func (p *Policy) templateNames() []string {
	names := make([]string, 0, len(p.Templates))
	for name := range p.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes vars into the template body.
func (t *Template) Render(vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.compiled.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.compiled.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
