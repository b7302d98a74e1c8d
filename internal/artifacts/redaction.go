package artifacts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/taskforge/engine/pkg/models"
)

// RedactionConfig defines which artifacts must never reach the store or the
// event log with their content intact — secrets accidentally captured by a
// shell or file_read step, credential-shaped filenames, and the like.
type RedactionConfig struct {
	Enabled          bool
	Types            []string
	FilenamePatterns []string
}

// RedactionPolicy evaluates artifacts against compiled redaction rules.
type RedactionPolicy struct {
	enabled          bool
	typeSet          map[string]struct{}
	filenamePatterns []*regexp.Regexp
}

// NewRedactionPolicy compiles a policy from config. A disabled or empty
// config yields a nil policy, which ShouldRedact/Apply treat as "never
// redact".
func NewRedactionPolicy(cfg RedactionConfig) (*RedactionPolicy, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	policy := &RedactionPolicy{enabled: true, typeSet: make(map[string]struct{})}
	for _, t := range cfg.Types {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			policy.typeSet[t] = struct{}{}
		}
	}
	for _, pattern := range cfg.FilenamePatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction filename pattern %q: %w", pattern, err)
		}
		policy.filenamePatterns = append(policy.filenamePatterns, re)
	}
	return policy, nil
}

// ShouldRedact reports whether an artifact matches a redaction rule.
func (p *RedactionPolicy) ShouldRedact(a *models.Artifact) bool {
	if p == nil || !p.enabled || a == nil {
		return false
	}
	if _, ok := p.typeSet[strings.ToLower(string(a.Type))]; ok {
		return true
	}
	if a.Path != "" {
		for _, re := range p.filenamePatterns {
			if re.MatchString(a.Path) {
				return true
			}
		}
	}
	return false
}

// Apply redacts the artifact in place, replacing its content/path/url with
// an opaque reference, and reports whether redaction occurred.
func (p *RedactionPolicy) Apply(a *models.Artifact) bool {
	if !p.ShouldRedact(a) {
		return false
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Content = ""
	a.Path = fmt.Sprintf("redacted://%s", a.ID)
	a.URL = ""
	return true
}
