package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

type detectFunc func(content string) []Finding

// Redactor replaces detected secrets with [REDACTED:rule-id] markers.
// A nil *Redactor returns content unchanged.
type Redactor struct {
	mu     sync.Mutex
	detect detectFunc
}

// New builds a Redactor from the Gitleaks default config plus allowlist,
// which may be nil.
func New(allowlist *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	return &Redactor{detect: func(content string) []Finding {
		found := detector.DetectString(content)
		out := make([]Finding, 0, len(found))
		for _, f := range found {
			out = append(out, Finding{RuleID: f.RuleID, Secret: f.Secret})
		}
		return out
	}}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	if len(allowlist.Regexes) == 0 && len(allowlist.StopWords) == 0 {
		return nil
	}
	global := &gitleaksConfig.Allowlist{Description: "sessionsync allowlist"}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: '%s': %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Redact returns content with every finding replaced, and the number of
// distinct secrets replaced.
func (r *Redactor) Redact(content string) (string, int) {
	if r == nil || content == "" {
		return content, 0
	}

	// The gitleaks detector keeps per-scan state.
	r.mu.Lock()
	findings := r.detect(content)
	r.mu.Unlock()
	if len(findings) == 0 {
		return content, 0
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	seen := make(map[string]bool, len(findings))
	pairs := make([]string, 0, 2*len(findings))
	for _, f := range findings {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true
		pairs = append(pairs, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	if len(pairs) == 0 {
		return content, 0
	}
	return strings.NewReplacer(pairs...).Replace(content), len(seen)
}
