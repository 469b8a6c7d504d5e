package recovery

import (
	"strings"

	"github.com/seekwell/apply-cli/internal/model"
)

// categoryPatterns maps message substrings to categories. Order matters:
// the first matching rule wins, so timeout phrasing is checked before the
// broader network vocabulary.
var categoryPatterns = []struct {
	category model.Category
	words    []string
}{
	{model.CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{model.CategoryNetwork, []string{
		"connection", "network", "dns", "unreachable", "refused",
		"reset by peer", "broken pipe", "no such host", "tls handshake",
	}},
	{model.CategoryDatabase, []string{"database", "sql", "constraint", "deadlock", "no rows"}},
	{model.CategoryValidation, []string{"validation", "invalid", "malformed", "schema", "missing field", "required field"}},
	{model.CategoryAuthentication, []string{"authentication", "unauthorized", "credential", "login", "token expired", "auth"}},
	{model.CategoryPermission, []string{"permission", "forbidden", "access denied"}},
	{model.CategoryResource, []string{"out of memory", "disk full", "quota", "resource exhausted", "too many open files"}},
}

// defaultSeverity maps each category to its baseline severity.
var defaultSeverity = map[model.Category]model.Severity{
	model.CategoryNetwork:        model.SeverityMedium,
	model.CategoryDatabase:       model.SeverityHigh,
	model.CategoryValidation:     model.SeverityLow,
	model.CategoryProcessing:     model.SeverityMedium,
	model.CategoryAuthentication: model.SeverityHigh,
	model.CategoryPermission:     model.SeverityHigh,
	model.CategoryTimeout:        model.SeverityMedium,
	model.CategoryResource:       model.SeverityHigh,
	model.CategoryUnknown:        model.SeverityMedium,
}

// Classify determines the category and severity of a failure. A typed
// PipelineError in the chain wins outright; otherwise the message is
// pattern-matched and the category's default severity applies, escalated
// or demoted by fatal/warning markers in the message.
func Classify(err error) (model.Category, model.Severity) {
	if err == nil {
		return model.CategoryUnknown, model.SeverityLow
	}

	if pe, ok := AsPipelineError(err); ok {
		return pe.Category, pe.Severity
	}

	msg := strings.ToLower(err.Error())

	category := model.CategoryUnknown
	for _, rule := range categoryPatterns {
		if containsAny(msg, rule.words) {
			category = rule.category
			break
		}
	}

	severity := defaultSeverity[category]
	if containsAny(msg, []string{"fatal", "critical", "panic"}) {
		severity = model.SeverityCritical
	} else if containsAny(msg, []string{"warning", "warn:"}) {
		severity = model.SeverityLow
	}

	return category, severity
}

func containsAny(msg string, words []string) bool {
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}
