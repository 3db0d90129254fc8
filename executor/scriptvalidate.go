// Script validation, §4.3.2. Applied to evaluate and waitForFunction.
// No library in the retrieval pack does JS-source linting, so this is
// a fixed pattern set matched with regexp/strings directly.
package executor

import (
	"regexp"
	"strings"
)

const maxScriptLength = 10000

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
	regexp.MustCompile(`(?i)\.innerHTML\s*=`),
	regexp.MustCompile(`(?i)\.outerHTML\s*=`),
	regexp.MustCompile(`(?i)document\.write(ln)?\s*\(`),
	regexp.MustCompile(`(?i)document\.cookie`),
	regexp.MustCompile(`(?i)window\.location\s*=`),
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)\.appendChild\s*\(`),
	regexp.MustCompile(`(?i)\.removeChild\s*\(`),
	regexp.MustCompile(`(?i)\.replaceChild\s*\(`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)<iframe[\s>]`),
	regexp.MustCompile(`(?i)\bon\w+\s*=\s*["']`),
	regexp.MustCompile(`(?i)while\s*\(\s*true\s*\)`),
	regexp.MustCompile(`(?i)for\s*\(\s*;\s*;\s*\)`),
	regexp.MustCompile(`(?i)while\s*\(\s*1\s*\)`),
}

var warnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blocalStorage\b`),
	regexp.MustCompile(`(?i)\bsessionStorage\b`),
	regexp.MustCompile(`(?i)\bfetch\s*\(`),
	regexp.MustCompile(`(?i)__proto__`),
	regexp.MustCompile(`(?i)\bconstructor\b`),
}

// ValidateScript rejects code matching any deny pattern, warns on
// others, and warns (does not reject) on scripts over 10,000 chars.
// Matching is case-insensitive throughout.
func ValidateScript(code string) (warnings []string, failure *ValidationFailure) {
	for _, pat := range denyPatterns {
		if pat.MatchString(code) {
			return nil, &ValidationFailure{Kind: BlockedByPolicy, Reason: "script matched denied pattern: " + pat.String()}
		}
	}
	for _, pat := range warnPatterns {
		if pat.MatchString(code) {
			warnings = append(warnings, "script uses "+strings.Trim(pat.String(), `(?i)\b`))
		}
	}
	if len(code) > maxScriptLength {
		warnings = append(warnings, "script exceeds 10,000 characters")
	}
	return warnings, nil
}
