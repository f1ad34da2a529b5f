// Package template renders {{name}}-style parameter placeholders in
// prompt text before submission.
package template

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes every {{name}} placeholder with its value from
// params. Placeholders without a matching parameter are left verbatim so
// rendering is deterministic and lossless.
func Render(content string, params map[string]string) string {
	if len(params) == 0 {
		return content
	}
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := params[name]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct parameter names referenced by the
// content, in order of first appearance.
func Placeholders(content string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}
