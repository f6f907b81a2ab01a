package feeder

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{([^}|]+)(\|([^}]*))?\}\}`)

// Expand replaces {{name}} with values[name]. A placeholder written as
// {{name|fallback}} uses fallback when name is missing; a missing name
// without a fallback is left untouched.
func Expand(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		if val, ok := values[parts[1]]; ok {
			return val
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}
