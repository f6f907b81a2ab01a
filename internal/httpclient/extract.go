package httpclient

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

// lookupJSONPath accepts "$.a.b", "a.b" and a bare "$" for the whole document.
func lookupJSONPath(body []byte, path string) (string, bool) {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			path = path[2:]
		} else if len(path) == 1 {
			path = "@this"
		}
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func findRegex(body []byte, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	match := re.FindSubmatch(body)
	if match == nil {
		return "", fmt.Errorf("regex pattern %q not found", pattern)
	}
	if len(match) > 1 {
		return string(match[1]), nil
	}
	return string(match[0]), nil
}
