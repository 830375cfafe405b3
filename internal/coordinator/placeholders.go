package coordinator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// bindings are the values a protocol step may reference.
type bindings map[string]any

func bindingsFor(event *safety.SystemEvent) bindings {
	b := make(bindings, len(event.Payload)+2)

	for key, value := range event.Payload {
		b[key] = value
	}

	b["kind"] = event.Kind
	b["source"] = string(event.Source)

	return b
}

// expand replaces {key} with the bound value. Unknown keys expand to "".
func (b bindings) expand(template string) string {
	if !strings.Contains(template, "{") {
		return template
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		value, ok := b[match[1:len(match)-1]]
		if !ok || value == nil {
			return ""
		}

		return render(value)
	})
}

// resolve expands one parameter. A string that is exactly "{key}" yields the
// raw bound value so structured payload entries keep their shape.
func (b bindings) resolve(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}

	if match := placeholderPattern.FindStringSubmatch(text); match != nil && match[0] == text {
		if bound, ok := b[match[1]]; ok {
			return bound
		}

		return ""
	}

	return b.expand(text)
}

func (b bindings) params(params safety.Payload) safety.Payload {
	if params == nil {
		return nil
	}

	resolved := make(safety.Payload, len(params))
	for key, value := range params {
		resolved[key] = b.resolve(value)
	}

	return resolved
}

// zone returns the event zone, if any.
func (b bindings) zone() string {
	zone, _ := b["zone"].(string)

	return zone
}

func render(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []string:
		return strings.Join(typed, ",")
	case float64:
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprint(typed)
	}
}
