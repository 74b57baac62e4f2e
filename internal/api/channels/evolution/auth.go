package evolution

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidAPIKey reports whether the payload key or the X-API-Key header
// matches expected. An empty expected key disables the check.
func ValidAPIKey(expected, payloadKey, headerKey string) bool {
	if expected == "" {
		return true
	}
	for _, k := range []string{payloadKey, headerKey} {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}

// validationDetails flattens binding errors into readable messages.
func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "WebhookPayload.")
		switch fe.Tag() {
		case "required":
			details = append(details, fmt.Sprintf("%s is required", field))
		case "oneof":
			details = append(details, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			details = append(details, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return details
}
