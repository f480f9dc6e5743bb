package providers

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClass partitions provider failures for the turn loop: transient
// failures may be retried, capability errors trigger a single narrowed
// retry (strip images), fatal errors end the turn with the error surfaced
// as the final response text.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassCapability
	ClassFatal
)

// ErrVisionUnsupported marks a request rejected because the model cannot
// accept image content.
var ErrVisionUnsupported = errors.New("model does not support image input")

var capabilityPhrases = []string{
	"does not support image",
	"image input",
	"vision",
	"unsupported content type",
	"invalid content block",
}

var transientPhrases = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"timeout",
	"temporarily unavailable",
	"connection reset",
	"502",
	"503",
	"529",
}

var fatalPhrases = []string{
	"authentication",
	"invalid api key",
	"invalid x-api-key",
	"permission",
	"billing",
	"401",
	"403",
}

// Classify sorts an error into a class. Unknown errors classify as fatal:
// retrying blind against a provider bug is worse than surfacing it.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, ErrVisionUnsupported) {
		return ClassCapability
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range fatalPhrases {
		if strings.Contains(msg, phrase) {
			return ClassFatal
		}
	}
	for _, phrase := range capabilityPhrases {
		if strings.Contains(msg, phrase) {
			return ClassCapability
		}
	}
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return ClassTransient
		}
	}
	return ClassFatal
}

// IsCapabilityError reports whether the error indicates the provider
// rejected the request shape (most commonly image content) rather than
// failing on its own.
func IsCapabilityError(err error) bool {
	return err != nil && Classify(err) == ClassCapability
}
