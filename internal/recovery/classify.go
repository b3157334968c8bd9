package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// Kind is the failure taxonomy. The string values appear in logs,
// metrics labels, and run reports.
type Kind string

const (
	KindNetwork         Kind = "NETWORK_ERROR"
	KindTimeout         Kind = "TIMEOUT_ERROR"
	KindBrowserCrash    Kind = "BROWSER_CRASH"
	KindPageCrash       Kind = "PAGE_CRASH"
	KindElementNotFound Kind = "ELEMENT_NOT_FOUND"
	KindDataParse       Kind = "DATA_PARSE_ERROR"
	KindDataValidation  Kind = "DATA_VALIDATION_ERROR"
	KindFileNotFound    Kind = "FILE_NOT_FOUND"
	KindFilePermission  Kind = "FILE_PERMISSION_ERROR"
	KindConfig          Kind = "CONFIG_ERROR"
	KindParameter       Kind = "PARAMETER_ERROR"
	KindUnknown         Kind = "UNKNOWN_ERROR"
)

// Recoverable reports whether the run can continue after this kind.
// Permission, config, and parameter failures always end the run.
func (k Kind) Recoverable() bool {
	switch k {
	case KindFilePermission, KindConfig, KindParameter:
		return false
	}
	return true
}

// ClassifiedError tags a failure with its taxonomy kind. It wraps the
// original error and is produced per failure, never persisted.
type ClassifiedError struct {
	Kind        Kind
	Message     string
	Recoverable bool
	Suggested   Action
	cause       error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// WithKind wraps err with an explicit kind, overriding pattern
// detection. Call sites that know the failure mode (a validator, a
// config loader) use this so Classify does not have to guess.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:        kind,
		Message:     err.Error(),
		Recoverable: kind.Recoverable(),
		Suggested:   DefaultAction(kind),
		cause:       err,
	}
}

// Classify assigns err to a taxonomy kind. An error already carrying a
// classification keeps it; otherwise typed checks run first, then
// message patterns, first match wins.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	kind := detectKind(err)
	return &ClassifiedError{
		Kind:        kind,
		Message:     err.Error(),
		Recoverable: kind.Recoverable(),
		Suggested:   DefaultAction(kind),
		cause:       err,
	}
}

// KindOf is shorthand for Classify(err).Kind with a nil guard.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

func detectKind(err error) Kind {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return KindFilePermission
	}
	if errors.Is(err, fs.ErrNotExist) {
		return KindFileNotFound
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntax) || errors.As(err, &jsonType) {
		return KindDataParse
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, networkPatterns):
		return KindNetwork
	case containsAny(msg, timeoutPatterns):
		return KindTimeout
	case containsAny(msg, browserCrashPatterns):
		return KindBrowserCrash
	case containsAny(msg, pageCrashPatterns):
		return KindPageCrash
	case containsAny(msg, elementPatterns):
		return KindElementNotFound
	case containsAny(msg, parsePatterns):
		return KindDataParse
	case containsAny(msg, fileNotFoundPatterns):
		return KindFileNotFound
	case containsAny(msg, permissionPatterns):
		return KindFilePermission
	}
	return KindUnknown
}

var (
	networkPatterns = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"broken pipe",
		"dns",
	}
	timeoutPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	browserCrashPatterns = []string{
		"browser has been closed",
		"browser closed",
		"session closed",
		"chrome not reachable",
		"websocket",
		"devtools",
	}
	pageCrashPatterns = []string{
		"page crashed",
		"target closed",
		"target crashed",
		"detached from target",
		"no such target",
		"inspected target navigated or closed",
	}
	elementPatterns = []string{
		"element not found",
		"no such element",
		"no nodes found",
		"could not find node",
		"waiting for selector",
	}
	parsePatterns = []string{
		"parse",
		"syntax",
		"unmarshal",
		"invalid character",
		"malformed",
	}
	fileNotFoundPatterns = []string{
		"no such file or directory",
		"file not found",
	}
	permissionPatterns = []string{
		"permission denied",
		"access denied",
		"operation not permitted",
	}
)

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
