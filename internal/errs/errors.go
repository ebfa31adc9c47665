// Package errs defines the tagged error taxonomy shared across the crawler.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error into one of the crawler's failure families.
type Kind string

// Error kinds. Sub-kinds match their parent via Kind.Is.
const (
	KindConfiguration Kind = "configuration"

	KindNetwork    Kind = "network"
	KindTimeout    Kind = "network.timeout"
	KindConnection Kind = "network.connection"
	KindRateLimit  Kind = "network.rate_limit"

	KindData       Kind = "data"
	KindParse      Kind = "data.parse"
	KindDataValid  Kind = "data.validation"
	KindEmpty      Kind = "data.empty"

	KindSecurity           Kind = "security"
	KindInvalidCredential  Kind = "security.invalid_credential"
	KindPermissionDenied   Kind = "security.permission_denied"
	KindSuspiciousActivity Kind = "security.suspicious_activity"

	KindBrowser         Kind = "browser"
	KindBrowserInit     Kind = "browser.init"
	KindPageLoad        Kind = "browser.page_load"
	KindElementNotFound Kind = "browser.element_not_found"

	KindValidation Kind = "validation"
	KindParameter  Kind = "validation.parameter"
	KindFormat     Kind = "validation.format"
	KindConstraint Kind = "validation.constraint"
)

// Is reports whether k is sub, or a parent family of sub.
func (k Kind) Is(sub Kind) bool {
	if k == sub {
		return true
	}
	return strings.HasPrefix(string(sub), string(k)+".")
}

// Error is the structured error carried through the crawl pipeline. It
// records a machine code, a context map for diagnostics, and a suggestion
// for the operator, alongside the wrapped cause.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Context    map[string]any
	Suggestion string
	Err        error
}

// New builds an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to e and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// With adds a context key/value pair and returns e.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Suggest sets the operator suggestion and returns e.
func (e *Error) Suggest(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err (or anything it wraps) is an Error whose kind
// belongs to the given family.
func IsKind(err error, kind Kind) bool {
	var te *Error
	for errors.As(err, &te) {
		if kind.Is(te.Kind) {
			return true
		}
		err = te.Err
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the machine code of the outermost Error in err's chain,
// or "UNKNOWN" when none is present.
func CodeOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return "UNKNOWN"
}

// Timeout builds a request-timeout error.
func Timeout(message string) *Error {
	return New(KindTimeout, "NETWORK_002", message).
		Suggest("check connectivity or raise the request timeout")
}

// Connection builds a connection-failure error.
func Connection(message string) *Error {
	return New(KindConnection, "NETWORK_003", message).
		Suggest("check connectivity and the remote host")
}

// Network builds a generic network error.
func Network(message string) *Error {
	return New(KindNetwork, "NETWORK_001", message).
		Suggest("check connectivity or raise the request timeout")
}

// RateLimited builds a rate-limit error.
func RateLimited(message string) *Error {
	return New(KindRateLimit, "NETWORK_004", message).
		Suggest("lower the request rate")
}

// EmptyData builds an empty-payload error.
func EmptyData(message string) *Error {
	return New(KindEmpty, "DATA_004", message).
		Suggest("check the upstream API or adjust the query")
}

// Parse builds a payload-parse error.
func Parse(message string) *Error {
	return New(KindParse, "DATA_002", message).
		Suggest("check the payload format against the parser")
}

// Validation builds a data-validation error.
func Validation(message string) *Error {
	return New(KindDataValid, "DATA_003", message).
		Suggest("check payload completeness")
}

// Configuration builds a configuration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, "CONFIG_001", message).
		Suggest("check the config file and environment overrides")
}

// BrowserInit builds a browser-startup error.
func BrowserInit(message string) *Error {
	return New(KindBrowserInit, "BROWSER_002", message).
		Suggest("check the local Chrome installation")
}

// PageLoad builds a navigation error.
func PageLoad(message string) *Error {
	return New(KindPageLoad, "BROWSER_003", message).
		Suggest("retry or raise the navigation timeout")
}

// InvalidCredential builds a credential error.
func InvalidCredential(message string) *Error {
	return New(KindInvalidCredential, "SECURITY_002", message).
		Suggest("refresh the session cookie")
}
