package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  any    // The value that was checked
}

func (r *InjectionCheckResult) Error() string {
	return fmt.Sprintf("parameter %q value rejected (fingerprint %s)", r.ParamName, r.Fingerprint)
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a parameter value. Multi-value parameters ([]any, []string) are checked
// element by element; non-string scalars cannot carry injection and pass.
//
// Returns nil if no injection is detected.
//
// Example:
//
//	result := CheckParameterForInjection("region", "east")
//	// result == nil
//
//	result := CheckParameterForInjection("region", "'; DROP TABLE users--")
//	// result.IsSQLi == true
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	switch v := value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionCheckResult{
				IsSQLi:      true,
				Fingerprint: string(fingerprint),
				ParamName:   paramName,
				ParamValue:  value,
			}
		}
	case []string:
		for _, s := range v {
			if r := CheckParameterForInjection(paramName, s); r != nil {
				return r
			}
		}
	case []any:
		for _, item := range v {
			if r := CheckParameterForInjection(paramName, item); r != nil {
				return r
			}
		}
	}
	return nil
}

// CheckAllParameters validates all parameter values for SQL injection attempts.
// Returns one result per failing parameter; empty when all values are clean.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range params {
		if result := CheckParameterForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
