package cel

import (
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// RequestContext is the data an exemption expression can see.
type RequestContext struct {
	ClientID    string
	Method      string
	Path        string
	Host        string
	UserAgent   string
	Headers     map[string]string // keys lowercased
	RequestTime time.Time
}

// NewRequestEnvironment creates the CEL environment for exemption rules. It declares:
//   - Variables: client_id, method, path, host, user_agent, headers, request_time
//   - Functions: glob, ip_in_cidr, header
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("client_id", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell pattern match.
		// Usage: glob("/api/contact/*", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: false for identifiers that are not IP addresses.
		// Usage: ip_in_cidr(client_id, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// header: case-insensitive lookup, "" when absent.
		// Usage: header(headers, "X-Monitor") == "uptime"
		cel.Function("header",
			cel.Overload("header_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.StringType), cel.StringType},
				cel.StringType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := strings.ToLower(keyVal.Value().(string))
					m, ok := mapVal.(traits.Mapper)
					if !ok {
						return types.String("")
					}
					if v, found := m.Find(types.String(key)); found {
						if s, ok := v.Value().(string); ok {
							return types.String(s)
						}
					}
					return types.String("")
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a RequestContext.
func BuildActivation(rc RequestContext) map[string]any {
	headers := rc.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	if rc.RequestTime.IsZero() {
		rc.RequestTime = time.Now()
	}
	return map[string]any{
		"client_id":    rc.ClientID,
		"method":       rc.Method,
		"path":         rc.Path,
		"host":         rc.Host,
		"user_agent":   rc.UserAgent,
		"headers":      headers,
		"request_time": rc.RequestTime,
	}
}
