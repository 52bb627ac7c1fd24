package cel

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Exempter decides whether a request bypasses rate limiting. It satisfies
// the edge middleware's Exempter interface.
type Exempter struct {
	eval       *Evaluator
	prg        cel.Program
	expression string
	logger     *slog.Logger
}

// NewExempter compiles expression once. An evaluation error counts as
// "not exempt", so a broken rule never opens the endpoint.
func NewExempter(expression string, logger *slog.Logger) (*Exempter, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	if err := eval.ValidateExpression(expression); err != nil {
		return nil, fmt.Errorf("exempt expression: %w", err)
	}
	prg, err := eval.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("exempt expression: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exempter{eval: eval, prg: prg, expression: expression, logger: logger}, nil
}

// Exempt evaluates the rule for r.
func (x *Exempter) Exempt(r *http.Request, clientID string) bool {
	ok, err := x.eval.Evaluate(r.Context(), x.prg, RequestContextFrom(r, clientID))
	if err != nil {
		x.logger.Warn("exempt expression failed, request will be limited",
			"error", err,
			"client_id", clientID,
		)
		return false
	}
	return ok
}

// Expression returns the source of the compiled rule.
func (x *Exempter) Expression() string {
	return x.expression
}

// RequestContextFrom extracts the fields exposed to exemption rules.
// Multi-valued headers are joined with ", ".
func RequestContextFrom(r *http.Request, clientID string) RequestContext {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return RequestContext{
		ClientID:    clientID,
		Method:      r.Method,
		Path:        r.URL.Path,
		Host:        r.Host,
		UserAgent:   r.UserAgent(),
		Headers:     headers,
		RequestTime: time.Now(),
	}
}
