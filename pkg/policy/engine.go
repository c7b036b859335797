package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// Engine evaluates admission policies. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	limits   Limits
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine holding the built-in policies.
func NewEngine(limits Limits, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		limits:   limits,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		cp, err := compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// Evaluate runs every enabled policy against the request parameters.
func (e *Engine) Evaluate(ctx context.Context, operation string, params deployment.Parameters) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	input := Input{
		Operation: operation,
		Request:   params.Redacted(),
		Limits:    e.limits,
		Timestamp: start.UTC(),
	}

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("customer_id", params.CustomerID).
		Str("operation", operation).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// Admit evaluates the request and returns a VALIDATION_ERROR listing every
// blocking violation. Warnings are logged only.
func (e *Engine) Admit(ctx context.Context, operation string, params deployment.Parameters) error {
	result, err := e.Evaluate(ctx, operation, params)
	if err != nil {
		return deployment.NewValidationError("policy evaluation failed", err)
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("job_key", params.Key()).
			Str("policy", w.Policy).
			Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return deployment.NewValidationError("request rejected by policy: "+strings.Join(msgs, "; "), nil).
		WithJob(params.Key())
}

// LoadPolicies compiles the policies found at paths and adds them to the
// engine. Nothing is added if any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.add(ctx, policies, false)
}

// Replace swaps every custom policy for policies. Built-in policies are kept.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	return e.add(ctx, policies, true)
}

func (e *Engine) add(ctx context.Context, policies []Policy, replace bool) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		if existing, ok := e.lookup(p.Name); ok && existing.Builtin {
			return fmt.Errorf("policy %s conflicts with a built-in policy", p.Name)
		}
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if replace {
		for name, cp := range e.policies {
			if !cp.policy.Builtin {
				delete(e.policies, name)
			}
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// Watch reloads custom policies whenever files under paths change. It stops
// when ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.Replace(ctx, policies)
	})
}

// ListPolicies returns the loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, e.policies[name].policy)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return deployment.NewNotFoundError(fmt.Sprintf("policy not found: %s", name))
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (e *Engine) lookup(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// sortedNames requires e.mu to be held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compile parses the module and prepares a query for its deny rule.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	query, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

// evaluate runs one policy and converts its deny set into violations.
func evaluate(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	sort.Slice(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

func newViolation(p Policy, value interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch d := value.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if field, ok := d["field"].(string); ok {
			v.Field = field
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", value)
	}
	return v
}
