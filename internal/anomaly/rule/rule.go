package rule

import (
	"fmt"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
)

// Def is the configured form of a rule.
type Def struct {
	ID          string           `yaml:"id" json:"id"`
	Expression  string           `yaml:"expression" json:"expression"`
	Severity    anomaly.Severity `yaml:"severity" json:"severity"`
	Description string           `yaml:"description" json:"description"`
}

// Rule is a compiled custom detector. It implements anomaly.Detector.
type Rule struct {
	def  Def
	expr Expr
}

// Compile parses def once; evaluation never re-parses.
func Compile(def Def) (*Rule, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("rule: id is required")
	}
	if !def.Severity.Valid() {
		return nil, fmt.Errorf("rule %s: invalid severity %q", def.ID, def.Severity)
	}
	e, err := Parse(def.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %s: parse %q: %w", def.ID, def.Expression, err)
	}
	return &Rule{def: def, expr: e}, nil
}

// CompileAll compiles every def, failing on the first error.
func CompileAll(defs []Def) ([]*Rule, error) {
	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r, err := Compile(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r *Rule) Name() string { return "rule:" + r.def.ID }

// Detect evaluates the rule. Rules need snapshot fields; an evaluation
// error (such as a missing field) yields a not-detected signal.
func (r *Rule) Detect(s anomaly.Snapshot) (anomaly.Signal, bool) {
	if len(s.Fields) == 0 {
		return anomaly.Signal{}, false
	}
	ok, err := Eval(r.expr, s)
	if err != nil || !ok {
		return anomaly.NoRuleSignal(), true
	}
	desc := r.def.Description
	if desc == "" {
		desc = fmt.Sprintf("rule %s matched", r.def.ID)
	}
	return anomaly.NewRuleSignal(r.def.ID, r.def.Expression, r.def.Severity, desc), true
}

// Detectors converts rules to the anomaly.Detector interface.
func Detectors(rules []*Rule) []anomaly.Detector {
	out := make([]anomaly.Detector, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	return out
}
