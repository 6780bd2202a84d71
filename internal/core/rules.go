package core

import (
	"taskledger/pkg/domain"
)

type (
	// Result aliases domain.Result.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Rule aliases domain.Rule.
	Rule = domain.Rule
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine returns the engine with the built-in record
// invariants for program registered.
func NewDefaultRulesEngine(program domain.Program) *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ProfileCountersRule())
	engine.Register(TaskIntegrityRule(program))
	return engine
}

func blockingViolation(rule string, kind domain.RecordKind, addr domain.Address, msg string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Kind:     kind,
		Address:  addr,
	}
}
