package core

import (
	"context"
	"errors"
	"testing"

	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

func encode(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	return mustMarshal(t, v)
}

func TestProfileCountersRule(t *testing.T) {
	owner := testIdentity(60)
	addr := domain.Address{1}
	rule := ProfileCountersRule()
	cases := []struct {
		name    string
		change  domain.Change
		blocked bool
	}{
		{
			name:   "create zeroed",
			change: domain.Change{Address: addr, Action: domain.ActionCreate, After: encode(t, domain.ProfileRecord{Owner: owner})},
		},
		{
			name:    "active above total",
			change:  domain.Change{Address: addr, Action: domain.ActionCreate, After: encode(t, domain.ProfileRecord{Owner: owner, TotalCreated: 1, ActiveCount: 2})},
			blocked: true,
		},
		{
			name:    "total beyond index space",
			change:  domain.Change{Address: addr, Action: domain.ActionCreate, After: encode(t, domain.ProfileRecord{Owner: owner, TotalCreated: domain.MaxTasks + 1})},
			blocked: true,
		},
		{
			name: "total decreases",
			change: domain.Change{Address: addr, Action: domain.ActionUpdate,
				Before: encode(t, domain.ProfileRecord{Owner: owner, TotalCreated: 3, ActiveCount: 1}),
				After:  encode(t, domain.ProfileRecord{Owner: owner, TotalCreated: 2, ActiveCount: 1})},
			blocked: true,
		},
		{
			name: "owner changes",
			change: domain.Change{Address: addr, Action: domain.ActionUpdate,
				Before: encode(t, domain.ProfileRecord{Owner: owner}),
				After:  encode(t, domain.ProfileRecord{Owner: testIdentity(61)})},
			blocked: true,
		},
		{
			name:    "profile deleted",
			change:  domain.Change{Address: addr, Action: domain.ActionDelete, Before: encode(t, domain.ProfileRecord{Owner: owner})},
			blocked: true,
		},
		{
			name:   "unrelated data",
			change: domain.Change{Address: addr, Action: domain.ActionCreate, After: []byte{1, 2, 3}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), nil, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("expected blocked=%v, got %+v", tc.blocked, res)
			}
		})
	}
}

func TestTaskIntegrityRuleBlocksReopenAndMisplacedTasks(t *testing.T) {
	ctx := context.Background()
	program := domain.DefaultProgram()
	store := memory.NewStore(program.ID, nil)
	owner := testIdentity(62)
	pd, _ := program.DeriveProfileAddress(owner)
	plantAccount(t, store, pd, domain.ProfileSize, owner, encode(t, domain.ProfileRecord{Owner: owner, TotalCreated: 1, ActiveCount: 1}))
	td, _ := program.DeriveTaskAddress(owner, 0)
	rule := TaskIntegrityRule(program)

	var view domain.LedgerView
	if err := store.View(ctx, func(v domain.LedgerView) error {
		view = v
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	task := domain.TaskRecord{Owner: owner, Index: 0, Content: "ok"}
	done := task
	done.Done = true
	moved := task
	moved.Index = 1
	cases := []struct {
		name    string
		change  domain.Change
		blocked bool
	}{
		{name: "create at derived address", change: domain.Change{Address: td.Address, Action: domain.ActionCreate, After: encode(t, task)}},
		{name: "create elsewhere", change: domain.Change{Address: pd.Address, Action: domain.ActionCreate, After: encode(t, task)}, blocked: true},
		{name: "create beyond total", change: domain.Change{Address: mustTaskAddress(t, program, owner, 1), Action: domain.ActionCreate, After: encode(t, moved)}, blocked: true},
		{name: "mark done", change: domain.Change{Address: td.Address, Action: domain.ActionUpdate, Before: encode(t, task), After: encode(t, done)}},
		{name: "reopen", change: domain.Change{Address: td.Address, Action: domain.ActionUpdate, Before: encode(t, done), After: encode(t, task)}, blocked: true},
		{name: "index rewritten", change: domain.Change{Address: td.Address, Action: domain.ActionUpdate, Before: encode(t, task), After: encode(t, moved)}, blocked: true},
		{name: "delete", change: domain.Change{Address: td.Address, Action: domain.ActionDelete, Before: encode(t, task)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(ctx, view, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("expected blocked=%v, got %+v", tc.blocked, res)
			}
		})
	}
}

func TestTaskWithoutProfileIsBlockedAtCommit(t *testing.T) {
	program := domain.DefaultProgram()
	store := memory.NewStore(program.ID, NewDefaultRulesEngine(program))
	owner := testIdentity(63)
	td, _ := program.DeriveTaskAddress(owner, 0)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.LedgerTx) error {
		if err := tx.Credit(owner, testFunds); err != nil {
			return err
		}
		_, err := tx.Allocate(td, domain.TaskSize, owner, encode(t, domain.TaskRecord{Owner: owner}))
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if _, ok := store.Read(td.Address); ok {
		t.Fatalf("blocked task must not be stored")
	}
}

func TestDefaultRulesEngineRegistersRules(t *testing.T) {
	rules := NewDefaultRulesEngine(domain.DefaultProgram()).Rules()
	if len(rules) != 2 || rules[0].Name() != profileCountersRuleName || rules[1].Name() != taskIntegrityRuleName {
		t.Fatalf("unexpected rules %v", rules)
	}
	if len(NewRulesEngine().Rules()) != 0 {
		t.Fatalf("expected empty engine")
	}
}

func mustTaskAddress(t *testing.T, program domain.Program, owner domain.Identity, index uint8) domain.Address {
	t.Helper()
	d, err := program.DeriveTaskAddress(owner, index)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return d.Address
}
