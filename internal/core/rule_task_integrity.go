package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

const taskIntegrityRuleName = "task_integrity"

// TaskIntegrityRule blocks commits where a task is stored away from the
// address derived from its owner and index, where owner or index change
// after creation, where a done task is reopened, or where a new task is not
// covered by its owner's profile counters.
func TaskIntegrityRule(program domain.Program) domain.Rule {
	return taskIntegrityRule{program: program}
}

type taskIntegrityRule struct {
	program domain.Program
}

func (taskIntegrityRule) Name() string { return taskIntegrityRuleName }

func (r taskIntegrityRule) Evaluate(_ context.Context, view domain.LedgerView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	block := func(addr domain.Address, format string, args ...any) {
		res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordTask, addr, fmt.Sprintf(format, args...)))
	}
	for _, change := range changes {
		after, hasAfter := decodeTask(change.After)
		if !hasAfter {
			continue
		}
		before, hadBefore := decodeTask(change.Before)
		switch {
		case hadBefore && (before.Owner != after.Owner || before.Index != after.Index):
			block(change.Address, "task owner or index changed")
			continue
		case hadBefore && before.Done && !after.Done:
			block(change.Address, "task %d reopened", after.Index)
		}
		if change.Action != domain.ActionCreate {
			continue
		}
		d, err := r.program.DeriveTaskAddress(after.Owner, after.Index)
		if err != nil {
			return domain.Result{}, err
		}
		if d.Address != change.Address {
			block(change.Address, "task %d stored at %s, derived %s", after.Index, change.Address, d.Address)
			continue
		}
		pd, err := r.program.DeriveProfileAddress(after.Owner)
		if err != nil {
			return domain.Result{}, err
		}
		acct, ok := view.Read(pd.Address)
		profile, valid := decodeProfile(acct.Data)
		if !ok || !valid {
			block(change.Address, "task %d has no owner profile", after.Index)
			continue
		}
		if uint16(after.Index) >= profile.TotalCreated {
			block(change.Address, "task %d not counted by profile total %d", after.Index, profile.TotalCreated)
		}
	}
	return res, nil
}

func decodeTask(data []byte) (domain.TaskRecord, bool) {
	if kind, ok := domain.KindOf(data); !ok || kind != domain.RecordTask {
		return domain.TaskRecord{}, false
	}
	var t domain.TaskRecord
	if err := t.UnmarshalBinary(data); err != nil {
		return domain.TaskRecord{}, false
	}
	return t, true
}
