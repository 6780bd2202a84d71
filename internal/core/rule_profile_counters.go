package core

import (
	"context"
	"fmt"

	"taskledger/pkg/domain"
)

const profileCountersRuleName = "profile_counters"

// ProfileCountersRule blocks commits that leave a profile with inconsistent
// counters: activeCount above totalCreated, totalCreated beyond the index
// space or moving backwards, a changed owner, or a deleted profile.
func ProfileCountersRule() domain.Rule {
	return profileCountersRule{}
}

type profileCountersRule struct{}

func (profileCountersRule) Name() string { return profileCountersRuleName }

func (r profileCountersRule) Evaluate(_ context.Context, _ domain.LedgerView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		before, hadBefore := decodeProfile(change.Before)
		after, hasAfter := decodeProfile(change.After)
		if !hadBefore && !hasAfter {
			continue
		}
		if change.Action == domain.ActionDelete && hadBefore {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordProfile, change.Address, "profiles are never deleted"))
			continue
		}
		if !hasAfter {
			continue
		}
		if after.ActiveCount > after.TotalCreated {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordProfile, change.Address,
				fmt.Sprintf("active count %d exceeds total created %d", after.ActiveCount, after.TotalCreated)))
		}
		if after.TotalCreated > domain.MaxTasks {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordProfile, change.Address,
				fmt.Sprintf("total created %d exceeds index space %d", after.TotalCreated, domain.MaxTasks)))
		}
		if !hadBefore {
			continue
		}
		if after.TotalCreated < before.TotalCreated {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordProfile, change.Address,
				fmt.Sprintf("total created decreased from %d to %d", before.TotalCreated, after.TotalCreated)))
		}
		if after.Owner != before.Owner {
			res.Violations = append(res.Violations, blockingViolation(r.Name(), domain.RecordProfile, change.Address, "profile owner changed"))
		}
	}
	return res, nil
}

func decodeProfile(data []byte) (domain.ProfileRecord, bool) {
	if kind, ok := domain.KindOf(data); !ok || kind != domain.RecordProfile {
		return domain.ProfileRecord{}, false
	}
	var p domain.ProfileRecord
	if err := p.UnmarshalBinary(data); err != nil {
		return domain.ProfileRecord{}, false
	}
	return p, true
}
