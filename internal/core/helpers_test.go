package core

import (
	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

func newMemoryLedger(program domain.Program, engine *RulesEngine) domain.Ledger {
	return memory.NewStore(program.ID, engine)
}
