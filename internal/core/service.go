// Package core implements the task lifecycle: profile initialization and
// the add, mark and delete operations, each applied atomically through a
// domain.Ledger transaction.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

// Operation names used for tracing, metrics and audit entries.
const (
	OpInitializeProfile = "initialize_profile"
	OpAddTask           = "add_task"
	OpMarkTask          = "mark_task"
	OpDeleteTask        = "delete_task"
	OpFund              = "fund"
)

// Service exposes the transactional task operations for one program.
type Service struct {
	ledger  domain.Ledger
	program domain.Program
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService constructs a service for program on top of ledger.
func NewService(ledger domain.Ledger, program domain.Program, opts ...Option) *Service {
	s := &Service{
		ledger:  ledger,
		program: program,
		logger:  noopLogger{},
		clock:   systemClock{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory ledger with
// the default rules engine.
func NewInMemoryService(program domain.Program, opts ...Option) *Service {
	return NewService(memory.NewStore(program.ID, NewDefaultRulesEngine(program)), program, opts...)
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() domain.Ledger { return s.ledger }

// Program returns the program the service derives addresses for.
func (s *Service) Program() domain.Program { return s.program }

type auditTarget struct {
	kind    domain.RecordKind
	action  domain.Action
	caller  domain.Identity
	address domain.Address
}

// observe wraps one mutating operation with tracing, metrics, audit and logging.
func (s *Service) observe(ctx context.Context, op string, target *auditTarget, fn func(context.Context) (Result, error)) (Result, error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		ID:        s.newID(),
		Operation: op,
		Kind:      target.kind,
		Action:    target.action,
		Caller:    target.caller,
		Address:   target.address,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)

	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
		}
	}
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "caller", target.caller.String(), "error", err)
		return res, err
	}
	s.logger.Debug("operation committed", "operation", op, "caller", target.caller.String(), "address", target.address.String(), "duration", duration)
	return res, nil
}

func wrap(op string, kind domain.RecordKind, addr domain.Address, err error) error {
	if err == nil {
		return nil
	}
	var re *domain.RecordError
	if errors.As(err, &re) {
		return err
	}
	return &domain.RecordError{Op: op, Kind: kind, Address: addr, Err: err}
}

func readProfile(view domain.LedgerView, addr domain.Address) (domain.ProfileRecord, error) {
	acct, ok := view.Read(addr)
	if !ok {
		return domain.ProfileRecord{}, domain.ErrNotFound
	}
	var profile domain.ProfileRecord
	if err := profile.UnmarshalBinary(acct.Data); err != nil {
		return domain.ProfileRecord{}, err
	}
	return profile, nil
}

func readTask(view domain.LedgerView, addr domain.Address) (domain.TaskRecord, error) {
	acct, ok := view.Read(addr)
	if !ok {
		return domain.TaskRecord{}, domain.ErrNotFound
	}
	var task domain.TaskRecord
	if err := task.UnmarshalBinary(acct.Data); err != nil {
		return domain.TaskRecord{}, err
	}
	return task, nil
}

// InitializeProfile creates the caller's profile with zeroed counters. The
// caller pays the profile rent.
func (s *Service) InitializeProfile(ctx context.Context, caller domain.Identity) (domain.ProfileRecord, Result, error) {
	target := &auditTarget{kind: domain.RecordProfile, action: domain.ActionCreate, caller: caller}
	var created domain.ProfileRecord
	res, err := s.observe(ctx, OpInitializeProfile, target, func(ctx context.Context) (Result, error) {
		d, err := s.program.DeriveProfileAddress(caller)
		if err != nil {
			return Result{}, wrap(OpInitializeProfile, domain.RecordProfile, domain.Address{}, err)
		}
		target.address = d.Address
		res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
			if _, exists := tx.Read(d.Address); exists {
				return domain.ErrAlreadyExists
			}
			profile := domain.ProfileRecord{Owner: caller}
			data, err := profile.MarshalBinary()
			if err != nil {
				return err
			}
			if _, err := tx.Allocate(d, domain.ProfileSize, caller, data); err != nil {
				if errors.Is(err, domain.ErrAccountInUse) {
					return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
				}
				return err
			}
			created = profile
			return nil
		})
		return res, wrap(OpInitializeProfile, domain.RecordProfile, d.Address, err)
	})
	if err != nil {
		return domain.ProfileRecord{}, res, err
	}
	return created, res, nil
}

// AddTask appends a task at the caller's next index and bumps both profile
// counters in the same transaction.
func (s *Service) AddTask(ctx context.Context, caller domain.Identity, content string) (domain.TaskRecord, Result, error) {
	target := &auditTarget{kind: domain.RecordTask, action: domain.ActionCreate, caller: caller}
	var created domain.TaskRecord
	res, err := s.observe(ctx, OpAddTask, target, func(ctx context.Context) (Result, error) {
		if err := domain.ValidateContent(content); err != nil {
			return Result{}, wrap(OpAddTask, domain.RecordTask, domain.Address{}, err)
		}
		pd, err := s.program.DeriveProfileAddress(caller)
		if err != nil {
			return Result{}, wrap(OpAddTask, domain.RecordProfile, domain.Address{}, err)
		}
		res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
			profile, err := readProfile(tx, pd.Address)
			if err != nil {
				return wrap(OpAddTask, domain.RecordProfile, pd.Address, err)
			}
			if err := domain.CheckAuthority(caller, profile.Owner); err != nil {
				return wrap(OpAddTask, domain.RecordProfile, pd.Address, err)
			}
			index, err := profile.NextIndex()
			if err != nil {
				return wrap(OpAddTask, domain.RecordProfile, pd.Address, err)
			}
			td, err := s.program.DeriveTaskAddress(caller, index)
			if err != nil {
				return wrap(OpAddTask, domain.RecordTask, domain.Address{}, err)
			}
			target.address = td.Address
			if _, exists := tx.Read(td.Address); exists {
				return wrap(OpAddTask, domain.RecordTask, td.Address, domain.ErrCollisionDetected)
			}
			task := domain.TaskRecord{Owner: caller, Index: index, Content: content}
			data, err := task.MarshalBinary()
			if err != nil {
				return wrap(OpAddTask, domain.RecordTask, td.Address, err)
			}
			if _, err := tx.Allocate(td, domain.TaskSize, caller, data); err != nil {
				if errors.Is(err, domain.ErrAccountInUse) {
					err = fmt.Errorf("%w: %w", domain.ErrCollisionDetected, err)
				}
				return wrap(OpAddTask, domain.RecordTask, td.Address, err)
			}
			if err := profile.RecordCreated(); err != nil {
				return wrap(OpAddTask, domain.RecordProfile, pd.Address, err)
			}
			pdata, err := profile.MarshalBinary()
			if err != nil {
				return err
			}
			if err := tx.Write(pd.Address, pdata); err != nil {
				return wrap(OpAddTask, domain.RecordProfile, pd.Address, err)
			}
			created = task
			return nil
		})
		return res, wrap(OpAddTask, domain.RecordTask, target.address, err)
	})
	if err != nil {
		return domain.TaskRecord{}, res, err
	}
	return created, res, nil
}

// MarkTask marks the caller's task at index as done. A task that is already
// done is rejected with domain.ErrInvalidMarkState and left unchanged.
func (s *Service) MarkTask(ctx context.Context, caller domain.Identity, index uint8) (domain.TaskRecord, Result, error) {
	target := &auditTarget{kind: domain.RecordTask, action: domain.ActionUpdate, caller: caller}
	var marked domain.TaskRecord
	res, err := s.observe(ctx, OpMarkTask, target, func(ctx context.Context) (Result, error) {
		td, err := s.program.DeriveTaskAddress(caller, index)
		if err != nil {
			return Result{}, wrap(OpMarkTask, domain.RecordTask, domain.Address{}, err)
		}
		target.address = td.Address
		res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
			task, err := readTask(tx, td.Address)
			if err != nil {
				return err
			}
			if err := domain.CheckAuthority(caller, task.Owner); err != nil {
				return err
			}
			if task.Done {
				return fmt.Errorf("%w: task %d", domain.ErrInvalidMarkState, index)
			}
			task.Done = true
			data, err := task.MarshalBinary()
			if err != nil {
				return err
			}
			if err := tx.Write(td.Address, data); err != nil {
				return err
			}
			marked = task
			return nil
		})
		return res, wrap(OpMarkTask, domain.RecordTask, td.Address, err)
	})
	if err != nil {
		return domain.TaskRecord{}, res, err
	}
	return marked, res, nil
}

// DeleteTask removes the caller's task at index, decrements the active
// counter and refunds the task rent to the caller. The index is retired.
func (s *Service) DeleteTask(ctx context.Context, caller domain.Identity, index uint8) (Result, error) {
	target := &auditTarget{kind: domain.RecordTask, action: domain.ActionDelete, caller: caller}
	return s.observe(ctx, OpDeleteTask, target, func(ctx context.Context) (Result, error) {
		td, err := s.program.DeriveTaskAddress(caller, index)
		if err != nil {
			return Result{}, wrap(OpDeleteTask, domain.RecordTask, domain.Address{}, err)
		}
		target.address = td.Address
		pd, err := s.program.DeriveProfileAddress(caller)
		if err != nil {
			return Result{}, wrap(OpDeleteTask, domain.RecordProfile, domain.Address{}, err)
		}
		res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
			task, err := readTask(tx, td.Address)
			if err != nil {
				return wrap(OpDeleteTask, domain.RecordTask, td.Address, err)
			}
			if err := domain.CheckAuthority(caller, task.Owner); err != nil {
				return wrap(OpDeleteTask, domain.RecordTask, td.Address, err)
			}
			profile, err := readProfile(tx, pd.Address)
			if err != nil {
				return wrap(OpDeleteTask, domain.RecordProfile, pd.Address, err)
			}
			if err := domain.CheckAuthority(caller, profile.Owner); err != nil {
				return wrap(OpDeleteTask, domain.RecordProfile, pd.Address, err)
			}
			if err := profile.RecordDeleted(); err != nil {
				return wrap(OpDeleteTask, domain.RecordProfile, pd.Address, err)
			}
			pdata, err := profile.MarshalBinary()
			if err != nil {
				return err
			}
			if err := tx.Write(pd.Address, pdata); err != nil {
				return wrap(OpDeleteTask, domain.RecordProfile, pd.Address, err)
			}
			refund, err := tx.Deallocate(td, caller)
			if err != nil {
				if errors.Is(err, domain.ErrAccountNotFound) {
					err = fmt.Errorf("%w: %w", domain.ErrNotFound, err)
				}
				return wrap(OpDeleteTask, domain.RecordTask, td.Address, err)
			}
			s.logger.Debug("task rent refunded", "address", td.Address.String(), "refund", refund)
			return nil
		})
		return res, wrap(OpDeleteTask, domain.RecordTask, td.Address, err)
	})
}

// Fund credits amount to id and returns the new balance.
func (s *Service) Fund(ctx context.Context, id domain.Identity, amount uint64) (uint64, Result, error) {
	target := &auditTarget{caller: id}
	var balance uint64
	res, err := s.observe(ctx, OpFund, target, func(ctx context.Context) (Result, error) {
		res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
			if err := tx.Credit(id, amount); err != nil {
				return err
			}
			balance = tx.Balance(id)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("%s %s: %w", OpFund, id, err)
		}
		return res, nil
	})
	return balance, res, err
}

// GetProfile reads the profile of owner.
func (s *Service) GetProfile(ctx context.Context, owner domain.Identity) (domain.ProfileRecord, error) {
	d, err := s.program.DeriveProfileAddress(owner)
	if err != nil {
		return domain.ProfileRecord{}, wrap("get_profile", domain.RecordProfile, domain.Address{}, err)
	}
	var profile domain.ProfileRecord
	err = s.ledger.View(ctx, func(view domain.LedgerView) error {
		var err error
		profile, err = readProfile(view, d.Address)
		return err
	})
	if err != nil {
		return domain.ProfileRecord{}, wrap("get_profile", domain.RecordProfile, d.Address, err)
	}
	return profile, nil
}

// GetTask reads owner's task at index.
func (s *Service) GetTask(ctx context.Context, owner domain.Identity, index uint8) (domain.TaskRecord, error) {
	d, err := s.program.DeriveTaskAddress(owner, index)
	if err != nil {
		return domain.TaskRecord{}, wrap("get_task", domain.RecordTask, domain.Address{}, err)
	}
	var task domain.TaskRecord
	err = s.ledger.View(ctx, func(view domain.LedgerView) error {
		var err error
		task, err = readTask(view, d.Address)
		return err
	})
	if err != nil {
		return domain.TaskRecord{}, wrap("get_task", domain.RecordTask, d.Address, err)
	}
	return task, nil
}

// Balance reports the ledger balance of id.
func (s *Service) Balance(ctx context.Context, id domain.Identity) (uint64, error) {
	var balance uint64
	err := s.ledger.View(ctx, func(view domain.LedgerView) error {
		balance = view.Balance(id)
		return nil
	})
	return balance, err
}
