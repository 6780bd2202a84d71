// Package export writes point-in-time ledger snapshots to the blob store in
// the background. Each request produces one immutable object per format
// under snapshots/<id>.<ext>: a JSON document that carries every account and
// balance, and a CSV inventory of accounts.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskledger/internal/blob"
	"taskledger/internal/core"
	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

// Operation is the audit operation name for snapshot exports.
const Operation = "export_snapshot"

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var contentTypes = map[Format]string{
	FormatJSON: "application/json",
	FormatCSV:  "text/csv",
}

// ErrQueueFull is returned when the worker cannot accept more requests.
var ErrQueueFull = errors.New("export queue full")

// ErrUnknownExport is returned by Wait for an id the worker never issued.
var ErrUnknownExport = errors.New("unknown export")

// Source exposes a consistent copy of committed ledger state. Every ledger
// backend embeds the in-memory store and satisfies it.
type Source interface {
	ExportState() memory.Snapshot
}

// Artifact is one stored rendering.
type Artifact struct {
	Format Format    `json:"format"`
	Object blob.Info `json:"object"`
}

// Record tracks an export request.
type Record struct {
	ID          string          `json:"id"`
	RequestedBy domain.Identity `json:"requested_by"`
	Formats     []Format        `json:"formats"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Accounts    int             `json:"accounts"`
	Artifacts   []Artifact      `json:"artifacts,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	r.Formats = slices.Clone(r.Formats)
	r.Artifacts = slices.Clone(r.Artifacts)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// Document is the JSON rendering of a snapshot.
type Document struct {
	ExportedAt time.Time                  `json:"exported_at"`
	Accounts   []AccountEntry             `json:"accounts"`
	Balances   map[domain.Identity]uint64 `json:"balances"`
}

// AccountEntry is one ledger slot in a Document. Kind is empty for data the
// record codec does not recognise.
type AccountEntry struct {
	domain.Account
	Kind domain.RecordKind `json:"kind,omitempty"`
}

type job struct {
	record *Record
	done   chan struct{}
}

// Worker executes exports on a single background goroutine.
type Worker struct {
	source Source
	store  blob.Store
	audit  core.AuditRecorder
	clock  core.Clock

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithAuditRecorder records one audit entry per finished export.
func WithAuditRecorder(a core.AuditRecorder) Option {
	return func(w *Worker) {
		if a != nil {
			w.audit = a
		}
	}
}

// WithClock overrides the time source.
func WithClock(c core.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithQueueSize sets the number of requests that may wait for the worker.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// NewWorker constructs an export worker. Call Start before enqueueing.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: source,
		store:  store,
		audit:  core.LoggerAuditRecorder{},
		clock:  core.ClockFunc(func() time.Time { return time.Now().UTC() }),
		queue:  make(chan string, 32),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the goroutine to exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules a snapshot export on behalf of requestedBy. Formats
// default to JSON and CSV; duplicates are dropped.
func (w *Worker) Enqueue(_ context.Context, requestedBy domain.Identity, formats ...Format) (Record, error) {
	if w.store == nil || w.source == nil {
		return Record{}, errors.New("export source and store must be configured")
	}
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	for _, f := range formats {
		if _, ok := contentTypes[f]; !ok {
			return Record{}, fmt.Errorf("unsupported export format %q", f)
		}
		if !slices.Contains(uniq, f) {
			uniq = append(uniq, f)
		}
	}

	now := w.clock.Now()
	record := &Record{
		ID:          uuid.NewString(),
		RequestedBy: requestedBy,
		Formats:     uniq,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w.mu.Lock()
	w.jobs[record.ID] = &job{record: record, done: make(chan struct{})}
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return j.record.copy(), true
}

// Wait blocks until the export finishes or ctx is done.
func (w *Worker) Wait(ctx context.Context, id string) (Record, error) {
	w.mu.RLock()
	j, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownExport, id)
	}
	select {
	case <-j.done:
		rec, _ := w.Get(id)
		return rec, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (w *Worker) process(id string) {
	rec, ok := w.Get(id)
	if !ok {
		return
	}
	start := w.clock.Now()
	snap := w.source.ExportState()
	w.update(id, func(r *Record) {
		r.Status = StatusRunning
		r.Accounts = len(snap.Accounts)
	})

	artifacts := make([]Artifact, 0, len(rec.Formats))
	for _, format := range rec.Formats {
		payload, err := render(format, snap, start)
		if err != nil {
			w.finish(id, start, nil, err)
			return
		}
		key := fmt.Sprintf("snapshots/%s.%s", rec.ID, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentTypes[format]})
		if err != nil {
			w.finish(id, start, nil, fmt.Errorf("store %s: %w", key, err))
			return
		}
		artifacts = append(artifacts, Artifact{Format: format, Object: info})
	}
	w.finish(id, start, artifacts, nil)
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if j, ok := w.jobs[id]; ok {
		fn(j.record)
		j.record.UpdatedAt = w.clock.Now()
	}
}

func (w *Worker) finish(id string, start time.Time, artifacts []Artifact, err error) {
	now := w.clock.Now()
	var requester domain.Identity
	w.mu.Lock()
	j, ok := w.jobs[id]
	if ok {
		requester = j.record.RequestedBy
		j.record.UpdatedAt = now
		j.record.CompletedAt = &now
		if err != nil {
			j.record.Status = StatusFailed
			j.record.Error = err.Error()
		} else {
			j.record.Status = StatusSucceeded
			j.record.Artifacts = artifacts
		}
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	entry := core.AuditEntry{
		ID:        id,
		Operation: Operation,
		Caller:    requester,
		Status:    core.AuditStatusSuccess,
		Duration:  now.Sub(start),
		Timestamp: now,
	}
	if err != nil {
		entry.Status = core.AuditStatusError
		entry.Error = err.Error()
	}
	w.audit.Record(w.ctx, entry)
	close(j.done)
}

func render(format Format, snap memory.Snapshot, at time.Time) ([]byte, error) {
	accounts := snap.SortedAccounts()
	switch format {
	case FormatJSON:
		doc := Document{
			ExportedAt: at,
			Accounts:   make([]AccountEntry, 0, len(accounts)),
			Balances:   snap.Balances,
		}
		for _, acct := range accounts {
			kind, _ := domain.KindOf(acct.Data)
			doc.Accounts = append(doc.Accounts, AccountEntry{Account: acct, Kind: kind})
		}
		return json.Marshal(doc)
	case FormatCSV:
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write([]string{"address", "kind", "payer", "size", "rent"}); err != nil {
			return nil, err
		}
		for _, acct := range accounts {
			kind, _ := domain.KindOf(acct.Data)
			row := []string{
				acct.Address.String(),
				string(kind),
				acct.Payer.String(),
				strconv.Itoa(len(acct.Data)),
				strconv.FormatUint(acct.Rent, 10),
			}
			if err := cw.Write(row); err != nil {
				return nil, err
			}
		}
		cw.Flush()
		return buf.Bytes(), cw.Error()
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
