// Package blob provides a ledger that keeps its state as JSON objects in a
// blob store (filesystem, S3 or memory).
//
// Every commit gets a generation number. Changed accounts are written as new
// immutable objects under accounts/<address>/<generation>.json, then a
// manifest naming every live account object plus all balances is written to
// commits/<generation>.json. The manifest write is the commit point: loading
// reads the highest manifest and ignores objects it does not reference.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	blobstore "taskledger/internal/blob"
	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"
)

var _ domain.Ledger = (*Store)(nil)

const (
	accountsPrefix = "accounts/"
	commitsPrefix  = "commits/"
	contentType    = "application/json"
)

type accountObject struct {
	Address domain.Address  `json:"address"`
	Payer   domain.Identity `json:"payer"`
	Data    []byte          `json:"data"`
	Rent    uint64          `json:"rent"`
}

type manifest struct {
	Generation uint64                     `json:"generation"`
	Accounts   map[domain.Address]string  `json:"accounts"`
	Balances   map[domain.Identity]uint64 `json:"balances"`
}

// Store mirrors committed ledger state into a blob store. Only accounts whose
// contents changed since the previous commit are rewritten.
type Store struct {
	*memory.Store
	objects blobstore.Store
	mu      sync.Mutex
	last    memory.Snapshot
	head    manifest
}

// NewStore hydrates a ledger from the latest manifest in objects.
func NewStore(ctx context.Context, objects blobstore.Store, programID domain.Address, engine *domain.RulesEngine) (*Store, error) {
	if objects == nil {
		return nil, errors.New("blob ledger requires an object store")
	}
	head, snapshot, err := load(ctx, objects)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(programID, engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, objects: objects, last: mem.ExportState(), head: head}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// Objects exposes the backing blob store.
func (s *Store) Objects() blobstore.Store { return s.objects }

// Generation returns the generation of the last committed manifest.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.Generation
}

func accountKey(addr domain.Address, gen uint64) string {
	return fmt.Sprintf("%s%s/%020d.json", accountsPrefix, addr, gen)
}

func commitKey(gen uint64) string {
	return fmt.Sprintf("%s%020d.json", commitsPrefix, gen)
}

func emptyManifest() manifest {
	return manifest{
		Accounts: make(map[domain.Address]string),
		Balances: make(map[domain.Identity]uint64),
	}
}

func load(ctx context.Context, objects blobstore.Store) (manifest, memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Accounts: make(map[domain.Address]domain.Account),
		Balances: make(map[domain.Identity]uint64),
	}
	infos, err := objects.List(ctx, commitsPrefix)
	if err != nil {
		return manifest{}, memory.Snapshot{}, fmt.Errorf("list commits: %w", err)
	}
	if len(infos) == 0 {
		return emptyManifest(), snapshot, nil
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	sort.Strings(keys)
	head := emptyManifest()
	if err := readJSON(ctx, objects, keys[len(keys)-1], &head); err != nil {
		return manifest{}, memory.Snapshot{}, err
	}
	if head.Accounts == nil {
		head.Accounts = make(map[domain.Address]string)
	}
	if head.Balances == nil {
		head.Balances = make(map[domain.Identity]uint64)
	}
	for addr, key := range head.Accounts {
		var obj accountObject
		if err := readJSON(ctx, objects, key, &obj); err != nil {
			return manifest{}, memory.Snapshot{}, err
		}
		if obj.Address != addr {
			return manifest{}, memory.Snapshot{}, fmt.Errorf("object %s holds account %s", key, obj.Address)
		}
		snapshot.Accounts[addr] = domain.Account{Address: obj.Address, Payer: obj.Payer, Data: obj.Data, Rent: obj.Rent}
	}
	for id, amount := range head.Balances {
		snapshot.Balances[id] = amount
	}
	return head, snapshot, nil
}

func readJSON(ctx context.Context, objects blobstore.Store, key string, v any) error {
	_, rc, err := objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.objects.Put(ctx, key, bytes.NewReader(body), blobstore.PutOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// putAccount writes an account object for a generation that has not been
// committed yet. A leftover object from an aborted attempt at the same
// generation is unreferenced and replaced.
func (s *Store) putAccount(ctx context.Context, key string, obj accountObject) error {
	err := s.put(ctx, key, obj)
	if !errors.Is(err, blobstore.ErrExists) {
		return err
	}
	if _, err := s.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete stale %s: %w", key, err)
	}
	return s.put(ctx, key, obj)
}

func (s *Store) persist(ctx context.Context, next memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.head.Generation + 1
	head := manifest{
		Generation: gen,
		Accounts:   make(map[domain.Address]string, len(next.Accounts)),
		Balances:   next.Balances,
	}
	for _, acct := range next.SortedAccounts() {
		if prev, ok := s.last.Accounts[acct.Address]; ok && sameAccount(prev, acct) {
			head.Accounts[acct.Address] = s.head.Accounts[acct.Address]
			continue
		}
		key := accountKey(acct.Address, gen)
		obj := accountObject{Address: acct.Address, Payer: acct.Payer, Data: acct.Data, Rent: acct.Rent}
		if err := s.putAccount(ctx, key, obj); err != nil {
			return err
		}
		head.Accounts[acct.Address] = key
	}
	if err := s.put(ctx, commitKey(gen), head); err != nil {
		return err
	}
	prev := s.head
	s.head = head
	s.last = next
	s.collect(ctx, prev)
	return nil
}

// collect removes the previous manifest and account objects it referenced
// that the new head no longer does. Failures leave garbage behind but never
// affect what load returns.
func (s *Store) collect(ctx context.Context, prev manifest) {
	for addr, key := range prev.Accounts {
		if s.head.Accounts[addr] == key {
			continue
		}
		_, _ = s.objects.Delete(ctx, key)
	}
	if prev.Generation > 0 {
		_, _ = s.objects.Delete(ctx, commitKey(prev.Generation))
	}
}

func sameAccount(a, b domain.Account) bool {
	return a.Payer == b.Payer && a.Rent == b.Rent && bytes.Equal(a.Data, b.Data)
}

// Keys lists the account object keys currently held, relative to the
// accounts prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	infos, err := s.objects.List(ctx, accountsPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, strings.TrimPrefix(info.Key, accountsPrefix))
	}
	return keys, nil
}
