package ps

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v6/plumbing"

	"github.com/nickyhof/LayerDB/core"
)

// Operation represents a single write operation in a transaction
type Operation struct {
	Type OperationType
	Path string
	Data []byte
}

type OperationType int

const (
	WriteOp OperationType = iota
	DeleteOp
)

// Txn batches catalog writes into a single commit.
type Txn struct {
	persistence *Persistence
	operations  map[string]Operation
	expectHead  *string
	started     bool
}

// BeginTransaction creates a new transaction builder for batching operations
func (p *Persistence) BeginTransaction() (*Txn, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	return &Txn{
		persistence: p,
		operations:  make(map[string]Operation),
		started:     true,
	}, nil
}

// ExpectHead pins the transaction to a catalog transaction id. Commit fails
// with ErrConflict if the catalog moved on in the meantime. An empty id
// expects an empty catalog.
func (tb *Txn) ExpectHead(id string) *Txn {
	tb.expectHead = &id
	return tb
}

// AddWrite stages data at path. A later write or delete of the same path
// replaces it.
func (tb *Txn) AddWrite(path string, data []byte) error {
	if !tb.started {
		return fmt.Errorf("transaction not started")
	}
	tb.operations[path] = Operation{Type: WriteOp, Path: path, Data: data}
	return nil
}

// AddDelete stages the removal of a file or a whole directory.
func (tb *Txn) AddDelete(path string) error {
	if !tb.started {
		return fmt.Errorf("transaction not started")
	}
	tb.operations[path] = Operation{Type: DeleteOp, Path: path}
	return nil
}

// Staged returns the data staged for path by this transaction.
func (tb *Txn) Staged(path string) ([]byte, bool) {
	op, ok := tb.operations[path]
	if !ok || op.Type != WriteOp {
		return nil, false
	}
	return op.Data, true
}

// Commit applies all batched operations in a single git commit.
func (tb *Txn) Commit(identity core.Identity, message string) (Transaction, error) {
	if !tb.started {
		return Transaction{}, fmt.Errorf("transaction not started")
	}

	if len(tb.operations) == 0 {
		return Transaction{}, fmt.Errorf("no operations to commit")
	}

	p := tb.persistence
	p.mu.Lock()
	defer p.mu.Unlock()

	head, err := p.head()
	if err != nil {
		return Transaction{}, err
	}

	if tb.expectHead != nil {
		current := ""
		if head != nil {
			current = head.Hash.String()
		}
		if current != *tb.expectHead {
			return Transaction{}, fmt.Errorf("%w: expected %s, found %s", ErrConflict, *tb.expectHead, current)
		}
	}

	currentTree := plumbing.ZeroHash
	if head != nil {
		currentTree = head.TreeHash
	}

	paths := make([]string, 0, len(tb.operations))
	for path := range tb.operations {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	changes := make([]TreeChange, 0, len(paths))
	for _, path := range paths {
		op := tb.operations[path]
		switch op.Type {
		case WriteOp:
			blob, err := p.writeBlob(op.Data)
			if err != nil {
				return Transaction{}, fmt.Errorf("failed to write %s: %w", path, err)
			}
			changes = append(changes, TreeChange{Path: path, Blob: blob})
		case DeleteOp:
			changes = append(changes, TreeChange{Path: path, Delete: true})
		}
	}

	newTree, err := p.applyChanges(currentTree, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Batch transaction: %d operation(s)", len(tb.operations))
	}
	txn, err := p.commitTree(newTree, head, identity, message)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to commit: %w", err)
	}

	tb.started = false
	tb.operations = nil

	return txn, nil
}

// Rollback discards all batched operations without committing
func (tb *Txn) Rollback() {
	tb.started = false
	tb.operations = nil
}

// OperationCount returns the number of pending operations
func (tb *Txn) OperationCount() int {
	return len(tb.operations)
}
