package objects

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/nickyhof/LayerDB/core"
)

var (
	ErrNotCached       = errors.New("object payload not cached")
	ErrNoSource        = errors.New("no location or upstream holds the object")
	ErrCorrupt         = errors.New("object payload does not match its id")
	ErrUnknownProtocol = errors.New("no handler for protocol")
)

// TransferError collects the per-object failures of a Download or Upload.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	errs := multierr.Errors(e.Err)
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("failed to %s %d object(s): %s", e.Op, len(errs), strings.Join(msgs, "; "))
}

func (e *TransferError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// ObjectIDs returns the failing object ids in sorted order.
func (e *TransferError) ObjectIDs() []string {
	var ids []string
	for _, err := range multierr.Errors(e.Err) {
		var storageErr *core.StorageError
		if errors.As(err, &storageErr) {
			ids = append(ids, storageErr.ObjectID)
		}
	}
	sort.Strings(ids)
	return ids
}
