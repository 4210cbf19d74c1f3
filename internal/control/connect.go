package control

import (
	"errors"
	"fmt"

	"calmh.dev/tripd/internal/store"
	"go.etcd.io/bbolt"
)

var _ Store = (*store.Store)(nil)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Connect returns the API of the daemon at server when set, and the
// database at path otherwise. The caller closes the returned Closer.
func Connect(server, path string) (Store, interface{ Close() error }, error) {
	if server != "" {
		return NewClient(server), nopCloser{}, nil
	}
	db, err := store.Open(path)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, nil, fmt.Errorf("%w (is the daemon running? use --server)", err)
	}
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}
