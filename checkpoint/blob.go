package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/tsearch/blobstore"
	"github.com/hupe1980/tsearch/codec"
)

// BlobStore keeps each state as one blob named "<name>.state".
//
// Object stores offer no compare-and-swap, so BlobStore does not detect
// concurrent writers; use DynamoStore or SQLiteStore for that.
type BlobStore struct {
	blobs blobstore.Store
	codec codec.Codec
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a store. A nil codec selects codec.Default.
func NewBlobStore(blobs blobstore.Store, c codec.Codec) *BlobStore {
	if c == nil {
		c = codec.Default
	}
	return &BlobStore{blobs: blobs, codec: c}
}

func blobName(name string) string {
	return name + ".state"
}

func (s *BlobStore) Load(ctx context.Context, name string) (*State, error) {
	data, err := s.blobs.Get(ctx, blobName(name))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := s.codec.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s with %s: %w", name, s.codec.Name(), err)
	}
	return &st, nil
}

func (s *BlobStore) Save(ctx context.Context, name string, st *State) error {
	next := st.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	data, err := s.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", name, err)
	}
	if err := s.blobs.Put(ctx, blobName(name), data); err != nil {
		return err
	}
	st.Version, st.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (s *BlobStore) Delete(ctx context.Context, name string) error {
	return s.blobs.Delete(ctx, blobName(name))
}
