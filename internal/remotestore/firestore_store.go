package remotestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore adapts a Cloud Firestore client to Store.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	snap, err := s.client.Collection(strings.TrimSpace(collection)).Doc(strings.TrimSpace(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *FirestoreStore) QueryDocuments(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	q := s.client.Collection(strings.TrimSpace(collection)).Query
	for _, f := range filters {
		switch f.Op {
		case OpEq, OpIn:
			q = q.Where(f.Field, string(f.Op), f.Value)
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

func (s *FirestoreStore) SubscribeDocument(ctx context.Context, collection, id string, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("onSnapshot is required")
	}
	ref := s.client.Collection(strings.TrimSpace(collection)).Doc(strings.TrimSpace(id))

	subCtx, cancel := context.WithCancel(ctx)
	iter := ref.Snapshots(subCtx)
	sub := newSubscription(onSnapshot, onError)

	go func() {
		for {
			snap, err := iter.Next()
			if subCtx.Err() != nil || status.Code(err) == codes.Canceled {
				sub.close()
				return
			}
			if err != nil {
				sub.fail(err)
				return
			}
			if !snap.Exists() {
				sub.push(nil)
				continue
			}
			sub.push(&Document{ID: snap.Ref.ID, Data: snap.Data()})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			iter.Stop()
			sub.close()
		})
	}, nil
}
