package pushsubscription

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/pkg/cerr"
)

const Collection = "push_subscriptions"

type Repository interface {
	// Register stores a subscription for endpoint, replacing the keys of an
	// existing one.
	Register(ctx context.Context, endpoint, p256dhKey, authKey string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// RecordRepository keeps subscriptions as records of the record store.
type RecordRepository struct {
	records *recordstore.Collection[Subscription]
	now     func() time.Time
}

func NewRecordRepository(store *recordstore.Store) *RecordRepository {
	return &RecordRepository{
		records: recordstore.NewCollection[Subscription](store, Collection),
		now:     time.Now,
	}
}

func (r *RecordRepository) Register(ctx context.Context, endpoint, p256dhKey, authKey string) (*Subscription, error) {
	switch {
	case endpoint == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil)
	case p256dhKey == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "p256dh_key is required", nil)
	case authKey == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "auth_key is required", nil)
	}

	sub, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil && !cerr.IsCode(err, cerr.NotFound) {
		return nil, err
	}
	if sub == nil {
		sub = &Subscription{
			ID:        ulid.Make().String(),
			Endpoint:  endpoint,
			CreatedAt: r.now().UTC(),
		}
	}
	sub.P256dhKey = p256dhKey
	sub.AuthKey = authKey
	if err := r.records.Save(ctx, *sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *RecordRepository) List(ctx context.Context) ([]*Subscription, error) {
	subs, err := r.records.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Subscription, len(subs))
	for i := range subs {
		out[i] = &subs[i]
	}
	return out, nil
}

func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	return r.records.Delete(ctx, id)
}

func (r *RecordRepository) FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error) {
	subs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *RecordRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	sub, err := r.FindByEndpoint(ctx, endpoint)
	if err != nil {
		return err
	}
	return r.Delete(ctx, sub.ID)
}
