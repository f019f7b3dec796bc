package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/loadshift/pkg/storage"
)

type MockStore struct {
	mock.Mock
}

var _ storage.Store = (*MockStore)(nil)

func (m *MockStore) GetState(ctx context.Context, entityID string) (string, error) {
	args := m.Called(ctx, entityID)
	return args.String(0), args.Error(1)
}

func (m *MockStore) SetState(ctx context.Context, entityID, value string, attrs map[string]any) error {
	args := m.Called(ctx, entityID, value, attrs)
	return args.Error(0)
}

// Subscribe blocks until ctx is done unless the expectation returns an error.
func (m *MockStore) Subscribe(ctx context.Context, fn func(storage.Change)) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
