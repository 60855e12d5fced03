package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockArchiveStore implements interfaces.ArchiveStore for testing
type MockArchiveStore struct {
	mock.Mock
	name string
}

func (m *MockArchiveStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchiveStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *MockArchiveStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockArchiveStore) Name() string {
	return m.name
}

func (m *MockArchiveStore) LocationURI() string {
	return "mock:" + m.name
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.ArchiveStore
			for i, available := range tt.backends {
				mockStorage := &MockArchiveStore{name: fmt.Sprintf("mock-A%x", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockArchiveStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	name := interfaces.ArchiveFileName
	testData := []byte("test archive")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.ArchiveStore
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, name).Return(testData, nil)

				// not called, the first one succeeds
				mock2 := &MockArchiveStore{name: "mock-B"}

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, name).Return(nil, testErr)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, name).Return(testData, nil)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, name).Return(nil, testErr)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, name).Return(nil, interfaces.ErrArchiveNotFound)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
		{
			name: "not found anywhere",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, name).Return(nil, interfaces.ErrArchiveNotFound)

				return []interfaces.ArchiveStore{mock1}
			},
			expectedError: interfaces.ErrArchiveNotFound,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, name).Return(testData, nil)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedData: testData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			data, err := multi.Fetch(context.Background(), name)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				backend.(*MockArchiveStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	name := interfaces.ArchiveFileName
	testData := []byte("test archive")
	testErr := errors.New("test error")

	tests := []struct {
		name             string
		setupMocks       func() []interfaces.ArchiveStore
		expectedLocation string
		expectedError    bool
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, name, testData).Return("/a/cert.p12", nil)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, name, testData).Return("s3://b/cert.p12", nil)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedLocation: "/a/cert.p12",
		},
		{
			name: "first backend fails",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, name, testData).Return("", testErr)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, name, testData).Return("s3://b/cert.p12", nil)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedLocation: "s3://b/cert.p12",
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.ArchiveStore {
				mock1 := &MockArchiveStore{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, name, testData).Return("", testErr)

				mock2 := &MockArchiveStore{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.ArchiveStore{mock1, mock2}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			location, err := multi.Store(context.Background(), name, testData)

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedLocation, location)

			for _, backend := range backends {
				backend.(*MockArchiveStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_LocationURI(t *testing.T) {
	multi := NewMultiStorageBackend([]interfaces.ArchiveStore{
		&MockArchiveStore{name: "a"},
		&MockArchiveStore{name: "b"},
	}, nil)
	assert.Equal(t, "multi:[mock:a,mock:b]", multi.LocationURI())
}
