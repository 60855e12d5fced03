package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// MultiStorageBackend implements interfaces.ArchiveStore using multiple backends with fallback.
type MultiStorageBackend struct {
	backends []interfaces.ArchiveStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.ArchiveStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the archive from the first available backend that has it.
func (m *MultiStorageBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("name", name))
			continue
		}

		data, err := backend.Fetch(ctx, name)
		if err == nil {
			m.log.InfoContext(ctx, "Successfully fetched archive",
				slog.String("backend_name", backend.Name()),
				slog.String("name", name),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrArchiveNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("name", name),
			"err", err)
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrArchiveNotFound
	}

	m.log.ErrorContext(ctx, "All backends failed to fetch archive",
		slog.String("name", name),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, name, errs)
}

// Store saves data to all available backends and returns the location
// reported by the first one that succeeded.
func (m *MultiStorageBackend) Store(ctx context.Context, name string, data []byte) (string, error) {
	start := time.Now()
	var location string
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		loc, err := backend.Store(ctx, name, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}

		if location == "" {
			location = loc
			m.log.InfoContext(ctx, "Successfully stored archive",
				slog.String("backend_name", backend.Name()),
				slog.String("location", loc),
				slog.Duration("duration", time.Since(start)))
		}
	}

	if location == "" {
		m.log.ErrorContext(ctx, "All backends failed to store archive",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: all backends failed to store archive: %v", interfaces.ErrBackendUnavailable, errs)
	}

	return location, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined location of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
