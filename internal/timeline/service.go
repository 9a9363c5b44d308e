package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "timeline.service.new"
	opListEvents = "timeline.list_events"

	defaultListLimit = 50
	maxListLimit     = 500
)

// ServiceError carries a stable operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies for the timeline query service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service answers read queries against the append-only timeline. Writes go
// through the goals service transaction, never through here.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the timeline query service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// ListEvents returns a user's timeline events at or after since, newest
// first. A zero since returns the full log; limit is capped.
func (s *Service) ListEvents(ctx context.Context, userID string, since time.Time, limit int) ([]Event, error) {
	if userID == "" {
		s.logError(opListEvents, "missing_user_id", errMissingUserID)
		return nil, newServiceError(opListEvents, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		query = query.Where("event_timestamp_s >= ?", since.Unix())
	}

	var events []Event
	if err := query.Order("event_timestamp_s DESC").Limit(limit).Find(&events).Error; err != nil {
		s.logError(opListEvents, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListEvents, "query_failed", err)
	}
	return events, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("timeline service error", attrs...)
}
