package receipt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapwise/receiptpipe/internal/queue"
)

// Jobs is the slice of the queue the service needs: idempotent enqueue and
// status lookup.
type Jobs interface {
	Enqueue(jobID string, payload queue.Payload) (*queue.Job, error)
	Status(jobID string) (*queue.JobStatus, error)
}

// IDGenerator generates unique receipt IDs.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt CRUD and hands processing work to the job queue.
// Parsing never happens on the request path.
type Service struct {
	db          DB
	storage     Storage
	jobs        Jobs
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with default ID generator and time source.
func NewService(db DB, storage Storage, jobs Jobs) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		jobs:        jobs,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, storage Storage, jobs Jobs, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		jobs:        jobs,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone cameras produce long, messy names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// Upload stores the image, creates a PENDING receipt row and enqueues the
// processing job. The job id equals the receipt id, so a re-upload of the
// same receipt id can never produce two jobs racing each other.
func (s *Service) Upload(filename string, data []byte, contentType string) (*Receipt, *queue.Job, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	key, err := s.storage.Put(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving image: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Status:      StatusPending,
		ImageKey:    key,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		s.storage.Delete(key)
		return nil, nil, fmt.Errorf("saving receipt: %w", err)
	}

	job, err := s.jobs.Enqueue(id, queue.Payload{
		ReceiptID: id,
		ImageURL:  "/receipts/files/" + key,
	})
	if err != nil {
		// Queue errors propagate verbatim; roll the upload back so no
		// receipt is left stranded in PENDING with no job behind it.
		slog.Error("Failed to enqueue receipt job", "receipt_id", id, "error", err)
		s.storage.Delete(key)
		if dbErr := s.db.DeleteReceipt(id); dbErr != nil {
			slog.Warn("Failed to roll back receipt row", "receipt_id", id, "error", dbErr)
		}
		return nil, nil, err
	}

	return receipt, job, nil
}

// Get retrieves a receipt by ID.
func (s *Service) Get(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// List returns all receipts.
func (s *Service) List() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// Items returns a receipt's line items in stored order.
func (s *Service) Items(id string) ([]Item, error) {
	if _, err := s.db.GetReceipt(id); err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	items, err := s.db.GetItems(id)
	if err != nil {
		return nil, fmt.Errorf("getting items: %w", err)
	}
	return items, nil
}

// Delete removes a receipt, its items and its image.
func (s *Service) Delete(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(receipt.ImageKey); err != nil {
		// Log but continue; the database record is the source of truth.
		slog.Warn("Failed to delete image", "image_key", receipt.ImageKey, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return nil
}

// GetFile retrieves the stored image for a receipt.
func (s *Service) GetFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.ImageKey)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentType, nil
}

// JobStatus looks up the queue state for a job id.
func (s *Service) JobStatus(id string) (*queue.JobStatus, error) {
	return s.jobs.Status(id)
}
