package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/8UOU8/ReceiptScannerDK/internal/extraction"
	"github.com/8UOU8/ReceiptScannerDK/internal/preprocess"
	"github.com/8UOU8/ReceiptScannerDK/internal/reconcile"
)

// IDGenerator generates unique IDs for receipt items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// ExtractorFactory builds an extractor for one dispatch. Settings are read at
// dispatch time, so a factory invocation sees the configuration current at
// that moment.
type ExtractorFactory func(ctx context.Context, cfg extraction.Config) (extraction.Extractor, error)

// uuidGenerator generates IDs using random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// UploadFile is one file handed to Enqueue
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service owns the collection of receipt items and drives each one through
// preprocessing, extraction and reconciliation. All item state mutations go
// through the Service; extraction calls are dispatched one at a time, in
// submission order, by a single worker.
type Service struct {
	db           DB
	storage      Storage
	newExtractor ExtractorFactory
	idGenerator  IDGenerator
	timeSource   TimeSource

	queue chan string
	done  chan struct{}
	once  sync.Once
}

// NewService creates a new Service with default dependencies
func NewService(db DB, storage Storage) *Service {
	return NewServiceWithDeps(db, storage, extraction.New, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for
// testing; nil idGen and timeSrc fall back to the defaults
func NewServiceWithDeps(db DB, storage Storage, factory ExtractorFactory, idGen IDGenerator, timeSrc TimeSource) *Service {
	if idGen == nil {
		idGen = &uuidGenerator{}
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &Service{
		db:           db,
		storage:      storage,
		newExtractor: factory,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		queue:        make(chan string, 512),
		done:         make(chan struct{}),
	}
}

// Start launches the dispatch worker
func (s *Service) Start() {
	go s.run()
}

// Stop shuts the dispatch worker down; items still queued stay Idle
func (s *Service) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Service) run() {
	for {
		select {
		case id := <-s.queue:
			s.processReceipt(id)
		case <-s.done:
			return
		}
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone cameras produce long noisy names
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

// Enqueue preprocesses a batch of uploaded files concurrently, inserts the
// resulting items in submission order, and queues each for extraction. Empty
// input is a no-op. Files whose bytes cannot be stored become Error items
// immediately; they never block the rest of the batch.
func (s *Service) Enqueue(files []UploadFile) ([]*Item, error) {
	if len(files) == 0 {
		return nil, nil
	}

	// Preprocess the whole batch before any item becomes visible, so a batch
	// never appears partially populated. Conversions are independent and run
	// concurrently.
	normalized := make([]UploadFile, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f UploadFile) {
			defer wg.Done()
			data, name, contentType := preprocess.Normalize(f.Filename, f.Data, f.ContentType)
			normalized[i] = UploadFile{Filename: name, ContentType: contentType, Data: data}
		}(i, f)
	}
	wg.Wait()

	items := make([]*Item, 0, len(files))
	pending := make([]string, 0, len(files))
	for _, f := range normalized {
		id := s.idGenerator.Generate()
		now := s.timeSource.Now()

		item := &Item{
			ID:          id,
			ContentType: f.ContentType,
			Status:      StatusIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(f.Filename)), f.Data)
		if err != nil {
			slog.Error("Failed to store receipt file", "filename", f.Filename, "error", err)
			item.Status = StatusError
			item.Error = "Failed to store the uploaded file."
		} else {
			item.Filename = savedPath
		}

		if err := s.db.SaveReceipt(item); err != nil {
			return items, fmt.Errorf("saving receipt to database: %w", err)
		}
		items = append(items, item)
		if item.Status == StatusIdle {
			pending = append(pending, id)
		}
	}

	// All items are inserted before the first dispatch; the worker drains the
	// queue serially in submission order
	for _, id := range pending {
		s.queue <- id
	}

	return items, nil
}

// processReceipt drives one item through extraction and reconciliation. It
// never returns an error: every failure is captured into the item's state and
// is invisible to the rest of the batch.
func (s *Service) processReceipt(id string) {
	item, err := s.db.GetReceipt(id)
	if err != nil {
		// Deleted while queued
		slog.Debug("Skipping queued receipt", "id", id, "error", err)
		return
	}
	if item.Status != StatusIdle {
		return
	}

	item.Status = StatusProcessing
	item.Data = nil
	item.Error = ""
	item.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(item); err != nil {
		slog.Error("Failed to mark receipt processing", "id", id, "error", err)
		return
	}

	data, err := s.extract(item)
	if err != nil {
		slog.Error("Failed to extract receipt data",
			"id", item.ID,
			"filename", item.Filename,
			"content_type", item.ContentType,
			"error", err,
		)
		item.Status = StatusError
		item.Data = nil
		item.Error = err.Error()
		if item.Error == "" {
			item.Error = "Failed to extract data."
		}
	} else {
		corrected := reconcile.Apply(*data)
		item.Status = StatusCompleted
		item.Data = &corrected
		item.Error = ""
	}
	item.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(item); err != nil {
		slog.Error("Failed to save receipt result", "id", id, "error", err)
	}
}

// extract reads the stored image and calls the configured provider
func (s *Service) extract(item *Item) (*extraction.ReceiptData, error) {
	settings, err := s.db.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if settings.APIKey == "" {
		return nil, fmt.Errorf("no API key configured")
	}

	imageData, err := s.storage.Get(item.Filename)
	if err != nil {
		return nil, fmt.Errorf("reading receipt file: %w", err)
	}

	ctx := context.Background()
	extractor, err := s.newExtractor(ctx, extraction.Config{
		Provider: settings.Provider,
		APIKey:   settings.APIKey,
		Model:    settings.Model,
	})
	if err != nil {
		return nil, err
	}
	defer extractor.Close()

	return extractor.Extract(ctx, imageData, item.ContentType)
}

// GetReceipt retrieves a receipt item by ID
func (s *Service) GetReceipt(id string) (*Item, error) {
	item, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return item, nil
}

// ListReceipts returns all receipt items in insertion order
func (s *Service) ListReceipts() ([]*Item, error) {
	items, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return items, nil
}

// EditResult replaces the extracted data on a completed item with
// user-supplied values verbatim. Reconciliation is not re-run and the status
// does not change.
func (s *Service) EditResult(id string, data extraction.ReceiptData) (*Item, error) {
	item, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt for edit: %w", err)
	}
	if item.Status != StatusCompleted {
		return nil, fmt.Errorf("receipt %s is not completed", id)
	}

	item.Data = &data
	item.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(item); err != nil {
		return nil, fmt.Errorf("saving edited receipt: %w", err)
	}
	return item, nil
}

// DeleteReceipt removes a receipt item and its stored file regardless of
// status. Deleting an absent ID is a no-op.
func (s *Service) DeleteReceipt(id string) error {
	item, err := s.db.GetReceipt(id)
	if err != nil {
		return nil
	}

	if item.Filename != "" {
		if err := s.storage.Delete(item.Filename); err != nil {
			slog.Warn("Failed to delete file", "filename", item.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// DeleteAllReceipts removes every receipt item and its stored file
func (s *Service) DeleteAllReceipts() error {
	items, err := s.db.ListReceipts()
	if err != nil {
		return fmt.Errorf("listing receipts for deletion: %w", err)
	}
	for _, item := range items {
		if item.Filename == "" {
			continue
		}
		if err := s.storage.Delete(item.Filename); err != nil {
			slog.Warn("Failed to delete file", "filename", item.Filename, "error", err)
		}
	}
	if err := s.db.DeleteAllReceipts(); err != nil {
		return fmt.Errorf("deleting receipts from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the stored image for a receipt item; the UI uses
// this as the preview source
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	item, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(item.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, item.ContentType, nil
}

// Stats recomputes aggregate statistics over the current items
func (s *Service) Stats() (AggregateStats, error) {
	items, err := s.db.ListReceipts()
	if err != nil {
		return AggregateStats{}, fmt.Errorf("listing receipts for stats: %w", err)
	}
	return ComputeStats(items), nil
}

// ExportCSV renders all completed items as a CSV document
func (s *Service) ExportCSV() ([]byte, error) {
	items, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts for export: %w", err)
	}
	return GenerateCSV(items)
}

// Settings returns the stored extraction settings
func (s *Service) Settings() (Settings, error) {
	return s.db.GetSettings()
}

// SaveSettings validates and stores the extraction settings
func (s *Service) SaveSettings(settings Settings) error {
	switch settings.Provider {
	case "", extraction.ProviderGemini, extraction.ProviderOpenRouter:
	default:
		return fmt.Errorf("unknown provider: %s", settings.Provider)
	}
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	return s.db.SaveSettings(settings)
}
