package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/util"
	"go.uber.org/zap"
)

// JournalService keeps an append-only JSON-lines record of calls
type JournalService struct {
	config      *JournalConfig
	currentFile *os.File
	currentSize int64
	logger      *zap.Logger
	metrics     *metrics.Metrics
	mu          sync.Mutex
	dir         string
	nextSeq     uint64
	segments    int
}

// JournalConfig holds journal configuration
type JournalConfig struct {
	SegmentSize int64
	SyncWrites  bool
}

// NewJournalService opens the journal in dir, continuing the sequence of
// any existing segments
func NewJournalService(cfg *JournalConfig, dir string, m *metrics.Metrics, logger *zap.Logger) (*JournalService, error) {
	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	js := &JournalService{
		config:  cfg,
		logger:  logger,
		metrics: m,
		dir:     dir,
		nextSeq: 1,
	}

	last, err := js.Replay(context.Background(), func(*model.JournalEvent) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	js.nextSeq = last + 1

	if err := js.openNewSegment(); err != nil {
		return nil, fmt.Errorf("failed to open journal segment: %w", err)
	}

	return js, nil
}

// Append assigns the next sequence number to event and writes it
func (s *JournalService) Append(ctx context.Context, event *model.JournalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	startTime := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return fmt.Errorf("journal is closed")
	}

	event.SequenceNumber = s.nextSeq
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}

	data, err := sealEvent(event)
	if err != nil {
		return err
	}

	// Append newline for easier parsing
	data = append(data, '\n')

	n, err := s.currentFile.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to journal: %w", err)
	}
	s.currentSize += int64(n)
	s.nextSeq++

	// Sync if configured
	if s.config.SyncWrites {
		if err := s.currentFile.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}

	if s.currentSize >= s.config.SegmentSize {
		s.logger.Info("Rotating journal due to size",
			zap.Int64("size", s.currentSize),
			zap.Int64("threshold", s.config.SegmentSize))

		if err := s.openNewSegment(); err != nil {
			s.logger.Error("Failed to rotate journal", zap.Error(err))
		}
	}

	s.metrics.RecordJournalAppend(time.Since(startTime).Seconds())
	return nil
}

// sealEvent marshals the event with its checksum set
func sealEvent(event *model.JournalEvent) ([]byte, error) {
	event.Checksum = 0
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	event.Checksum = util.ComputeChecksum(body)
	return json.Marshal(event)
}

// verifyEvent recomputes the checksum of a decoded event
func verifyEvent(event *model.JournalEvent) bool {
	want := event.Checksum
	event.Checksum = 0
	body, err := json.Marshal(event)
	event.Checksum = want
	return err == nil && util.ComputeChecksum(body) == want
}

// openNewSegment creates a new journal segment named after its first sequence
func (s *JournalService) openNewSegment() error {
	// Close current file if exists
	if s.currentFile != nil {
		s.currentFile.Close()
	}

	segmentPath := filepath.Join(s.dir, fmt.Sprintf("journal-%020d.log", s.nextSeq))
	file, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file: %w", err)
	}

	s.currentFile = file
	s.currentSize = info.Size()

	if files, err := s.segmentFiles(); err == nil {
		s.segments = len(files)
		s.metrics.UpdateJournalSegments(s.segments)
	}

	s.logger.Info("Opened new journal segment", zap.String("path", segmentPath))

	return nil
}

func (s *JournalService) segmentFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "journal-*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Replay calls fn for every intact event in sequence order and returns the
// last sequence number seen
func (s *JournalService) Replay(ctx context.Context, fn func(*model.JournalEvent) error) (uint64, error) {
	files, err := s.segmentFiles()
	if err != nil {
		return 0, err
	}

	var last uint64
	for _, filePath := range files {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		seq, err := s.replayFile(filePath, fn)
		if seq > last {
			last = seq
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

// replayFile replays a single segment, skipping corrupted lines
func (s *JournalService) replayFile(filePath string, fn func(*model.JournalEvent) error) (uint64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var last uint64
	for scanner.Scan() {
		var event model.JournalEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			s.logger.Warn("Failed to unmarshal journal event",
				zap.String("file", filePath),
				zap.Error(err))
			continue
		}
		if !verifyEvent(&event) {
			s.logger.Warn("Journal event checksum mismatch",
				zap.String("file", filePath),
				zap.Uint64("seq", event.SequenceNumber))
			continue
		}

		if err := fn(&event); err != nil {
			return last, err
		}
		last = event.SequenceNumber
	}

	return last, scanner.Err()
}

// Segments returns the number of segment files
func (s *JournalService) Segments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments
}

// Close closes the journal service
func (s *JournalService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}
