// Package monitor keeps a status file describing the running daemon.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultInterval is how often the status file is rewritten.
const DefaultInterval = 5 * time.Second

// MapSource reports the marker layer.
type MapSource interface {
	Count() int
	// OccupiedCells counts spots claimed this session, removed or not.
	OccupiedCells() int
}

// NotificationSource reports the notifier.
type NotificationSource interface {
	UnreadCount() int
	LastScan() time.Time
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Map           MapSource
	Notifications NotificationSource
	Logger        *slog.Logger
	StatusPath    string
	Interval      time.Duration
	Started       time.Time
	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is the snapshot written to the status file.
type Status struct {
	Time          time.Time `json:"time"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Markers       int       `json:"markers"`
	OccupiedCells int       `json:"occupiedCells"` // spots claimed this session
	Unread        int       `json:"unread"`
	LastScan      time.Time `json:"lastScan,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Started.IsZero() {
		deps.Started = deps.Now()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// StatusPath returns the file the monitor writes.
func (s *Service) StatusPath() string {
	return s.deps.StatusPath
}

// GetStatus returns the current daemon status.
func (s *Service) GetStatus() Status {
	now := s.deps.Now()
	st := Status{
		Time:          now,
		UptimeSeconds: int64(now.Sub(s.deps.Started) / time.Second),
	}
	if s.deps.Map != nil {
		st.Markers = s.deps.Map.Count()
		st.OccupiedCells = s.deps.Map.OccupiedCells()
	}
	if s.deps.Notifications != nil {
		st.Unread = s.deps.Notifications.UnreadCount()
		st.LastScan = s.deps.Notifications.LastScan()
	}
	return st
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	tmp := s.deps.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	if err := os.Rename(tmp, s.deps.StatusPath); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	if s.deps.StatusPath == "" {
		return fmt.Errorf("status path is empty")
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.deps.StatusPath, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			if err := s.WriteStatus(); err != nil {
				logger.Error("Error writing status file", "error", err)
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the last write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
