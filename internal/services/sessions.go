package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/dpup/ride.ersn.net/server/internal/config"
)

// Sessions is the registry of live ride sessions. Idle sessions are closed
// by a background sweep.
type Sessions struct {
	ctx    context.Context
	deps   RideDeps
	config config.SessionsConfig

	mu    sync.RWMutex
	rides map[string]*Ride

	// Background sweep control
	stopChan chan struct{}
	running  bool
}

// NewSessions creates an empty registry. Rides are bound to ctx and close
// when it is cancelled.
func NewSessions(ctx context.Context, deps RideDeps, cfg config.SessionsConfig) *Sessions {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Sessions{
		ctx:      logging.EnsureLogger(ctx),
		deps:     deps,
		config:   cfg,
		rides:    map[string]*Ride{},
		stopChan: make(chan struct{}),
	}
}

// Create starts a new ride session
func (s *Sessions) Create(lang language.Tag) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxSessions > 0 && len(s.rides) >= s.config.MaxSessions {
		return nil, exhausted(fmt.Sprintf("too many active ride sessions (%d)", len(s.rides)))
	}

	id := uuid.NewString()
	ride := NewRide(s.ctx, id, s.deps, lang)
	s.rides[id] = ride
	logging.Infow(s.ctx, "Sessions: ride created", "ride", id, "active", len(s.rides))
	return ride, nil
}

// Get returns a live session
func (s *Sessions) Get(id string) (*Ride, error) {
	s.mu.RLock()
	ride, ok := s.rides[id]
	s.mu.RUnlock()

	if !ok {
		return nil, notFound("ride not found: " + id)
	}
	select {
	case <-ride.Done():
		s.remove(id)
		return nil, notFound("ride not found: " + id)
	default:
		return ride, nil
	}
}

// Delete closes and removes a session
func (s *Sessions) Delete(id string) error {
	ride := s.remove(id)
	if ride == nil {
		return notFound("ride not found: " + id)
	}
	ride.Close()
	return nil
}

// Len returns the number of registered sessions
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rides)
}

func (s *Sessions) remove(id string) *Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil
	}
	delete(s.rides, id)
	return ride
}

// Sweep closes sessions idle for longer than the configured timeout and
// returns how many were removed
func (s *Sessions) Sweep() int {
	cutoff := s.deps.Now().Add(-s.config.IdleTimeout)

	var expired []*Ride
	s.mu.Lock()
	for id, ride := range s.rides {
		closed := false
		select {
		case <-ride.Done():
			closed = true
		default:
		}
		if closed || ride.LastActive().Before(cutoff) {
			delete(s.rides, id)
			expired = append(expired, ride)
		}
	}
	s.mu.Unlock()

	for _, ride := range expired {
		ride.Close()
	}
	return len(expired)
}

// CloseAll closes every session
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	rides := s.rides
	s.rides = map[string]*Ride{}
	s.mu.Unlock()

	for _, ride := range rides {
		ride.Close()
	}
}

// StartSweeper begins closing idle sessions every SweepInterval
func (s *Sessions) StartSweeper(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil // Already running
	}
	s.running = true

	ctx = logging.EnsureLogger(ctx)
	logging.Infow(ctx, "Sessions: starting idle sweep",
		"interval", s.config.SweepInterval, "idle_timeout", s.config.IdleTimeout)
	go s.sweepLoop(ctx, s.config.SweepInterval, s.stopChan)
	return nil
}

// Stop halts the idle sweep
func (s *Sessions) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.stopChan = make(chan struct{})
}

// IsRunning returns whether the idle sweep is active
func (s *Sessions) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sessions) sweepLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Sessions: idle sweep stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Sessions: idle sweep stopped")
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logging.Infow(ctx, "Sessions: closed idle rides", "removed", removed, "active", s.Len())
			}
		}
	}
}
