package orchestration

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/slidekick/slidekick-core/core/commands"
)

// sessionState is the mutable record of one presentation session. Every read
// and write goes through its mutex; the lock is never held across I/O.
//
// Two sources mutate position: client-reported sync messages (absolute,
// always accepted) and tool-call navigation (relative to the value at call
// time). The two race for last write by arrival time, which is intentional;
// the client is the more authoritative source for manual syncs.
type sessionState struct {
	mu sync.Mutex

	sessionID string
	startedAt time.Time

	currentIndex int
	totalUnits   int

	transcript  []string
	deckContext string
}

func newSessionState(deckContext string) *sessionState {
	return &sessionState{
		sessionID:   uuid.NewString(),
		startedAt:   time.Now(),
		deckContext: deckContext,
	}
}

func (s *sessionState) ID() string {
	return s.sessionID
}

// setDeckInfo handles slide_info: it establishes the deck size and the
// client's starting position.
func (s *sessionState) setDeckInfo(totalUnits, currentIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if totalUnits < 0 {
		totalUnits = 0
	}
	s.totalUnits = totalUnits
	s.currentIndex = clampIndex(currentIndex, totalUnits)
}

// syncPosition handles slide_sync: an absolute position report from the
// client, accepted last-write-wins.
func (s *sessionState) syncPosition(currentIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentIndex = clampIndex(currentIndex, s.totalUnits)
}

func clampIndex(index, totalUnits int) int {
	if totalUnits > 0 && index >= totalUnits {
		index = totalUnits - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// advance moves one slide forward and returns the new index. Moving past the
// last slide leaves state unchanged.
func (s *sessionState) advance() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIndex+1 >= s.totalUnits {
		return s.currentIndex, fmt.Errorf("cannot advance past slide %d of %d: %w", s.currentIndex+1, s.totalUnits, commands.ErrOutOfRange)
	}
	s.currentIndex++
	return s.currentIndex, nil
}

// retreat moves one slide back and returns the new index. Moving before the
// first slide leaves state unchanged.
func (s *sessionState) retreat() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIndex-1 < 0 || s.totalUnits == 0 {
		return s.currentIndex, fmt.Errorf("cannot retreat past the first slide: %w", commands.ErrOutOfRange)
	}
	s.currentIndex--
	return s.currentIndex, nil
}

// jumpTo moves to an absolute 0-based index. The bounds check and the write
// share the critical section so a concurrent sync cannot slip between them.
func (s *sessionState) jumpTo(index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.totalUnits {
		return s.currentIndex, fmt.Errorf("slide %d is outside the deck of %d: %w", index+1, s.totalUnits, commands.ErrOutOfRange)
	}
	s.currentIndex = index
	return s.currentIndex, nil
}

func (s *sessionState) position() (currentIndex, totalUnits int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentIndex, s.totalUnits
}

func (s *sessionState) appendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = append(s.transcript, text)
}

// SessionSnapshot is a point-in-time copy of session state, safe to read
// without holding the session lock.
type SessionSnapshot struct {
	SessionID    string
	StartedAt    time.Time
	CurrentIndex int
	TotalUnits   int
	Transcript   []string
	DeckContext  string
}

// Snapshot returns a deep copy of the session state. Background work reads
// the snapshot taken at spawn time, never the live record.
func (s *sessionState) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := SessionSnapshot{
		SessionID:    s.sessionID,
		StartedAt:    s.startedAt,
		CurrentIndex: s.currentIndex,
		TotalUnits:   s.totalUnits,
		DeckContext:  s.deckContext,
	}
	if err := copier.CopyWithOption(&snapshot.Transcript, &s.transcript, copier.Option{DeepCopy: true}); err != nil {
		snapshot.Transcript = append([]string(nil), s.transcript...)
	}
	return snapshot
}
