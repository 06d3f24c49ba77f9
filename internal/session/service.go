// Package session records game-play intervals and delivers them to the
// insights server, surviving crashes and offline periods.
//
// Every session lives in a file until the server has acknowledged it. An
// active game has one in-progress file keyed by game id; a closed or stale
// session that could not be delivered waits in a file keyed by session id
// until a later sweep delivers it or it exceeds the retention period.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/remote"
)

// Sender delivers JSON payloads to the server in a single attempt.
type Sender interface {
	PostJSON(ctx context.Context, endpoint string, payload any) error
}

// Policy holds the age thresholds of the lifecycle.
type Policy struct {
	// SameSessionWindow decides, when a game is opened again while an older
	// in-progress record exists, whether that record is closed with a real
	// duration (within the window) or marked stale.
	SameSessionWindow time.Duration
	// StaleAfter is the age at which Sync marks an in-progress record stale.
	StaleAfter time.Duration
	// Retention is the age after which an undelivered terminal record is dropped.
	Retention time.Duration
}

// DefaultPolicy returns 3h / 48h / 14d.
func DefaultPolicy() Policy {
	return Policy{
		SameSessionWindow: 3 * time.Hour,
		StaleAfter:        48 * time.Hour,
		Retention:         14 * 24 * time.Hour,
	}
}

// Service drives the session lifecycle. Open, close and sweep work on the
// same game id is serialized.
type Service struct {
	store  *Store
	sender Sender
	policy Policy
	locks  *keyedMutex
}

// NewService creates a lifecycle engine. It panics when store or sender is nil.
func NewService(store *Store, sender Sender, policy Policy) *Service {
	if store == nil {
		panic("session: nil store")
	}
	if sender == nil {
		panic("session: nil sender")
	}
	def := DefaultPolicy()
	if policy.SameSessionWindow <= 0 {
		policy.SameSessionWindow = def.SameSessionWindow
	}
	if policy.StaleAfter <= 0 {
		policy.StaleAfter = def.StaleAfter
	}
	if policy.Retention <= 0 {
		policy.Retention = def.Retention
	}
	return &Service{
		store:  store,
		sender: sender,
		policy: policy,
		locks:  newKeyedMutex(),
	}
}

// OpenSession starts a new session for gameID at now. A leftover in-progress
// record of the same game is first closed (if it started within the
// same-session window) or marked stale, then delivered or queued.
//
// The returned bool reports whether the server acknowledged the new session.
// An undelivered open stays in the in-progress slot; it is not retried here.
func (s *Service) OpenSession(ctx context.Context, gameID string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	existing, path, err := s.store.LoadInProgress(gameID)
	switch {
	case errors.Is(err, ErrCorruptRecord):
		log.Printf("⚠️  In-progress session for game %s is invalid and will be replaced: %v", gameID, err)
		if err := s.store.Remove(path); err != nil {
			return false, err
		}
	case err != nil:
		return false, fmt.Errorf("failed to load in-progress session for game %s: %w", gameID, err)
	case existing != nil:
		if err := s.finishOrphan(ctx, *existing, now); err != nil {
			return false, err
		}
		if err := s.store.Remove(path); err != nil {
			return false, err
		}
	}

	sess := Session{
		SessionID: hashing.SessionID(gameID, now),
		GameID:    gameID,
		Status:    StatusInProgress,
		StartTime: now.UTC(),
	}
	if err := s.store.SaveInProgress(sess); err != nil {
		return false, fmt.Errorf("failed to persist session for game %s: %w", gameID, err)
	}

	if err := s.send(ctx, remote.EndpointOpenSession, sess, now); err != nil {
		log.Printf("⚠️  Failed to deliver open session %s for game %s: %v", sess.SessionID, gameID, err)
		return false, nil
	}
	return true, nil
}

// finishOrphan terminates an in-progress record found by OpenSession. It
// returns nil once the terminal record has been delivered or persisted.
func (s *Service) finishOrphan(ctx context.Context, old Session, now time.Time) error {
	if !old.ValidInProgress() {
		log.Printf("⚠️  Leftover session %s for game %s is not a valid in-progress session and will be dropped", old.SessionID, old.GameID)
		return nil
	}

	var terminal Session
	age := now.Sub(old.StartTime)
	if age <= s.policy.SameSessionWindow {
		terminal = old.complete(seconds(age), now)
	} else {
		terminal = old.stale()
	}
	return s.deliverOrQueue(ctx, terminal, now)
}

// CloseSession completes the in-progress session of gameID with the given
// duration in seconds. A nil error means the session is closed: either the
// server acknowledged it (true) or it was queued for a later sweep (false).
// It returns ErrNoOpenSession when the game has no in-progress record and
// ErrCorruptRecord when that record was invalid (the file is deleted).
func (s *Service) CloseSession(ctx context.Context, gameID string, duration uint64, now time.Time) (bool, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	sess, path, err := s.store.LoadInProgress(gameID)
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return false, fmt.Errorf("failed to load in-progress session for game %s: %w", gameID, err)
	}
	if err == nil && sess == nil {
		log.Printf("⚠️  No open session found for game %s to close", gameID)
		return false, ErrNoOpenSession
	}
	if err != nil || !sess.ValidInProgress() {
		log.Printf("⚠️  Session data for game %s is invalid and its file will be deleted", gameID)
		if rmErr := s.store.Remove(path); rmErr != nil {
			log.Printf("❌ %v", rmErr)
		}
		if err == nil {
			err = fmt.Errorf("%w: session for game %s is not in progress", ErrCorruptRecord, gameID)
		}
		return false, err
	}

	closed := sess.complete(duration, now)
	delivered, err := s.deliverOrQueueResult(ctx, closed, now)
	if err != nil {
		return false, err
	}
	if err := s.store.Remove(path); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// Sync sweeps every persisted record: it stales in-progress records older
// than StaleAfter, retries delivery of terminal records, evicts undelivered
// records past Retention, and deletes anything malformed. Individual delivery
// failures do not fail the sweep.
func (s *Service) Sync(ctx context.Context, now time.Time) error {
	log.Println("🔄 Syncing pending sessions")

	entries, err := s.store.Scan()
	if err != nil {
		return err
	}

	var delivered, retained, evicted, dropped int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Err != nil {
			log.Printf("⚠️  Session data in file %s is invalid and will be deleted: %v", entry.Path, entry.Err)
			if err := s.store.Remove(entry.Path); err != nil {
				log.Printf("❌ %v", err)
			}
			dropped++
			continue
		}

		outcome, err := s.sweepEntry(ctx, entry, now)
		if err != nil {
			log.Printf("❌ Failed to sweep session file %s: %v", entry.Path, err)
			continue
		}
		switch outcome {
		case outcomeDelivered:
			delivered++
		case outcomeRetained:
			retained++
		case outcomeEvicted:
			evicted++
		case outcomeDropped:
			dropped++
		}
	}

	log.Printf("✅ Sessions sync completed (delivered: %d, pending: %d, evicted: %d, dropped: %d)", delivered, retained, evicted, dropped)
	return nil
}

type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeDelivered
	outcomeRetained
	outcomeEvicted
	outcomeDropped
)

func (s *Service) sweepEntry(ctx context.Context, entry Entry, now time.Time) (sweepOutcome, error) {
	unlock := s.locks.Lock(entry.Session.GameID)
	defer unlock()

	// Re-read under the lock: an open or close may have replaced the file
	// since the directory scan.
	current, err := s.store.Load(entry.Path)
	if errors.Is(err, os.ErrNotExist) {
		return outcomeSkipped, nil
	}
	if err != nil {
		log.Printf("⚠️  Session data in file %s is invalid and will be deleted: %v", entry.Path, err)
		return outcomeDropped, s.store.Remove(entry.Path)
	}
	sess := *current

	switch sess.Status {
	case StatusInProgress:
		if !sess.ValidInProgress() {
			log.Printf("⚠️  In-progress session %s has an end time or duration and will be deleted", sess.SessionID)
			return outcomeDropped, s.store.Remove(entry.Path)
		}
		if now.Sub(sess.StartTime) <= s.policy.StaleAfter {
			return outcomeSkipped, nil
		}
		delivered, err := s.deliverOrQueueResult(ctx, sess.stale(), now)
		if err != nil {
			return outcomeSkipped, err
		}
		if err := s.store.Remove(entry.Path); err != nil {
			return outcomeSkipped, err
		}
		if delivered {
			return outcomeDelivered, nil
		}
		return outcomeRetained, nil

	case StatusComplete, StatusStale:
		if sess.Status == StatusComplete && !sess.ValidComplete() {
			log.Printf("⚠️  Complete session %s is missing its end time or duration and will be deleted", sess.SessionID)
			return outcomeDropped, s.store.Remove(entry.Path)
		}
		err := s.send(ctx, remote.EndpointCloseSession, sess, now)
		if err == nil {
			log.Printf("✅ %s deleted after successful sync", entry.Path)
			return outcomeDelivered, s.store.Remove(entry.Path)
		}
		if now.Sub(sess.StartTime) > s.policy.Retention {
			log.Printf("⚠️  %s deleted after being undelivered for too long: %v", entry.Path, err)
			return outcomeEvicted, s.store.Remove(entry.Path)
		}
		log.Printf("⚠️  Failed to sync %s session %s, will retry on next sweep: %v", sess.Status, sess.SessionID, err)
		return outcomeRetained, nil

	default:
		log.Printf("⚠️  Session %s has an unknown status %q and will be deleted", sess.SessionID, sess.Status)
		return outcomeDropped, s.store.Remove(entry.Path)
	}
}

// Pending returns every valid record still waiting on disk.
func (s *Service) Pending() ([]Session, error) {
	return s.store.List()
}

func (s *Service) deliverOrQueue(ctx context.Context, terminal Session, now time.Time) error {
	_, err := s.deliverOrQueueResult(ctx, terminal, now)
	return err
}

// deliverOrQueueResult sends a terminal record and, when that fails,
// persists it to its pending-retry slot. It only errors when the record is
// neither delivered nor persisted.
func (s *Service) deliverOrQueueResult(ctx context.Context, terminal Session, now time.Time) (bool, error) {
	err := s.send(ctx, remote.EndpointCloseSession, terminal, now)
	if err == nil {
		return true, nil
	}
	log.Printf("⚠️  Failed to deliver %s session %s for game %s, queuing for retry: %v", terminal.Status, terminal.SessionID, terminal.GameID, err)

	path, saveErr := s.store.SaveTerminal(terminal)
	if saveErr != nil {
		return false, fmt.Errorf("failed to queue session %s: %w", terminal.SessionID, saveErr)
	}
	log.Printf("💾 Session %s queued at %s", terminal.SessionID, path)
	return false, nil
}

func (s *Service) send(ctx context.Context, endpoint string, sess Session, now time.Time) error {
	return s.sender.PostJSON(ctx, endpoint, Command{Session: sess, ClientUtcNow: now.UTC()})
}

func seconds(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}
