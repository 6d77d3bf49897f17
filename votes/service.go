package votes

import (
	"context"
	"errors"
	"sync"

	"github.com/apex/log"

	"civicreport/metrics"
	"civicreport/models"
)

// Voting guard errors.
var (
	// ErrAuthRequired means the caller must sign in first. The vote is a
	// no-op; nothing optimistic is applied anywhere.
	ErrAuthRequired = errors.New("sign in to vote")
	ErrVoteInFlight = errors.New("a vote for this issue is already in flight")
	ErrInvalidVote  = errors.New("unknown vote type")
)

// Store is the vote persistence layer.
type Store interface {
	Vote(ctx context.Context, seq int64, userID string, vote models.VoteType) (*models.VoteTally, error)
}

// Service reconciles votes against the store. Per issue-and-user it allows a
// single in-flight vote; while one is outstanding, further clicks are
// rejected instead of queued. The returned tally is authoritative and is
// applied wholesale, never merged with a local count.
type Service struct {
	store Store

	mu       sync.Mutex
	inFlight map[voteKey]bool
}

type voteKey struct {
	seq    int64
	userID string
}

// NewService creates a vote service.
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		inFlight: make(map[voteKey]bool),
	}
}

// Cast records a vote for the session's user and returns the recounted
// tally. Unauthenticated sessions get ErrAuthRequired and no store call.
func (s *Service) Cast(ctx context.Context, session models.AppSession, seq int64, vote models.VoteType) (*models.VoteTally, error) {
	if !session.Authenticated || session.UserID == "" {
		metrics.VotesTotal.WithLabelValues("blocked").Inc()
		return nil, ErrAuthRequired
	}
	if !vote.Valid() {
		metrics.VotesTotal.WithLabelValues("blocked").Inc()
		return nil, ErrInvalidVote
	}

	key := voteKey{seq: seq, userID: session.UserID}
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		metrics.VotesTotal.WithLabelValues("blocked").Inc()
		return nil, ErrVoteInFlight
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	tally, err := s.store.Vote(ctx, seq, session.UserID, vote)
	if err != nil {
		metrics.VotesTotal.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"seq":     seq,
			"user_id": session.UserID,
		}).WithError(err).Error("vote failed")
		return nil, err
	}

	metrics.VotesTotal.WithLabelValues("ok").Inc()
	return tally, nil
}
