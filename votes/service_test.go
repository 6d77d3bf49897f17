package votes

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"civicreport/models"
)

type fakeStore struct {
	calls int32
	gate  chan struct{}
	tally *models.VoteTally
	err   error
}

func (f *fakeStore) Vote(ctx context.Context, seq int64, userID string, vote models.VoteType) (*models.VoteTally, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	return f.tally, f.err
}

func authedSession() models.AppSession {
	return models.AppSession{UserID: "user-1", Authenticated: true}
}

func TestCastReturnsAuthoritativeTally(t *testing.T) {
	store := &fakeStore{tally: &models.VoteTally{VoteCount: 3, Upvotes: 4, Downvotes: 1, UserVote: "upvote"}}
	s := NewService(store)

	tally, err := s.Cast(context.Background(), authedSession(), 7, models.VoteUp)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if *tally != *store.tally {
		t.Errorf("tally = %+v, want store's recount %+v", *tally, *store.tally)
	}
}

func TestCastUnauthenticatedIsNoOp(t *testing.T) {
	store := &fakeStore{tally: &models.VoteTally{}}
	s := NewService(store)

	_, err := s.Cast(context.Background(), models.AppSession{}, 7, models.VoteUp)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("err = %v, want %v", err, ErrAuthRequired)
	}
	if n := atomic.LoadInt32(&store.calls); n != 0 {
		t.Errorf("store called %d times, want 0 for unauthenticated vote", n)
	}
}

func TestCastRejectsUnknownVoteType(t *testing.T) {
	store := &fakeStore{}
	s := NewService(store)

	_, err := s.Cast(context.Background(), authedSession(), 7, models.VoteType("sideways"))
	if !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidVote)
	}
	if n := atomic.LoadInt32(&store.calls); n != 0 {
		t.Errorf("store called %d times, want 0", n)
	}
}

func TestCastSingleFlightPerIssue(t *testing.T) {
	store := &fakeStore{
		gate:  make(chan struct{}),
		tally: &models.VoteTally{VoteCount: 1, Upvotes: 1},
	}
	s := NewService(store)

	done := make(chan error, 1)
	go func() {
		_, err := s.Cast(context.Background(), authedSession(), 7, models.VoteUp)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&store.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("first vote never reached the store")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Second click while the first is outstanding is rejected, not queued.
	if _, err := s.Cast(context.Background(), authedSession(), 7, models.VoteDown); !errors.Is(err, ErrVoteInFlight) {
		t.Fatalf("err = %v, want %v", err, ErrVoteInFlight)
	}

	if n := atomic.LoadInt32(&store.calls); n != 1 {
		t.Fatalf("store called %d times, want 1", n)
	}

	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("first vote failed: %v", err)
	}

	// After settling, voting again works.
	store.gate = nil
	if _, err := s.Cast(context.Background(), authedSession(), 7, models.VoteDown); err != nil {
		t.Fatalf("vote after settle: %v", err)
	}
}

func TestCastIndependentIssuesDoNotBlockEachOther(t *testing.T) {
	store := &fakeStore{
		gate:  make(chan struct{}),
		tally: &models.VoteTally{},
	}
	s := NewService(store)

	done := make(chan error, 1)
	go func() {
		_, err := s.Cast(context.Background(), authedSession(), 7, models.VoteUp)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&store.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("first vote never reached the store")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Issue 8 is keyed separately; it proceeds while 7 is in flight. The
	// fake's gate is shared, so release it for both before asserting.
	second := make(chan error, 1)
	go func() {
		_, err := s.Cast(context.Background(), authedSession(), 8, models.VoteUp)
		second <- err
	}()

	deadline = time.After(2 * time.Second)
	for atomic.LoadInt32(&store.calls) < 2 {
		select {
		case <-deadline:
			t.Fatal("second issue's vote was blocked by the first")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("vote on issue 7: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("vote on issue 8: %v", err)
	}
}

func TestCastStoreErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	s := NewService(store)

	if _, err := s.Cast(context.Background(), authedSession(), 7, models.VoteUp); err == nil {
		t.Fatal("expected store error to propagate")
	}

	// The in-flight slot must be freed after a failure.
	store.err = nil
	store.tally = &models.VoteTally{}
	if _, err := s.Cast(context.Background(), authedSession(), 7, models.VoteUp); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}
