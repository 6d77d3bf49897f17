package issues

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/golang/geo/s2"

	"civicreport/models"
)

const earthRadiusMeters = 6371000.0

// Lister is the issue read layer.
type Lister interface {
	ListIssues(ctx context.Context) ([]models.Issue, error)
}

// Service serves filtered issue lists and their stats from a cached
// snapshot. The cache never refreshes behind the caller's back; only an
// explicit Refresh (or the first load) goes to the store, so list views
// stay stable while the user is looking at them.
type Service struct {
	lister Lister

	mu        sync.RWMutex
	snapshot  []models.Issue
	loaded    bool
	refreshed time.Time
}

// NewService creates an issue aggregation service.
func NewService(lister Lister) *Service {
	return &Service{lister: lister}
}

// Refresh replaces the cached snapshot with a fresh load from the store.
func (s *Service) Refresh(ctx context.Context) error {
	issues, err := s.lister.ListIssues(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = issues
	s.loaded = true
	s.refreshed = time.Now()
	s.mu.Unlock()

	log.WithField("count", len(issues)).Info("issue snapshot refreshed")
	return nil
}

// Query returns the issues matching the filter plus stats over that same
// filtered set, both computed from one snapshot so they can never disagree.
func (s *Service) Query(ctx context.Context, filter models.FilterSpec) ([]models.Issue, models.IssueStats, error) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()

	if !loaded {
		if err := s.Refresh(ctx); err != nil {
			return nil, models.IssueStats{}, err
		}
	}

	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()

	matched := make([]models.Issue, 0, len(snapshot))
	for i := range snapshot {
		if matches(&snapshot[i], &filter) {
			matched = append(matched, snapshot[i])
		}
	}

	return matched, computeStats(matched), nil
}

// LastRefreshed returns when the snapshot was last loaded.
func (s *Service) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// matches applies every constraint of the filter conjunctively. Zero-valued
// constraints are skipped.
func matches(issue *models.Issue, filter *models.FilterSpec) bool {
	if filter.Status != "" && issue.Status != filter.Status {
		return false
	}
	if filter.Category != "" && issue.Category != filter.Category {
		return false
	}
	if filter.Center != nil && filter.RadiusMeters > 0 {
		if distanceMeters(filter.Center.Latitude, filter.Center.Longitude,
			issue.Location.Latitude, issue.Location.Longitude) > filter.RadiusMeters {
			return false
		}
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		title := strings.ToLower(issue.Title)
		desc := strings.ToLower(issue.Description)
		addr := strings.ToLower(issue.Location.Address)
		if !strings.Contains(title, needle) && !strings.Contains(desc, needle) && !strings.Contains(addr, needle) {
			return false
		}
	}
	return true
}

// distanceMeters is the great-circle distance between two coordinates.
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

// computeStats counts the filtered set by status and category.
func computeStats(issues []models.Issue) models.IssueStats {
	stats := models.IssueStats{
		Total:      len(issues),
		ByStatus:   make(map[models.Status]int),
		ByCategory: make(map[models.Category]int),
	}
	for i := range issues {
		stats.ByStatus[issues[i].Status]++
		stats.ByCategory[issues[i].Category]++
	}
	return stats
}
