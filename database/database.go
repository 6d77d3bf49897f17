package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"civicreport/config"
	"civicreport/models"

	_ "github.com/go-sql-driver/mysql"
)

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Printf("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureIssuesTable creates the issues table if it doesn't exist
func (d *Database) EnsureIssuesTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS issues (
			seq INT NOT NULL AUTO_INCREMENT,
			reporter_id VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			category ENUM('roads', 'lighting', 'water', 'cleanliness', 'obstructions', 'safety') NOT NULL,
			severity ENUM('low', 'medium', 'high', 'critical') NOT NULL DEFAULT 'medium',
			status ENUM('received', 'in_progress', 'resolved', 'rejected') NOT NULL DEFAULT 'received',
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			latitude FLOAT NOT NULL,
			longitude FLOAT NOT NULL,
			address VARCHAR(512),
			tags VARCHAR(1024),
			image LONGBLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (seq),
			INDEX reporter_id_index (reporter_id),
			INDEX category_index (category),
			INDEX status_index (status),
			INDEX latitude_index (latitude),
			INDEX longitude_index (longitude)
		)
	`

	_, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create issues table: %w", err)
	}

	log.Println("Issues table ensured")
	return nil
}

// EnsureVotesTable creates the issue_votes table if it doesn't exist
func (d *Database) EnsureVotesTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS issue_votes (
			seq INT NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			vote ENUM('upvote', 'downvote') NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (seq, user_id),
			INDEX seq_index (seq),
			FOREIGN KEY (seq) REFERENCES issues(seq) ON DELETE CASCADE
		)
	`

	_, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create issue_votes table: %w", err)
	}

	log.Println("Issue votes table ensured")
	return nil
}

// SaveIssue inserts a submitted issue and returns its sequence number.
func (d *Database) SaveIssue(ctx context.Context, issue *models.Issue) (int64, error) {
	query := `
		INSERT INTO issues (reporter_id, title, description, category, severity, status, anonymous, latitude, longitude, address, tags, image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := d.db.ExecContext(ctx, query,
		issue.ReporterID,
		issue.Title,
		issue.Description,
		string(issue.Category),
		string(issue.Severity),
		string(models.StatusReceived),
		issue.Anonymous,
		issue.Location.Latitude,
		issue.Location.Longitude,
		issue.Location.Address,
		strings.Join(issue.Tags, ","),
		issue.Image,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save issue: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get issue seq: %w", err)
	}

	log.Printf("Issue saved with seq %d (category %s, severity %s)", seq, issue.Category, issue.Severity)
	return seq, nil
}

// GetIssue gets a single issue by seq, nil when it doesn't exist.
func (d *Database) GetIssue(ctx context.Context, seq int64) (*models.Issue, error) {
	query := `
		SELECT i.seq, i.reporter_id, i.title, i.description, i.category, i.severity, i.status,
			i.anonymous, i.latitude, i.longitude, i.address, i.tags, i.created_at, i.updated_at,
			COALESCE(SUM(v.vote = 'upvote'), 0) AS upvotes,
			COALESCE(SUM(v.vote = 'downvote'), 0) AS downvotes
		FROM issues i
		LEFT JOIN issue_votes v ON i.seq = v.seq
		WHERE i.seq = ?
		GROUP BY i.seq
	`

	issue, err := scanIssue(d.db.QueryRowContext(ctx, query, seq))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns all issues with their vote tallies, newest first.
func (d *Database) ListIssues(ctx context.Context) ([]models.Issue, error) {
	query := `
		SELECT i.seq, i.reporter_id, i.title, i.description, i.category, i.severity, i.status,
			i.anonymous, i.latitude, i.longitude, i.address, i.tags, i.created_at, i.updated_at,
			COALESCE(SUM(v.vote = 'upvote'), 0) AS upvotes,
			COALESCE(SUM(v.vote = 'downvote'), 0) AS downvotes
		FROM issues i
		LEFT JOIN issue_votes v ON i.seq = v.seq
		GROUP BY i.seq
		ORDER BY i.seq DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}

	return issues, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var (
		issue   models.Issue
		address sql.NullString
		tags    sql.NullString
	)
	err := row.Scan(
		&issue.Seq,
		&issue.ReporterID,
		&issue.Title,
		&issue.Description,
		&issue.Category,
		&issue.Severity,
		&issue.Status,
		&issue.Anonymous,
		&issue.Location.Latitude,
		&issue.Location.Longitude,
		&address,
		&tags,
		&issue.CreatedAt,
		&issue.UpdatedAt,
		&issue.Upvotes,
		&issue.Downvotes,
	)
	if err != nil {
		return nil, err
	}
	issue.Location.Address = address.String
	if tags.String != "" {
		issue.Tags = strings.Split(tags.String, ",")
	}
	issue.VoteCount = issue.Upvotes - issue.Downvotes
	// Anonymous reports never expose the reporter.
	if issue.Anonymous {
		issue.ReporterID = ""
	}
	return &issue, nil
}

// Vote records or replaces a user's vote on an issue and returns the
// recounted tally. The recount, not an increment, is what callers apply, so
// a repeated or changed vote can never drift the counters.
func (d *Database) Vote(ctx context.Context, seq int64, userID string, vote models.VoteType) (*models.VoteTally, error) {
	// The issue must exist; the votes table has no row to violate the FK on
	// a duplicate-key update path.
	var exists int
	err := d.db.QueryRowContext(ctx, "SELECT 1 FROM issues WHERE seq = ?", seq).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("issue with seq %d does not exist", seq)
		}
		return nil, fmt.Errorf("failed to check if issue exists: %w", err)
	}

	query := `
		INSERT INTO issue_votes (seq, user_id, vote)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE vote = ?, updated_at = NOW()
	`

	_, err = d.db.ExecContext(ctx, query, seq, userID, string(vote), string(vote))
	if err != nil {
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	return d.CountVotes(ctx, seq, userID)
}

// CountVotes recounts the authoritative tally for an issue.
func (d *Database) CountVotes(ctx context.Context, seq int64, userID string) (*models.VoteTally, error) {
	query := `
		SELECT
			COALESCE(SUM(vote = 'upvote'), 0) AS upvotes,
			COALESCE(SUM(vote = 'downvote'), 0) AS downvotes,
			COALESCE(MAX(IF(user_id = ?, vote, NULL)), '') AS user_vote
		FROM issue_votes
		WHERE seq = ?
	`

	var tally models.VoteTally
	err := d.db.QueryRowContext(ctx, query, userID, seq).Scan(
		&tally.Upvotes,
		&tally.Downvotes,
		&tally.UserVote,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	tally.VoteCount = tally.Upvotes - tally.Downvotes
	return &tally, nil
}

// UpdateStatus moves an issue to a new lifecycle status.
func (d *Database) UpdateStatus(ctx context.Context, seq int64, status models.Status) error {
	result, err := d.db.ExecContext(ctx,
		"UPDATE issues SET status = ? WHERE seq = ?", string(status), seq)
	if err != nil {
		return fmt.Errorf("failed to update issue status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("issue with seq %d does not exist", seq)
	}

	log.Printf("Issue %d moved to status %s", seq, status)
	return nil
}
