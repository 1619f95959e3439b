package repository

import (
	"context"
	"time"

	"vjudge/internal/common/db"
	"vjudge/internal/vjudge/model"
)

// ProblemRepository is the part of the platform problem store the catalogue sync writes to.
type ProblemRepository interface {
	Exists(ctx context.Context, domainID, pid string) (bool, error)
	// Add creates a hidden problem with its tags. ErrProblemExists is returned on a duplicate pid.
	Add(ctx context.Context, domainID, pid string, data *model.ProblemData) error
	SetConfig(ctx context.Context, domainID, pid, config string) error
	SetDifficulty(ctx context.Context, domainID, pid string, difficulty int) error
	// Delete removes a problem and its tags; deleting a missing problem is not an error.
	Delete(ctx context.Context, domainID, pid string) error
}

type SQLProblemRepository struct {
	db db.Database
	// owner is recorded as the creator of imported problems.
	owner int64
}

func NewProblemRepository(database db.Database, owner int64) *SQLProblemRepository {
	return &SQLProblemRepository{db: database, owner: owner}
}

func (r *SQLProblemRepository) Exists(ctx context.Context, domainID, pid string) (bool, error) {
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(1) FROM problem WHERE domain_id = ? AND pid = ?", domainID, pid).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *SQLProblemRepository) Add(ctx context.Context, domainID, pid string, data *model.ProblemData) error {
	now := time.Now()
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO problem (domain_id, pid, title, content, owner_id, hidden, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			domainID, pid, data.Title, data.Content, r.owner, true, now, now,
		)
		if err != nil {
			if _, dup := db.UniqueViolation(err); dup {
				return ErrProblemExists
			}
			return err
		}
		insertTag := db.IgnoreDuplicate(r.db.Dialect(), "INSERT INTO problem_tag (domain_id, pid, tag) VALUES (?, ?, ?)")
		for _, tag := range data.Tags {
			if tag == "" {
				continue
			}
			if _, err := tx.Exec(ctx, insertTag, domainID, pid, tag); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLProblemRepository) SetConfig(ctx context.Context, domainID, pid, config string) error {
	_, err := r.db.Exec(ctx, "UPDATE problem SET config = ?, updated_at = ? WHERE domain_id = ? AND pid = ?", config, time.Now(), domainID, pid)
	return err
}

func (r *SQLProblemRepository) SetDifficulty(ctx context.Context, domainID, pid string, difficulty int) error {
	_, err := r.db.Exec(ctx, "UPDATE problem SET difficulty = ?, updated_at = ? WHERE domain_id = ? AND pid = ?", difficulty, time.Now(), domainID, pid)
	return err
}

func (r *SQLProblemRepository) Delete(ctx context.Context, domainID, pid string) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "DELETE FROM problem_tag WHERE domain_id = ? AND pid = ?", domainID, pid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM problem WHERE domain_id = ? AND pid = ?", domainID, pid)
		return err
	})
}

var _ ProblemRepository = (*SQLProblemRepository)(nil)
