package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vjudge/internal/common/db"
	"vjudge/internal/vjudge/model"
)

// AccountRepository stores remote judge accounts.
type AccountRepository interface {
	ListByType(ctx context.Context, accountType string) ([]model.RemoteAccount, error)
	Get(ctx context.Context, id string) (model.RemoteAccount, error)
	// Save applies patch to the stored account. Nil patch fields are left untouched.
	Save(ctx context.Context, id string, patch model.AccountPatch) error
}

type SQLAccountRepository struct {
	db     db.Database
	sealer *CredentialSealer
}

func NewAccountRepository(database db.Database, sealer *CredentialSealer) *SQLAccountRepository {
	return &SQLAccountRepository{db: database, sealer: sealer}
}

const accountColumns = "id, type, handle, password, cookie, endpoint, proxy, problem_lists, enable_on, session, updated_at"

func (r *SQLAccountRepository) ListByType(ctx context.Context, accountType string) ([]model.RemoteAccount, error) {
	query := "SELECT " + accountColumns + " FROM vjudge_account WHERE type = ? ORDER BY id"
	rows, err := r.db.Query(ctx, query, accountType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.RemoteAccount
	for rows.Next() {
		account, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *SQLAccountRepository) Get(ctx context.Context, id string) (model.RemoteAccount, error) {
	query := "SELECT " + accountColumns + " FROM vjudge_account WHERE id = ?"
	account, err := r.scan(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.RemoteAccount{}, ErrAccountNotFound
		}
		return model.RemoteAccount{}, err
	}
	return account, nil
}

func (r *SQLAccountRepository) Save(ctx context.Context, id string, patch model.AccountPatch) error {
	if patch.Empty() {
		return nil
	}
	sets := ""
	var args []interface{}
	if patch.Cookie != nil {
		raw, err := json.Marshal(patch.Cookie)
		if err != nil {
			return err
		}
		sets += "cookie = ?, "
		args = append(args, string(raw))
	}
	if patch.Session != nil {
		raw, err := json.Marshal(patch.Session)
		if err != nil {
			return err
		}
		sets += "session = ?, "
		args = append(args, string(raw))
	}
	query := "UPDATE vjudge_account SET " + sets + "updated_at = ? WHERE id = ?"
	args = append(args, time.Now(), id)

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *SQLAccountRepository) scan(scanner db.Row) (model.RemoteAccount, error) {
	var (
		account                                    model.RemoteAccount
		password, endpoint, proxy                  sql.NullString
		cookie, problemLists, enableOn, sessionRaw sql.NullString
	)
	err := scanner.Scan(
		&account.ID,
		&account.Type,
		&account.Handle,
		&password,
		&cookie,
		&endpoint,
		&proxy,
		&problemLists,
		&enableOn,
		&sessionRaw,
		&account.UpdatedAt,
	)
	if err != nil {
		return model.RemoteAccount{}, err
	}
	account.Endpoint = endpoint.String
	account.Proxy = proxy.String
	account.Password, err = r.sealer.Open(password.String)
	if err != nil {
		return model.RemoteAccount{}, fmt.Errorf("account %s: %w", account.ID, err)
	}
	for _, field := range []struct {
		raw  sql.NullString
		dest interface{}
		name string
	}{
		{cookie, &account.Cookie, "cookie"},
		{problemLists, &account.ProblemLists, "problem_lists"},
		{enableOn, &account.EnableOn, "enable_on"},
		{sessionRaw, &account.Session, "session"},
	} {
		if !field.raw.Valid || field.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw.String), field.dest); err != nil {
			return model.RemoteAccount{}, fmt.Errorf("account %s: decode %s: %w", account.ID, field.name, err)
		}
	}
	return account, nil
}

var _ AccountRepository = (*SQLAccountRepository)(nil)
