package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mshop/internal/model"
	"github.com/xxxsen/mshop/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mshop/internal/pkg/errors"
)

type tokenTable struct {
	name        string
	trackUsedAt bool
}

var tokenTables = map[model.TokenKind]tokenTable{
	model.TokenKindVerification: {name: "email_verification_tokens"},
	model.TokenKindReset:        {name: "password_reset_tokens", trackUsedAt: true},
}

func tableFor(kind model.TokenKind) (tokenTable, error) {
	t, ok := tokenTables[kind]
	if !ok {
		return tokenTable{}, fmt.Errorf("unknown token kind %q", kind)
	}
	return t, nil
}

// TokenRepo stores fingerprinted single-use tokens, one table per kind.
type TokenRepo struct {
	db *sql.DB
	tx *TxManager
}

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{db: db, tx: NewTxManager(db)}
}

// Replace marks every unused token of the same kind for the owner as used and
// inserts token, in one transaction.
func (r *TokenRepo) Replace(ctx context.Context, token *model.Token) error {
	table, err := tableFor(token.Kind)
	if err != nil {
		return err
	}
	return r.tx.RunInTx(ctx, func(ctx context.Context) error {
		where := map[string]interface{}{"user_id": token.UserID, "used": false}
		update := map[string]interface{}{"used": true}
		sqlStr, args, err := builder.BuildUpdate(table.name, where, update)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := conn(ctx, r.db).ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("invalidate tokens: %w", err)
		}

		data := map[string]interface{}{
			"id":         token.ID,
			"token_hash": token.TokenHash,
			"user_id":    token.UserID,
			"expires_at": token.ExpiresAt,
			"used":       false,
			"ctime":      token.Ctime,
		}
		sqlStr, args, err = builder.BuildInsert(table.name, []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := conn(ctx, r.db).ExecContext(ctx, sqlStr, args...); err != nil {
			if dbutil.IsConflict(err) {
				return appErr.ErrConflict
			}
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

// GetUnused returns the unused token with the given fingerprint, or ErrNotFound.
func (r *TokenRepo) GetUnused(ctx context.Context, kind model.TokenKind, tokenHash string) (*model.Token, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	where := map[string]interface{}{
		"token_hash": tokenHash,
		"used":       false,
		"_limit":     []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect(table.name, where, []string{"id", "token_hash", "user_id", "expires_at", "used", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := conn(ctx, r.db).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	token := model.Token{Kind: kind}
	if err := rows.Scan(&token.ID, &token.TokenHash, &token.UserID, &token.ExpiresAt, &token.Used, &token.Ctime); err != nil {
		return nil, err
	}
	return &token, nil
}

// Claim flips used from false to true with a single conditional update and reports
// whether this call performed the transition.
func (r *TokenRepo) Claim(ctx context.Context, kind model.TokenKind, tokenHash string, usedAt int64) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	where := map[string]interface{}{"token_hash": tokenHash, "used": false}
	update := map[string]interface{}{"used": true}
	if table.trackUsedAt {
		update["used_at"] = usedAt
	}
	sqlStr, args, err := builder.BuildUpdate(table.name, where, update)
	if err != nil {
		return false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := conn(ctx, r.db).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, kind model.TokenKind, before int64) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	where := map[string]interface{}{"expires_at <": before}
	sqlStr, args, err := builder.BuildDelete(table.name, where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := conn(ctx, r.db).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
