package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BalanceQuery filters stored balance changes
type BalanceQuery struct {
	Owner     string
	Contract  string
	FromBlock uint64
	ToBlock   uint64 // inclusive, 0 for no upper bound
	Limit     int
}

// BalanceRow is one stored balance change, as returned by BalanceHistory
type BalanceRow struct {
	BlockNum       uint64 `json:"block_num"`
	TransactionID  string `json:"transaction_id"`
	StorageOrdinal uint64 `json:"storage_ordinal"`
	Contract       string `json:"contract"`
	Owner          string `json:"owner"`
	OldBalance     string `json:"old_balance"`
	NewBalance     string `json:"new_balance"`
	Amount         string `json:"amount"`
	ChangeType     string `json:"change_type"`
	Version        uint64 `json:"version"`
}

// OwnerVolume is the number of balance changes recorded for an owner
type OwnerVolume struct {
	Owner   string `json:"owner"`
	Changes int64  `json:"changes"`
}

// buildBalanceQuery renders the filters of q, normalizing hex arguments to the stored form
func buildBalanceQuery(q BalanceQuery) (string, []any) {
	var where []string
	var args []any

	if q.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, normalizeHex(q.Owner))
	}
	if q.Contract != "" {
		where = append(where, "contract = ?")
		args = append(args, normalizeHex(q.Contract))
	}
	if q.FromBlock > 0 {
		where = append(where, "block_num >= ?")
		args = append(args, q.FromBlock)
	}
	if q.ToBlock > 0 {
		where = append(where, "block_num <= ?")
		args = append(args, q.ToBlock)
	}

	query := `
		SELECT block_num, transaction_id, storage_ordinal, contract, owner,
			old_balance, new_balance, amount, change_type, version
		FROM balance_changes`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY version, change_type"
	if q.Limit > 0 {
		query += fmt.Sprintf("\n\t\tLIMIT %d", q.Limit)
	}
	return query, args
}

// BalanceHistory returns the balance changes matching q in version order
func (s *DuckDBStorage) BalanceHistory(ctx context.Context, q BalanceQuery) ([]BalanceRow, error) {
	query, args := buildBalanceQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance changes: %w", err)
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var r BalanceRow
		err := rows.Scan(&r.BlockNum, &r.TransactionID, &r.StorageOrdinal, &r.Contract, &r.Owner,
			&r.OldBalance, &r.NewBalance, &r.Amount, &r.ChangeType, &r.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance change: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransferCountByDate returns the number of transfers per date partition in [start, end]
func (s *DuckDBStorage) TransferCountByDate(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	dates := DateRange(start, end)
	counts := make(map[string]int64, len(dates))
	if len(dates) == 0 {
		return counts, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(dates)), ", ")
	args := make([]any, len(dates))
	for i, d := range dates {
		args[i] = d
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT "date", COUNT(*) FROM transfers WHERE "date" IN (`+placeholders+`) GROUP BY "date"`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count transfers by date: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var count int64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, fmt.Errorf("failed to scan transfer count: %w", err)
		}
		counts[date] = count
	}
	return counts, rows.Err()
}

// TopOwnersByChanges returns the owners with the most balance changes on a contract
func (s *DuckDBStorage) TopOwnersByChanges(ctx context.Context, contract string, limit int) ([]OwnerVolume, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, COUNT(*) AS changes
		FROM balance_changes
		WHERE contract = ?
		GROUP BY owner
		ORDER BY changes DESC, owner
		LIMIT ?
	`, normalizeHex(contract), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top owners: %w", err)
	}
	defer rows.Close()

	var out []OwnerVolume
	for rows.Next() {
		var v OwnerVolume
		if err := rows.Scan(&v.Owner, &v.Changes); err != nil {
			return nil, fmt.Errorf("failed to scan owner volume: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// normalizeHex matches the stored encoding: lowercase, no 0x prefix
func normalizeHex(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
}
