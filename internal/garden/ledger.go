package garden

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 500
)

// ledgerMove is one audited change to an account's balance or resources.
type ledgerMove struct {
	action          string
	balanceDelta    int64
	waterDelta      int64
	fertilizerDelta int64
	plantID         int64
	meta            map[string]any
}

func resourceMove(action string, r Resource, delta int64) ledgerMove {
	m := ledgerMove{action: action}
	if r == ResourceFertilizer {
		m.fertilizerDelta = delta
	} else {
		m.waterDelta = delta
	}
	return m
}

func appendLedgerEntry(ctx context.Context, tx pgx.Tx, accountID string, m ledgerMove) error {
	meta := m.meta
	if meta == nil {
		meta = map[string]any{}
	}
	meta["action"] = m.action
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var plantID *int64
	if m.plantID > 0 {
		plantID = &m.plantID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO garden.ledger_entries
		    (tx_group_id, account_id, action, balance_delta_micros, water_delta, fertilizer_delta, plant_id, metadata)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, uuid.NewString(), accountID, m.action, m.balanceDelta, m.waterDelta, m.fertilizerDelta, plantID, string(raw))
	return err
}

// LedgerEntries returns the most recent audit rows of an account, newest first.
func (s *Service) LedgerEntries(ctx context.Context, ref AccountRef, limit int) ([]LedgerEntry, error) {
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultLedgerLimit
	case limit > maxLedgerLimit:
		limit = maxLedgerLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tx_group_id::text, action, balance_delta_micros, water_delta, fertilizer_delta, plant_id, metadata, created_at
		FROM garden.ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LedgerEntry, 0)
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TxGroupID, &e.Action, &e.BalanceDeltaMicros, &e.WaterDelta, &e.FertilizerDelta, &e.PlantID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
