package garden

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5"
)

// IncreasePlantCapacity buys the next capacity tier. The result also quotes
// the tier after it so clients can preview the price.
func (s *Service) IncreasePlantCapacity(ctx context.Context, ref AccountRef) (CapacityResult, error) {
	var out CapacityResult
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "increase_capacity", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		upgrades := UpgradesPurchased(acct.PlantCapacity)
		cost := CapacityUpgradeCostMicros(upgrades)
		if cost == math.MaxInt64 || acct.BalanceMicros < cost {
			return ErrInsufficientFunds
		}
		balance := acct.BalanceMicros - cost
		capacity := acct.PlantCapacity + CapacityIncrement
		if _, err := tx.Exec(ctx, `
			UPDATE garden.accounts
			SET balance_micros = $1, plant_capacity = $2, updated_at = now()
			WHERE id = $3
		`, balance, capacity, accountID); err != nil {
			return err
		}
		if err := appendLedgerEntry(ctx, tx, accountID, ledgerMove{
			action:       "capacity_upgrade",
			balanceDelta: -cost,
			meta:         map[string]any{"plant_capacity": capacity},
		}); err != nil {
			return err
		}
		out = CapacityResult{
			AccountID:         accountID,
			CostMicros:        cost,
			NextCostMicros:    CapacityUpgradeCostMicros(upgrades + 1),
			PlantCapacity:     capacity,
			BalanceMicros:     balance,
			UpgradesPurchased: upgrades + 1,
		}
		return nil
	})
	if err != nil {
		return CapacityResult{}, err
	}
	return out, nil
}
