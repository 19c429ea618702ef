package garden

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreatePlant sows a new seed for PlantCostMicros. The capacity count and the
// balance check run under the account lock, so concurrent creations cannot
// both pass the same ceiling.
func (s *Service) CreatePlant(ctx context.Context, in CreatePlantInput) (CreatePlantResult, error) {
	var out CreatePlantResult
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	plantType, err := ParsePlantType(in.Type)
	if err != nil {
		return out, err
	}
	seed, err := Sow(accountID, plantType, in.Position, s.rng)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "create_plant", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		count, err := countPlantsTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if count >= acct.PlantCapacity {
			return ErrCapacityExceeded
		}
		if acct.BalanceMicros < PlantCostMicros {
			return ErrInsufficientFunds
		}
		balance := acct.BalanceMicros - PlantCostMicros
		if err := setBalanceTx(ctx, tx, accountID, balance); err != nil {
			return err
		}

		x, y := positionArgs(seed.Position)
		plant, err := scanPlant(tx.QueryRow(ctx, `
			INSERT INTO garden.plants (account_id, plant_type, species, rarity, stage, remaining_growth_time, pos_x, pos_y)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
			RETURNING `+plantColumns,
			accountID, string(seed.Type), seed.Species, int16(seed.Rarity), int16(StageSeed), x, y))
		if err != nil {
			return err
		}
		if err := appendLedgerEntry(ctx, tx, accountID, ledgerMove{
			action:       "plant_create",
			balanceDelta: -PlantCostMicros,
			plantID:      plant.ID,
			meta:         map[string]any{"species": plant.Species, "rarity": int16(plant.Rarity)},
		}); err != nil {
			return err
		}
		out = CreatePlantResult{Plant: plant, CostMicros: PlantCostMicros, BalanceMicros: balance}
		return nil
	})
	if err != nil {
		return CreatePlantResult{}, err
	}
	s.log.Debug("plant created",
		zap.String("account_id", accountID),
		zap.Int64("plant_id", out.Plant.ID),
		zap.String("species", out.Plant.Species),
		zap.Stringer("rarity", out.Plant.Rarity),
	)
	return out, nil
}

// StartGrowing arms the plant's timer and charges the resource its next stage
// needs, in one step.
func (s *Service) StartGrowing(ctx context.Context, ref PlantRef) (StartGrowingResult, error) {
	var out StartGrowingResult
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "start_growing", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		plant, err := lockPlantTx(ctx, tx, accountID, ref.PlantID)
		if err != nil {
			return err
		}
		growth, err := plant.StartGrowing()
		if err != nil {
			return err
		}
		have := acct.resource(growth.Resource)
		if have < growth.Amount {
			return growth.Resource.shortfall()
		}
		remaining := have - growth.Amount
		if err := setResourceTx(ctx, tx, accountID, growth.Resource, remaining); err != nil {
			return err
		}
		plant, err = updatePlantTx(ctx, tx, plant)
		if err != nil {
			return err
		}
		move := resourceMove("start_growing", growth.Resource, -growth.Amount)
		move.plantID = plant.ID
		if err := appendLedgerEntry(ctx, tx, accountID, move); err != nil {
			return err
		}
		out = StartGrowingResult{Plant: plant, Consumed: growth, Remaining: remaining}
		return nil
	})
	if err != nil {
		return StartGrowingResult{}, err
	}
	return out, nil
}

// Tick advances a growing plant by elapsed time units.
func (s *Service) Tick(ctx context.Context, in TickInput) (TickResult, error) {
	var out TickResult
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	if in.Elapsed <= 0 {
		return out, ErrInvalidElapsed
	}

	err = s.inTx(ctx, "tick", func(tx pgx.Tx) error {
		plant, err := lockPlantTx(ctx, tx, accountID, in.PlantID)
		if err != nil {
			return err
		}
		advanced, err := plant.Tick(in.Elapsed)
		if err != nil {
			return err
		}
		plant, err = updatePlantTx(ctx, tx, plant)
		if err != nil {
			return err
		}
		out = TickResult{Plant: plant, StageAdvanced: advanced}
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}
	return out, nil
}

// SellPlant removes the plant and credits its payout. Seeds pay nothing.
func (s *Service) SellPlant(ctx context.Context, ref PlantRef) (SellResult, error) {
	var out SellResult
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "sell_plant", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		plant, err := lockPlantTx(ctx, tx, accountID, ref.PlantID)
		if err != nil {
			return err
		}
		payout, err := plant.SalePayoutMicros()
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			DELETE FROM garden.plants
			WHERE id = $1 AND account_id = $2
		`, plant.ID, accountID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrPlantNotFound
		}
		balance := acct.BalanceMicros
		if payout > 0 {
			balance += payout
			if err := setBalanceTx(ctx, tx, accountID, balance); err != nil {
				return err
			}
		}
		if err := appendLedgerEntry(ctx, tx, accountID, ledgerMove{
			action:       "plant_sale",
			balanceDelta: payout,
			plantID:      plant.ID,
			meta:         map[string]any{"stage": int16(plant.Stage), "rarity": int16(plant.Rarity)},
		}); err != nil {
			return err
		}
		out = SellResult{PlantID: plant.ID, PayoutMicros: payout, BalanceMicros: balance}
		return nil
	})
	if err != nil {
		return SellResult{}, err
	}
	return out, nil
}

// MovePlant places a plant on the canvas, or back into the inventory when
// the position is nil.
func (s *Service) MovePlant(ctx context.Context, in MoveInput) (Plant, error) {
	var out Plant
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "move_plant", func(tx pgx.Tx) error {
		plant, err := lockPlantTx(ctx, tx, accountID, in.PlantID)
		if err != nil {
			return err
		}
		plant.MoveTo(in.Position)
		out, err = updatePlantTx(ctx, tx, plant)
		return err
	})
	if err != nil {
		return Plant{}, err
	}
	return out, nil
}

func (s *Service) GetPlant(ctx context.Context, ref PlantRef) (Plant, error) {
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return Plant{}, err
	}
	return scanPlant(s.db.QueryRow(ctx, `
		SELECT `+plantColumns+`
		FROM garden.plants
		WHERE id = $1 AND account_id = $2
	`, ref.PlantID, accountID))
}

// ListPlants returns every plant of the account, placed or not, by id.
func (s *Service) ListPlants(ctx context.Context, ref AccountRef) ([]Plant, error) {
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM garden.accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+plantColumns+`
		FROM garden.plants
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Plant, 0)
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
