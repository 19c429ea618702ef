package garden

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const accountsDisplayNameKey = "accounts_display_name_key"

func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	var out Account
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	name := strings.TrimSpace(in.DisplayName)
	if err := ValidateDisplayName(name); err != nil {
		return out, err
	}

	err = s.inTx(ctx, "create_account", func(tx pgx.Tx) error {
		var idTaken, nameTaken bool
		if err := tx.QueryRow(ctx, `
			SELECT
			    EXISTS (SELECT 1 FROM garden.accounts WHERE id = $1),
			    EXISTS (SELECT 1 FROM garden.accounts WHERE lower(display_name) = lower($2))
		`, accountID, name).Scan(&idTaken, &nameTaken); err != nil {
			return err
		}
		if idTaken {
			return ErrDuplicateAccount
		}
		if nameTaken {
			return ErrDuplicateName
		}

		acct, err := scanAccount(tx.QueryRow(ctx, `
			INSERT INTO garden.accounts (id, display_name, balance_micros, water, fertilizer, plant_capacity)
			VALUES ($1, $2, $3, 0, 0, $4)
			RETURNING `+accountColumns,
			accountID, name, StarterBalanceMicros, DefaultPlantCapacity))
		if err != nil {
			return duplicateError(err)
		}
		if err := appendLedgerEntry(ctx, tx, accountID, ledgerMove{
			action:       "account_open",
			balanceDelta: StarterBalanceMicros,
		}); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("account created", zap.String("account_id", accountID))
	return out, nil
}

// duplicateError maps a unique violation on the accounts table onto the
// matching policy error.
func duplicateError(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	if constraint == accountsDisplayNameKey {
		return ErrDuplicateName
	}
	return ErrDuplicateAccount
}

func (s *Service) GetAccount(ctx context.Context, ref AccountRef) (Account, error) {
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return Account{}, err
	}
	var a Account
	err = s.db.QueryRow(ctx, `
		SELECT a.id, a.display_name, a.balance_micros, a.water, a.fertilizer, a.plant_capacity, a.created_at, a.updated_at,
		       (SELECT COUNT(*) FROM garden.plants p WHERE p.account_id = a.id)
		FROM garden.accounts a
		WHERE a.id = $1
	`, accountID).Scan(&a.ID, &a.DisplayName, &a.BalanceMicros, &a.Water, &a.Fertilizer, &a.PlantCapacity, &a.CreatedAt, &a.UpdatedAt, &a.PlantCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.NextUpgradeCostMicros = CapacityUpgradeCostMicros(UpgradesPurchased(a.PlantCapacity))
	return a, nil
}

func (s *Service) RenameAccount(ctx context.Context, in RenameAccountInput) (Account, error) {
	var out Account
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	name := strings.TrimSpace(in.DisplayName)
	if err := ValidateDisplayName(name); err != nil {
		return out, err
	}

	err = s.inTx(ctx, "rename_account", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if acct.DisplayName == name {
			out = acct
			return nil
		}
		var taken bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
			    SELECT 1 FROM garden.accounts
			    WHERE lower(display_name) = lower($1) AND id <> $2
			)
		`, name, accountID).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrDuplicateName
		}
		acct, err = scanAccount(tx.QueryRow(ctx, `
			UPDATE garden.accounts
			SET display_name = $1, updated_at = now()
			WHERE id = $2
			RETURNING `+accountColumns,
			name, accountID))
		if err != nil {
			return duplicateError(err)
		}
		out = acct
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

// AdjustBalance applies a signed delta. Debits are checked: the balance never
// goes below zero.
func (s *Service) AdjustBalance(ctx context.Context, in AdjustBalanceInput) (BalanceResult, error) {
	var out BalanceResult
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "adjust_balance", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if in.DeltaMicros > math.MaxInt64-acct.BalanceMicros {
			return ErrBalanceOverflow
		}
		next := acct.BalanceMicros + in.DeltaMicros
		if next < 0 {
			return ErrInsufficientFunds
		}
		if in.DeltaMicros != 0 {
			if err := setBalanceTx(ctx, tx, accountID, next); err != nil {
				return err
			}
			if err := appendLedgerEntry(ctx, tx, accountID, ledgerMove{
				action:       "balance_adjust",
				balanceDelta: in.DeltaMicros,
			}); err != nil {
				return err
			}
		}
		out = BalanceResult{AccountID: accountID, BalanceMicros: next}
		return nil
	})
	if err != nil {
		return BalanceResult{}, err
	}
	return out, nil
}

// AdjustResource applies a signed delta to water or fertilizer, never below zero.
func (s *Service) AdjustResource(ctx context.Context, in AdjustResourceInput) (ResourceResult, error) {
	var out ResourceResult
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	resource, err := ParseResource(string(in.Resource))
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "adjust_resource", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		next := acct.resource(resource) + in.Delta
		if next < 0 {
			return resource.shortfall()
		}
		if in.Delta != 0 {
			if err := setResourceTx(ctx, tx, accountID, resource, next); err != nil {
				return err
			}
			if err := appendLedgerEntry(ctx, tx, accountID, resourceMove("resource_adjust", resource, in.Delta)); err != nil {
				return err
			}
		}
		out = ResourceResult{
			AccountID:     accountID,
			Resource:      resource,
			Amount:        next,
			BalanceMicros: acct.BalanceMicros,
		}
		return nil
	})
	if err != nil {
		return ResourceResult{}, err
	}
	return out, nil
}

// PurchaseResource buys one unit of water or fertilizer at ResourcePriceMicros.
func (s *Service) PurchaseResource(ctx context.Context, in PurchaseResourceInput) (ResourceResult, error) {
	var out ResourceResult
	accountID, err := authorize(in.ActorID, in.AccountID)
	if err != nil {
		return out, err
	}
	resource, err := ParseResource(string(in.Resource))
	if err != nil {
		return out, err
	}

	err = s.inTx(ctx, "purchase_resource", func(tx pgx.Tx) error {
		acct, err := lockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if acct.BalanceMicros < ResourcePriceMicros {
			return ErrInsufficientFunds
		}
		balance := acct.BalanceMicros - ResourcePriceMicros
		amount := acct.resource(resource) + 1
		if _, err := tx.Exec(ctx, `
			UPDATE garden.accounts
			SET balance_micros = $1, `+resource.column()+` = $2, updated_at = now()
			WHERE id = $3
		`, balance, amount, accountID); err != nil {
			return err
		}
		move := resourceMove("resource_purchase", resource, 1)
		move.balanceDelta = -ResourcePriceMicros
		if err := appendLedgerEntry(ctx, tx, accountID, move); err != nil {
			return err
		}
		out = ResourceResult{
			AccountID:     accountID,
			Resource:      resource,
			Amount:        amount,
			BalanceMicros: balance,
			PriceMicros:   ResourcePriceMicros,
		}
		return nil
	})
	if err != nil {
		return ResourceResult{}, err
	}
	return out, nil
}

// DeleteAccount removes the account and every plant it owns.
func (s *Service) DeleteAccount(ctx context.Context, ref AccountRef) error {
	accountID, err := authorize(ref.ActorID, ref.AccountID)
	if err != nil {
		return err
	}
	var removed int64
	err = s.inTx(ctx, "delete_account", func(tx pgx.Tx) error {
		if _, err := lockAccountTx(ctx, tx, accountID); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `DELETE FROM garden.plants WHERE account_id = $1`, accountID)
		if err != nil {
			return err
		}
		removed = cmd.RowsAffected()
		cmd, err = tx.Exec(ctx, `DELETE FROM garden.accounts WHERE id = $1`, accountID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("account deleted", zap.String("account_id", accountID), zap.Int64("plants_removed", removed))
	return nil
}
