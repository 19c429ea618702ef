package garden

import (
	"context"
	"errors"
	mathrand "math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DB is the slice of *pgxpool.Pool the service needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Service struct {
	db  DB
	log *zap.Logger
	rng Roller
}

type Option func(*Service)

// WithRoller replaces the random source used for rarity and species rolls.
func WithRoller(r Roller) Option {
	return func(s *Service) {
		if r != nil {
			s.rng = r
		}
	}
}

func NewService(db DB, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		db:  db,
		log: logger,
		rng: newLockedRand(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// authorize checks that the acting identity owns the target account and
// returns the normalized account id.
func authorize(actorID, accountID string) (string, error) {
	actor := normalizeAccountID(actorID)
	target := normalizeAccountID(accountID)
	if target == "" {
		return "", ErrInvalidAccountID
	}
	if actor == "" || actor != target {
		return "", ErrUnauthorized
	}
	return target, nil
}

const accountColumns = `id, display_name, balance_micros, water, fertilizer, plant_capacity, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.DisplayName, &a.BalanceMicros, &a.Water, &a.Fertilizer, &a.PlantCapacity, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrAccountNotFound
	}
	if err != nil {
		return a, err
	}
	a.NextUpgradeCostMicros = CapacityUpgradeCostMicros(UpgradesPurchased(a.PlantCapacity))
	return a, nil
}

// lockAccountTx reads the account row and holds its lock until the
// transaction ends. Operations lock the account before any of its plants.
func lockAccountTx(ctx context.Context, tx pgx.Tx, accountID string) (Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM garden.accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID))
}

func setBalanceTx(ctx context.Context, tx pgx.Tx, accountID string, balanceMicros int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE garden.accounts
		SET balance_micros = $1, updated_at = now()
		WHERE id = $2
	`, balanceMicros, accountID)
	return err
}

// setResourceTx writes one resource count; r selects a fixed column name.
func setResourceTx(ctx context.Context, tx pgx.Tx, accountID string, r Resource, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE garden.accounts
		SET `+r.column()+` = $1, updated_at = now()
		WHERE id = $2
	`, amount, accountID)
	return err
}

const plantColumns = `id, account_id, plant_type, species, rarity, stage, remaining_growth_time, pos_x, pos_y, created_at, updated_at`

func scanPlant(row pgx.Row) (Plant, error) {
	var (
		p          Plant
		plantType  string
		rarity     int16
		stage      int16
		remaining  *int64
		posX, posY *int64
	)
	err := row.Scan(&p.ID, &p.AccountID, &plantType, &p.Species, &rarity, &stage, &remaining, &posX, &posY, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrPlantNotFound
	}
	if err != nil {
		return p, err
	}
	p.Type = PlantType(plantType)
	p.Rarity = Rarity(rarity)
	p.Stage = Stage(stage)
	p.RemainingGrowthTime = remaining
	if posX != nil && posY != nil {
		p.Position = &Position{X: *posX, Y: *posY}
	}
	return p, nil
}

func lockPlantTx(ctx context.Context, tx pgx.Tx, accountID string, plantID int64) (Plant, error) {
	return scanPlant(tx.QueryRow(ctx, `
		SELECT `+plantColumns+`
		FROM garden.plants
		WHERE id = $1 AND account_id = $2
		FOR UPDATE
	`, plantID, accountID))
}

// updatePlantTx persists the mutable lifecycle fields of p.
func updatePlantTx(ctx context.Context, tx pgx.Tx, p Plant) (Plant, error) {
	x, y := positionArgs(p.Position)
	return scanPlant(tx.QueryRow(ctx, `
		UPDATE garden.plants
		SET stage = $1, remaining_growth_time = $2, pos_x = $3, pos_y = $4, updated_at = now()
		WHERE id = $5 AND account_id = $6
		RETURNING `+plantColumns,
		int16(p.Stage), p.RemainingGrowthTime, x, y, p.ID, p.AccountID))
}

func countPlantsTx(ctx context.Context, tx pgx.Tx, accountID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM garden.plants
		WHERE account_id = $1
	`, accountID).Scan(&n)
	return n, err
}

func positionArgs(pos *Position) (x, y *int64) {
	if pos == nil {
		return nil, nil
	}
	px, py := pos.X, pos.Y
	return &px, &py
}
