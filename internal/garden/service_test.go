package garden

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const ivy = "ivy@example.com"

const (
	lockAccountSQL  = `FROM garden\.accounts\s+WHERE id = \$1\s+FOR UPDATE`
	lockPlantSQL    = `FROM garden\.plants\s+WHERE id = \$1 AND account_id = \$2\s+FOR UPDATE`
	countPlantsSQL  = `SELECT COUNT\(\*\)\s+FROM garden\.plants`
	setBalanceSQL   = `UPDATE garden\.accounts\s+SET balance_micros = \$1, updated_at`
	insertPlantSQL  = `INSERT INTO garden\.plants`
	updatePlantSQL  = `UPDATE garden\.plants\s+SET stage = \$1`
	deletePlantSQL  = `DELETE FROM garden\.plants\s+WHERE id = \$1 AND account_id = \$2`
	insertLedgerSQL = `INSERT INTO garden\.ledger_entries`
)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	svc := NewService(mock, zaptest.NewLogger(t), WithRoller(fixedRoller{f: 0.1, i: 0}))
	return svc, mock
}

func coins(n int64) int64 { return n * MicrosPerCoin }

type accountRow struct {
	balance    int64
	water      int64
	fertilizer int64
	capacity   int
}

func (a accountRow) rows() *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{"id", "display_name", "balance_micros", "water", "fertilizer", "plant_capacity", "created_at", "updated_at"}).
		AddRow(ivy, "Ivy", a.balance, a.water, a.fertilizer, a.capacity, now, now)
}

type plantRow struct {
	id        int64
	rarity    Rarity
	stage     Stage
	remaining *int64
	pos       *Position
}

func (p plantRow) rows() *pgxmock.Rows {
	now := time.Now()
	x, y := positionArgs(p.pos)
	return pgxmock.NewRows([]string{"id", "account_id", "plant_type", "species", "rarity", "stage", "remaining_growth_time", "pos_x", "pos_y", "created_at", "updated_at"}).
		AddRow(p.id, ivy, "flower", "Daisy", int16(p.rarity), int16(p.stage), p.remaining, x, y, now, now)
}

func int64p(v int64) *int64 { return &v }

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func expectLedger(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(insertLedgerSQL).WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectCreatePlant(mock pgxmock.PgxPoolIface, acct accountRow, plantCount int, pos *Position) {
	x, y := positionArgs(pos)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(acct.rows())
	mock.ExpectQuery(countPlantsSQL).WithArgs(ivy).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(plantCount))
	mock.ExpectExec(setBalanceSQL).WithArgs(acct.balance-PlantCostMicros, ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(insertPlantSQL).
		WithArgs(ivy, "flower", "Daisy", int16(RarityCommon), int16(StageSeed), x, y).
		WillReturnRows(plantRow{id: 1, pos: pos}.rows())
	expectLedger(mock)
	mock.ExpectCommit()
}

func TestCreatePlantThenStartGrowingWithoutWater(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	expectCreatePlant(mock, accountRow{balance: coins(250), capacity: 50}, 0, nil)
	created, err := svc.CreatePlant(ctx, CreatePlantInput{ActorID: ivy, AccountID: ivy, Type: "flower"})
	require.NoError(t, err)
	assert.Equal(t, coins(150), created.BalanceMicros)
	assert.Equal(t, PlantCostMicros, created.CostMicros)
	assert.Equal(t, StageSeed, created.Plant.Stage)
	assert.Nil(t, created.Plant.Position)

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(150), capacity: 50}.rows())
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(1), ivy).WillReturnRows(plantRow{id: 1}.rows())
	mock.ExpectRollback()

	_, err = svc.StartGrowing(ctx, PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 1})
	require.ErrorIs(t, err, ErrInsufficientWater)
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlantRejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name  string
		acct  accountRow
		count int
		want  error
	}{
		{"insufficient funds", accountRow{balance: coins(99), capacity: 50}, 0, ErrInsufficientFunds},
		{"capacity reached", accountRow{balance: coins(1000), capacity: 50}, 50, ErrCapacityExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock := newTestService(t)
			mock.ExpectBeginTx(serializable)
			mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(tc.acct.rows())
			mock.ExpectQuery(countPlantsSQL).WithArgs(ivy).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(tc.count))
			mock.ExpectRollback()

			_, err := svc.CreatePlant(context.Background(), CreatePlantInput{ActorID: ivy, AccountID: ivy, Type: "flower"})
			require.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreatePlantValidatesBeforeTouchingStore(t *testing.T) {
	svc, mock := newTestService(t)

	_, err := svc.CreatePlant(context.Background(), CreatePlantInput{ActorID: ivy, AccountID: ivy, Type: "cactus"})
	assert.ErrorIs(t, err, ErrInvalidPlantType)

	_, err = svc.CreatePlant(context.Background(), CreatePlantInput{ActorID: "oak@example.com", AccountID: ivy, Type: "flower"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMoveSellRoundTrip(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()
	ref := PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 1}

	start := &Position{X: 1, Y: 2}
	expectCreatePlant(mock, accountRow{balance: coins(250), capacity: 50}, 3, start)
	created, err := svc.CreatePlant(ctx, CreatePlantInput{ActorID: ivy, AccountID: ivy, Type: "flower", Position: start})
	require.NoError(t, err)
	require.NotNil(t, created.Plant.Position)
	assert.Equal(t, Position{X: 1, Y: 2}, *created.Plant.Position)

	moved := &Position{X: 5, Y: 9}
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(1), ivy).WillReturnRows(plantRow{id: 1, pos: start}.rows())
	mock.ExpectQuery(updatePlantSQL).
		WithArgs(int16(StageSeed), (*int64)(nil), int64p(5), int64p(9), int64(1), ivy).
		WillReturnRows(plantRow{id: 1, pos: moved}.rows())
	mock.ExpectCommit()
	plant, err := svc.MovePlant(ctx, MoveInput{PlantRef: ref, Position: moved})
	require.NoError(t, err)
	assert.Equal(t, Position{X: 5, Y: 9}, *plant.Position)

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: created.BalanceMicros, capacity: 50}.rows())
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(1), ivy).WillReturnRows(plantRow{id: 1, pos: moved}.rows())
	mock.ExpectExec(deletePlantSQL).WithArgs(int64(1), ivy).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectLedger(mock)
	mock.ExpectCommit()
	sold, err := svc.SellPlant(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, sold.PayoutMicros)
	assert.Equal(t, coins(250)-PlantCostMicros, sold.BalanceMicros)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSellMatureRareCreditsPayout(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(4), ivy).WillReturnRows(plantRow{id: 4, rarity: RarityRare, stage: StageMature}.rows())
	mock.ExpectExec(deletePlantSQL).WithArgs(int64(4), ivy).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(setBalanceSQL).WithArgs(coins(510), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.SellPlant(context.Background(), PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 4})
	require.NoError(t, err)
	assert.Equal(t, coins(500), res.PayoutMicros)
	assert.Equal(t, coins(510), res.BalanceMicros)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSellMissingPlant(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(9), ivy).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.SellPlant(context.Background(), PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 9})
	assert.ErrorIs(t, err, ErrPlantNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartGrowingSproutConsumesFertilizer(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), fertilizer: 3, capacity: 50}.rows())
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(2), ivy).WillReturnRows(plantRow{id: 2, rarity: RarityUncommon, stage: StageSprout}.rows())
	mock.ExpectExec(`UPDATE garden\.accounts\s+SET fertilizer = \$1`).WithArgs(int64(1), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(updatePlantSQL).
		WithArgs(int16(StageSprout), int64p(120), (*int64)(nil), (*int64)(nil), int64(2), ivy).
		WillReturnRows(plantRow{id: 2, rarity: RarityUncommon, stage: StageSprout, remaining: int64p(120)}.rows())
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.StartGrowing(context.Background(), PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 2})
	require.NoError(t, err)
	assert.Equal(t, Growth{Resource: ResourceFertilizer, Amount: 2, Duration: 120}, res.Consumed)
	assert.Equal(t, int64(1), res.Remaining)
	require.NotNil(t, res.Plant.RemainingGrowthTime)
	assert.Equal(t, int64(120), *res.Plant.RemainingGrowthTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickAdvancesStage(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(3), ivy).WillReturnRows(plantRow{id: 3, remaining: int64p(30)}.rows())
	mock.ExpectQuery(updatePlantSQL).
		WithArgs(int16(StageSprout), (*int64)(nil), (*int64)(nil), (*int64)(nil), int64(3), ivy).
		WillReturnRows(plantRow{id: 3, stage: StageSprout}.rows())
	mock.ExpectCommit()

	res, err := svc.Tick(context.Background(), TickInput{
		PlantRef: PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 3},
		Elapsed:  45,
	})
	require.NoError(t, err)
	assert.True(t, res.StageAdvanced)
	assert.Equal(t, StageSprout, res.Plant.Stage)
	assert.Nil(t, res.Plant.RemainingGrowthTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickIdlePlantFails(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockPlantSQL).WithArgs(int64(3), ivy).WillReturnRows(plantRow{id: 3}.rows())
	mock.ExpectRollback()

	_, err := svc.Tick(context.Background(), TickInput{
		PlantRef: PlantRef{AccountRef: AccountRef{ActorID: ivy, AccountID: ivy}, PlantID: 3},
		Elapsed:  5,
	})
	assert.ErrorIs(t, err, ErrNotGrowing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseResource(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(30), water: 2, capacity: 50}.rows())
	mock.ExpectExec(`UPDATE garden\.accounts\s+SET balance_micros = \$1, water = \$2`).
		WithArgs(coins(5), int64(3), ivy).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.PurchaseResource(context.Background(), PurchaseResourceInput{ActorID: ivy, AccountID: ivy, Resource: "water"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Amount)
	assert.Equal(t, coins(5), res.BalanceMicros)
	assert.Equal(t, ResourcePriceMicros, res.PriceMicros)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseResourceInsufficientFunds(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(24), capacity: 50}.rows())
	mock.ExpectRollback()

	_, err := svc.PurchaseResource(context.Background(), PurchaseResourceInput{ActorID: ivy, AccountID: ivy, Resource: ResourceFertilizer})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustBalanceNeverGoesNegative(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectRollback()

	_, err := svc.AdjustBalance(context.Background(), AdjustBalanceInput{ActorID: ivy, AccountID: ivy, DeltaMicros: -coins(11)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectExec(setBalanceSQL).WithArgs(coins(35), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.AdjustBalance(context.Background(), AdjustBalanceInput{ActorID: ivy, AccountID: ivy, DeltaMicros: coins(25)})
	require.NoError(t, err)
	assert.Equal(t, coins(35), res.BalanceMicros)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustBalanceRejectsOverflow(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectRollback()

	res, err := svc.AdjustBalance(context.Background(), AdjustBalanceInput{ActorID: ivy, AccountID: ivy, DeltaMicros: math.MaxInt64})
	require.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Equal(t, BalanceResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustResourceShortfall(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), fertilizer: 1, capacity: 50}.rows())
	mock.ExpectRollback()

	_, err := svc.AdjustResource(context.Background(), AdjustResourceInput{ActorID: ivy, AccountID: ivy, Resource: ResourceFertilizer, Delta: -2})
	assert.ErrorIs(t, err, ErrInsufficientFertilizer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncreasePlantCapacity(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(2000), capacity: 100}.rows())
	mock.ExpectExec(`UPDATE garden\.accounts\s+SET balance_micros = \$1, plant_capacity = \$2`).
		WithArgs(coins(900), 150, ivy).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.IncreasePlantCapacity(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	require.NoError(t, err)
	assert.Equal(t, coins(1100), res.CostMicros)
	assert.Equal(t, coins(1200), res.NextCostMicros)
	assert.Equal(t, 150, res.PlantCapacity)
	assert.Equal(t, 2, res.UpgradesPurchased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncreasePlantCapacityInsufficientFunds(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(999), capacity: 50}.rows())
	mock.ExpectRollback()

	_, err := svc.IncreasePlantCapacity(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncreasePlantCapacityUnpricedTier(t *testing.T) {
	svc, mock := newTestService(t)
	capacity := DefaultPlantCapacity + 1000*CapacityIncrement
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: math.MaxInt64, capacity: capacity}.rows())
	mock.ExpectRollback()

	_, err := svc.IncreasePlantCapacity(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingAccount(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery(`FROM garden\.accounts a`).WithArgs(ivy).WillReturnError(fmt.Errorf("scan: %w", pgx.ErrNoRows))

	_, err := svc.GetAccount(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	require.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs(ivy, "Ivy").WillReturnRows(pgxmock.NewRows([]string{"id_taken", "name_taken"}).AddRow(false, false))
	mock.ExpectQuery(`INSERT INTO garden\.accounts`).
		WithArgs(ivy, "Ivy", StarterBalanceMicros, DefaultPlantCapacity).
		WillReturnRows(accountRow{balance: StarterBalanceMicros, capacity: DefaultPlantCapacity}.rows())
	expectLedger(mock)
	mock.ExpectCommit()

	acct, err := svc.CreateAccount(context.Background(), CreateAccountInput{ActorID: "IVY@example.com", AccountID: ivy, DisplayName: " Ivy "})
	require.NoError(t, err)
	assert.Equal(t, coins(250), acct.BalanceMicros)
	assert.Equal(t, 50, acct.PlantCapacity)
	assert.Equal(t, coins(1000), acct.NextUpgradeCostMicros)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountDuplicateName(t *testing.T) {
	t.Run("seen before insert", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs(ivy, "Ivy").WillReturnRows(pgxmock.NewRows([]string{"id_taken", "name_taken"}).AddRow(false, true))
		mock.ExpectRollback()

		_, err := svc.CreateAccount(context.Background(), CreateAccountInput{ActorID: ivy, AccountID: ivy, DisplayName: "Ivy"})
		assert.ErrorIs(t, err, ErrDuplicateName)
		assert.True(t, IsDuplicate(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost the insert race", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs(ivy, "Ivy").WillReturnRows(pgxmock.NewRows([]string{"id_taken", "name_taken"}).AddRow(false, false))
		mock.ExpectQuery(`INSERT INTO garden\.accounts`).
			WithArgs(anyArgs(4)...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_display_name_key"})
		mock.ExpectRollback()

		_, err := svc.CreateAccount(context.Background(), CreateAccountInput{ActorID: ivy, AccountID: ivy, DisplayName: "Ivy"})
		assert.ErrorIs(t, err, ErrDuplicateName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account id taken", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs(ivy, "Ivy").WillReturnRows(pgxmock.NewRows([]string{"id_taken", "name_taken"}).AddRow(true, false))
		mock.ExpectRollback()

		_, err := svc.CreateAccount(context.Background(), CreateAccountInput{ActorID: ivy, AccountID: ivy, DisplayName: "Ivy"})
		assert.ErrorIs(t, err, ErrDuplicateAccount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRenameAccountToSameNameIsNoop(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(1), capacity: 50}.rows())
	mock.ExpectCommit()

	acct, err := svc.RenameAccount(context.Background(), RenameAccountInput{ActorID: ivy, AccountID: ivy, DisplayName: "Ivy"})
	require.NoError(t, err)
	assert.Equal(t, "Ivy", acct.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameAccountCollision(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(1), capacity: 50}.rows())
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("Fern", ivy).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := svc.RenameAccount(context.Background(), RenameAccountInput{ActorID: ivy, AccountID: ivy, DisplayName: "Fern"})
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAccount(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(1), capacity: 50}.rows())
	mock.ExpectExec(`DELETE FROM garden\.plants WHERE account_id = \$1`).WithArgs(ivy).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM garden\.accounts WHERE id = \$1`).WithArgs(ivy).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, svc.DeleteAccount(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingAccount(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := svc.DeleteAccount(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictIsRetriedOnce(t *testing.T) {
	svc, mock := newTestService(t)
	conflict := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(30), capacity: 50}.rows())
	mock.ExpectExec(`SET balance_micros = \$1, water = \$2`).WithArgs(coins(5), int64(1), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit().WillReturnError(conflict)
	mock.ExpectRollback()

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(30), capacity: 50}.rows())
	mock.ExpectExec(`SET balance_micros = \$1, water = \$2`).WithArgs(coins(5), int64(1), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit()

	res, err := svc.PurchaseResource(context.Background(), PurchaseResourceInput{ActorID: ivy, AccountID: ivy, Resource: ResourceWater})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedRetryReturnsZeroResult(t *testing.T) {
	svc, mock := newTestService(t)
	conflict := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(30), capacity: 50}.rows())
	mock.ExpectExec(`SET balance_micros = \$1, water = \$2`).WithArgs(coins(5), int64(1), ivy).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLedger(mock)
	mock.ExpectCommit().WillReturnError(conflict)
	mock.ExpectRollback()

	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnRows(accountRow{balance: coins(10), capacity: 50}.rows())
	mock.ExpectRollback()

	res, err := svc.PurchaseResource(context.Background(), PurchaseResourceInput{ActorID: ivy, AccountID: ivy, Resource: ResourceWater})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, ResourceResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistentConflictSurfaces(t *testing.T) {
	svc, mock := newTestService(t)
	for i := 0; i < maxTxAttempts; i++ {
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(lockAccountSQL).WithArgs(ivy).WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	_, err := svc.IncreasePlantCapacity(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	assert.ErrorIs(t, err, ErrTxConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountAndListPlants(t *testing.T) {
	svc, mock := newTestService(t)
	now := time.Now()
	mock.ExpectQuery(`FROM garden\.accounts a`).WithArgs(ivy).WillReturnRows(
		pgxmock.NewRows([]string{"id", "display_name", "balance_micros", "water", "fertilizer", "plant_capacity", "created_at", "updated_at", "plant_count"}).
			AddRow(ivy, "Ivy", coins(42), int64(1), int64(2), 100, now, now, 7))
	acct, err := svc.GetAccount(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	require.NoError(t, err)
	assert.Equal(t, 7, acct.PlantCount)
	assert.Equal(t, coins(1100), acct.NextUpgradeCostMicros)

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(ivy).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	rows := plantRow{id: 1}.rows().AddRow(int64(2), ivy, "flower", "Tulip", int16(0), int16(1), int64p(10), int64p(3), int64p(4), now, now)
	mock.ExpectQuery(`FROM garden\.plants\s+WHERE account_id = \$1\s+ORDER BY id`).WithArgs(ivy).WillReturnRows(rows)
	plants, err := svc.ListPlants(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	require.NoError(t, err)
	require.Len(t, plants, 2)
	assert.Nil(t, plants[0].Position)
	assert.Equal(t, Position{X: 3, Y: 4}, *plants[1].Position)
	assert.True(t, plants[1].Growing())

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(ivy).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = svc.ListPlants(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEntriesCapsLimit(t *testing.T) {
	svc, mock := newTestService(t)
	now := time.Now()
	mock.ExpectQuery(`FROM garden\.ledger_entries\s+WHERE account_id = \$1\s+ORDER BY id DESC\s+LIMIT \$2`).
		WithArgs(ivy, maxLedgerLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tx_group_id", "action", "balance_delta_micros", "water_delta", "fertilizer_delta", "plant_id", "metadata", "created_at"}).
			AddRow(int64(2), "g2", "plant_sale", coins(50), int64(0), int64(0), int64p(7), map[string]any{"action": "plant_sale"}, now).
			AddRow(int64(1), "g1", "plant_create", -coins(100), int64(0), int64(0), int64p(7), map[string]any{"action": "plant_create"}, now))

	entries, err := svc.LedgerEntries(context.Background(), AccountRef{ActorID: ivy, AccountID: ivy}, 10_000)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "plant_sale", entries[0].Action)
	assert.Equal(t, int64(7), *entries[1].PlantID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEntriesRequiresOwnership(t *testing.T) {
	svc, mock := newTestService(t)
	_, err := svc.LedgerEntries(context.Background(), AccountRef{ActorID: "mallory@example.com", AccountID: ivy}, 5)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, mock.ExpectationsWereMet())
}
