package store

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"forum/internal/common"
)

// GormStore is the durable alternative to MemStore: a sqlite-backed Store
// for the six relations, used by cmd/server whenever it is started with a
// non-empty -dsn. Persistence choice is an external decision the matching
// core never has to know about — Matcher/Ledger/Book/TradeLog are
// unchanged whichever Store is plugged in.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore opens (and migrates) a sqlite database at dsn, e.g.
// "file:exchange.db?cache=shared" or ":memory:".
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "opening sqlite store")
	}
	if err := db.AutoMigrate(&userRow{}, &instrumentRow{}, &balanceRow{}, &orderRow{}, &tradeRow{}, &netExternalRow{}); err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "migrating sqlite schema")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{tx: tx})
	})
}

type gormTx struct{ tx *gorm.DB }

func (t *gormTx) GetBalance(userID, ticker string) (decimal.Decimal, error) {
	var row balanceRow
	err := t.tx.Where("user_id = ? AND ticker = ?", userID, ticker).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, common.Wrap(common.KindSystemError, err, "reading balance")
	}
	return decimal.NewFromString(row.Amount)
}

func (t *gormTx) PutBalance(userID, ticker string, amount decimal.Decimal) error {
	row := balanceRow{UserID: userID, Ticker: ticker, Amount: amount.String()}
	return t.tx.Save(&row).Error
}

func (t *gormTx) AllBalances(ticker string) ([]common.Balance, error) {
	var rows []balanceRow
	if err := t.tx.Where("ticker = ?", ticker).Find(&rows).Error; err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "listing balances")
	}
	out := make([]common.Balance, 0, len(rows))
	for _, r := range rows {
		amt, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, common.Balance{UserID: r.UserID, Ticker: r.Ticker, Amount: amt})
	}
	return out, nil
}

func (t *gormTx) NetExternal(ticker string) (decimal.Decimal, error) {
	var row netExternalRow
	err := t.tx.Where("ticker = ?", ticker).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, common.Wrap(common.KindSystemError, err, "reading net external total")
	}
	return decimal.NewFromString(row.Amount)
}

func (t *gormTx) AdjustNetExternal(ticker string, delta decimal.Decimal) error {
	current, err := t.NetExternal(ticker)
	if err != nil {
		return err
	}
	row := netExternalRow{Ticker: ticker, Amount: current.Add(delta).String()}
	return t.tx.Save(&row).Error
}

func (t *gormTx) InsertOrder(o *common.Order) error {
	row := toOrderRow(o)
	return t.tx.Create(&row).Error
}

func (t *gormTx) SaveOrder(o *common.Order) error {
	row := toOrderRow(o)
	return t.tx.Save(&row).Error
}

func (t *gormTx) GetOrder(id string) (*common.Order, error) {
	var row orderRow
	if err := t.tx.Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, common.Errf(common.KindUnknownOrder, "order %s not found", id)
		}
		return nil, common.Wrap(common.KindSystemError, err, "reading order")
	}
	return fromOrderRow(row)
}

func (t *gormTx) OrdersByUser(userID string) ([]*common.Order, error) {
	var rows []orderRow
	if err := t.tx.Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "listing user orders")
	}
	return mapOrderRows(rows)
}

func (t *gormTx) RestingOrders(ticker string) ([]*common.Order, error) {
	var rows []orderRow
	err := t.tx.Where("ticker = ? AND type = ? AND status IN ?", ticker, int(common.LimitOrder),
		[]int{int(common.Open), int(common.PartiallyFilled)}).
		Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "listing resting orders")
	}
	return mapOrderRows(rows)
}

func mapOrderRows(rows []orderRow) ([]*common.Order, error) {
	out := make([]*common.Order, 0, len(rows))
	for _, r := range rows {
		o, err := fromOrderRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *gormTx) NextTradeSeq() (uint64, error) {
	var row tradeRow
	err := t.tx.Order("seq desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, common.Wrap(common.KindSystemError, err, "reading trade sequence")
	}
	return row.Seq + 1, nil
}

func (t *gormTx) AppendTrade(tr common.Trade) error {
	row := toTradeRow(tr)
	return t.tx.Create(&row).Error
}

func (t *gormTx) TradeHistory(ticker string, limit int) ([]common.Trade, error) {
	var rows []tradeRow
	q := t.tx.Where("ticker = ?", ticker).Order("seq desc")
	if limit >= 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "reading trade history")
	}
	out := make([]common.Trade, 0, len(rows))
	for _, r := range rows {
		tr, err := fromTradeRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (t *gormTx) GetInstrument(ticker string) (*common.Instrument, error) {
	var row instrumentRow
	if err := t.tx.Where("ticker = ?", ticker).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, common.Errf(common.KindUnknownInstrument, "instrument %s not found", ticker)
		}
		return nil, common.Wrap(common.KindSystemError, err, "reading instrument")
	}
	return &common.Instrument{Ticker: row.Ticker, Name: row.Name, IsListed: row.IsListed}, nil
}

func (t *gormTx) PutInstrument(i *common.Instrument) error {
	row := instrumentRow{Ticker: i.Ticker, Name: i.Name, IsListed: i.IsListed}
	return t.tx.Save(&row).Error
}

func (t *gormTx) DeleteInstrument(ticker string) error {
	if err := t.tx.Where("ticker = ?", ticker).Delete(&instrumentRow{}).Error; err != nil {
		return err
	}
	if err := t.tx.Where("ticker = ?", ticker).Delete(&orderRow{}).Error; err != nil {
		return err
	}
	return t.tx.Where("ticker = ?", ticker).Delete(&balanceRow{}).Error
}

func (t *gormTx) ListInstruments() ([]common.Instrument, error) {
	var rows []instrumentRow
	if err := t.tx.Order("ticker").Find(&rows).Error; err != nil {
		return nil, common.Wrap(common.KindSystemError, err, "listing instruments")
	}
	out := make([]common.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.Instrument{Ticker: r.Ticker, Name: r.Name, IsListed: r.IsListed})
	}
	return out, nil
}

func (t *gormTx) GetUser(id string) (*common.User, error) {
	var row userRow
	if err := t.tx.Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, common.Errf(common.KindUnknownUser, "user %s not found", id)
		}
		return nil, common.Wrap(common.KindSystemError, err, "reading user")
	}
	return fromUserRow(row), nil
}

func (t *gormTx) GetUserByAPIKey(apiKey string) (*common.User, error) {
	var row userRow
	if err := t.tx.Where("api_key = ?", apiKey).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, common.Errf(common.KindUnauthorized, "unknown api key")
		}
		return nil, common.Wrap(common.KindSystemError, err, "reading user by api key")
	}
	return fromUserRow(row), nil
}

func (t *gormTx) PutUser(u *common.User) error {
	row := userRow{ID: u.ID, Name: u.Name, Role: u.Role.String(), APIKey: u.APIKey}
	return t.tx.Save(&row).Error
}

func (t *gormTx) DeleteUser(id string) error {
	if err := t.tx.Where("id = ?", id).Delete(&userRow{}).Error; err != nil {
		return err
	}
	return t.tx.Where("user_id = ?", id).Delete(&orderRow{}).Error
}

func fromUserRow(row userRow) *common.User {
	role := common.RoleUser
	if row.Role == common.RoleAdmin.String() {
		role = common.RoleAdmin
	}
	return &common.User{ID: row.ID, Name: row.Name, Role: role, APIKey: row.APIKey}
}
