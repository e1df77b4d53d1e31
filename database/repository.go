package database

import (
	"context"
	"time"

	"github.com/wyfcoding/pricing/order"
	"github.com/wyfcoding/pricing/xerrors"
	"gorm.io/gorm"
)

// OrderLineRecord 订单明细表的行模型，列名与 order.Schema 的规范字段一致.
type OrderLineRecord struct {
	ID          uint64    `gorm:"primaryKey"`
	OrderID     string    `gorm:"size:64;index"`
	OrderTime   time.Time `gorm:"index"`
	ProductCode string    `gorm:"size:64;index"`
	ProductName string    `gorm:"size:255"`
	Category    string    `gorm:"size:128"`
	Channel     string    `gorm:"size:64"`
	Quantity    float64
	Revenue     float64
	Cost        float64
	ListPrice   float64
}

// Line 转换为标准化的订单明细.
func (r OrderLineRecord) Line() order.Line {
	return order.Line{
		OrderID:     r.OrderID,
		OrderTime:   r.OrderTime,
		ProductCode: r.ProductCode,
		ProductName: r.ProductName,
		Category:    r.Category,
		Channel:     r.Channel,
		Quantity:    r.Quantity,
		Revenue:     r.Revenue,
		Cost:        r.Cost,
		ListPrice:   r.ListPrice,
	}
}

// RecordFromLine 由订单明细构造行模型.
func RecordFromLine(l order.Line) OrderLineRecord {
	return OrderLineRecord{
		OrderID:     l.OrderID,
		OrderTime:   l.OrderTime,
		ProductCode: l.ProductCode,
		ProductName: l.ProductName,
		Category:    l.Category,
		Channel:     l.Channel,
		Quantity:    l.Quantity,
		Revenue:     l.Revenue,
		Cost:        l.Cost,
		ListPrice:   l.ListPrice,
	}
}

// LineQuery 订单明细查询条件，零值字段不参与过滤.
type LineQuery struct {
	From       time.Time // 含
	To         time.Time // 不含
	Channel    string
	Categories []string
}

// LineRepository 订单明细仓储.
type LineRepository struct {
	db        *DB
	batchSize int
}

// NewLineRepository 创建仓储.
func NewLineRepository(db *DB) *LineRepository {
	return &LineRepository{db: db, batchSize: 500}
}

// Table 仓储对应的表名.
func (r *LineRepository) Table() string {
	return r.db.Table()
}

// Find 按条件读取订单明细，按下单时间升序.
func (r *LineRepository) Find(ctx context.Context, q LineQuery) ([]order.Line, error) {
	var records []OrderLineRecord
	err := r.db.Query(ctx, func(tx *gorm.DB) error {
		tx = tx.Table(r.db.Table())
		if !q.From.IsZero() {
			tx = tx.Where("order_time >= ?", q.From)
		}
		if !q.To.IsZero() {
			tx = tx.Where("order_time < ?", q.To)
		}
		if q.Channel != "" {
			tx = tx.Where("channel = ?", q.Channel)
		}
		if len(q.Categories) > 0 {
			tx = tx.Where("category IN ?", q.Categories)
		}
		return tx.Order("order_time").Find(&records).Error
	})
	if err != nil {
		return nil, err
	}

	lines := make([]order.Line, len(records))
	for i, rec := range records {
		lines[i] = rec.Line()
	}
	return lines, nil
}

// Save 在单个事务内批量写入订单明细.
func (r *LineRepository) Save(ctx context.Context, lines []order.Line) error {
	if len(lines) == 0 {
		return xerrors.ErrEmptyData.Derive("no order lines to save")
	}
	records := make([]OrderLineRecord, len(lines))
	for i, l := range lines {
		records[i] = RecordFromLine(l)
	}
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Table(r.db.Table()).CreateInBatches(records, r.batchSize).Error
	})
}

// Migrate 创建或更新订单明细表结构.
func (r *LineRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Table(r.db.Table()).AutoMigrate(&OrderLineRecord{}); err != nil {
		return xerrors.WrapInternal(err, "failed to migrate order line table")
	}
	return nil
}
