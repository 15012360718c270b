package domain

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApplyFill(t *testing.T) {
	cases := []struct {
		name     string
		qty      string
		avg      string
		delta    string
		price    string
		wantQty  string
		wantAvg  string
		closed   bool
		flipped  bool
	}{
		{name: "open long", qty: "0", avg: "0", delta: "2", price: "1.5", wantQty: "2", wantAvg: "1.5"},
		{name: "open short", qty: "0", avg: "0", delta: "-3", price: "2", wantQty: "-3", wantAvg: "2"},
		{name: "add to long recomputes weighted average", qty: "2", avg: "1", delta: "1", price: "2", wantQty: "3", wantAvg: "1.3333333333333333"},
		{name: "add to short recomputes weighted average", qty: "-2", avg: "1", delta: "-2", price: "3", wantQty: "-4", wantAvg: "2"},
		{name: "reduce long keeps average", qty: "10", avg: "1.5", delta: "-4", price: "9", wantQty: "6", wantAvg: "1.5"},
		{name: "reduce short keeps average", qty: "-10", avg: "1.5", delta: "4", price: "0.1", wantQty: "-6", wantAvg: "1.5"},
		{name: "reduce long to zero closes", qty: "5", avg: "2", delta: "-5", price: "3", wantQty: "0", wantAvg: "2", closed: true},
		{name: "reduce short to zero closes", qty: "-5", avg: "2", delta: "5", price: "3", wantQty: "0", wantAvg: "2", closed: true},
		{name: "long flips short at fill price", qty: "2", avg: "1", delta: "-5", price: "2.5", wantQty: "-3", wantAvg: "2.5", flipped: true},
		{name: "short flips long at fill price", qty: "-2", avg: "1", delta: "6", price: "0.8", wantQty: "4", wantAvg: "0.8", flipped: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyFill(d(tc.qty), d(tc.avg), d(tc.delta), d(tc.price))
			assert.True(t, d(tc.wantQty).Equal(got.Quantity), "quantity: want %s got %s", tc.wantQty, got.Quantity)
			if !got.Closed {
				diff := got.AveragePrice.Sub(d(tc.wantAvg)).Abs()
				assert.True(t, diff.LessThan(d("0.0000000001")), "average: want %s got %s", tc.wantAvg, got.AveragePrice)
			}
			assert.Equal(t, tc.closed, got.Closed)
			assert.Equal(t, tc.flipped, got.Flipped)
		})
	}
}

func TestApplyFillSignedSumInvariant(t *testing.T) {
	// 任意成交序列后，持仓数量等于各笔带符号增量之和
	deltas := []string{"3", "-1", "-2", "-4", "4"}
	qty, avg := decimal.Zero, decimal.Zero
	sum := decimal.Zero
	for _, s := range deltas {
		delta := d(s)
		sum = sum.Add(delta)
		fill := ApplyFill(qty, avg, delta, d("1.7"))
		qty, avg = fill.Quantity, fill.AveragePrice
		assert.True(t, sum.Equal(qty))
		assert.Equal(t, sum.IsZero(), fill.Closed)
	}
}

func TestCollateralForShortPut(t *testing.T) {
	// 行权价 80、3 张 => 80 × 100 × 3
	got := CollateralForShortPut(d("80"), d("3"))
	assert.True(t, d("24000").Equal(got), "got %s", got)
}

func TestScaleCollateral(t *testing.T) {
	// 部分平仓按比例缩放，绝不按行权价重算
	remaining := ScaleCollateral(d("24000"), d("3"), d("1.5"))
	assert.True(t, d("12000").Equal(remaining), "got %s", remaining)

	// 同规模缩放是恒等变换
	same := ScaleCollateral(d("777.77"), d("4"), d("4"))
	assert.True(t, d("777.77").Equal(same))

	// 完全平仓剩余担保精确归零
	zero := ScaleCollateral(d("24000"), d("3"), d("0"))
	assert.True(t, zero.IsZero())
}

func TestPositionHelpers(t *testing.T) {
	long := &Position{Quantity: d("2")}
	short := &Position{Quantity: d("-2")}

	assert.True(t, long.IsLong())
	assert.False(t, long.IsShort())
	assert.True(t, short.IsShort())
	assert.True(t, d("2").Equal(short.AbsQuantity()))

	require.True(t, short.Collateral().IsZero())
	short.CollateralBlocked = decimal.NewNullDecimal(d("16000"))
	assert.True(t, d("16000").Equal(short.Collateral()))
}

func TestContractScaling(t *testing.T) {
	assert.True(t, d("200").Equal(UnderlyingShares(d("2"))))
	assert.True(t, d("300").Equal(PremiumValue(d("1.5"), d("2"))))
}

func TestPositionHasNoSoftDeleteColumn(t *testing.T) {
	// (wallet_id, asset_id) 带唯一索引，删除必须物理移除行；
	// 软删除字段会让平仓后的重新开仓撞唯一键
	_, hasDeletedAt := reflect.TypeOf(Position{}).FieldByName("DeletedAt")
	assert.False(t, hasDeletedAt)
}
