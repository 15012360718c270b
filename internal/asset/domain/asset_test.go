package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestIsExpirableComparesDateOnly(t *testing.T) {
	expiry := time.Date(2026, 9, 18, 10, 0, 0, 0, time.UTC)
	detail := &OptionDetail{ExpirationDate: expiry}

	assert.False(t, detail.IsExpirable(time.Date(2026, 9, 17, 23, 59, 0, 0, time.UTC)))
	// 到期日当天任何时刻均可处理，哪怕早于到期时刻
	assert.True(t, detail.IsExpirable(time.Date(2026, 9, 18, 0, 1, 0, 0, time.UTC)))
	assert.True(t, detail.IsExpirable(time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)))
}

func TestCanExercise(t *testing.T) {
	expiry := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	american := &OptionDetail{ExerciseStyle: ExerciseStyleAmerican, ExpirationDate: expiry}
	european := &OptionDetail{ExerciseStyle: ExerciseStyleEuropean, ExpirationDate: expiry}

	assert.True(t, american.CanExercise(before))
	assert.False(t, european.CanExercise(before))
	assert.True(t, european.CanExercise(expiry))
}

func TestIsInTheMoney(t *testing.T) {
	call := &OptionDetail{OptionType: OptionTypeCall, StrikePrice: d("80")}
	put := &OptionDetail{OptionType: OptionTypePut, StrikePrice: d("80")}

	assert.True(t, call.IsInTheMoney(d("85")))
	assert.False(t, call.IsInTheMoney(d("80")))
	assert.False(t, call.IsInTheMoney(d("75")))

	assert.True(t, put.IsInTheMoney(d("75")))
	assert.False(t, put.IsInTheMoney(d("80")))
	assert.False(t, put.IsInTheMoney(d("85")))
}

func TestClassify(t *testing.T) {
	call := &OptionDetail{OptionType: OptionTypeCall, StrikePrice: d("100")}

	// 行权价 ±1% 以内为平值
	assert.Equal(t, MoneynessATM, call.Classify(d("100")))
	assert.Equal(t, MoneynessATM, call.Classify(d("100.9")))
	assert.Equal(t, MoneynessATM, call.Classify(d("99.1")))
	assert.Equal(t, MoneynessITM, call.Classify(d("102")))
	assert.Equal(t, MoneynessOTM, call.Classify(d("97")))

	zero := &OptionDetail{OptionType: OptionTypeCall, StrikePrice: decimal.Zero}
	assert.Equal(t, MoneynessUnknown, zero.Classify(d("10")))
}
