package common

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPrevTradingDay_SkipsWeekend(t *testing.T) {
	// 2024-03-11 is a Monday
	assert.Equal(t, day("2024-03-08"), PrevTradingDay(day("2024-03-11")))
	assert.Equal(t, day("2024-03-11"), PrevTradingDay(day("2024-03-12")))
}

func TestLastTradingDay(t *testing.T) {
	assert.Equal(t, day("2024-03-08"), LastTradingDay(day("2024-03-10")))
	assert.Equal(t, day("2024-03-08"), LastTradingDay(day("2024-03-08")))
}

func TestTradingDaysBetween(t *testing.T) {
	days := TradingDaysBetween(day("2024-03-07"), day("2024-03-12"))
	require.Len(t, days, 4)
	assert.Equal(t, "2024-03-07", FormatDate(days[0]))
	assert.Equal(t, "2024-03-12", FormatDate(days[3]))
}

func TestLookbackDates(t *testing.T) {
	dates := LookbackDates(day("2024-03-12"), 2)
	require.Len(t, dates, 3)
	assert.Equal(t, "2024-03-12", FormatDate(dates[0]))
	assert.Equal(t, "2024-03-11", FormatDate(dates[1]))
	assert.Equal(t, "2024-03-08", FormatDate(dates[2]))
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("12/03/2024")
	assert.Error(t, err)
}

func TestCurrencyFraction(t *testing.T) {
	assert.Equal(t, int32(2), CurrencyFraction("USD"))
	assert.Equal(t, int32(0), CurrencyFraction("JPY"))
	assert.Equal(t, int32(2), CurrencyFraction("zzz"))
}

func TestRoundMoney(t *testing.T) {
	v := decimal.RequireFromString("10.005")
	assert.Equal(t, "10.01", RoundMoney(v, "USD").String())
	assert.Equal(t, "10", RoundMoney(v, "JPY").String())
	assert.Equal(t, "0.01", MinorUnit("aud").String())
}
