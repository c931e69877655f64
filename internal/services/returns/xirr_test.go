package returns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

func TestMoneyWeighted_NoFlows(t *testing.T) {
	s := newCalc().Calculate([]NAVPoint{nav(0, 1000), nav(366, 1100)}, nil, models.FrequencyDaily)
	mwr, err := MoneyWeighted(s, nil)
	require.NoError(t, err)
	if !approxEqual(mwr, 0.10, 0.002) {
		t.Errorf("MoneyWeighted = %.4f, want ~0.10", mwr)
	}
}

func TestMoneyWeighted_LateDepositWeighsLess(t *testing.T) {
	// Same TWR path, but a large deposit just before a gain raises the money-weighted figure.
	points := []NAVPoint{nav(0, 1000), nav(300, 1000), nav(301, 11000), nav(366, 12100)}
	txs := []models.Transaction{tx(301, models.TxDeposit, 10000)}
	s := newCalc().Calculate(points, txs, models.FrequencyDaily)

	mwr, err := MoneyWeighted(s, txs)
	require.NoError(t, err)
	assert.Greater(t, mwr, s.Cumulative)
}

func TestMoneyWeighted_ShortSeries(t *testing.T) {
	s := newCalc().Calculate([]NAVPoint{nav(0, 1000)}, nil, models.FrequencyDaily)
	_, err := MoneyWeighted(s, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
}
