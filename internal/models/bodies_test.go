package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBodySpendUSDC(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		amount int64
		counts bool
	}{
		{
			name:   "created pending counts cents",
			body:   `{"action":"created","body":{"spend":{"amount":1234,"status":"pending"}}}`,
			amount: 12_340_000,
			counts: true,
		},
		{
			name:   "updated pending counts the update amount",
			body:   `{"action":"updated","body":{"spend":{"amount":1234,"authorizationUpdateAmount":500,"status":"pending"}}}`,
			amount: 5_000_000,
			counts: true,
		},
		{
			name:   "reversed update counts its negative amount",
			body:   `{"action":"updated","body":{"spend":{"authorizationUpdateAmount":-500,"status":"reversed"}}}`,
			amount: -5_000_000,
			counts: true,
		},
		{
			name:   "completed spend does not count",
			body:   `{"action":"completed","body":{"spend":{"amount":1234,"status":"completed"}}}`,
			counts: false,
		},
		{
			name:   "pending clearing counts dollars",
			body:   `{"event_type":"CLEARING","status":"PENDING","data":{"bill_amount":90.5}}`,
			amount: 90_500_000,
			counts: true,
		},
		{
			name:   "declined authorization does not count",
			body:   `{"event_type":"AUTHORIZATION","status":"DECLINED","data":{"amount":12}}`,
			counts: false,
		},
		{
			name:   "unparseable body does not count",
			body:   `"not an object"`,
			counts: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, counts := BodySpendUSDC(json.RawMessage(tt.body))
			assert.Equal(t, tt.counts, counts)
			if tt.counts {
				assert.Equal(t, tt.amount, amount)
			}
		})
	}
}

func TestCumulativeSpend(t *testing.T) {
	bodies := []json.RawMessage{
		json.RawMessage(`{"action":"created","body":{"spend":{"amount":1000,"status":"pending"}}}`),
		json.RawMessage(`{"action":"updated","body":{"spend":{"authorizationUpdateAmount":250,"status":"pending"}}}`),
		json.RawMessage(`{"action":"completed","body":{"spend":{"amount":1250,"status":"completed"}}}`),
	}

	assert.Equal(t, int64(12_500_000), CumulativeSpend(bodies))
}

func TestCumulativeSpend_FlooredAtZero(t *testing.T) {
	bodies := []json.RawMessage{
		json.RawMessage(`{"action":"updated","body":{"spend":{"authorizationUpdateAmount":-9999,"status":"reversed"}}}`),
	}

	assert.Equal(t, int64(0), CumulativeSpend(bodies))
}

func TestCumulativeSpend_Empty(t *testing.T) {
	assert.Equal(t, int64(0), CumulativeSpend(nil))
}
