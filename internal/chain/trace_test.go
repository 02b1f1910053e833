package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

var (
	usdc      = common.HexToAddress("0x0b2c639c533813f4aa9d7837caf62653d097ff85")
	collector = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	payer     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func transferLog(token, from, to common.Address, value int64) CallLog {
	return CallLog{
		Address: token,
		Topics:  []common.Hash{TransferTopic, PadAddressTopic(from), PadAddressTopic(to)},
		Data:    big.NewInt(value).FillBytes(make([]byte, 32)),
	}
}

func TestCollectorTransfers_SumsNestedFrames(t *testing.T) {
	frame := &CallFrame{
		Logs: []CallLog{transferLog(usdc, payer, collector, 10_000_000)},
		Calls: []CallFrame{
			{Logs: []CallLog{transferLog(usdc, payer, collector, 25_000_000)}},
			{Calls: []CallFrame{
				{Logs: []CallLog{transferLog(usdc, payer, collector, 5_000_000)}},
			}},
		},
	}

	total := CollectorTransfers(frame, usdc, []common.Address{collector})
	assert.Equal(t, big.NewInt(40_000_000), total)
}

func TestCollectorTransfers_IgnoresOtherTokensAndRecipients(t *testing.T) {
	otherToken := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	frame := &CallFrame{
		Logs: []CallLog{
			transferLog(otherToken, payer, collector, 99_000_000),
			transferLog(usdc, payer, payer, 99_000_000),
			transferLog(usdc, payer, collector, 1_000_000),
			// Not a Transfer event
			{Address: usdc, Topics: []common.Hash{PadAddressTopic(payer), PadAddressTopic(payer), PadAddressTopic(collector)}},
		},
	}

	total := CollectorTransfers(frame, usdc, []common.Address{collector})
	assert.Equal(t, big.NewInt(1_000_000), total)
}

func TestCollectorTransfers_MultipleCollectors(t *testing.T) {
	second := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	frame := &CallFrame{
		Logs: []CallLog{
			transferLog(usdc, payer, collector, 3),
			transferLog(usdc, payer, second, 4),
		},
	}

	total := CollectorTransfers(frame, usdc, []common.Address{collector, second})
	assert.Equal(t, big.NewInt(7), total)
}

func TestCallFrame_Reverted(t *testing.T) {
	clean := &CallFrame{}
	_, reverted := clean.Reverted()
	assert.False(t, reverted)

	replay := &CallFrame{
		Error:  "execution reverted",
		Output: RevertSelector("Replay"),
	}
	reason, reverted := replay.Reverted()
	assert.True(t, reverted)
	assert.Equal(t, "Replay", reason)

	plain := &CallFrame{Error: "out of gas"}
	reason, reverted = plain.Reverted()
	assert.True(t, reverted)
	assert.Equal(t, "out of gas", reason)

	withReason := &CallFrame{Error: "execution reverted", RevertReason: "nope"}
	reason, reverted = withReason.Reverted()
	assert.True(t, reverted)
	assert.Equal(t, "nope", reason)
}
