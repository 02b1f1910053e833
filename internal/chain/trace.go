package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallFrame is one frame of a callTracer trace, including emitted logs
type CallFrame struct {
	Type         string         `json:"type"`
	From         common.Address `json:"from"`
	To           common.Address `json:"to"`
	Input        hexutil.Bytes  `json:"input"`
	Output       hexutil.Bytes  `json:"output,omitempty"`
	Gas          hexutil.Uint64 `json:"gas"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	Error        string         `json:"error,omitempty"`
	RevertReason string         `json:"revertReason,omitempty"`
	Calls        []CallFrame    `json:"calls,omitempty"`
	Logs         []CallLog      `json:"logs,omitempty"`
}

// CallLog is a log record emitted within a traced call frame
type CallLog struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	Position hexutil.Uint   `json:"position"`
}

// Reverted reports whether the traced call failed, and the decoded reason.
// Collection entry points return no data, so any top-level output is revert
// data.
func (f *CallFrame) Reverted() (string, bool) {
	if f.Error == "" && len(f.Output) == 0 {
		return "", false
	}
	if len(f.Output) > 0 {
		return DecodeRevert(f.Output), true
	}
	if f.RevertReason != "" {
		return f.RevertReason, true
	}
	return f.Error, true
}

// CollectorTransfers sums the value of all token transfers to any collector
// address found anywhere in the trace. Only Transfer logs of the given token
// with an indexed recipient in the collector set count.
func CollectorTransfers(frame *CallFrame, token common.Address, collectors []common.Address) *big.Int {
	topics := make(map[common.Hash]bool, len(collectors))
	for _, collector := range collectors {
		topics[PadAddressTopic(collector)] = true
	}
	total := new(big.Int)
	sumCollectorTransfers(frame, token, topics, total)
	return total
}

func sumCollectorTransfers(frame *CallFrame, token common.Address, collectorTopics map[common.Hash]bool, total *big.Int) {
	for _, log := range frame.Logs {
		if log.Address != token || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != TransferTopic || !collectorTopics[log.Topics[2]] {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
	}
	for i := range frame.Calls {
		sumCollectorTransfers(&frame.Calls[i], token, collectorTopics, total)
	}
}
