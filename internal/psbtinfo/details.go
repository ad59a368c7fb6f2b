// Package psbtinfo 提取展示给用户审批的 PSBT 摘要信息。
package psbtinfo

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/aegis-sign/psbt-bridge/pkg/validator"
)

// Details 是审批前展示的交易摘要。
type Details struct {
	TxID string         `json:"tx_id"`
	Fee  btcutil.Amount `json:"fee"`
	// FeeKnown 为 false 表示某个输入缺少 UTXO 信息或金额超出合法范围，Fee 为 0。
	FeeKnown bool `json:"fee_known"`
	Inputs   int  `json:"inputs"`
	Outputs  int  `json:"outputs"`
}

// Parse 解码 base64 或 hex 形式的 PSBT 并计算交易 id 与手续费。
func Parse(payload string) (Details, error) {
	enc, err := validator.DetectEncoding(payload)
	if err != nil {
		return Details{}, err
	}
	raw, err := validator.DecodePSBT(payload, enc)
	if err != nil {
		return Details{}, err
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return Details{}, fmt.Errorf("parse psbt: %w", err)
	}
	return FromPacket(packet), nil
}

// FromPacket 计算已解析 PSBT 的摘要。
func FromPacket(packet *psbt.Packet) Details {
	d := Details{
		TxID:    packet.UnsignedTx.TxHash().String(),
		Inputs:  len(packet.UnsignedTx.TxIn),
		Outputs: len(packet.UnsignedTx.TxOut),
	}
	if fee, ok := fee(packet); ok {
		d.Fee, d.FeeKnown = fee, true
	}
	return d
}

func fee(packet *psbt.Packet) (btcutil.Amount, bool) {
	var in int64
	for idx := range packet.UnsignedTx.TxIn {
		utxo := inputUtxo(packet, idx)
		if utxo == nil {
			return 0, false
		}
		var ok bool
		if in, ok = addSatoshi(in, utxo.Value); !ok {
			return 0, false
		}
	}
	var out int64
	for _, txOut := range packet.UnsignedTx.TxOut {
		var ok bool
		if out, ok = addSatoshi(out, txOut.Value); !ok {
			return 0, false
		}
	}
	if in < out {
		return 0, false
	}
	return btcutil.Amount(in - out), true
}

// addSatoshi 累加金额，单项或合计超出 [0, MaxSatoshi] 时返回 false。
func addSatoshi(total, value int64) (int64, bool) {
	if value < 0 || value > btcutil.MaxSatoshi {
		return 0, false
	}
	total += value
	if total > btcutil.MaxSatoshi {
		return 0, false
	}
	return total, true
}

func inputUtxo(packet *psbt.Packet, idx int) *wire.TxOut {
	if idx >= len(packet.Inputs) {
		return nil
	}
	pInput := &packet.Inputs[idx]
	if pInput.WitnessUtxo != nil {
		return pInput.WitnessUtxo
	}
	if pInput.NonWitnessUtxo == nil {
		return nil
	}
	prevIdx := packet.UnsignedTx.TxIn[idx].PreviousOutPoint.Index
	if int(prevIdx) >= len(pInput.NonWitnessUtxo.TxOut) {
		return nil
	}
	return pInput.NonWitnessUtxo.TxOut[prevIdx]
}
