package persist

import (
	"encoding/json"
	"fmt"
)

// EncodeOp renders a WAL op as its JSON wire payload.
func EncodeOp(op WalOp) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, E(KindSerialization, "encode op", err)
	}
	return data, nil
}

// DecodeOp parses a WAL op payload read back from the store.
func DecodeOp(data []byte) (WalOp, error) {
	var op WalOp
	if err := json.Unmarshal(data, &op); err != nil {
		return WalOp{}, E(KindFormatMismatch, "decode op", err)
	}
	if op.Kind < OpLimitOrderSubmitted || op.Kind > OpOrderCancelled {
		return WalOp{}, E(KindFormatMismatch, "decode op", fmt.Errorf("unknown op kind %d", op.Kind))
	}
	return op, nil
}
