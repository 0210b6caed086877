package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbook/domain/book"
)

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := DecodeOp([]byte(`{"kind":99,"order_id":1}`))
	require.Error(t, err)
	assert.Equal(t, KindFormatMismatch, KindOf(err))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeOp([]byte("not json"))
	require.Error(t, err)
	assert.Equal(t, KindFormatMismatch, KindOf(err))
}

func TestEncodeDecodeKeepsOpIntact(t *testing.T) {
	for _, op := range []WalOp{
		LimitSubmitted(7, book.Sell, -150, 25),
		MarketSubmitted(8, book.Buy, 3),
		Cancelled(7),
	} {
		payload, err := EncodeOp(op)
		require.NoError(t, err)
		decoded, err := DecodeOp(payload)
		require.NoError(t, err)
		assert.Equal(t, op, decoded)
	}
}

func TestKindOfUnwrapsNestedErrors(t *testing.T) {
	err := E(KindCorruptRecord, "replay", E(KindIO, "read", nil))
	assert.Equal(t, KindCorruptRecord, KindOf(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(E(KindNotFound, "load", nil)))
}
