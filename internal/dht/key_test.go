package dht

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	keys := []Key{
		NewStringKey("alpha"),
		NewStringKey(""),
		NewNodeIDKey(42),
		NewShardIDKey(7),
		NewU64Key(1 << 40),
		NewUnitKey(),
	}
	for _, k := range keys {
		e := NewEncoder()
		EncodeKey(e, k)
		d := NewDecoder(e.Bytes())
		got, err := DecodeKey(d)
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
}

func TestKeyCanonicalBytesLittleEndian(t *testing.T) {
	k := NewU64Key(1)
	require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, k.CanonicalBytes())
}

func TestKeyUnitCanonicalBytesEmpty(t *testing.T) {
	require.Empty(t, NewUnitKey().CanonicalBytes())
}

func TestKeyVariantsSharingCanonicalBytesRouteIdentically(t *testing.T) {
	a := NewNodeIDKey(9)
	b := NewShardIDKey(9)
	require.Equal(t, a.CanonicalBytes(), b.CanonicalBytes())
	require.True(t, a.Equal(b))
}

func TestDecodeKeyUnknownKindIsDecodeError(t *testing.T) {
	e := NewEncoder()
	e.WriteByte(255)
	d := NewDecoder(e.Bytes())
	_, err := DecodeKey(d)
	require.Error(t, err)
}
