package t38

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

func TestFCFName(t *testing.T) {
	tests := []struct {
		fcf  byte
		want string
		ok   bool
	}{
		{0x01, "DIS", true},
		{0x81, "DTC", true},
		{0xc1, "DCS", true}, // X bit set
		{0xdf, "DCN", true},
		{0x74, "EOP", true},
		{0x00, "", false},
	}
	for _, tt := range tests {
		name, ok := FCFName(tt.fcf)
		assert.Equal(t, tt.want, name, "fcf 0x%02x", tt.fcf)
		assert.Equal(t, tt.ok, ok, "fcf 0x%02x", tt.fcf)
	}
}

func TestDecodeT30(t *testing.T) {
	t.Run("DIS", func(t *testing.T) {
		res := DecodeT30([]byte{0xff, 0x13, 0x01, 0x00, 0x46, 0xc0})
		assert.Equal(t, dissect.StatusComplete, res.Status)
		assert.Empty(t, res.Diagnostics)
		assert.Equal(t, "DIS", res.Summary)
		assert.Equal(t, []byte{0x00, 0x46, 0xc0}, res.Root.Child("fif").Bytes)
		assert.Nil(t, res.Root.Find("fif", "number"))
	})

	t.Run("not final", func(t *testing.T) {
		res := DecodeT30([]byte{0xff, 0x03, 0x5f})
		assert.False(t, res.Root.Find("control", "final").Bool)
		assert.Nil(t, res.Root.Child("fif"))
		assert.Equal(t, "DCN", res.Summary)
	})

	t.Run("bad address is a warning", func(t *testing.T) {
		res := DecodeT30([]byte{0x0f, 0x03, 0x21})
		assert.Equal(t, dissect.StatusComplete, res.Status)
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diag.Warning, res.Diagnostics[0].Severity)
	})

	t.Run("unknown FCF", func(t *testing.T) {
		res := DecodeT30([]byte{0xff, 0x03, 0x00})
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
		assert.Equal(t, "unknown FCF 0x00", res.Summary)
	})

	t.Run("truncated", func(t *testing.T) {
		res := DecodeT30([]byte{0xff})
		assert.Equal(t, dissect.StatusAborted, res.Status)
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diag.Truncated, res.Diagnostics[0].Kind)
	})
}
