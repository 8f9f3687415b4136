package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/cmmgraph/internal/apperr"
)

func image(name string, input bool, types ...DataType) *Template {
	return &Template{
		Name:        name,
		TypeID:      "image",
		Input:       input,
		DataTypes:   types,
		Channels:    Range{Min: 1, Max: 4},
		Cardinality: Cardinality{Min: 1, Max: Unbounded},
	}
}

func reason(t *testing.T, err error) apperr.ConnectReason {
	t.Helper()
	var ce *apperr.ConnectError
	require.True(t, errors.As(err, &ce), "want ConnectError, got %v", err)
	return ce.Reason
}

func TestCanConnect_Accepts(t *testing.T) {
	var c *Compat
	require.NoError(t, c.CanConnect(image("in", true, Uint8, Float32), image("out", false, Float32), 0))
}

func TestCanConnect_Reasons(t *testing.T) {
	plug := image("in", true, Uint8)
	tests := []struct {
		name   string
		socket *Template
		fanout int
		want   apperr.ConnectReason
	}{
		{"direction", image("out", true, Uint8), 0, apperr.ReasonDirection},
		{"type", &Template{Name: "out", TypeID: "profile", DataTypes: []DataType{Uint8}, Cardinality: Cardinality{Max: Unbounded}}, 0, apperr.ReasonTypeMismatch},
		{"data type", image("out", false, Float64), 0, apperr.ReasonDataTypeMismatch},
		{"channels", &Template{Name: "out", TypeID: "image", DataTypes: []DataType{Uint8}, Channels: Range{Min: 5, Max: 8}, Cardinality: Cardinality{Max: Unbounded}}, 0, apperr.ReasonDataTypeMismatch},
		{"cardinality", &Template{Name: "out", TypeID: "image", DataTypes: []DataType{Uint8}, Cardinality: Cardinality{Max: 1}}, 1, apperr.ReasonCardinalityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCompat().CanConnect(plug, tt.socket, tt.fanout)
			require.ErrorIs(t, err, apperr.ErrIncompatibleConnector)
			require.Equal(t, tt.want, reason(t, err))
		})
	}
}

func TestCompat_Symmetric(t *testing.T) {
	c := NewCompat()
	c.Allow("image", "image.rgb")
	require.True(t, c.Compatible("image.rgb", "image"))

	plug := image("in", true, Uint8)
	socket := image("out", false, Uint8)
	socket.TypeID = "image.rgb"
	require.NoError(t, c.CanConnect(plug, socket, 0))
	require.Error(t, (*Compat)(nil).CanConnect(plug, socket, 0))
}

func TestTemplate_Mandatory(t *testing.T) {
	require.True(t, image("in", true).Mandatory())
	opt := image("in", true)
	opt.Cardinality.Min = 0
	require.False(t, opt.Mandatory())
	require.False(t, image("out", false).Mandatory())
}

func genTemplate(t *rapid.T, label string) *Template {
	types := rapid.SliceOfNDistinct(rapid.IntRange(int(Uint8), int(Float64)), 0, 3, rapid.ID[int]).Draw(t, label+".types")
	tpl := &Template{
		Name:   label,
		TypeID: rapid.SampledFrom([]string{"image", "profile", "image.rgb"}).Draw(t, label+".type"),
		Cardinality: Cardinality{
			Min: rapid.IntRange(0, 1).Draw(t, label+".min"),
			Max: rapid.IntRange(-1, 3).Draw(t, label+".max"),
		},
	}
	for _, d := range types {
		tpl.DataTypes = append(tpl.DataTypes, DataType(d))
	}
	return tpl
}

// Swapping the roles of a rejected plug/socket pair never yields an
// accepted connection.
func TestCanConnect_SwapNeverAccepts(t *testing.T) {
	compat := NewCompat()
	compat.Allow("image", "image.rgb")
	rapid.Check(t, func(t *rapid.T) {
		plug := genTemplate(t, "plug")
		socket := genTemplate(t, "socket")
		plug.Input, socket.Input = true, false
		fanout := rapid.IntRange(0, 4).Draw(t, "fanout")
		if compat.CanConnect(plug, socket, fanout) == nil {
			t.Skip("compatible pair")
		}
		if err := compat.CanConnect(socket, plug, fanout); err == nil {
			t.Fatalf("swapped roles accepted a rejected pair")
		}
	})
}

func TestParseDataType(t *testing.T) {
	d, err := ParseDataType("f32")
	require.NoError(t, err)
	require.Equal(t, Float32, d)
	_, err = ParseDataType("f128")
	require.Error(t, err)
}
