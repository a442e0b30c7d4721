package jobconfig

import (
	"testing"

	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type formatMap map[types.NodeID]*format.NodeFormat

func (m formatMap) Format(id types.NodeID) *format.NodeFormat { return m[id] }

func testFormats() formatMap {
	yuv, _ := format.Lookup("YU12")
	raw, _ := format.Lookup("RG16")
	return formatMap{
		types.MainInput:    format.NewNodeFormat(raw, 1920, 1080, 3840),
		types.Output0:      format.NewNodeFormat(yuv, 1920, 1080, 1920),
		types.Output1:      format.NewNodeFormat(yuv, 640, 480, 640),
		types.TDNOutput:    format.NewNodeFormat(raw, 1920, 1080, 3840),
		types.StitchOutput: format.NewNodeFormat(raw, 1920, 1080, 3840),
	}
}

func validConfig() *TilesConfig {
	c := &TilesConfig{NumTiles: 8}
	c.SetEnables(BayerEnableInput|BayerEnableTDNOutput, RGBEnableOutput0)
	c.SetTDNOutputFormat(OutputFormat{Stride: 3840, Height: 1080})
	c.SetOutputFormat(0, ImageFormat{Flags: ImageFormatSampling420, Stride: 1920, Stride2: 960, Height: 1080})
	return c
}

func TestDecodeEncode(t *testing.T) {
	c := validConfig()
	c.SetTDNReset(true)
	c.Regs[WordBayerOrder] = 0xAB

	got, err := Decode(c.Encode())

	require.NoError(t, err)
	assert.Equal(t, c.Regs, got.Regs)
	assert.Equal(t, uint32(8), got.NumTiles)
	assert.True(t, got.TDNReset())
	assert.Equal(t, uint32(0xAB), got.Window()[0])
	assert.Len(t, got.Window(), WordAXI-WordBayerOrder)
}

func TestDecode_ShortBlob(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrShortBlob)
}

func TestTDNResetToggle(t *testing.T) {
	c := &TilesConfig{}
	c.SetTDNReset(true)
	assert.True(t, c.TDNReset())
	c.SetTDNReset(false)
	assert.False(t, c.TDNReset())
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(validConfig(), testFormats()))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *TilesConfig)
		want   error
	}{
		{
			name:   "both inputs",
			mutate: func(c *TilesConfig) { c.SetEnables(c.BayerEnables(), c.RGBEnables()|RGBEnableInput) },
			want:   ErrInputSelect,
		},
		{
			name:   "no input",
			mutate: func(c *TilesConfig) { c.SetEnables(c.BayerEnables()&^BayerEnableInput, c.RGBEnables()) },
			want:   ErrInputSelect,
		},
		{
			name:   "zero tiles",
			mutate: func(c *TilesConfig) { c.NumTiles = 0 },
			want:   ErrTileCount,
		},
		{
			name:   "too many tiles",
			mutate: func(c *TilesConfig) { c.NumTiles = MaxTiles + 1 },
			want:   ErrTileCount,
		},
		{
			name:   "tdn stride",
			mutate: func(c *TilesConfig) { c.SetTDNOutputFormat(OutputFormat{Stride: 4096, Height: 1080}) },
			want:   ErrStride,
		},
		{
			name:   "tdn size",
			mutate: func(c *TilesConfig) { c.SetTDNOutputFormat(OutputFormat{Stride: 3840, Height: 2000}) },
			want:   ErrSize,
		},
		{
			// 3840 * 1118482 wraps to 3584 in 32 bits.
			name:   "tdn size overflow",
			mutate: func(c *TilesConfig) { c.SetTDNOutputFormat(OutputFormat{Stride: 3840, Height: 1118482}) },
			want:   ErrSize,
		},
		{
			name: "output stride",
			mutate: func(c *TilesConfig) {
				c.SetOutputFormat(0, ImageFormat{Stride: 2048, Height: 1080})
			},
			want: ErrStride,
		},
		{
			name: "output size",
			mutate: func(c *TilesConfig) {
				c.SetOutputFormat(0, ImageFormat{Stride: 1920, Height: 2160})
			},
			want: ErrSize,
		},
		{
			// 1920 * 2236963 wraps to 1664 in 32 bits.
			name: "output size overflow",
			mutate: func(c *TilesConfig) {
				c.SetOutputFormat(0, ImageFormat{Stride: 1920, Height: 2236963})
			},
			want: ErrSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := Validate(c, testFormats())

			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidate_WallpaperSkipsSizeChecks(t *testing.T) {
	c := validConfig()
	c.SetOutputFormat(0, ImageFormat{Flags: ImageFormatWallpaperRoll, Stride: 99999, Height: 99999})

	assert.NoError(t, Validate(c, testFormats()))
}

func TestValidate_MissingFormat(t *testing.T) {
	c := validConfig()
	c.SetEnables(BayerEnableInput|BayerEnableStitchOutput, RGBEnableOutput0)
	formats := testFormats()
	delete(formats, types.StitchOutput)

	err := Validate(c, formats)

	assert.ErrorIs(t, err, ErrNoFormat)
}

func TestRGBEnableOutput(t *testing.T) {
	assert.Equal(t, RGBEnableOutput0, RGBEnableOutput(0))
	assert.Equal(t, RGBEnableOutput1, RGBEnableOutput(1))
}
