// ============================================================================
// Job configuration blob
// ============================================================================
//
// Package: internal/jobconfig
// Purpose: Parse and check the per-job configuration carried by the config
// node's buffers.
//
// Blob layout (little endian 32-bit words):
//
//	[0, RegisterWords)        register image of the config window
//	RegisterWords             number of tiles
//	RegisterWords+1 ...       tile descriptors (opaque, read by hardware)
//
// Only a handful of register words are interpreted here. Addresses and
// enables in the register image are never trusted: the scheduler writes
// sanitized values of its own. The words from WordBayerOrder up to WordAXI
// are copied to the hardware verbatim.
//
// ============================================================================

package jobconfig

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// Register image word offsets.
const (
	RegisterWords          = 256
	WordAddresses          = 0  // 14 lo/hi pairs, overwritten by the scheduler
	WordBayerEnables       = 28 // register offset 0x70
	WordRGBEnables         = 29 // register offset 0x74
	WordBayerOrder         = 30 // first word copied verbatim
	WordTDNReset           = 40
	WordTDNOutputFormat    = 48 // stride, height
	WordStitchOutputFormat = 52 // stride, height
	WordOutputFormat       = 56 // 4 words per output: flags, stride, stride2, height
	WordAXI                = 224
)

// NumOutputs is the number of main image output channels.
const NumOutputs = 2

// MaxTiles bounds the tile count of one job.
const MaxTiles = 64

// TileSize is the byte size of one tile descriptor.
const TileSize = 160

// HeaderSize is the number of bytes before the tile table.
const HeaderSize = (RegisterWords + 1) * 4

// BlobSize is the full size of a config buffer payload.
const BlobSize = HeaderSize + MaxTiles*TileSize

// Errors
var (
	// ErrInvalidConfig is the parent of every rejection below.
	ErrInvalidConfig = errors.New("jobconfig: invalid configuration")
	ErrShortBlob     = errors.New("blob too short")
	ErrInputSelect   = errors.New("not exactly one input enabled")
	ErrTileCount     = errors.New("tile count out of range")
	ErrStride        = errors.New("stride mismatch")
	ErrSize          = errors.New("size mismatch")
	ErrNoFormat      = errors.New("no format negotiated")
)

// OutputFormat is the geometry of a single-plane auxiliary output.
type OutputFormat struct {
	Stride uint32
	Height uint32
}

// ImageFormat is the geometry of a main output channel.
type ImageFormat struct {
	Flags   uint32
	Stride  uint32
	Stride2 uint32
	Height  uint32
}

// TilesConfig is one decoded configuration buffer.
type TilesConfig struct {
	Regs     [RegisterWords]uint32
	NumTiles uint32
}

// Decode parses a configuration blob.
func Decode(b []byte) (*TilesConfig, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %w (%d < %d bytes)", ErrInvalidConfig, ErrShortBlob, len(b), HeaderSize)
	}
	c := &TilesConfig{}
	for i := range c.Regs {
		c.Regs[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	c.NumTiles = binary.LittleEndian.Uint32(b[4*RegisterWords:])
	return c, nil
}

// Encode serializes the header part of the configuration.
func (c *TilesConfig) Encode() []byte {
	b := make([]byte, HeaderSize)
	for i, w := range c.Regs {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	binary.LittleEndian.PutUint32(b[4*RegisterWords:], c.NumTiles)
	return b
}

// BayerEnables returns the requested bayer enable mask.
func (c *TilesConfig) BayerEnables() uint32 { return c.Regs[WordBayerEnables] }

// RGBEnables returns the requested rgb enable mask.
func (c *TilesConfig) RGBEnables() uint32 { return c.Regs[WordRGBEnables] }

// SetEnables sets both enable masks.
func (c *TilesConfig) SetEnables(bayer, rgb uint32) {
	c.Regs[WordBayerEnables] = bayer
	c.Regs[WordRGBEnables] = rgb
}

// TDNReset reports whether the temporal denoise history is being reset,
// in which case there is no reference frame to read.
func (c *TilesConfig) TDNReset() bool { return c.Regs[WordTDNReset]&1 != 0 }

// SetTDNReset sets or clears the TDN reset flag.
func (c *TilesConfig) SetTDNReset(reset bool) {
	if reset {
		c.Regs[WordTDNReset] |= 1
	} else {
		c.Regs[WordTDNReset] &^= 1
	}
}

// TDNOutputFormat returns the TDN output geometry.
func (c *TilesConfig) TDNOutputFormat() OutputFormat {
	return OutputFormat{Stride: c.Regs[WordTDNOutputFormat], Height: c.Regs[WordTDNOutputFormat+1]}
}

// SetTDNOutputFormat sets the TDN output geometry.
func (c *TilesConfig) SetTDNOutputFormat(f OutputFormat) {
	c.Regs[WordTDNOutputFormat] = f.Stride
	c.Regs[WordTDNOutputFormat+1] = f.Height
}

// StitchOutputFormat returns the stitch output geometry.
func (c *TilesConfig) StitchOutputFormat() OutputFormat {
	return OutputFormat{Stride: c.Regs[WordStitchOutputFormat], Height: c.Regs[WordStitchOutputFormat+1]}
}

// SetStitchOutputFormat sets the stitch output geometry.
func (c *TilesConfig) SetStitchOutputFormat(f OutputFormat) {
	c.Regs[WordStitchOutputFormat] = f.Stride
	c.Regs[WordStitchOutputFormat+1] = f.Height
}

// OutputFormat returns the geometry of main output channel i.
func (c *TilesConfig) OutputFormat(i int) ImageFormat {
	w := WordOutputFormat + 4*i
	return ImageFormat{Flags: c.Regs[w], Stride: c.Regs[w+1], Stride2: c.Regs[w+2], Height: c.Regs[w+3]}
}

// SetOutputFormat sets the geometry of main output channel i.
func (c *TilesConfig) SetOutputFormat(i int, f ImageFormat) {
	w := WordOutputFormat + 4*i
	c.Regs[w], c.Regs[w+1], c.Regs[w+2], c.Regs[w+3] = f.Flags, f.Stride, f.Stride2, f.Height
}

// Window returns the words copied verbatim to the hardware config window,
// starting at word WordBayerOrder.
func (c *TilesConfig) Window() []uint32 {
	return c.Regs[WordBayerOrder:WordAXI]
}

// FormatLookup gives the format negotiated on a node.
type FormatLookup interface {
	Format(id types.NodeID) *format.NodeFormat
}

// Validate checks a configuration against the node formats before the
// buffer is accepted. A rejected buffer never reaches a ready queue.
func Validate(c *TilesConfig, formats FormatLookup) error {
	bayer := c.BayerEnables()
	rgb := c.RGBEnables()

	if (bayer&BayerEnableInput == 0) == (rgb&RGBEnableInput == 0) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrInputSelect)
	}
	if c.NumTiles == 0 || c.NumTiles > MaxTiles {
		return fmt.Errorf("%w: %w (%d)", ErrInvalidConfig, ErrTileCount, c.NumTiles)
	}

	if bayer&BayerEnableTDNOutput != 0 {
		if err := checkAuxOutput(types.TDNOutput, c.TDNOutputFormat(), formats); err != nil {
			return err
		}
	}
	if bayer&BayerEnableStitchOutput != 0 {
		if err := checkAuxOutput(types.StitchOutput, c.StitchOutputFormat(), formats); err != nil {
			return err
		}
	}

	for j := 0; j < NumOutputs; j++ {
		if rgb&RGBEnableOutput(j) == 0 {
			continue
		}
		out := c.OutputFormat(j)
		if out.Flags&ImageFormatWallpaperRoll != 0 {
			// TODO: size checks for wallpaper-roll outputs need the roll
			// geometry, which the config does not carry yet.
			continue
		}
		node := types.Output0 + types.NodeID(j)
		nf := formats.Format(node)
		if nf == nil {
			return fmt.Errorf("%w: %w on %s", ErrInvalidConfig, ErrNoFormat, node)
		}
		for i, plane := range nf.Planes {
			bpl := out.Stride
			if i > 0 {
				bpl = out.Stride2
			}
			size := uint64(bpl) * uint64(out.Height)
			if out.Flags&ImageFormatSamplingMask == ImageFormatSampling420 {
				size >>= 1
			}
			if plane.BytesPerLine < bpl {
				return fmt.Errorf("%w: %w on %s plane %d (%d < %d)",
					ErrInvalidConfig, ErrStride, node, i, plane.BytesPerLine, bpl)
			}
			if uint64(plane.SizeImage) < size {
				return fmt.Errorf("%w: %w on %s plane %d (%d < %d)",
					ErrInvalidConfig, ErrSize, node, i, plane.SizeImage, size)
			}
		}
	}
	return nil
}

func checkAuxOutput(node types.NodeID, out OutputFormat, formats FormatLookup) error {
	nf := formats.Format(node)
	if nf == nil || len(nf.Planes) == 0 {
		return fmt.Errorf("%w: %w on %s", ErrInvalidConfig, ErrNoFormat, node)
	}
	size := uint64(out.Stride) * uint64(out.Height)
	if nf.Planes[0].BytesPerLine < out.Stride {
		return fmt.Errorf("%w: %w on %s", ErrInvalidConfig, ErrStride, node)
	}
	if uint64(nf.Planes[0].SizeImage) < size {
		return fmt.Errorf("%w: %w on %s", ErrInvalidConfig, ErrSize, node)
	}
	return nil
}
