// Package format holds the image formats the back end accepts and the
// plane-factor arithmetic used to place non-interleaved planes inside a
// single allocation.
package format

import (
	"sort"

	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// MaxPlanes is the largest number of image planes any format uses.
const MaxPlanes = 3

// PlaneFactors are fixed point, in eighths of the base plane size.
const factorShift = 3

// Format describes one pixel format.
type Format struct {
	Name   string
	FourCC string
	// MemPlanes is how many separately addressed planes a buffer of this
	// format carries. Planes beyond it are placed by PlaneFactor.
	MemPlanes   int
	PlaneFactor [MaxPlanes]uint32
	// ChromaStrideDiv divides the luma stride for planes 1 and 2.
	ChromaStrideDiv uint32
}

// TotalFactor is the sum of all plane factors, in eighths.
func (f *Format) TotalFactor() uint32 {
	var sum uint32
	for _, pf := range f.PlaneFactor {
		sum += pf
	}
	return sum
}

// ImagePlanes counts planes with a non-zero factor.
func (f *Format) ImagePlanes() int {
	n := 0
	for _, pf := range f.PlaneFactor {
		if pf != 0 {
			n++
		}
	}
	return n
}

var formats = []*Format{
	{Name: "YUV420", FourCC: "YU12", MemPlanes: 1, PlaneFactor: [3]uint32{8, 2, 2}, ChromaStrideDiv: 2},
	{Name: "YVU420", FourCC: "YV12", MemPlanes: 1, PlaneFactor: [3]uint32{8, 2, 2}, ChromaStrideDiv: 2},
	{Name: "NV12", FourCC: "NV12", MemPlanes: 1, PlaneFactor: [3]uint32{8, 4, 0}, ChromaStrideDiv: 1},
	{Name: "NV21", FourCC: "NV21", MemPlanes: 1, PlaneFactor: [3]uint32{8, 4, 0}, ChromaStrideDiv: 1},
	{Name: "YUYV", FourCC: "YUYV", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "UYVY", FourCC: "UYVY", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "YVYU", FourCC: "YVYU", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "VYUY", FourCC: "VYUY", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "YUV422P", FourCC: "422P", MemPlanes: 1, PlaneFactor: [3]uint32{8, 4, 4}, ChromaStrideDiv: 2},
	{Name: "YUV444P", FourCC: "444P", MemPlanes: 1, PlaneFactor: [3]uint32{8, 8, 8}, ChromaStrideDiv: 1},
	{Name: "RGB24", FourCC: "RGB3", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "BGR24", FourCC: "BGR3", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "NV12M", FourCC: "NM12", MemPlanes: 2, PlaneFactor: [3]uint32{8, 4, 0}, ChromaStrideDiv: 1},
	{Name: "NV21M", FourCC: "NM21", MemPlanes: 2, PlaneFactor: [3]uint32{8, 4, 0}, ChromaStrideDiv: 1},
	{Name: "YUV420M", FourCC: "YM12", MemPlanes: 3, PlaneFactor: [3]uint32{8, 2, 2}, ChromaStrideDiv: 2},
	{Name: "YUV422M", FourCC: "YM16", MemPlanes: 3, PlaneFactor: [3]uint32{8, 4, 4}, ChromaStrideDiv: 2},
	{Name: "YUV444M", FourCC: "YM24", MemPlanes: 3, PlaneFactor: [3]uint32{8, 8, 8}, ChromaStrideDiv: 1},
	{Name: "SRGGB16", FourCC: "RG16", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "PISP_COMP1_RGGB", FourCC: "PC1R", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
	{Name: "PISP_COMP1_MONO", FourCC: "PC1M", MemPlanes: 1, PlaneFactor: [3]uint32{8, 0, 0}, ChromaStrideDiv: 1},
}

var byFourCC = func() map[string]*Format {
	m := make(map[string]*Format, len(formats))
	for _, f := range formats {
		m[f.FourCC] = f
	}
	return m
}()

// Lookup finds a format by FourCC.
func Lookup(fourcc string) (*Format, bool) {
	f, ok := byFourCC[fourcc]
	return f, ok
}

// All returns every known format sorted by name.
func All() []*Format {
	out := make([]*Format, len(formats))
	copy(out, formats)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultStride is the tightest luma stride for width pixels: packed
// YUV and 16-bit bayer take two bytes a pixel, packed RGB three.
func DefaultStride(f *Format, width uint32) uint32 {
	switch f.FourCC {
	case "YUYV", "UYVY", "YVYU", "VYUY", "RG16":
		return width * 2
	case "RGB3", "BGR3":
		return width * 3
	}
	return width
}

// PlaneFormat is the negotiated layout of one memory plane.
type PlaneFormat struct {
	BytesPerLine uint32
	SizeImage    uint32
}

// NodeFormat is the format negotiated on one node.
type NodeFormat struct {
	Format *Format
	Width  uint32
	Height uint32
	Planes []PlaneFormat
}

// NewNodeFormat lays out a format at the given size and luma stride.
func NewNodeFormat(f *Format, width, height, bytesPerLine uint32) *NodeFormat {
	nf := &NodeFormat{Format: f, Width: width, Height: height}
	base := uint64(bytesPerLine) * uint64(height)

	if f.MemPlanes <= 1 {
		size := (base * uint64(f.TotalFactor())) >> factorShift
		nf.Planes = []PlaneFormat{{BytesPerLine: bytesPerLine, SizeImage: uint32(size)}}
		return nf
	}

	for p := 0; p < f.MemPlanes && p < MaxPlanes; p++ {
		bpl := bytesPerLine
		if p > 0 && f.ChromaStrideDiv > 0 {
			bpl = bytesPerLine / f.ChromaStrideDiv
		}
		size := (base * uint64(f.PlaneFactor[p])) >> factorShift
		nf.Planes = append(nf.Planes, PlaneFormat{BytesPerLine: bpl, SizeImage: uint32(size)})
	}
	return nf
}

// NumPlanes is the number of memory planes a buffer of this format has.
func (nf *NodeFormat) NumPlanes() int {
	return len(nf.Planes)
}

// BaseSize is the byte size of plane 0 as the hardware sees it: stride
// times height. For a single-buffer planar format this is smaller than
// the allocation.
func (nf *NodeFormat) BaseSize() uint64 {
	if len(nf.Planes) == 0 {
		return 0
	}
	return uint64(nf.Planes[0].BytesPerLine) * uint64(nf.Height)
}

// Addresses3 fills up to three plane addresses for buf. Planes the buffer
// carries come straight from it; further planes with a non-zero factor
// are offset from plane 0 by the cumulative factor of the planes before
// them. It returns the number of memory planes, or 0 when buf or the
// format is missing.
func Addresses3(buf types.Buffer, nf *NodeFormat) ([MaxPlanes]uint64, int) {
	var addr [MaxPlanes]uint64
	if buf == nil || nf == nil || nf.Format == nil {
		return addr, 0
	}

	numPlanes := nf.NumPlanes()
	size := nf.BaseSize()
	var factor uint64

	p := 0
	for ; p < numPlanes && p < MaxPlanes; p++ {
		addr[p] = buf.PlaneAddr(p)
		factor += uint64(nf.Format.PlaneFactor[p])
	}
	for ; p < MaxPlanes && nf.Format.PlaneFactor[p] != 0; p++ {
		addr[p] = addr[0] + ((size * factor) >> factorShift)
		factor += uint64(nf.Format.PlaneFactor[p])
	}
	return addr, numPlanes
}

// Address returns plane 0 of buf, or 0 when there is no buffer.
func Address(buf types.Buffer) uint64 {
	if buf == nil {
		return 0
	}
	return buf.PlaneAddr(0)
}
