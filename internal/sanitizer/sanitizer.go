// Package sanitizer turns a job's buffers and its configuration enables
// into the address and enable values that are safe to hand to the
// hardware. Enabling a block whose buffer is missing can lock the engine
// up, so the enables from the config are only ever narrowed here.
package sanitizer

import (
	"github.com/ChuLiYu/isp-scheduler/internal/format"
	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// FormatLookup returns the negotiated format of a node, or nil.
type FormatLookup interface {
	Format(types.NodeID) *format.NodeFormat
}

// Input is everything the sanitizer looks at.
type Input struct {
	Config  *jobconfig.TilesConfig
	Buffers [types.NumNodes]types.Buffer
	Formats FormatLookup
}

// Result is what gets written to the address and enable registers.
type Result struct {
	Addrs   [hw.NumAddresses]uint64
	Enables [hw.NumEnables]uint32

	// MissingInput is set when the main input had no addressable plane.
	MissingInput bool
}

// Bayer returns the sanitized bayer enable mask.
func (r Result) Bayer() uint32 { return r.Enables[0] }

// RGB returns the sanitized rgb enable mask.
func (r Result) RGB() uint32 { return r.Enables[1] }

// HasInput reports whether either mask still carries the input bit.
// Both pipes use bit 0 for it.
func (r Result) HasInput() bool {
	return (r.Enables[0]|r.Enables[1])&jobconfig.BayerEnableInput != 0
}

func (in Input) format(n types.NodeID) *format.NodeFormat {
	if in.Formats == nil {
		return nil
	}
	return in.Formats.Format(n)
}

// Sanitize computes the hardware addresses and enables for a job.
func Sanitize(in Input) Result {
	var res Result
	bayer := in.Config.BayerEnables()
	rgb := in.Config.RGBEnables()

	main, n := format.Addresses3(in.Buffers[types.MainInput], in.format(types.MainInput))
	if n <= 0 {
		res.MissingInput = true
		return res
	}
	copy(res.Addrs[hw.AddrMainInput:], main[:])

	if bayer&jobconfig.BayerEnableInput != 0 {
		bayer = sanitizeAuxiliary(&res, bayer, in)
	} else {
		bayer = 0
	}

	for i := 0; i < jobconfig.NumOutputs; i++ {
		node := types.Output0 + types.NodeID(i)
		addrs, n := format.Addresses3(in.Buffers[node], in.format(node))
		copy(res.Addrs[hw.AddrOutput0+3*i:], addrs[:])
		if n <= 0 {
			rgb &^= jobconfig.RGBEnableOutput(i)
		}
	}

	res.Addrs[hw.AddrHOGOutput] = format.Address(in.Buffers[types.HOGOutput])
	if res.Addrs[hw.AddrHOGOutput] == 0 {
		rgb &^= jobconfig.RGBEnableHOG
	}

	res.Enables[0] = bayer
	res.Enables[1] = rgb
	return res
}

// sanitizeAuxiliary handles the single plane TDN and stitch nodes, which
// only exist on the bayer pipe.
func sanitizeAuxiliary(res *Result, bayer uint32, in Input) uint32 {
	reset := in.Config.TDNReset()

	res.Addrs[hw.AddrTDNInput] = format.Address(in.Buffers[types.TDNInput])
	if res.Addrs[hw.AddrTDNInput] == 0 ||
		bayer&jobconfig.BayerEnableTDNInput == 0 ||
		bayer&jobconfig.BayerEnableTDN == 0 ||
		reset {
		bayer &^= jobconfig.BayerEnableTDNInput | jobconfig.BayerEnableTDNDecompress
		// A reset runs TDN without reading the previous frame.
		if !reset {
			bayer &^= jobconfig.BayerEnableTDN
		}
	}

	res.Addrs[hw.AddrStitchInput] = format.Address(in.Buffers[types.StitchInput])
	if res.Addrs[hw.AddrStitchInput] == 0 ||
		bayer&jobconfig.BayerEnableStitchInput == 0 ||
		bayer&jobconfig.BayerEnableStitch == 0 {
		bayer &^= jobconfig.BayerEnableStitchInput | jobconfig.BayerEnableStitchDecompress |
			jobconfig.BayerEnableStitch
	}

	res.Addrs[hw.AddrTDNOutput] = format.Address(in.Buffers[types.TDNOutput])
	if res.Addrs[hw.AddrTDNOutput] == 0 {
		bayer &^= jobconfig.BayerEnableTDNCompress | jobconfig.BayerEnableTDNOutput
	}

	res.Addrs[hw.AddrStitchOutput] = format.Address(in.Buffers[types.StitchOutput])
	if res.Addrs[hw.AddrStitchOutput] == 0 {
		bayer &^= jobconfig.BayerEnableStitchCompress | jobconfig.BayerEnableStitchOutput
	}
	return bayer
}
