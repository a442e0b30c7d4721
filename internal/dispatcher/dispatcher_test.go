package dispatcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/jobconfig"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
)

type write struct {
	offset uint32
	val    uint32
}

// recordingRegs is a plain register file that remembers write order.
type recordingRegs struct {
	regs   map[uint32]uint32
	writes []write
}

func newRecordingRegs() *recordingRegs {
	return &recordingRegs{regs: make(map[uint32]uint32)}
}

func (r *recordingRegs) Read(offset uint32) uint32 { return r.regs[offset] }

func (r *recordingRegs) Write(offset uint32, val uint32) {
	r.regs[offset] = val
	r.writes = append(r.writes, write{offset, val})
}

func (r *recordingRegs) indexOf(offset uint32) int {
	for i, w := range r.writes {
		if w.offset == offset {
			return i
		}
	}
	return -1
}

func testProgram() Program {
	cfg := &jobconfig.TilesConfig{NumTiles: 5}
	cfg.Regs[jobconfig.WordBayerOrder] = 0xabc
	cfg.Regs[jobconfig.WordAXI-1] = 0xdef
	cfg.Regs[jobconfig.WordAXI] = 0x999

	p := Program{
		JobID:     "job-1",
		Config:    cfg,
		TilesAddr: 0x1_2345_6000,
		NumTiles:  5,
		Enables:   [hw.NumEnables]uint32{0x1, 0x10001},
	}
	for i := range p.Addrs {
		p.Addrs[i] = 0x2_0000_0000 + uint64(i)*0x1000
	}
	return p
}

func TestDispatch_WriteOrder(t *testing.T) {
	regs := newRecordingRegs()
	d := New(regs, logging.Discard())
	p := testProgram()

	require.NoError(t, d.Dispatch(p))

	for i, addr := range p.Addrs {
		assert.Equal(t, uint32(addr), regs.regs[hw.AddrRegLo(i)])
		assert.Equal(t, uint32(addr>>32), regs.regs[hw.AddrRegHi(i)])
	}
	assert.Equal(t, uint32(0x1), regs.regs[hw.RegBayerEnable])
	assert.Equal(t, uint32(0x10001), regs.regs[hw.RegRGBEnable])
	assert.Equal(t, uint32(0xabc), regs.regs[hw.RegConfigBase+4*jobconfig.WordBayerOrder])
	assert.Equal(t, uint32(0xdef), regs.regs[hw.RegConfigBase+4*(jobconfig.WordAXI-1)])
	_, wroteAXIWord := regs.regs[hw.RegConfigBase+4*jobconfig.WordAXI]
	assert.False(t, wroteAXIWord, "window stops before the AXI word")

	assert.Equal(t, uint32(0x2345_6000), regs.regs[hw.RegTileAddrLo])
	assert.Equal(t, uint32(0x1), regs.regs[hw.RegTileAddrHi])
	assert.Equal(t, hw.ControlWord(5), regs.regs[hw.RegControl])

	// Addresses, then enables, then the window, then tiles, then go.
	assert.Less(t, regs.indexOf(hw.AddrRegHi(hw.NumAddresses-1)), regs.indexOf(hw.RegBayerEnable))
	assert.Less(t, regs.indexOf(hw.RegRGBEnable), regs.indexOf(hw.RegConfigBase+4*jobconfig.WordBayerOrder))
	assert.Less(t, regs.indexOf(hw.RegConfigBase+4*(jobconfig.WordAXI-1)), regs.indexOf(hw.RegTileAddrLo))
	assert.Equal(t, len(regs.writes)-1, regs.indexOf(hw.RegControl))
}

func TestDispatch_BusyStillDispatches(t *testing.T) {
	regs := newRecordingRegs()
	regs.regs[hw.RegStatus] = hw.StatusBusy
	d := New(regs, logging.Discard())

	require.NoError(t, d.Dispatch(testProgram()))
	assert.Equal(t, hw.ControlWord(5), regs.regs[hw.RegControl])
}

func TestDispatch_ReadbackFailure(t *testing.T) {
	e := sim.New(sim.Options{})
	e.FaultAddress(hw.AddrOutput0, 0xdead_0000)
	d := New(e, logging.Discard())

	err := d.Dispatch(testProgram())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAddressReadback)
	var rb *ReadbackError
	require.True(t, errors.As(err, &rb))
	assert.Equal(t, hw.AddrOutput0, rb.Slot)
	assert.Equal(t, uint64(0xdead_0000), rb.Got)
	assert.Equal(t, testProgram().Addrs[hw.AddrOutput0], rb.Want)

	assert.Empty(t, e.History(), "go command must not be issued")
	assert.Zero(t, e.Reg(hw.RegTileAddrLo))
	assert.Zero(t, e.Reg(hw.RegControl))
}

func TestDispatch_StartsSimulatedJob(t *testing.T) {
	e := sim.New(sim.Options{})
	d := New(e, logging.Discard())
	p := testProgram()

	require.NoError(t, d.Dispatch(p))

	running := e.Running()
	require.NotNil(t, running)
	assert.Equal(t, p.Addrs, running.Addrs)
	assert.Equal(t, p.Enables, running.Enables)
	assert.Equal(t, p.TilesAddr, running.TilesAddr)
	assert.Equal(t, uint32(5), running.Tiles)
}

func TestDispatch_NoConfigWindow(t *testing.T) {
	regs := newRecordingRegs()
	d := New(regs, logging.Discard())
	p := testProgram()
	p.Config = nil

	require.NoError(t, d.Dispatch(p))
	_, ok := regs.regs[hw.RegConfigBase+4*jobconfig.WordBayerOrder]
	assert.False(t, ok)
}
