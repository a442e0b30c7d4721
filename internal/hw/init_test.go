package hw_test

import (
	"testing"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/hw/sim"
	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_OK(t *testing.T) {
	e := sim.New(sim.Options{Done: 7, Started: 7})

	info, err := hw.Init(e, logging.Discard())

	require.NoError(t, err)
	assert.Equal(t, hw.Version2712C1|1, info.Version)
	assert.Equal(t, uint8(7), info.Done)
	assert.Equal(t, uint8(7), info.Started)
	assert.Equal(t, hw.InterruptAll, e.Reg(hw.RegInterruptEnable))
	assert.Equal(t, uint32(0x32703200), e.Reg(hw.RegAXI))
}

func TestInit_UnknownVersion(t *testing.T) {
	e := sim.New(sim.Options{Version: 0x01000000})

	_, err := hw.Init(e, logging.Discard())

	assert.ErrorIs(t, err, hw.ErrUnknownVersion)
	assert.Zero(t, e.Reg(hw.RegInterruptEnable), "interrupts must stay disabled")
}

func TestInit_StuckBusy(t *testing.T) {
	e := sim.New(sim.Options{StuckBusy: true})

	_, err := hw.Init(e, logging.Discard())

	assert.ErrorIs(t, err, hw.ErrHardwareStuck)
}

func TestInit_CountersDisagree(t *testing.T) {
	e := sim.New(sim.Options{Done: 3, Started: 4})

	_, err := hw.Init(e, logging.Discard())

	assert.ErrorIs(t, err, hw.ErrHardwareStuck)
}

func TestBatchStatusRoundTrip(t *testing.T) {
	done, started := hw.DecodeBatchStatus(hw.EncodeBatchStatus(0xFE, 0x02))

	assert.Equal(t, uint8(0xFE), done)
	assert.Equal(t, uint8(0x02), started)
	assert.Equal(t, uint32(0x0201), hw.EncodeBatchStatus(1, 2))
}

func TestControlWord(t *testing.T) {
	assert.Equal(t, uint32(3+65536*12), hw.ControlWord(12))
	assert.Equal(t, uint32(3), hw.ControlWord(0))
}

func TestAddressRegisterLayout(t *testing.T) {
	assert.Equal(t, uint32(0x40), hw.AddrRegLo(0))
	assert.Equal(t, uint32(0x44), hw.AddrRegHi(0))
	assert.Equal(t, uint32(0x40+8*13), hw.AddrRegLo(hw.AddrHOGOutput))
	assert.Equal(t, uint32(0xb0), hw.RegBayerEnable)
	assert.Equal(t, uint32(0xb4), hw.RegRGBEnable)
}
