package jobconfig

// Bayer pipe enable bits (global bayer enable register).
const (
	BayerEnableInput            uint32 = 1 << 0
	BayerEnableDecompress       uint32 = 1 << 1
	BayerEnableDPC              uint32 = 1 << 2
	BayerEnableGEQ              uint32 = 1 << 3
	BayerEnableTDNInput         uint32 = 1 << 4
	BayerEnableTDNDecompress    uint32 = 1 << 5
	BayerEnableTDN              uint32 = 1 << 6
	BayerEnableTDNCompress      uint32 = 1 << 7
	BayerEnableTDNOutput        uint32 = 1 << 8
	BayerEnableSDN              uint32 = 1 << 9
	BayerEnableBLC              uint32 = 1 << 10
	BayerEnableStitchInput      uint32 = 1 << 11
	BayerEnableStitchDecompress uint32 = 1 << 12
	BayerEnableStitch           uint32 = 1 << 13
	BayerEnableStitchCompress   uint32 = 1 << 14
	BayerEnableStitchOutput     uint32 = 1 << 15
	BayerEnableWBG              uint32 = 1 << 16
	BayerEnableCDN              uint32 = 1 << 17
	BayerEnableLSC              uint32 = 1 << 18
	BayerEnableTonemap          uint32 = 1 << 19
	BayerEnableCAC              uint32 = 1 << 20
	BayerEnableDebin            uint32 = 1 << 21
	BayerEnableDemosaic         uint32 = 1 << 22
)

// BayerAuxiliary is every TDN and stitch bit.
const BayerAuxiliary = BayerEnableTDNInput | BayerEnableTDNDecompress | BayerEnableTDN |
	BayerEnableTDNCompress | BayerEnableTDNOutput |
	BayerEnableStitchInput | BayerEnableStitchDecompress | BayerEnableStitch |
	BayerEnableStitchCompress | BayerEnableStitchOutput

// RGB pipe enable bits (global rgb enable register).
const (
	RGBEnableInput        uint32 = 1 << 0
	RGBEnableCCM          uint32 = 1 << 1
	RGBEnableSatControl   uint32 = 1 << 2
	RGBEnableYCbCr        uint32 = 1 << 3
	RGBEnableFalseColour  uint32 = 1 << 4
	RGBEnableSharpen      uint32 = 1 << 5
	RGBEnableYCbCrInverse uint32 = 1 << 7
	RGBEnableGamma        uint32 = 1 << 8
	RGBEnableCSC0         uint32 = 1 << 9
	RGBEnableCSC1         uint32 = 1 << 10
	RGBEnableDownscale0   uint32 = 1 << 12
	RGBEnableDownscale1   uint32 = 1 << 13
	RGBEnableResample0    uint32 = 1 << 14
	RGBEnableResample1    uint32 = 1 << 15
	RGBEnableOutput0      uint32 = 1 << 16
	RGBEnableOutput1      uint32 = 1 << 17
	RGBEnableHOG          uint32 = 1 << 21
)

// RGBEnableOutput returns the enable bit of main output channel i.
func RGBEnableOutput(i int) uint32 {
	return RGBEnableOutput0 << uint(i)
}

// Image format flag bits carried in an output format word.
const (
	ImageFormatSampling422   uint32 = 0x100
	ImageFormatSampling420   uint32 = 0x200
	ImageFormatSamplingMask  uint32 = 0x300
	ImageFormatWallpaperRoll uint32 = 0x10000
)
