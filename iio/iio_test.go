package iio

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	_ Stream       = (*Device)(nil)
	_ Stream       = (*MockStream)(nil)
	_ SampleBuffer = (*Buffer)(nil)
	_ SampleBuffer = (*MockBuffer)(nil)
)

// newFakeSubsystem lays out a minimal sysfs / dev tree mimicking a streaming
// device with four 16-bit channels
func newFakeSubsystem(t *testing.T, name string, devData []byte) *Context {
	t.Helper()

	base := t.TempDir()
	sysfsDir := filepath.Join(base, "sysfs")
	devDir := filepath.Join(base, "dev")

	devSysfs := filepath.Join(sysfsDir, "iio:device0")
	scanDir := filepath.Join(devSysfs, "scan_elements")
	bufDir := filepath.Join(devSysfs, "buffer")
	require.Nil(t, os.MkdirAll(scanDir, 0o755))
	require.Nil(t, os.MkdirAll(bufDir, 0o755))
	require.Nil(t, os.MkdirAll(devDir, 0o755))

	require.Nil(t, os.WriteFile(filepath.Join(devSysfs, "name"), []byte(name+"\n"), 0o644))
	for i := 0; i < 4; i++ {
		ch := "in_voltage" + strconv.Itoa(i)
		require.Nil(t, os.WriteFile(filepath.Join(scanDir, ch+"_en"), []byte("0\n"), 0o644))
		require.Nil(t, os.WriteFile(filepath.Join(scanDir, ch+"_index"), []byte(strconv.Itoa(i)+"\n"), 0o644))
		require.Nil(t, os.WriteFile(filepath.Join(scanDir, ch+"_type"), []byte("le:s16/16>>0\n"), 0o644))
	}
	require.Nil(t, os.WriteFile(filepath.Join(bufDir, "length"), []byte("0\n"), 0o644))
	require.Nil(t, os.WriteFile(filepath.Join(bufDir, "enable"), []byte("0\n"), 0o644))
	require.Nil(t, os.WriteFile(filepath.Join(devDir, "iio:device0"), devData, 0o644))

	return NewContext(sysfsDir, devDir)
}

func readFakeAttr(t *testing.T, ctx *Context, elems ...string) string {
	t.Helper()

	val, err := readAttr(filepath.Join(append([]string{ctx.sysfsDir, "iio:device0"}, elems...)...))
	require.Nil(t, err)
	return val
}

func TestFindDevice(t *testing.T) {

	ctx := newFakeSubsystem(t, "cf-ad9361-lpc", nil)

	dev, err := ctx.FindDevice("cf-ad9361-lpc")
	require.Nil(t, err)
	require.Equal(t, "cf-ad9361-lpc", dev.Name())

	_, err = ctx.FindDevice("cf-ad9361-dds-core-lpc")
	require.ErrorContains(t, err, "no device named")
}

func TestChannelSelection(t *testing.T) {

	ctx := newFakeSubsystem(t, "cf-ad9361-lpc", nil)
	dev, err := ctx.FindDevice("cf-ad9361-lpc")
	require.Nil(t, err)

	require.Nil(t, dev.EnableChannels(0xf))
	require.Nil(t, dev.DisableAllChannels())
	for i := 0; i < 4; i++ {
		require.Equal(t, "0", readFakeAttr(t, ctx, "scan_elements", "in_voltage"+strconv.Itoa(i)+"_en"))
	}

	// Enable channels 0 + 1 only (bits outside the channel range are ignored)
	require.Nil(t, dev.EnableChannels(0x3|0xf0000000))
	require.Equal(t, "1", readFakeAttr(t, ctx, "scan_elements", "in_voltage0_en"))
	require.Equal(t, "1", readFakeAttr(t, ctx, "scan_elements", "in_voltage1_en"))
	require.Equal(t, "0", readFakeAttr(t, ctx, "scan_elements", "in_voltage2_en"))

	// Two 16-bit channels enabled: four bytes per sample
	size, err := dev.SampleSize()
	require.Nil(t, err)
	require.Equal(t, 4, size)
}

func TestCreateBuffer(t *testing.T) {

	// Device node carries exactly one buffer's worth of data (8 samples * 4 bytes)
	devData := make([]byte, 32)
	for i := range devData {
		devData[i] = byte(i)
	}
	ctx := newFakeSubsystem(t, "cf-ad9361-lpc", devData)

	dev, err := ctx.FindDevice("cf-ad9361-lpc")
	require.Nil(t, err)
	require.Nil(t, dev.DisableAllChannels())

	// Without enabled channels buffer creation must fail
	_, err = dev.CreateBuffer(8)
	require.ErrorContains(t, err, "without enabled channels")

	require.Nil(t, dev.EnableChannels(0x3))
	buf, err := dev.CreateBuffer(8)
	require.Nil(t, err)
	require.Equal(t, "8", readFakeAttr(t, ctx, "buffer", "length"))
	require.Equal(t, "1", readFakeAttr(t, ctx, "buffer", "enable"))

	n, err := buf.Refill()
	require.Nil(t, err)
	require.Equal(t, 32, n)
	require.Equal(t, devData, buf.Bytes())

	require.Nil(t, buf.Destroy())
	require.Equal(t, "0", readFakeAttr(t, ctx, "buffer", "enable"))
}

func TestParseStorageBits(t *testing.T) {

	bits, err := parseStorageBits("le:s16/16>>0")
	require.Nil(t, err)
	require.Equal(t, 16, bits)

	bits, err = parseStorageBits("le:s12/32>>4")
	require.Nil(t, err)
	require.Equal(t, 32, bits)

	_, err = parseStorageBits("bogus")
	require.NotNil(t, err)
}

func TestMockStream(t *testing.T) {

	dev := NewMockStream(4)
	require.Nil(t, dev.DisableAllChannels())
	require.Nil(t, dev.EnableChannels(0x3))
	require.True(t, dev.AllDisabled())
	require.Equal(t, uint32(0x3), dev.EnabledMask())

	buf, err := dev.CreateBuffer(4)
	require.Nil(t, err)
	require.Len(t, buf.Bytes(), 16)

	frame := make([]byte, 16)
	frame[0] = 0xaa
	require.Nil(t, dev.Buf.Inject(frame))

	n, err := buf.Refill()
	require.Nil(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, byte(0xaa), buf.Bytes()[0])

	// Default push transfers the full buffer, a configured short push does not
	n, err = buf.Push()
	require.Nil(t, err)
	require.Equal(t, 16, n)

	dev.Buf.SetShortPush(8)
	n, err = buf.Push()
	require.Nil(t, err)
	require.Equal(t, 8, n)
	require.Len(t, dev.Buf.Pushed(), 2)

	require.Nil(t, buf.Destroy())
	require.True(t, dev.Buf.Destroyed())
}
