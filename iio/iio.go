//go:build linux
// +build linux

/*
Package iio provides access to the Linux industrial-I/O streaming subsystem
backing the SDR sample path: device lookup by name, per-channel enable /
disable via the device's scan elements and non-cyclic sample buffers backed
by the device character node. Sample buffers expose their readiness file
descriptor so pipelines can register them with a reactor; refill and push are
blocking operations performed by the owning pipeline thread only.
*/
package iio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (

	// DefaultSysfsDir denotes the default industrial-I/O sysfs location
	DefaultSysfsDir = "/sys/bus/iio/devices"

	// DefaultDevDir denotes the default device node location
	DefaultDevDir = "/dev"
)

// Context denotes a handle to the local industrial-I/O subsystem
type Context struct {
	sysfsDir string
	devDir   string
}

// NewLocalContext instantiates a context for the default local subsystem
// locations
func NewLocalContext() *Context {
	return NewContext(DefaultSysfsDir, DefaultDevDir)
}

// NewContext instantiates a context rooted at the provided sysfs / device
// node directories
func NewContext(sysfsDir, devDir string) *Context {
	return &Context{
		sysfsDir: sysfsDir,
		devDir:   devDir,
	}
}

// FindDevice locates a streaming device by its name attribute
func (c *Context) FindDevice(name string) (*Device, error) {

	entries, err := os.ReadDir(c.sysfsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "iio:device") {
			continue
		}

		devName, err := readAttr(filepath.Join(c.sysfsDir, entry.Name(), "name"))
		if err != nil {
			continue
		}
		if devName == name {
			dev := &Device{
				name:    name,
				sysfs:   filepath.Join(c.sysfsDir, entry.Name()),
				devNode: filepath.Join(c.devDir, entry.Name()),
			}
			if err := dev.scanChannels(); err != nil {
				return nil, err
			}
			return dev, nil
		}
	}

	return nil, fmt.Errorf("no device named %q found", name)
}

// Device denotes a single streaming-capable industrial-I/O device
type Device struct {
	name    string
	sysfs   string
	devNode string

	channels []channel
}

// channel denotes a single scan element of a device
type channel struct {
	name        string
	index       int
	storageBits int
}

// Name returns the device name attribute
func (d *Device) Name() string {
	return d.name
}

// DisableAllChannels disables every scan element of the device
func (d *Device) DisableAllChannels() error {
	for _, ch := range d.channels {
		if err := writeAttr(d.enablePath(ch), "0"); err != nil {
			return fmt.Errorf("failed to disable channel %s: %w", ch.name, err)
		}
	}

	return nil
}

// EnableChannels enables exactly the scan elements whose index is set in the
// provided bitmask
func (d *Device) EnableChannels(mask uint32) error {
	for _, ch := range d.channels {
		if ch.index > 31 || mask&(1<<uint(ch.index)) == 0 {
			continue
		}
		if err := writeAttr(d.enablePath(ch), "1"); err != nil {
			return fmt.Errorf("failed to enable channel %s: %w", ch.name, err)
		}
	}

	return nil
}

// SampleSize returns the byte stride of one sample across all currently
// enabled scan elements
func (d *Device) SampleSize() (int, error) {

	var size int
	for _, ch := range d.channels {
		enabled, err := readAttr(d.enablePath(ch))
		if err != nil {
			return 0, fmt.Errorf("failed to read channel %s state: %w", ch.name, err)
		}
		if enabled == "1" {
			size += ch.storageBits / 8
		}
	}

	return size, nil
}

// CreateBuffer allocates a non-cyclic sample buffer holding the provided
// number of samples by configuring and enabling the device's ring and opening
// its character node
func (d *Device) CreateBuffer(samples uint32) (SampleBuffer, error) {

	step, err := d.SampleSize()
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, fmt.Errorf("cannot create buffer on %s without enabled channels", d.name)
	}

	if err := writeAttr(filepath.Join(d.sysfs, "buffer", "length"), strconv.FormatUint(uint64(samples), 10)); err != nil {
		return nil, fmt.Errorf("failed to set buffer length on %s: %w", d.name, err)
	}
	if err := writeAttr(filepath.Join(d.sysfs, "buffer", "enable"), "1"); err != nil {
		return nil, fmt.Errorf("failed to enable buffer on %s: %w", d.name, err)
	}

	f, err := os.OpenFile(d.devNode, os.O_RDWR, 0)
	if err != nil {
		_ = writeAttr(filepath.Join(d.sysfs, "buffer", "enable"), "0")
		return nil, fmt.Errorf("failed to open device node %s: %w", d.devNode, err)
	}

	return &Buffer{
		fd:   int(f.Fd()),
		file: f,
		data: make([]byte, int(samples)*step),
		disable: func() error {
			return writeAttr(filepath.Join(d.sysfs, "buffer", "enable"), "0")
		},
	}, nil
}

func (d *Device) scanChannels() error {

	scanDir := filepath.Join(d.sysfs, "scan_elements")
	entries, err := os.ReadDir(scanDir)
	if err != nil {
		return fmt.Errorf("failed to enumerate scan elements of %s: %w", d.name, err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), "_en") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), "_en")

		rawIndex, err := readAttr(filepath.Join(scanDir, name+"_index"))
		if err != nil {
			return fmt.Errorf("failed to read index of channel %s: %w", name, err)
		}
		index, err := strconv.Atoi(rawIndex)
		if err != nil {
			return fmt.Errorf("failed to parse index of channel %s: %w", name, err)
		}

		rawType, err := readAttr(filepath.Join(scanDir, name+"_type"))
		if err != nil {
			return fmt.Errorf("failed to read type of channel %s: %w", name, err)
		}
		bits, err := parseStorageBits(rawType)
		if err != nil {
			return fmt.Errorf("failed to parse type of channel %s: %w", name, err)
		}

		d.channels = append(d.channels, channel{
			name:        name,
			index:       index,
			storageBits: bits,
		})
	}

	sort.Slice(d.channels, func(i, j int) bool {
		return d.channels[i].index < d.channels[j].index
	})

	return nil
}

func (d *Device) enablePath(ch channel) string {
	return filepath.Join(d.sysfs, "scan_elements", ch.name+"_en")
}

// parseStorageBits extracts the storage size from a scan element type
// attribute of the form "le:s16/16>>0"
func parseStorageBits(raw string) (int, error) {

	slash := strings.IndexByte(raw, '/')
	if slash < 0 {
		return 0, fmt.Errorf("malformed scan element type %q", raw)
	}
	end := slash + 1
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}

	bits, err := strconv.Atoi(raw[slash+1 : end])
	if err != nil {
		return 0, fmt.Errorf("malformed scan element type %q: %w", raw, err)
	}

	return bits, nil
}

func readAttr(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(raw)), nil
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
