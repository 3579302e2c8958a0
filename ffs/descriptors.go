//go:build linux
// +build linux

package ffs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// FunctionFS blob magics / flags, c.f. linux/usb/functionfs.h
const (
	descriptorsMagicV2 = 3
	stringsMagic       = 2

	hasFSDesc = 1 << 0
	hasHSDesc = 1 << 1
)

// USB descriptor constants, c.f. linux/usb/ch9.h
const (
	dtInterface = 0x04
	dtEndpoint  = 0x05

	classVendorSpec  = 0xff
	xferBulk         = 0x02
	dirIn            = 0x80
	maxBulkPacketHS  = 512
	interfaceStrID   = 1
	englishUS        = 0x0409
	interfaceName    = "sdrgadget"
	interfaceDescLen = 9
	endpointDescLen  = 7
)

// interfaceDescriptor appends a vendor-specific interface descriptor with two
// bulk endpoints
func interfaceDescriptor(buf *bytes.Buffer) {
	buf.Write([]byte{
		interfaceDescLen, dtInterface,
		0, 0, // bInterfaceNumber, bAlternateSetting
		2, // bNumEndpoints
		classVendorSpec,
		0, 0, // bInterfaceSubClass, bInterfaceProtocol
		interfaceStrID,
	})
}

// endpointDescriptor appends a bulk endpoint descriptor (no-audio layout)
func endpointDescriptor(buf *bytes.Buffer, addr byte, maxPacket uint16) {
	buf.Write([]byte{endpointDescLen, dtEndpoint, addr, xferBulk})
	_ = binary.Write(buf, binary.LittleEndian, maxPacket)
	buf.WriteByte(0) // bInterval
}

// descriptorSet appends one full-speed or high-speed descriptor set: the
// interface, the bulk IN sink and the bulk OUT source
func descriptorSet(buf *bytes.Buffer, maxPacket uint16) {
	interfaceDescriptor(buf)
	endpointDescriptor(buf, 1|dirIn, maxPacket)
	endpointDescriptor(buf, 2, maxPacket)
}

// Descriptors builds the v2 FunctionFS descriptor blob (full-speed and
// high-speed variants of the vendor interface with its two bulk endpoints)
func Descriptors() []byte {

	var sets bytes.Buffer
	_ = binary.Write(&sets, binary.LittleEndian, uint32(3)) // fs_count
	_ = binary.Write(&sets, binary.LittleEndian, uint32(3)) // hs_count
	descriptorSet(&sets, 0)
	descriptorSet(&sets, maxBulkPacketHS)

	var blob bytes.Buffer
	_ = binary.Write(&blob, binary.LittleEndian, uint32(descriptorsMagicV2))
	_ = binary.Write(&blob, binary.LittleEndian, uint32(12+sets.Len()))
	_ = binary.Write(&blob, binary.LittleEndian, uint32(hasFSDesc|hasHSDesc))
	blob.Write(sets.Bytes())

	return blob.Bytes()
}

// Strings builds the FunctionFS string blob carrying the interface name in
// US English
func Strings() []byte {

	var lang bytes.Buffer
	_ = binary.Write(&lang, binary.LittleEndian, uint16(englishUS))
	lang.WriteString(interfaceName)
	lang.WriteByte(0)

	var blob bytes.Buffer
	_ = binary.Write(&blob, binary.LittleEndian, uint32(stringsMagic))
	_ = binary.Write(&blob, binary.LittleEndian, uint32(16+lang.Len()))
	_ = binary.Write(&blob, binary.LittleEndian, uint32(1)) // str_count
	_ = binary.Write(&blob, binary.LittleEndian, uint32(1)) // lang_count
	blob.Write(lang.Bytes())

	return blob.Bytes()
}

// WriteDescriptors provides the descriptor and string blobs to the kernel by
// writing them to ep0
func WriteDescriptors(ep0 int) error {

	if _, err := unix.Write(ep0, Descriptors()); err != nil {
		return fmt.Errorf("failed to write descriptors to ep0: %w", err)
	}
	if _, err := unix.Write(ep0, Strings()); err != nil {
		return fmt.Errorf("failed to write strings to ep0: %w", err)
	}

	return nil
}
