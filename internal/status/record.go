// Package status defines the fixed 8-byte light status record exchanged with the cloud.
package status

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Frame layout constants. The record is serialized verbatim in field order.
const (
	Header  byte = 0xaa
	Trailer byte = 0x55
	// PayloadLen is the value carried in the length byte (everything after it).
	PayloadLen byte = 0x07
	// Size is the encoded record size in bytes.
	Size = 8
)

// ErrMalformed is returned when a frame fails the size or sentinel checks.
var ErrMalformed = errors.New("malformed status record")

// Record is the light state as it travels on the wire.
type Record struct {
	Header     byte
	Length     byte
	Power      byte
	WorkMode   byte
	ColorTemp  byte
	Brightness byte
	Delay      byte
	Trailer    byte
}

// Default returns the record a freshly booted light reports.
func Default() Record {
	return Record{
		Header:     Header,
		Length:     PayloadLen,
		Power:      0x01,
		WorkMode:   0x30,
		ColorTemp:  0x50,
		Brightness: 0x00,
		Delay:      0x01,
		Trailer:    Trailer,
	}
}

// Valid reports whether both sentinel bytes are in place.
func (r Record) Valid() bool {
	return r.Header == Header && r.Trailer == Trailer
}

// Bytes returns the wire encoding of the record.
func (r Record) Bytes() []byte {
	return []byte{
		r.Header,
		r.Length,
		r.Power,
		r.WorkMode,
		r.ColorTemp,
		r.Brightness,
		r.Delay,
		r.Trailer,
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// r is left untouched when data is malformed.
func (r *Record) UnmarshalBinary(data []byte) error {
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Decode parses a frame. Only the size and the two sentinels are checked.
func Decode(b []byte) (Record, error) {
	if len(b) != Size {
		return Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(b), Size)
	}

	rec := Record{
		Header:     b[0],
		Length:     b[1],
		Power:      b[2],
		WorkMode:   b[3],
		ColorTemp:  b[4],
		Brightness: b[5],
		Delay:      b[6],
		Trailer:    b[7],
	}
	if !rec.Valid() {
		return Record{}, fmt.Errorf("%w: header=0x%02x trailer=0x%02x", ErrMalformed, rec.Header, rec.Trailer)
	}
	return rec, nil
}

// MarshalZerologObject logs the light fields of the record.
func (r Record) MarshalZerologObject(e *zerolog.Event) {
	e.Uint8("power", r.Power).
		Uint8("temp_value", r.ColorTemp).
		Uint8("light_value", r.Brightness).
		Uint8("time_delay", r.Delay).
		Uint8("work_mode", r.WorkMode)
}
