package domain

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Vector stores a float32 embedding as a packed little-endian blob so the
// raw biometric never round-trips through JSON columns.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return []byte{}, nil
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out, nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("vector: cannot scan %T", src)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("vector: blob length %d not a multiple of 4", len(raw))
	}
	out := make(Vector, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	*v = out
	return nil
}

// Clone returns a copy so snapshot reads from the store cannot
// be mutated by callers.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
