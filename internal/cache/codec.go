package cache

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Payload tags. The first byte of every cached value names its encoding so
// entries written with one threshold stay readable under another.
const (
	payloadRaw  byte = 0
	payloadZstd byte = 1
)

// ErrCorruptPayload is returned for values the codec did not write.
var ErrCorruptPayload = errors.New("cache: corrupt payload")

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): map keys are
// sorted and integers take their shortest form, so equal values always
// produce identical bytes. Times keep nanoseconds.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec serializes cached values as CBOR, zstd-compressing bodies at or above
// the threshold.
type Codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec builds a codec. A non-positive threshold disables compression.
func NewCodec(threshold int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

// Encode serializes v.
func (c *Codec) Encode(v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.threshold <= 0 || len(body) < c.threshold {
		return append([]byte{payloadRaw}, body...), nil
	}
	out := make([]byte, 1, len(body)/2+1)
	out[0] = payloadZstd
	return c.encoder.EncodeAll(body, out), nil
}

// Decode parses data produced by Encode into v.
func (c *Codec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrCorruptPayload
	}
	body := data[1:]
	switch data[0] {
	case payloadRaw:
	case payloadZstd:
		var err error
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
	default:
		return fmt.Errorf("%w: unknown tag %d", ErrCorruptPayload, data[0])
	}
	return decMode.Unmarshal(body, v)
}

// Close releases the compressor resources.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
