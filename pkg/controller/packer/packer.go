// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

// Package packer implements the length-prefixed big-endian buffer format
// used for the reservation state file and client-visible listings.
package packer

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when an unpack call runs past the end of the
// buffer.
var ErrTruncated = errors.New("truncated buffer")

const maxStringLen = 1 << 24

type Buffer struct {
	data []byte
	off  int
}

func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, 1024)}
}

func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) Bytes() []byte { return b.data }

// Remaining reports how many unread bytes are left.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// Offset reports the current write position (the packed length) for
// re-packing headers.
func (b *Buffer) Offset() int { return len(b.data) }

func (b *Buffer) Pack16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

func (b *Buffer) Pack32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

func (b *Buffer) Pack64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}

// PackTime packs a timestamp as unix seconds.
func (b *Buffer) PackTime(t time.Time) {
	b.Pack64(uint64(t.Unix()))
}

// PackStr packs a uint32 length followed by the raw bytes.
func (b *Buffer) PackStr(s string) {
	b.Pack32(uint32(len(s)))
	b.data = append(b.data, s...)
}

// Set32At overwrites a previously packed uint32, used to back-fill record
// counts in listing headers.
func (b *Buffer) Set32At(offset int, v uint32) {
	binary.BigEndian.PutUint32(b.data[offset:], v)
}

func (b *Buffer) Unpack16() (uint16, error) {
	if b.Remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(b.data[b.off:])
	b.off += 2
	return v, nil
}

func (b *Buffer) Unpack32() (uint32, error) {
	if b.Remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(b.data[b.off:])
	b.off += 4
	return v, nil
}

func (b *Buffer) Unpack64() (uint64, error) {
	if b.Remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(b.data[b.off:])
	b.off += 8
	return v, nil
}

func (b *Buffer) UnpackTime() (time.Time, error) {
	v, err := b.Unpack64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0), nil
}

func (b *Buffer) UnpackStr() (string, error) {
	n, err := b.Unpack32()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", errors.Wrapf(ErrTruncated, "implausible string length %d", n)
	}
	if b.Remaining() < int(n) {
		return "", ErrTruncated
	}
	s := string(b.data[b.off : b.off+int(n)])
	b.off += int(n)
	return s, nil
}
