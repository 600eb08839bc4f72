package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// Wire format: one packet per datagram.
//
//	interest: 0x01 | u16 name-len | name-uri | u32 lifetime-ms | u64 nonce
//	data:     0x02 | u16 name-len | name-uri | u32 freshness-ms |
//	          u16 content-len | content | u16 sig-len | sig
//	nack:     0x03 | u16 name-len | name-uri | u64 nonce | u16 reason-len | reason
const (
	msgInterest byte = 0x01
	msgData     byte = 0x02
	msgNack     byte = 0x03
)

const maxPacket = 64 << 10

var ErrBadPacket = errors.New("transport: bad packet")

func encodeInterest(i *Interest) []byte {
	var b bytes.Buffer
	b.WriteByte(msgInterest)
	writeString(&b, i.Name.String())
	binary.Write(&b, binary.BigEndian, uint32(i.Lifetime/time.Millisecond))
	binary.Write(&b, binary.BigEndian, i.Nonce)
	return b.Bytes()
}

func encodeData(d *Data) []byte {
	var b bytes.Buffer
	b.WriteByte(msgData)
	writeString(&b, d.Name.String())
	binary.Write(&b, binary.BigEndian, uint32(d.FreshnessPeriod/time.Millisecond))
	writeBytes(&b, d.Content)
	writeBytes(&b, d.Signature)
	return b.Bytes()
}

func encodeNack(n name.Name, nonce uint64, reason string) []byte {
	var b bytes.Buffer
	b.WriteByte(msgNack)
	writeString(&b, n.String())
	binary.Write(&b, binary.BigEndian, nonce)
	writeString(&b, reason)
	return b.Bytes()
}

type packet struct {
	kind     byte
	interest *Interest
	data     *Data
	nonce    uint64 // nack only
	reason   string // nack only
}

func decodePacket(raw []byte) (*packet, error) {
	r := bytes.NewReader(raw)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty", ErrBadPacket)
	}
	uri, err := readString(r)
	if err != nil {
		return nil, err
	}
	n, err := name.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPacket, err)
	}

	switch kind {
	case msgInterest:
		var lifetimeMs uint32
		var nonce uint64
		if err := binary.Read(r, binary.BigEndian, &lifetimeMs); err != nil {
			return nil, fmt.Errorf("%w: interest lifetime", ErrBadPacket)
		}
		if err := binary.Read(r, binary.BigEndian, &nonce); err != nil {
			return nil, fmt.Errorf("%w: interest nonce", ErrBadPacket)
		}
		return &packet{kind: kind, interest: &Interest{
			Name:     n,
			Lifetime: time.Duration(lifetimeMs) * time.Millisecond,
			Nonce:    nonce,
		}}, nil

	case msgData:
		var freshnessMs uint32
		if err := binary.Read(r, binary.BigEndian, &freshnessMs); err != nil {
			return nil, fmt.Errorf("%w: data freshness", ErrBadPacket)
		}
		content, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		sig, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return &packet{kind: kind, data: &Data{
			Name:            n,
			FreshnessPeriod: time.Duration(freshnessMs) * time.Millisecond,
			Content:         content,
			Signature:       sig,
		}}, nil

	case msgNack:
		var nonce uint64
		if err := binary.Read(r, binary.BigEndian, &nonce); err != nil {
			return nil, fmt.Errorf("%w: nack nonce", ErrBadPacket)
		}
		reason, err := readString(r)
		if err != nil {
			return nil, err
		}
		return &packet{kind: kind, interest: &Interest{Name: n, Nonce: nonce}, nonce: nonce, reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: unknown type 0x%02x", ErrBadPacket, kind)
}

func writeString(b *bytes.Buffer, s string) {
	binary.Write(b, binary.BigEndian, uint16(len(s)))
	b.WriteString(s)
}

func writeBytes(b *bytes.Buffer, p []byte) {
	binary.Write(b, binary.BigEndian, uint16(len(p)))
	b.Write(p)
}

func readString(r *bytes.Reader) (string, error) {
	p, err := readBytes(r)
	return string(p), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: length", ErrBadPacket)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, fmt.Errorf("%w: truncated field", ErrBadPacket)
	}
	return p, nil
}
