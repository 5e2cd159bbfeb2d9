package compiler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary function layout: a fixed header (name, arity, flags, upvalue
// descriptors, defaults), then {uint16 constCount, constants...},
// {uint32 codeLen, bytes...}, {uint32 linesLen, int32 lines...}.
// Constants are a tag byte plus payload; nested functions encode
// recursively under tagProto. The format is self-consistent but not a
// stable external interface.

const (
	tagNull byte = iota
	tagBool
	tagNumber
	tagString
	tagProto
)

var errCorrupt = errors.New("compiler: corrupt bytecode")

// EncodeProto serializes p (and, recursively, every nested function) to w.
func EncodeProto(w io.Writer, p *Proto) error {
	if err := writeString(w, p.Name); err != nil {
		return err
	}
	if err := writeString(w, p.ModuleName); err != nil {
		return err
	}
	hdr := []any{
		uint8(p.Arity),
		boolByte(p.HasVararg),
		uint8(len(p.Defaults)),
		uint8(len(p.Upvalues)),
		uint16(p.MaxLocals),
	}
	for _, v := range hdr {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	for _, uv := range p.Upvalues {
		if err := binary.Write(w, binary.BigEndian, boolByte(uv.IsLocal)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint8(uv.Index)); err != nil {
			return err
		}
	}
	for _, d := range p.Defaults {
		if err := writeConstant(w, d); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint16(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Code))); err != nil {
		return err
	}
	if _, err := w.Write(p.Code); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Lines))); err != nil {
		return err
	}
	for _, l := range p.Lines {
		if err := binary.Write(w, binary.BigEndian, int32(l)); err != nil {
			return err
		}
	}
	return nil
}

// Encode renders p to a byte slice.
func Encode(p *Proto) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeProto(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeProto reads one function (and its nested functions) from r.
func DecodeProto(r io.Reader) (*Proto, error) {
	p := &Proto{}
	var err error
	if p.Name, err = readString(r); err != nil {
		return nil, err
	}
	if p.ModuleName, err = readString(r); err != nil {
		return nil, err
	}
	var arity, vararg, ndefaults, nupvalues uint8
	var maxLocals uint16
	for _, dst := range []any{&arity, &vararg, &ndefaults, &nupvalues, &maxLocals} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	p.Arity = int(arity)
	p.HasVararg = vararg == 1
	p.MaxLocals = int(maxLocals)
	for i := 0; i < int(nupvalues); i++ {
		var isLocal, index uint8
		if err := binary.Read(r, binary.BigEndian, &isLocal); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &index); err != nil {
			return nil, err
		}
		p.Upvalues = append(p.Upvalues, UpvalueDesc{IsLocal: isLocal == 1, Index: int(index)})
	}
	for i := 0; i < int(ndefaults); i++ {
		d, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		p.Defaults = append(p.Defaults, d)
	}

	var nconsts uint16
	if err := binary.Read(r, binary.BigEndian, &nconsts); err != nil {
		return nil, err
	}
	for i := 0; i < int(nconsts); i++ {
		c, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		p.Constants = append(p.Constants, c)
	}

	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	p.Code = make(Instructions, codeLen)
	if _, err := io.ReadFull(r, p.Code); err != nil {
		return nil, err
	}

	var linesLen uint32
	if err := binary.Read(r, binary.BigEndian, &linesLen); err != nil {
		return nil, err
	}
	if linesLen != codeLen {
		return nil, fmt.Errorf("%w: line table length %d != code length %d", errCorrupt, linesLen, codeLen)
	}
	p.Lines = make([]int, linesLen)
	for i := range p.Lines {
		var l int32
		if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, err
		}
		p.Lines[i] = int(l)
	}
	return p, nil
}

// Decode parses a byte slice produced by Encode.
func Decode(data []byte) (*Proto, error) {
	return DecodeProto(bytes.NewReader(data))
}

func writeConstant(w io.Writer, c any) error {
	switch v := c.(type) {
	case nil:
		return binary.Write(w, binary.BigEndian, tagNull)
	case bool:
		if err := binary.Write(w, binary.BigEndian, tagBool); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, boolByte(v))
	case float64:
		if err := binary.Write(w, binary.BigEndian, tagNumber); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, math.Float64bits(v))
	case string:
		if err := binary.Write(w, binary.BigEndian, tagString); err != nil {
			return err
		}
		return writeString(w, v)
	case *Proto:
		if err := binary.Write(w, binary.BigEndian, tagProto); err != nil {
			return err
		}
		return EncodeProto(w, v)
	}
	return fmt.Errorf("compiler: unencodable constant %T", c)
}

func readConstant(r io.Reader) (any, error) {
	var tag byte
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		var b uint8
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return nil, err
		}
		return b == 1, nil
	case tagNumber:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case tagString:
		return readString(r)
	case tagProto:
		return DecodeProto(r)
	}
	return nil, fmt.Errorf("%w: unknown constant tag %d", errCorrupt, tag)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
