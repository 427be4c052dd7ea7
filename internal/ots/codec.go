package ots

import (
	"bytes"
	"io"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// headerMagic is the fixed magic preamble of every detached OTS file,
// grounded in the teacher's anchors package constants. Encode follows it
// with a one-byte version and a one-byte digest algorithm tag.
var headerMagic = []byte("\x00OpenTimestamps\x00\x00Proof\x00\xbf\x89\xe2\xe8\x84\xe8\x92\x94")

const (
	version      = 0x01
	digestSHA256 = 0x08
)

// Node tag bytes. A fork is an explicit tree node distinct from an op
// chaining into a single child; an attestation always terminates its
// branch.
const (
	tagOpAppend      = 0x01
	tagOpPrepend     = 0x02
	tagOpSHA256      = 0x03
	tagOpRipemd160   = 0x04
	tagOpUnknown     = 0x05
	tagFork          = 0x06
	tagAttestation   = 0x00
	attestPending    = 0x01
	attestBitcoin    = 0x02
	attestUnknown    = 0x03
)

const maxDecodeSize = 10 * 1024 * 1024

// Encode serializes ts into the detached OTS byte format described in the
// codec design: magic header, version, digest algorithm, start digest,
// then the recursive step tree.
func Encode(ts *Timestamp) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(headerMagic)
	buf.WriteByte(version)
	buf.WriteByte(digestSHA256)
	if len(ts.StartDigest) != 32 {
		return nil, errs.New(errs.Malformed, "start digest must be 32 bytes")
	}
	buf.Write(ts.StartDigest)
	if err := encodeStep(&buf, ts.FirstStep); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeStepTree serializes just a step subtree (no file header or start
// digest), the wire format calendar servers exchange.
func EncodeStepTree(s *Step) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeStep(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeStepTree parses a bare step subtree rooted at input (the
// commitment the subtree was fetched for).
func DecodeStepTree(data, input []byte) (*Step, error) {
	step, _, err := decodeStep(bytes.NewReader(data), input)
	return step, err
}

func encodeStep(w *bytes.Buffer, s *Step) error {
	if s == nil {
		return errs.New(errs.Malformed, "nil step")
	}
	switch s.Kind {
	case KindAttestation:
		w.WriteByte(tagAttestation)
		switch s.Attestation {
		case AttestationPending:
			w.WriteByte(attestPending)
			writeVarBytes(w, []byte(s.PendingURI))
		case AttestationBitcoin:
			w.WriteByte(attestBitcoin)
			writeVarInt(w, s.BitcoinHeight)
		case AttestationUnknown:
			w.WriteByte(attestUnknown)
			writeVarBytes(w, s.UnknownTag)
			writeVarBytes(w, s.UnknownPayload)
		default:
			return errs.New(errs.Malformed, "unknown attestation kind")
		}
		return nil
	case KindFork:
		w.WriteByte(tagFork)
		writeVarInt(w, uint64(len(s.Next)))
		for _, child := range s.Next {
			var childBuf bytes.Buffer
			if err := encodeStep(&childBuf, child); err != nil {
				return err
			}
			writeVarBytes(w, childBuf.Bytes())
		}
		return nil
	case KindOp:
		switch s.Op {
		case OpAppend:
			w.WriteByte(tagOpAppend)
			writeVarBytes(w, s.Operand)
		case OpPrepend:
			w.WriteByte(tagOpPrepend)
			writeVarBytes(w, s.Operand)
		case OpSHA256:
			w.WriteByte(tagOpSHA256)
		case OpRipemd160:
			w.WriteByte(tagOpRipemd160)
		case OpUnknown:
			w.WriteByte(tagOpUnknown)
			w.WriteByte(s.UnknownOp)
			writeVarBytes(w, s.Operand)
		default:
			return errs.New(errs.Malformed, "unknown op kind")
		}
		if len(s.Next) != 1 {
			return errs.New(errs.Malformed, "op step must chain into exactly one child")
		}
		return encodeStep(w, s.Next[0])
	default:
		return errs.New(errs.Malformed, "unknown step kind")
	}
}

// Decode parses a detached OTS byte stream produced by Encode.
func Decode(data []byte) (*Timestamp, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(headerMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, headerMagic) {
		return nil, errs.New(errs.Malformed, "bad OTS magic header")
	}
	verByte, err := r.ReadByte()
	if err != nil || verByte != version {
		return nil, errs.New(errs.Malformed, "unsupported OTS version")
	}
	algByte, err := r.ReadByte()
	if err != nil || algByte != digestSHA256 {
		return nil, errs.New(errs.Malformed, "unsupported digest algorithm")
	}
	digest := make([]byte, 32)
	if _, err := io.ReadFull(r, digest); err != nil {
		return nil, errs.New(errs.Malformed, "truncated start digest")
	}

	root, output, err := decodeStep(r, digest)
	if err != nil {
		return nil, err
	}
	root.Output = output
	return &Timestamp{StartDigest: digest, FirstStep: root}, nil
}

// decodeStep parses one node and returns it along with the output it
// produces given input. Op outputs are computed deterministically from
// input; Fork and Attestation steps inherit input as their output (a fork
// doesn't transform the value, and an attestation step's output is fixed
// by whatever the parent produced and passed down through applyOp).
func decodeStep(r *bytes.Reader, input []byte) (*Step, []byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Malformed, "truncated step tag", err)
	}

	switch tag {
	case tagAttestation:
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, nil, errs.Wrap(errs.Malformed, "truncated attestation kind", err)
		}
		s := &Step{Kind: KindAttestation, Output: input}
		switch kindByte {
		case attestPending:
			uri, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			s.Attestation = AttestationPending
			s.PendingURI = string(uri)
		case attestBitcoin:
			h, err := readVarInt(r)
			if err != nil {
				return nil, nil, err
			}
			s.Attestation = AttestationBitcoin
			s.BitcoinHeight = h
		case attestUnknown:
			tagBytes, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			payload, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			s.Attestation = AttestationUnknown
			s.UnknownTag = tagBytes
			s.UnknownPayload = payload
		default:
			return nil, nil, errs.New(errs.Malformed, "unknown attestation tag byte")
		}
		return s, input, nil

	case tagFork:
		count, err := readVarInt(r)
		if err != nil {
			return nil, nil, err
		}
		s := &Step{Kind: KindFork, Output: input}
		for i := uint64(0); i < count; i++ {
			childBytes, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			child, _, err := decodeStep(bytes.NewReader(childBytes), input)
			if err != nil {
				return nil, nil, err
			}
			s.Next = append(s.Next, child)
		}
		return s, input, nil

	case tagOpAppend, tagOpPrepend, tagOpSHA256, tagOpRipemd160, tagOpUnknown:
		s := &Step{Kind: KindOp}
		var output []byte
		switch tag {
		case tagOpAppend:
			operand, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			s.Op = OpAppend
			s.Operand = operand
			output = applyAppend(input, operand)
		case tagOpPrepend:
			operand, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			s.Op = OpPrepend
			s.Operand = operand
			output = applyPrepend(input, operand)
		case tagOpSHA256:
			s.Op = OpSHA256
			output = applySHA256(input)
		case tagOpRipemd160:
			s.Op = OpRipemd160
			output = applyRipemd160(input)
		case tagOpUnknown:
			opByte, err := r.ReadByte()
			if err != nil {
				return nil, nil, err
			}
			operand, err := readVarBytes(r)
			if err != nil {
				return nil, nil, err
			}
			s.Op = OpUnknown
			s.UnknownOp = opByte
			s.Operand = operand
			output = input // opaque: preserved verbatim, not recomputed
		}
		s.Output = output
		child, _, err := decodeStep(r, output)
		if err != nil {
			return nil, nil, err
		}
		s.Next = []*Step{child}
		return s, output, nil

	default:
		return nil, nil, errs.New(errs.Malformed, "unknown step tag byte")
	}
}

func writeVarInt(w *bytes.Buffer, n uint64) {
	var buf [10]byte
	i := 0
	for n >= 0x80 {
		buf[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	buf[i] = byte(n)
	w.Write(buf[:i+1])
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errs.Wrap(errs.Malformed, "truncated varint", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, errs.New(errs.Malformed, "varint overflow")
		}
	}
	return result, nil
}

func writeVarBytes(w *bytes.Buffer, data []byte) {
	writeVarInt(w, uint64(len(data)))
	w.Write(data)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxDecodeSize {
		return nil, errs.New(errs.Oversize, "step payload exceeds decode cap")
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errs.Wrap(errs.Malformed, "truncated step payload", err)
	}
	return data, nil
}
