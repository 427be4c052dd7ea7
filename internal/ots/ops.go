package ots

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

func applyAppend(input, operand []byte) []byte {
	out := make([]byte, 0, len(input)+len(operand))
	out = append(out, input...)
	out = append(out, operand...)
	return out
}

func applyPrepend(input, operand []byte) []byte {
	out := make([]byte, 0, len(input)+len(operand))
	out = append(out, operand...)
	out = append(out, input...)
	return out
}

func applySHA256(input []byte) []byte {
	sum := sha256.Sum256(input)
	return sum[:]
}

func applyRipemd160(input []byte) []byte {
	h := ripemd160.New()
	h.Write(input)
	return h.Sum(nil)
}
