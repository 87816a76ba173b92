// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package cipher encrypts results for callers that supplied a cipher key
// with their request.
package cipher

import (
	"bytes"
	"crypto/des"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dotandev/firma/internal/errors"
)

// KeySize is the length of the shared DES key.
const KeySize = des.BlockSize

// Encrypt pads data with zeros to the block size, encrypts it block by
// block and returns "<padding>.<base64url ciphertext>".
func Encrypt(key, data []byte) (string, error) {
	block, err := des.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrEncryptingData, err)
	}
	pad := (KeySize - len(data)%KeySize) % KeySize
	buf := make([]byte, len(data)+pad)
	copy(buf, data)
	for i := 0; i < len(buf); i += KeySize {
		block.Encrypt(buf[i:i+KeySize], buf[i:i+KeySize])
	}
	return strconv.Itoa(pad) + "." + base64.URLEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt.
func Decrypt(key []byte, text string) ([]byte, error) {
	padText, body, ok := strings.Cut(text, ".")
	if !ok {
		return nil, errors.WrapInvalidParameters("cipher text has no padding prefix")
	}
	pad, err := strconv.Atoi(padText)
	if err != nil || pad < 0 || pad >= KeySize {
		return nil, errors.WrapInvalidParameters("bad cipher padding " + padText)
	}
	buf, err := base64.URLEncoding.DecodeString(body)
	if err != nil {
		return nil, errors.WrapInvalidParameters("cipher text is not base64")
	}
	if len(buf)%KeySize != 0 || len(buf) < pad {
		return nil, errors.WrapInvalidParameters("cipher text is not block aligned")
	}
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrEncryptingData, err)
	}
	for i := 0; i < len(buf); i += KeySize {
		block.Decrypt(buf[i:i+KeySize], buf[i:i+KeySize])
	}
	if !bytes.Equal(buf[len(buf)-pad:], make([]byte, pad)) {
		return nil, errors.WrapInvalidParameters("cipher padding is not zero")
	}
	return buf[:len(buf)-pad], nil
}
