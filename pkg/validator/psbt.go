package validator

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PSBTEncoding 描述 PSBT 字符串的编码。
type PSBTEncoding string

const (
	PSBTEncodingBase64 PSBTEncoding = "base64"
	PSBTEncodingHex    PSBTEncoding = "hex"
)

// psbtMagic 是 BIP-174 规定的前缀 "psbt" 0xff。
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

var (
	errEmptyPSBT    = errors.New("psbt payload is empty")
	errMissingMagic = errors.New("psbt payload missing magic bytes")
)

// DetectEncoding 根据前缀判断页面给出的 PSBT 使用哪种编码。
func DetectEncoding(payload string) (PSBTEncoding, error) {
	switch {
	case payload == "":
		return "", errEmptyPSBT
	case strings.HasPrefix(strings.ToLower(payload), hex.EncodeToString(psbtMagic)):
		return PSBTEncodingHex, nil
	case strings.HasPrefix(payload, "cHNidP"):
		return PSBTEncodingBase64, nil
	default:
		return "", errMissingMagic
	}
}

// DecodePSBT 将 PSBT 解码为二进制并校验魔数。
func DecodePSBT(payload string, enc PSBTEncoding) ([]byte, error) {
	if payload == "" {
		return nil, errEmptyPSBT
	}
	var (
		decoded []byte
		err     error
	)
	switch enc {
	case PSBTEncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 psbt: %w", err)
		}
	case PSBTEncodingHex:
		decoded, err = hex.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid hex psbt: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
	if !bytes.HasPrefix(decoded, psbtMagic) {
		return nil, errMissingMagic
	}
	return decoded, nil
}

// ValidatePSBT 自动识别编码并确认载荷可解码。
func ValidatePSBT(payload string) error {
	enc, err := DetectEncoding(payload)
	if err != nil {
		return err
	}
	_, err = DecodePSBT(payload, enc)
	return err
}
