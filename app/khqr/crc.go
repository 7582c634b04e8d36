package khqr

import "fmt"

const crcPolynomial = 0x1021

// CRC16 computes CRC-16/CCITT-FALSE over the UTF-8 bytes of data.
func CRC16(data string) string {
	crc := uint16(0xFFFF)
	for _, c := range []byte(data) {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}
