package common

import (
	"crypto/rand"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// The returned string has No 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return Trim0xPrefix(ethcommon.Bytes2Hex(b))
}

func HexStrToByteSlice(hexStr string) []byte {
	return ethcommon.Hex2Bytes(Trim0xPrefix(hexStr))
}

// HexStrToBytes32 converts a hex string (with/without prefix 0x) to [32]byte
func HexStrToBytes32(hexStr string) [32]byte {
	var bytes32 [32]byte
	copy(bytes32[:], ethcommon.Hex2BytesFixed(Trim0xPrefix(hexStr), 32))
	return bytes32
}

// HexStrToHash converts a hex string to ethcommon.Hash
func HexStrToHash(hexStr string) ethcommon.Hash {
	return ethcommon.HexToHash(hexStr)
}

// HexStrToEthAddress converts a hex string (with/without prefix 0x) to an address
func HexStrToEthAddress(hexStr string) ethcommon.Address {
	return ethcommon.HexToAddress(hexStr)
}

// HexStrToBigInt converts a hex string (with/without prefix 0x) to *big.Int
func HexStrToBigInt(hexStr string) *big.Int {
	bigInt, ok := new(big.Int).SetString(Trim0xPrefix(hexStr), 16)
	if !ok {
		return nil
	}
	return bigInt
}

// BigInt2Bytes32 converts a big int to [32]byte
func BigInt2Bytes32(bigInt *big.Int) [32]byte {
	return [32]byte(ethcommon.LeftPadBytes(bigInt.Bytes(), 32))
}

// BigIntToHexStr converts a big int to hex string with prefix 0x
func BigIntToHexStr(bigInt *big.Int) string {
	return Prepend0xPrefix(bigInt.Text(16))
}

// AddressToBytes32 left-pads a 20-byte address to the 32-byte form the
// bridge contracts expect for recipient and destination caller fields.
func AddressToBytes32(addr ethcommon.Address) [32]byte {
	var b [32]byte
	copy(b[12:], addr.Bytes())
	return b
}

// Bytes32ToAddress takes the low 20 bytes.
func Bytes32ToAddress(b [32]byte) ethcommon.Address {
	return ethcommon.BytesToAddress(b[12:])
}

func Trim0xPrefix(str string) string {
	return strings.TrimPrefix(str, "0x")
}

func Prepend0xPrefix(str string) string {
	if strings.HasPrefix(str, "0x") {
		return str
	}
	return "0x" + str
}

func RandBytes32() [32]byte {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return [32]byte{}
	}
	return b
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

func RandBigInt(byteNum int) *big.Int {
	return new(big.Int).SetBytes(RandBytes(byteNum))
}

func RandEthAddress() ethcommon.Address {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return ethcommon.Address{}
	}
	return ethcommon.BytesToAddress(b)
}

// Shorten cuts a long hex string down to 0x + first n chars, for logs.
func Shorten(hexStr string, n int) string {
	s := Trim0xPrefix(hexStr)
	if len(s) <= n {
		return Prepend0xPrefix(s)
	}
	return Prepend0xPrefix(s[:n]) + ".."
}

func BigIntClone(bigInt *big.Int) *big.Int {
	return new(big.Int).Set(bigInt)
}
