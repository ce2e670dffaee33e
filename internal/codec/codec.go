// Package codec serializes the loan context carried through the lending
// facility callback. The payload crosses a trust boundary, so decoding is
// strict: a wrong length, tag, or field encoding is a first-class
// domain.ErrMalformedContext, never an unchecked cast.
//
// Wire format: 11 fixed 32-byte words, ABI-style. Word 0 is the type tag
// (keccak256 of the canonical type string); addresses are left-padded to 32
// bytes; amounts are unsigned big-endian.
package codec

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

const (
	wordSize    = 32
	contextLen  = 11 * wordSize
	addrPadding = wordSize - common.AddressLength
)

// contextTypeHash tags encoded loan contexts so the settlement engine never
// processes a payload that was not produced by EncodeContext.
var contextTypeHash = ethcrypto.Keccak256(
	[]byte("LoanContext(address asset,uint256 amount,uint256 fee,address initiator,address tokenIn,address tokenOut,uint256 requestAmount,address router1,address router2,uint256 minProfit)"),
)

// EncodeContext packs a LoanContext into its wire form.
func EncodeContext(lc domain.LoanContext) []byte {
	buf := make([]byte, 0, contextLen)
	buf = append(buf, contextTypeHash...)
	buf = append(buf, common.LeftPadBytes(lc.Asset.Bytes(), wordSize)...)
	buf = append(buf, uint256Word(lc.Amount)...)
	buf = append(buf, uint256Word(lc.Fee)...)
	buf = append(buf, common.LeftPadBytes(lc.Initiator.Bytes(), wordSize)...)
	buf = append(buf, common.LeftPadBytes(lc.Request.TokenIn.Bytes(), wordSize)...)
	buf = append(buf, common.LeftPadBytes(lc.Request.TokenOut.Bytes(), wordSize)...)
	buf = append(buf, uint256Word(lc.Request.Amount)...)
	buf = append(buf, common.LeftPadBytes(lc.Request.Router1.Bytes(), wordSize)...)
	buf = append(buf, common.LeftPadBytes(lc.Request.Router2.Bytes(), wordSize)...)
	buf = append(buf, uint256Word(lc.Request.MinProfit)...)
	return buf
}

// DecodeContext unpacks a wire-form loan context. Any structural defect
// returns domain.ErrMalformedContext wrapped with detail.
func DecodeContext(data []byte) (domain.LoanContext, error) {
	var lc domain.LoanContext

	if len(data) != contextLen {
		return lc, fmt.Errorf("codec: context length %d, want %d: %w", len(data), contextLen, domain.ErrMalformedContext)
	}
	if !bytes.Equal(data[:wordSize], contextTypeHash) {
		return lc, fmt.Errorf("codec: unknown context tag: %w", domain.ErrMalformedContext)
	}

	asset, err := addressWord(word(data, 1))
	if err != nil {
		return lc, fmt.Errorf("codec: asset: %w", err)
	}
	initiator, err := addressWord(word(data, 4))
	if err != nil {
		return lc, fmt.Errorf("codec: initiator: %w", err)
	}
	tokenIn, err := addressWord(word(data, 5))
	if err != nil {
		return lc, fmt.Errorf("codec: tokenIn: %w", err)
	}
	tokenOut, err := addressWord(word(data, 6))
	if err != nil {
		return lc, fmt.Errorf("codec: tokenOut: %w", err)
	}
	router1, err := addressWord(word(data, 8))
	if err != nil {
		return lc, fmt.Errorf("codec: router1: %w", err)
	}
	router2, err := addressWord(word(data, 9))
	if err != nil {
		return lc, fmt.Errorf("codec: router2: %w", err)
	}

	lc = domain.LoanContext{
		Asset:     asset,
		Amount:    new(big.Int).SetBytes(word(data, 2)),
		Fee:       new(big.Int).SetBytes(word(data, 3)),
		Initiator: initiator,
		Request: domain.ArbitrageRequest{
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			Amount:    new(big.Int).SetBytes(word(data, 7)),
			Router1:   router1,
			Router2:   router2,
			MinProfit: new(big.Int).SetBytes(word(data, 10)),
		},
	}
	return lc, nil
}

// word returns the i-th 32-byte word of data.
func word(data []byte, i int) []byte {
	return data[i*wordSize : (i+1)*wordSize]
}

// addressWord decodes a left-padded address word. Non-zero padding means the
// word was not produced by EncodeContext.
func addressWord(w []byte) (common.Address, error) {
	for _, b := range w[:addrPadding] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("non-zero address padding: %w", domain.ErrMalformedContext)
		}
	}
	return common.BytesToAddress(w[addrPadding:]), nil
}

// uint256Word returns the 32-byte big-endian representation of n. Nil is
// encoded as zero.
func uint256Word(n *big.Int) []byte {
	if n == nil {
		return make([]byte, wordSize)
	}
	return common.LeftPadBytes(n.Bytes(), wordSize)
}
