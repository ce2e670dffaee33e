package codec

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

func sampleContext() domain.LoanContext {
	return domain.LoanContext{
		Asset:     common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		Amount:    big.NewInt(1000),
		Fee:       big.NewInt(2),
		Initiator: common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		Request: domain.ArbitrageRequest{
			TokenIn:   common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
			TokenOut:  common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"),
			Amount:    big.NewInt(1000),
			Router1:   common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"),
			Router2:   common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"),
			MinProfit: big.NewInt(5),
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleContext()

	data := EncodeContext(in)
	if len(data) != contextLen {
		t.Fatalf("encoded length = %d, want %d", len(data), contextLen)
	}

	out, err := DecodeContext(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.Asset != in.Asset || out.Initiator != in.Initiator {
		t.Fatalf("identity fields mismatch: %+v", out)
	}
	if out.Amount.Cmp(in.Amount) != 0 || out.Fee.Cmp(in.Fee) != 0 {
		t.Fatalf("loan amounts mismatch: amount=%s fee=%s", out.Amount, out.Fee)
	}
	if out.Request.TokenIn != in.Request.TokenIn ||
		out.Request.TokenOut != in.Request.TokenOut ||
		out.Request.Router1 != in.Request.Router1 ||
		out.Request.Router2 != in.Request.Router2 {
		t.Fatalf("request addresses mismatch: %+v", out.Request)
	}
	if out.Request.Amount.Cmp(in.Request.Amount) != 0 || out.Request.MinProfit.Cmp(in.Request.MinProfit) != 0 {
		t.Fatalf("request amounts mismatch: %+v", out.Request)
	}
}

func TestDecodeWrongLength(t *testing.T) {
	data := EncodeContext(sampleContext())

	for _, n := range []int{0, 1, contextLen - 1, contextLen + 32} {
		var truncated []byte
		if n <= len(data) {
			truncated = data[:n]
		} else {
			truncated = append(append([]byte{}, data...), make([]byte, n-len(data))...)
		}
		if _, err := DecodeContext(truncated); !errors.Is(err, domain.ErrMalformedContext) {
			t.Fatalf("len=%d: err = %v, want ErrMalformedContext", n, err)
		}
	}
}

func TestDecodeBadTag(t *testing.T) {
	data := EncodeContext(sampleContext())
	data[0] ^= 0xff

	if _, err := DecodeContext(data); !errors.Is(err, domain.ErrMalformedContext) {
		t.Fatalf("err = %v, want ErrMalformedContext", err)
	}
}

func TestDecodeCorruptAddressPadding(t *testing.T) {
	data := EncodeContext(sampleContext())
	// Flip a byte inside the zero padding of the asset address word.
	data[wordSize+3] = 0x01

	if _, err := DecodeContext(data); !errors.Is(err, domain.ErrMalformedContext) {
		t.Fatalf("err = %v, want ErrMalformedContext", err)
	}
}

func TestEncodeNilAmounts(t *testing.T) {
	lc := sampleContext()
	lc.Fee = nil

	out, err := DecodeContext(EncodeContext(lc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Fee.Sign() != 0 {
		t.Fatalf("nil fee decoded as %s, want 0", out.Fee)
	}
}
