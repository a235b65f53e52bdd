package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddress validates a 0x-prefixed hex address and returns its canonical form.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a valid 0x address", ErrValidation, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address is not allowed", ErrValidation)
	}
	return addr, nil
}

func hexBytes(s string) ([]byte, error) {
	return hexutil.Decode(s)
}
