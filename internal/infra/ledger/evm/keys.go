package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring holds the private keys of the identities the service signs for.
type Keyring struct {
	keys  map[common.Address]*ecdsa.PrivateKey
	order []common.Address
}

// ParseKey decodes a hex private key, with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// NewKeyring parses every key; the first one is the primary identity.
func NewKeyring(hexKeys ...string) (*Keyring, error) {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for i, hexKey := range hexKeys {
		if strings.TrimSpace(hexKey) == "" {
			continue
		}
		key, addr, err := ParseKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if _, dup := k.keys[addr]; dup {
			continue
		}
		k.keys[addr] = key
		k.order = append(k.order, addr)
	}
	return k, nil
}

// Primary returns the first configured identity.
func (k *Keyring) Primary() (common.Address, bool) {
	if len(k.order) == 0 {
		return common.Address{}, false
	}
	return k.order[0], true
}

// Addresses lists identities in configuration order.
func (k *Keyring) Addresses() []common.Address {
	return append([]common.Address(nil), k.order...)
}

func (k *Keyring) key(addr common.Address) (*ecdsa.PrivateKey, bool) {
	if k == nil {
		return nil, false
	}
	key, ok := k.keys[addr]
	return key, ok
}
