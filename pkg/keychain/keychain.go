// Package keychain signs outbound hello data and validates inbound data
// with a shared keyed MAC (BLAKE2b-256). Validation reports its verdict
// through continuations so the caller's control flow mirrors the rest of
// the hello pipeline.
package keychain

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/ryandielhenn/zephyrroute/pkg/transport"
)

var ErrBadSignature = errors.New("keychain: signature mismatch")

// KeyChain holds the shared signing key for a routing domain.
type KeyChain struct {
	key []byte
}

func New(key []byte) (*KeyChain, error) {
	if len(key) == 0 {
		return nil, errors.New("keychain: empty key")
	}
	if len(key) > 64 {
		return nil, errors.New("keychain: key longer than 64 bytes")
	}
	return &KeyChain{key: append([]byte(nil), key...)}, nil
}

// Sign computes the MAC over name, freshness and content and stores it in
// the data's signature field.
func (k *KeyChain) Sign(d *transport.Data) {
	d.Signature = k.mac(d)
}

func (k *KeyChain) mac(d *transport.Data) []byte {
	h, err := blake2b.New256(k.key)
	if err != nil {
		// Key length is validated in New; a failure here is a programming
		// error.
		panic(fmt.Sprintf("keychain: %v", err))
	}
	h.Write([]byte(d.Name.String()))
	var fresh [8]byte
	binary.BigEndian.PutUint64(fresh[:], uint64(d.FreshnessPeriod))
	h.Write(fresh[:])
	h.Write(d.Content)
	return h.Sum(nil)
}

// Validator checks data signatures against the keychain.
type Validator struct {
	kc  *KeyChain
	log *zap.SugaredLogger
}

func NewValidator(kc *KeyChain, log *zap.SugaredLogger) *Validator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Validator{kc: kc, log: log}
}

// Validate invokes onValid if the data's signature matches, otherwise
// onInvalid with the reason. Exactly one continuation runs.
func (v *Validator) Validate(d *transport.Data, onValid func(*transport.Data), onInvalid func(*transport.Data, error)) {
	want := v.kc.mac(d)
	if subtle.ConstantTimeCompare(want, d.Signature) == 1 {
		onValid(d)
		return
	}
	v.log.Debugw("rejecting data with bad signature", "name", d.Name.String())
	onInvalid(d, ErrBadSignature)
}
