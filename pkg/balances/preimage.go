package balances

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/web3ekko/ekko-erc20/pkg/trace"
)

// ErrMalformedInput is returned when the trace carries data that cannot be decoded.
// It aborts the whole block.
var ErrMalformedInput = errors.New("malformed trace input")

const (
	// preimageHexLen is the hex length of keccak256(pad32(address) ++ slot)
	preimageHexLen = 128

	// Hex range of the second word that must be zero for a balances[address] slot
	paddingStart = 64
	paddingEnd   = 126

	// Hex range of the address inside the first word
	addressStart = 24
	addressEnd   = 64
)

var zeroPadding = strings.Repeat("0", paddingEnd-paddingStart)

// AddressesForStorageKeys resolves the owner address of every storage slot whose recorded
// keccak preimage follows the mapping(address => uint256) layout. Preimages with any other
// shape are skipped.
func AddressesForStorageKeys(call *trace.Call) (map[common.Hash]common.Address, error) {
	out := make(map[common.Hash]common.Address, len(call.KeccakPreimages))

	keys := make([]string, 0, len(call.KeccakPreimages))
	for key := range call.KeccakPreimages {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		preimage := strings.TrimPrefix(call.KeccakPreimages[key], "0x")

		if len(preimage) != preimageHexLen {
			continue
		}
		if preimage[paddingStart:paddingEnd] != zeroPadding {
			continue
		}

		slot, err := decodeHash(key)
		if err != nil {
			return nil, fmt.Errorf("%w: call %d: storage key %q: %v", ErrMalformedInput, call.Index, key, err)
		}
		owner, err := hex.DecodeString(preimage[addressStart:addressEnd])
		if err != nil {
			return nil, fmt.Errorf("%w: call %d: preimage of %s: %v", ErrMalformedInput, call.Index, key, err)
		}
		out[slot] = common.BytesToAddress(owner)
	}
	return out, nil
}

func decodeHash(s string) (common.Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// PreimageMap accumulates resolved slot owners across the calls of a block.
// Each call is resolved at most once; calls are identified by their trace node, not by
// index. A PreimageMap must not outlive the block it was created for and is not safe
// for concurrent use.
type PreimageMap struct {
	owners  map[common.Hash]common.Address
	visited map[*trace.Call]struct{}
	log     logrus.FieldLogger
}

// NewPreimageMap creates an empty map
func NewPreimageMap(log logrus.FieldLogger) *PreimageMap {
	return &PreimageMap{
		owners:  make(map[common.Hash]common.Address),
		visited: make(map[*trace.Call]struct{}),
		log:     log,
	}
}

// Extend merges the owners resolved from the call's preimages. Calls already merged are skipped.
func (m *PreimageMap) Extend(call *trace.Call) error {
	if _, ok := m.visited[call]; ok {
		return nil
	}

	resolved, err := AddressesForStorageKeys(call)
	if err != nil {
		return err
	}
	for slot, owner := range resolved {
		m.owners[slot] = owner
	}
	m.visited[call] = struct{}{}
	return nil
}

// Owner returns the account whose balance lives at the storage change's slot
func (m *PreimageMap) Owner(change *trace.StorageChange) (common.Address, bool) {
	if len(change.Key) == common.HashLength {
		if owner, ok := m.owners[common.BytesToHash(change.Key)]; ok {
			return owner, true
		}
	}
	m.log.WithFields(logrus.Fields{
		"key":     hex.EncodeToString(change.Key),
		"ordinal": change.Ordinal,
	}).Debug("Storage change does not match any owner address")
	return common.Address{}, false
}

// Len returns the number of resolved slots
func (m *PreimageMap) Len() int {
	return len(m.owners)
}
