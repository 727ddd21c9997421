package sim

import (
	"sync"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

// keyring holds named keypairs for scenario setups where many parties
// sign messages. It is the only simulator component with a lock: test
// setup code sometimes prepares keys from helper goroutines even though
// execution itself is single threaded.
type keyring struct {
	mu   sync.RWMutex
	keys map[string]*types.Keypair
}

func newKeyring() *keyring {
	return &keyring{
		keys: make(map[string]*types.Keypair),
	}
}

func (k *keyring) store(name string, kp *types.Keypair) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[name] = kp
}

func (k *keyring) get(name string) (*types.Keypair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kp, ok := k.keys[name]
	if !ok {
		return nil, ErrNoSuchKeypair
	}
	return kp, nil
}
