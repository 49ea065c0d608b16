package test

import (
	"testing"

	"github.com/nostrsigner/bunker/store/memory"
)

func TestMemoryStore(t *testing.T) {
	runTestWith(t, memory.New())
}

func TestMemoryStoreConcurrentPairing(t *testing.T) {
	runConcurrentPairingTestWith(t, memory.New())
}
