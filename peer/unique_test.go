package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckUniqueFirstObservationNotDuplicate(t *testing.T) {
	p, _, _ := newTestPeer(t)
	assert.False(t, p.checkUnique(0, 5))
}

func TestCheckUniqueRepeatIsDuplicate(t *testing.T) {
	p, _, _ := newTestPeer(t)
	assert.False(t, p.checkUnique(2, 10))
	assert.True(t, p.checkUnique(2, 10))
	assert.True(t, p.checkUnique(2, 10))
}

func TestCheckUniqueDistinguishesChannels(t *testing.T) {
	p, _, _ := newTestPeer(t)
	assert.False(t, p.checkUnique(0, 1))
	assert.False(t, p.checkUnique(1, 1))
}

func TestCheckUniqueDistinguishesSequence(t *testing.T) {
	p, _, _ := newTestPeer(t)
	assert.False(t, p.checkUnique(0, 1))
	assert.False(t, p.checkUnique(0, 2))
	assert.True(t, p.checkUnique(0, 1))
}
