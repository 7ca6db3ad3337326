package fleet

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/miner-fleet/internal/domain"
)

func TestAdd_InsertsWithUnsetState(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add("10.0.0.5"))

	state, ok := r.Get("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, domain.ProfileUnset, state.Profile)
	assert.Equal(t, domain.CurtailmentUnset, state.Curtailment)
}

func TestAdd_DuplicateIsNoOp(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add("10.0.0.5"))
	require.NoError(t, r.SetProfile("10.0.0.5", domain.ProfileNormal))
	assert.False(t, r.Add("10.0.0.5"))

	assert.Equal(t, []string{"10.0.0.5"}, r.List())
	state, _ := r.Get("10.0.0.5")
	assert.Equal(t, domain.ProfileNormal, state.Profile) // not reset
}

func TestList_PreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.3")
	r.Add("10.0.0.1")
	r.Add("10.0.0.2")

	assert.Equal(t, []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}, r.List())
}

func TestList_ReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.1")

	snapshot := r.List()
	snapshot[0] = "mutated"

	assert.Equal(t, []string{"10.0.0.1"}, r.List())
}

func TestRemove_DropsMember(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.1")
	r.Add("10.0.0.2")

	assert.True(t, r.Remove("10.0.0.1"))

	assert.Equal(t, []string{"10.0.0.2"}, r.List())
	_, ok := r.Get("10.0.0.1")
	assert.False(t, ok)
}

func TestRemove_AbsentReturnsFalse(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Remove("10.0.0.1"))
}

func TestSetProfile_NotFoundAfterRemove(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.1")
	r.Remove("10.0.0.1")

	err := r.SetProfile("10.0.0.1", domain.ProfileOverclock)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = r.SetCurtailment("10.0.0.1", domain.CurtailmentSleep)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetCurtailment_LeavesProfile(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.1")
	require.NoError(t, r.SetProfile("10.0.0.1", domain.ProfileUnderclock))
	require.NoError(t, r.SetCurtailment("10.0.0.1", domain.CurtailmentSleep))

	state, _ := r.Get("10.0.0.1")
	assert.Equal(t, domain.OperationState{Profile: domain.ProfileUnderclock, Curtailment: domain.CurtailmentSleep}, state)
}

func TestSnapshot_ReturnsStatusRows(t *testing.T) {
	r := NewRegistry()
	r.Add("10.0.0.1")
	r.Add("10.0.0.2")
	require.NoError(t, r.SetCurtailment("10.0.0.2", domain.CurtailmentActive))

	assert.Equal(t, []domain.DeviceStatus{
		{Address: "10.0.0.1", Profile: domain.ProfileUnset, Curtailment: domain.CurtailmentUnset},
		{Address: "10.0.0.2", Profile: domain.ProfileUnset, Curtailment: domain.CurtailmentActive},
	}, r.Snapshot())
	assert.Equal(t, 2, r.Len())
}

func TestConcurrentMembershipAndMutation(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		addr := fmt.Sprintf("10.0.1.%d", i)
		go func() {
			defer wg.Done()
			r.Add(addr)
		}()
		go func() {
			defer wg.Done()
			_ = r.SetProfile(addr, domain.ProfileNormal) // may race ahead of Add
		}()
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()

	list := r.List()
	assert.Len(t, list, 50)
	seen := make(map[string]bool)
	for _, a := range list {
		require.False(t, seen[a], "address should be unique")
		seen[a] = true
	}
}
