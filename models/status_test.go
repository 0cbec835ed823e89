package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from FrontStatus
		to   FrontStatus
		want bool
	}{
		{FrontAdding, FrontConfigReady, true},
		{FrontConfigReady, FrontStarting, true},
		{FrontStarting, FrontRunning, true},
		{FrontRunning, FrontStopping, true},
		{FrontStopping, FrontStopped, true},
		{FrontStopped, FrontStarting, true},
		{FrontRunning, FrontStarting, true},
		{FrontStopped, FrontDeleting, true},
		{FrontFailed, FrontDeleting, true},
		{FrontFailed, FrontStarting, true},
		{FrontFailed, FrontAdding, true},
		{FrontDeleting, FrontDeleted, true},
		{FrontAdding, FrontFailed, true},
		{FrontRunning, FrontFailed, true},

		{FrontAdding, FrontRunning, false},
		{FrontRunning, FrontDeleting, false},
		{FrontStarting, FrontDeleting, false},
		{FrontAdding, FrontDeleting, false},
		{FrontDeleted, FrontFailed, false},
		{FrontDeleted, FrontStarting, false},
		{FrontFailed, FrontFailed, false},
		{FrontStatus("BOGUS"), FrontRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(FrontAdding, FrontConfigReady))

	err := ValidateTransition(FrontRunning, FrontDeleting)
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, FrontRunning, te.From)
	assert.Equal(t, FrontDeleting, te.To)
}

func TestIsRunning(t *testing.T) {
	for _, st := range AllFrontStatuses() {
		want := st == FrontRunning || st == FrontStarting
		assert.Equal(t, want, st.IsRunning(), st)
	}
}

func TestParseFrontStatus(t *testing.T) {
	st, err := ParseFrontStatus(" running ")
	require.NoError(t, err)
	assert.Equal(t, FrontRunning, st)

	_, err = ParseFrontStatus("sleeping")
	assert.Error(t, err)
}

func TestParseImageSource(t *testing.T) {
	src, err := ParseImageSource("MANUAL")
	require.NoError(t, err)
	assert.Equal(t, ImageManual, src)
	assert.False(t, src.SelfProvisions())

	src, err = ParseImageSource("pull")
	require.NoError(t, err)
	assert.True(t, src.SelfProvisions())

	_, err = ParseImageSource("torrent")
	assert.Error(t, err)
}

func TestPortsForIndex(t *testing.T) {
	p := PortsForIndex(2)
	assert.Equal(t, NodePorts{P2P: 30302, Channel: 20202, RPC: 8547, Front: 5004}, p)
	assert.Equal(t, "chainA-node2", ContainerName("chainA", 2))
}
