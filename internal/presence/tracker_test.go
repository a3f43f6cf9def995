package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstConnectReportsOnline(t *testing.T) {
	req := require.New(t)
	tr := NewTracker()

	state, transitioned := tr.SetOnline("u1")
	req.True(transitioned)
	req.True(state.Online)

	// A second connection for the same user is silent.
	_, transitioned = tr.SetOnline("u1")
	req.False(transitioned)
	req.True(tr.State("u1").Online)
}

func TestOnlyLastDisconnectFlipsOffline(t *testing.T) {
	req := require.New(t)
	tr := NewTracker()

	const n = 5
	for i := 0; i < n; i++ {
		tr.SetOnline("u1")
	}

	for i := 0; i < n-1; i++ {
		state, transitioned := tr.SetOffline("u1")
		req.False(transitioned, "disconnect %d must not flip offline", i)
		req.True(state.Online)
	}

	state, transitioned := tr.SetOffline("u1")
	req.True(transitioned)
	req.False(state.Online)
	req.False(state.LastSeen.IsZero())
	req.False(tr.State("u1").Online)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	req := require.New(t)
	tr := NewTracker()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SetOnline("u1")
		}()
	}
	wg.Wait()
	req.True(tr.State("u1").Online)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SetOffline("u1")
		}()
	}
	wg.Wait()
	req.False(tr.State("u1").Online)
}

func TestUsersAreIndependent(t *testing.T) {
	req := require.New(t)
	tr := NewTracker()

	tr.SetOnline("u1")
	tr.SetOnline("u2")
	tr.SetOffline("u1")

	req.False(tr.State("u1").Online)
	req.True(tr.State("u2").Online)
	req.False(tr.State("unknown").Online)
}
