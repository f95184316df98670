package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionNotifiesWatchers(t *testing.T) {
	session := NewSession()
	changes, stop := session.Watch()
	defer stop()

	session.Set(Identity{ID: "user-1", Name: "Avery"})
	got := <-changes
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, got, session.Current())
}

func TestSessionSkipsIntermediateValues(t *testing.T) {
	session := NewSession()
	changes, stop := session.Watch()
	defer stop()

	// Nobody reads between the two sets: only the latest value survives.
	session.Set(Identity{ID: "first"})
	session.Set(Identity{ID: "second"})
	got := <-changes
	assert.Equal(t, "second", got.ID)
	select {
	case extra := <-changes:
		t.Fatalf("unexpected extra notification: %+v", extra)
	default:
	}
}

func TestSessionIgnoresRedundantSets(t *testing.T) {
	session := NewSession()
	session.Set(Identity{ID: "user-1"})
	changes, stop := session.Watch()
	defer stop()

	session.Set(Identity{ID: "user-1"})
	select {
	case got := <-changes:
		t.Fatalf("set with unchanged identity notified: %+v", got)
	default:
	}
}

func TestSessionLogoutIsTheZeroIdentity(t *testing.T) {
	session := NewSession()
	session.Set(Identity{ID: "user-1"})
	changes, stop := session.Watch()
	defer stop()

	session.Set(Identity{})
	got := <-changes
	assert.True(t, got.Zero())
	assert.True(t, session.Current().Zero())
}

func TestSessionStopDetachesWatcher(t *testing.T) {
	session := NewSession()
	changes, stop := session.Watch()
	stop()

	// A detached watcher must not block or receive further sets.
	session.Set(Identity{ID: "user-1"})
	select {
	case got, ok := <-changes:
		require.False(t, ok, "detached watcher received %+v", got)
	default:
	}
}
