package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	require := require.New(t)
	i := NewIdentity()
	require.Equal(i, IdentityFromBytes(i[:]))
	require.NotEqual(i, NewIdentity())
}

func TestMessageKeyIsComparable(t *testing.T) {
	require := require.New(t)
	sender := NewIdentity()
	thread := NewID()
	seen := map[MessageKey]bool{{sender, thread, 7}: true}
	require.True(seen[MessageKey{Sender: sender, ThreadID: thread, Seq: 7}])
	require.False(seen[MessageKey{Sender: sender, ThreadID: thread, Seq: 8}])
}

func TestTextEncoding(t *testing.T) {
	require := require.New(t)
	i := NewIdentity()
	b, err := i.MarshalText()
	require.Nil(err)
	require.Len(b, 32)

	var decoded Identity
	require.Nil(decoded.UnmarshalText(b))
	require.Equal(i, decoded)

	var id ID
	require.NotNil(id.UnmarshalText([]byte("abcd")))
	require.NotNil(id.UnmarshalText([]byte("zz000000000000000000000000000000")))
}
