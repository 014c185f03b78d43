package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := Connect(context.Background(), Config{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.DB(0).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnect_Errors(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), Config{URL: "not a url"}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Connect(context.Background(), Config{URL: "redis://" + addr}, nil)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "jarvis:conv:-100:7", ConversationKey(-100, 7))
	assert.Equal(t, "jarvis:chat:42", ChatIndexKey(42))

	chatID, id, err := ParseMember(Member(-100, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(-100), chatID)
	assert.Equal(t, int64(7), id)

	for _, bad := range []string{"", "7", "a:1", "1:b"} {
		_, _, err := ParseMember(bad)
		assert.Error(t, err, bad)
	}
}
