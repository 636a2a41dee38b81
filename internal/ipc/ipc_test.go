package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jfsd/internal/defs"
)

func TestTrySendFullMailbox(t *testing.T) {
	mb := NewMailbox()
	require.Zero(t, mb.TrySend(Msg{Val: 1}))
	require.Equal(t, defs.IpcNotRecv, mb.TrySend(Msg{Val: 2}))
}

func TestSendBlocksUntilDrained(t *testing.T) {
	mb := NewMailbox()
	require.Zero(t, mb.TrySend(Msg{Val: 1}))

	done := make(chan struct{})
	go func() {
		Send(mb, 7, 2, "payload", 0)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Send returned before the mailbox had a free slot")
	case <-time.After(20 * time.Millisecond):
	}

	require.Equal(t, 1, Recv(mb).Val)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send never completed after the mailbox drained")
	}

	m := Recv(mb)
	require.Equal(t, Envid_t(7), m.From)
	require.Equal(t, "payload", m.Page)
}

func TestRecvStopUnblocksOnClose(t *testing.T) {
	mb := NewMailbox()
	stop := make(chan struct{})
	done := make(chan bool)
	go func() {
		_, ok := RecvStop(mb, stop)
		done <- ok
	}()
	close(stop)
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("RecvStop never returned after stop was closed")
	}
}

func TestSystemRoutesMailboxesByEnvid(t *testing.T) {
	sys := NewSystem()
	id1, mb1 := sys.NewEnv()
	id2, mb2 := sys.NewEnv()
	require.NotEqual(t, id1, id2)
	require.Same(t, mb1, sys.Mailbox(id1))
	require.Same(t, mb2, sys.Mailbox(id2))
	require.Nil(t, sys.Mailbox(id2+100))
}
