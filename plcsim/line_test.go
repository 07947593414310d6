package plcsim

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dialLine(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, bufio.NewReader(conn)
}

func readUntil(t *testing.T, conn net.Conn, r *bufio.Reader, delim byte) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	s, err := r.ReadString(delim)
	require.NoError(t, err)

	return s
}

func expectNoReply(t *testing.T, conn net.Conn, r *bufio.Reader) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := r.ReadByte()
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout())
}

func TestSENS4_Replies(t *testing.T) {
	require := require.New(t)

	s := NewSENS4(nil)
	require.NoError(s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Close() })
	s.SetTransducer(254, 1.5e-5, 21.25)

	conn, r := dialLine(t, s.Addr())

	_, err := conn.Write([]byte(`@254P?\`))
	require.NoError(err)
	require.Equal(`@254ACK1.5000E-05\`, readUntil(t, conn, r, '\\'))

	_, err = conn.Write([]byte(`@254T?\`))
	require.NoError(err)
	require.Equal(`@254ACK21.25\`, readUntil(t, conn, r, '\\'))

	_, err = conn.Write([]byte(`@254X?\`))
	require.NoError(err)
	require.Equal(`@254NAK160\`, readUntil(t, conn, r, '\\'))

	// nobody answers to 7
	_, err = conn.Write([]byte(`@7P?\`))
	require.NoError(err)
	expectNoReply(t, conn, r)
	require.Equal(4, s.Queries())
	require.NotZero(s.Port())
}

func TestDepthGauge_Replies(t *testing.T) {
	require := require.New(t)

	g := NewDepthGauge(nil)
	require.NoError(g.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = g.Close() })
	g.Set("A", 12.5)
	g.Set("B", -0.125)

	conn, r := dialLine(t, g.Addr())

	_, err := conn.Write([]byte("SEND A\n"))
	require.NoError(err)
	require.Equal("A +12.5000 mm\r\n", readUntil(t, conn, r, '\n'))

	_, err = conn.Write([]byte("SEND B\n"))
	require.NoError(err)
	require.Equal("B -0.1250 mm\r\n", readUntil(t, conn, r, '\n'))

	g.Remove("A")
	_, err = conn.Write([]byte("SEND A\n"))
	require.NoError(err)
	expectNoReply(t, conn, r)
}
