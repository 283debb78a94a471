package session

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosmtpd/handler"
	"gosmtpd/protocol"
)

func runLoop(t *testing.T, reg handler.Registry[fakeState]) (client net.Conn, reader *bufio.Reader, done chan error) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	conn := NewConnection(serverConn)
	s := New(conn, Config{Hostname: "mx.example"}, reg, &fakeState{}, nil)

	done = make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return clientConn, bufio.NewReader(clientConn), done
}

func readReply(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestRunSendsGreetingThenProcessesScenarioTwo(t *testing.T) {
	client, reader, done := runLoop(t, handler.Registry[fakeState]{})

	assert.Equal(t, "220 SMTP Service Ready\r\n", readReply(t, reader))

	write := func(line string) {
		_, err := client.Write([]byte(line))
		require.NoError(t, err)
	}

	write("MAIL FROM:<a@b>\r\n")
	assert.Regexp(t, `^250 `, readReply(t, reader))

	write("RCPT TO:<c@d>\r\n")
	assert.Regexp(t, `^250 `, readReply(t, reader))

	write("RCPT TO:<e@f>\r\n")
	assert.Regexp(t, `^250 `, readReply(t, reader))

	write("DATA\r\n")
	assert.Regexp(t, `^354 `, readReply(t, reader))

	write("Subject: hi\r\n\r\nhello\r\n.\r\n")
	assert.Regexp(t, `^250 `, readReply(t, reader))

	write("QUIT\r\n")
	assert.Regexp(t, `^221 `, readReply(t, reader))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after QUIT")
	}
}

func TestRunDeliversParsedMailToOnEmail(t *testing.T) {
	received := make(chan handler.EmailInfo, 1)
	reg := handler.Registry[fakeState]{
		OnEmail: func(ctx context.Context, state *fakeState, info handler.EmailInfo) (protocol.Message, error) {
			received <- info
			return protocol.NewMessage(protocol.StatusOK, "Message accepted"), nil
		},
	}
	client, reader, _ := runLoop(t, reg)
	readReply(t, reader) // greeting

	write := func(line string) {
		_, err := client.Write([]byte(line))
		require.NoError(t, err)
	}
	write("MAIL FROM:<a@b>\r\n")
	readReply(t, reader)
	write("RCPT TO:<c@d>\r\n")
	readReply(t, reader)
	write("DATA\r\n")
	readReply(t, reader)
	write("Subject: hi\r\n\r\nhello\r\n.\r\n")
	assert.Equal(t, "250 Message accepted\r\n", readReply(t, reader))

	select {
	case info := <-received:
		assert.Equal(t, "a@b", info.From.String())
		require.Len(t, info.To, 1)
		assert.Equal(t, "c@d", info.To[0].String())
		subject, ok := info.Mail.GetRaw("Subject")
		require.True(t, ok)
		assert.Equal(t, "hi", subject)
	case <-time.After(2 * time.Second):
		t.Fatal("on_email was not invoked")
	}

	write("QUIT\r\n")
	readReply(t, reader)
}

func TestRunRcptBeforeMailRepliesBadSequence(t *testing.T) {
	client, reader, _ := runLoop(t, handler.Registry[fakeState]{})
	readReply(t, reader) // greeting

	_, err := client.Write([]byte("RCPT TO:<c@d>\r\n"))
	require.NoError(t, err)
	assert.Regexp(t, `^503 `, readReply(t, reader))

	_, _ = client.Write([]byte("QUIT\r\n"))
	readReply(t, reader)
}
