//go:build !fasttests

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gosmtpd/examples"
	"gosmtpd/handler"
	"gosmtpd/logging"
	"gosmtpd/session"
	"gosmtpd/smtpd"
)

type integrationState struct{}

func startTestAcceptor(t *testing.T, mailboxDir string) int {
	t.Helper()

	mailboxHandler, err := examples.NewMaildirHandler(mailboxDir)
	if err != nil {
		t.Fatalf("failed to create mailbox handler: %v", err)
	}

	authr := examples.NewAuthenticator()
	if err := authr.SetPassword("gooduser@example.com", "password"); err != nil {
		t.Fatalf("failed to seed authenticator: %v", err)
	}

	reg := handler.Registry[integrationState]{
		OnEmail: examples.MaildirOnEmail[integrationState](mailboxHandler),
		OnAuth:  examples.AuthOnAuth[integrationState](authr),
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("failed to release reserved listener: %v", err)
	}

	a := smtpd.New(smtpd.Config{
		Addr:          addr,
		SessionConfig: session.Config{Hostname: "gosmtpd.test"},
	}, reg, func() *integrationState { return &integrationState{} }, logging.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("acceptor did not shut down in time")
		}
	})

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split test address: %v", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("failed to parse test port: %v", err)
	}

	waitForPort(t, port)
	return port
}

func waitForPort(t *testing.T, port int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("acceptor never started listening on port %d", port)
}

func setupSMTPConnection(t *testing.T, port int) (net.Conn, *bufio.Reader, *bufio.Writer) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	readLine(t, reader) // greeting

	writeLine(t, writer, "EHLO client.example.com")
	for {
		line := readLine(t, reader)
		if strings.HasPrefix(line, "250 ") {
			break
		}
	}

	return conn, reader, writer
}

func writeLine(t *testing.T, writer *bufio.Writer, line string) {
	t.Helper()
	if _, err := writer.WriteString(line + "\r\n"); err != nil {
		t.Fatalf("Failed to write line '%s': %v", line, err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Failed to flush writer: %v", err)
	}
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

func TestSMTPIntegration(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "gosmtpd-integration-test-")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			t.Logf("Failed to remove temp directory: %v", err)
		}
	}()

	port := startTestAcceptor(t, tempDir)

	t.Run("BasicSMTPSession", func(t *testing.T) { testBasicSMTPSession(t, port) })
	t.Run("EHLOAdvertisesCapabilities", func(t *testing.T) { testEHLOCapabilities(t, port) })
	t.Run("RcptBeforeMailIsBadSequence", func(t *testing.T) { testRcptBeforeMail(t, port) })
	t.Run("Authentication", func(t *testing.T) { testAuthentication(t, port) })
	t.Run("MultipleRecipients", func(t *testing.T) { testMultipleRecipients(t, port) })
	t.Run("MessageStorage", func(t *testing.T) { testMessageStorage(t, port, tempDir) })
	t.Run("RSETCommand", func(t *testing.T) { testRSETCommand(t, port) })
	t.Run("NOOPCommand", func(t *testing.T) { testNOOPCommand(t, port) })
}

func testBasicSMTPSession(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "MAIL FROM:<sender@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for MAIL FROM, got: %s", response)
	}

	writeLine(t, writer, "RCPT TO:<recipient@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for RCPT TO, got: %s", response)
	}

	writeLine(t, writer, "DATA")
	if response := readLine(t, reader); !strings.Contains(response, "354") {
		t.Errorf("Expected 354 for DATA, got: %s", response)
	}

	writeLine(t, writer, "Subject: Test Message")
	writeLine(t, writer, "")
	writeLine(t, writer, "This is a test message.")
	writeLine(t, writer, ".")

	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for message, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	if response := readLine(t, reader); !strings.Contains(response, "221") {
		t.Errorf("Expected 221 for QUIT, got: %s", response)
	}
}

func testEHLOCapabilities(t *testing.T, port int) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	readLine(t, reader) // greeting

	writeLine(t, writer, "EHLO client.example.com")
	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if strings.HasPrefix(line, "250 ") {
			break
		}
	}
	full := strings.Join(lines, "")

	for _, want := range []string{"SIZE", "8BITMIME", "PIPELINING", "HELP", "STARTTLS", "AUTH"} {
		if !strings.Contains(full, want) {
			t.Errorf("expected EHLO response to advertise %s, got: %s", want, full)
		}
	}
}

func testRcptBeforeMail(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "RCPT TO:<recipient@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "503") {
		t.Errorf("Expected 503 bad sequence, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)
}

func testAuthentication(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	// base64("\x00gooduser@example.com\x00password")
	writeLine(t, writer, "AUTH PLAIN AGdvb2R1c2VyQGV4YW1wbGUuY29tAHBhc3N3b3Jk")
	if response := readLine(t, reader); !strings.Contains(response, "235") {
		t.Errorf("Expected 235 success, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)
}

func testMultipleRecipients(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "MAIL FROM:<sender@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for MAIL FROM, got: %s", response)
	}

	for _, recipient := range []string{"recipient1@example.com", "recipient2@example.com", "recipient3@example.com"} {
		writeLine(t, writer, fmt.Sprintf("RCPT TO:<%s>", recipient))
		if response := readLine(t, reader); !strings.Contains(response, "250") {
			t.Errorf("Expected 250 OK for RCPT TO %s, got: %s", recipient, response)
		}
	}

	writeLine(t, writer, "DATA")
	if response := readLine(t, reader); !strings.Contains(response, "354") {
		t.Errorf("Expected 354 for DATA, got: %s", response)
	}

	writeLine(t, writer, "Subject: Test Message")
	writeLine(t, writer, "")
	writeLine(t, writer, "This is a test message to multiple recipients.")
	writeLine(t, writer, ".")

	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for message, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)
}

func testMessageStorage(t *testing.T, port int, tempDir string) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)

	writeLine(t, writer, "RCPT TO:<recipient@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for RCPT TO, got: %s", response)
	}

	writeLine(t, writer, "DATA")
	if response := readLine(t, reader); !strings.Contains(response, "354") {
		t.Errorf("Expected 354 for DATA, got: %s", response)
	}

	testSubject := "Test Message Storage"
	testBody := "This is a test message for storage verification."
	writeLine(t, writer, "To: recipient@example.com")
	writeLine(t, writer, fmt.Sprintf("Subject: %s", testSubject))
	writeLine(t, writer, "")
	writeLine(t, writer, testBody)
	writeLine(t, writer, ".")

	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for message, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)

	newDir := filepath.Join(tempDir, "new")
	var files []string
	for i := 0; i < 50; i++ {
		matches, err := filepath.Glob(filepath.Join(newDir, "*"))
		if err != nil {
			t.Fatalf("Failed to list message files: %v", err)
		}
		if len(matches) > 0 {
			files = matches
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(files) == 0 {
		t.Fatal("No message files found in mailbox/new directory")
	}

	content, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		t.Fatalf("Failed to read message file: %v", err)
	}

	messageContent := string(content)
	if !strings.Contains(messageContent, "Return-Path: <sender@example.com>") {
		t.Error("Message should contain Return-Path header with the envelope sender")
	}
	if !strings.Contains(messageContent, "To: recipient@example.com") {
		t.Error("Message should contain To header")
	}
	if !strings.Contains(messageContent, testSubject) {
		t.Error("Message should contain subject")
	}
	if !strings.Contains(messageContent, testBody) {
		t.Error("Message should contain body text")
	}
	if !strings.Contains(messageContent, "Received: by gosmtpd") {
		t.Error("Message should contain Received header")
	}
}

func testRSETCommand(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)
	writeLine(t, writer, "RCPT TO:<recipient@example.com>")
	readLine(t, reader)

	writeLine(t, writer, "RSET")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for RSET, got: %s", response)
	}

	writeLine(t, writer, "MAIL FROM:<sender2@example.com>")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for MAIL FROM after RSET, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)
}

func testNOOPCommand(t *testing.T, port int) {
	conn, reader, writer := setupSMTPConnection(t, port)
	defer conn.Close()

	writeLine(t, writer, "NOOP")
	if response := readLine(t, reader); !strings.Contains(response, "250") {
		t.Errorf("Expected 250 OK for NOOP, got: %s", response)
	}

	writeLine(t, writer, "QUIT")
	readLine(t, reader)
}
