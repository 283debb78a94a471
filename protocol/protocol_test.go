package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandMapsKnownVerbs(t *testing.T) {
	cmd, err := ParseCommand("MAIL FROM:<a@b>\r\n")
	require.NoError(t, err)
	assert.Equal(t, MAIL, cmd.Verb)
	assert.Equal(t, "FROM:<a@b>", cmd.Data)
}

func TestParseCommandIsCaseInsensitiveOnVerb(t *testing.T) {
	cmd, err := ParseCommand("helo client.example\r\n")
	require.NoError(t, err)
	assert.Equal(t, HELO, cmd.Verb)
	assert.Equal(t, "client.example", cmd.Data)
}

func TestParseCommandPreservesUnknownVerbVerbatim(t *testing.T) {
	cmd, err := ParseCommand("XFOO bar\r\n")
	require.NoError(t, err)
	assert.Equal(t, Unknown, cmd.Verb)
	assert.Equal(t, "XFOO", cmd.Raw)
}

func TestParseCommandRejectsEmptyLine(t *testing.T) {
	_, err := ParseCommand("\r\n")
	assert.Error(t, err)
}

func TestParseMailAndRcptCommandData(t *testing.T) {
	assert.Equal(t, "a@b", ParseMailCommandData("FROM:<a@b>"))
	assert.Equal(t, "c@d", ParseRcptCommandData("TO:<c@d>"))
}

func TestParseCommandParamsExtractsKeyValues(t *testing.T) {
	params := ParseCommandParams("FROM:<a@b> SIZE=1024 BODY=8BITMIME")
	assert.Equal(t, "1024", params["SIZE"])
	assert.Equal(t, "8BITMIME", params["BODY"])
}

func TestParseCommandParamsReturnsNilWithoutParams(t *testing.T) {
	assert.Nil(t, ParseCommandParams("FROM:<a@b>"))
}

func TestMessageRenderSeparatorsPerLine(t *testing.T) {
	msg := NewMultilineMessage(StatusOK, "Hello", "SIZE 1048576", "STARTTLS")
	rendered := msg.Render()
	assert.Equal(t, "250-Hello\r\n250-SIZE 1048576\r\n250 STARTTLS\r\n", rendered)
}

func TestMessageIsSuccess(t *testing.T) {
	assert.True(t, NewMessage(StatusOK, "ok").IsSuccess())
	assert.False(t, NewMessage(StatusTransactionFailed, "fail").IsSuccess())
}

func TestErrorToMessageMapping(t *testing.T) {
	assert.Equal(t, StatusSyntaxError, NewParseError("bad").ToMessage().Status)
	assert.Equal(t, StatusNotImplemented, NewUnknownCommandError("FOO").ToMessage().Status)
	assert.Equal(t, StatusTransactionFailed, NewCustomError("boom").ToMessage().Status)
	assert.Equal(t, StatusTransactionFailed, NewSPFError("denied", nil).ToMessage().Status)
}

func TestStatusCodeString(t *testing.T) {
	assert.Equal(t, "250 OK", StatusOK.String())
	assert.Equal(t, "221 ServiceClosingTransmissionChannel", StatusClosing.String())
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "WaitingCommand", WaitingCommand.String())
	assert.Equal(t, "Closed", Closed.String())
}
