package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrCSVStreamParserBufferAtCapacity))
	assert.False(t, Retryable(ErrCSVRowUnexpectedNumberOfColumns))
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(fmt.Errorf("plain error")))
}

func TestRetryableWrapped(t *testing.T) {
	wrapped := fmt.Errorf("adding chunk: %w", ErrCSVStreamParserBufferAtCapacity)
	assert.True(t, Retryable(wrapped))
}

func TestErrorCodesAreStable(t *testing.T) {
	assert.Equal(t, "CSV_ROW_UNEXPECTED_NUMBER_OF_COLUMNS", ErrCSVRowUnexpectedNumberOfColumns.Error())
	assert.Equal(t, "CSV_STREAM_PARSER_BUFFER_AT_CAPACITY", ErrCSVStreamParserBufferAtCapacity.Error())
	assert.Equal(t, "MATCH_TABLE_ELEMENT_ALREADY_EXISTS", ErrMatchTableElementAlreadyExists.Error())
	assert.Equal(t, "ID_ENCRYPTOR_NOT_DONE_WITH_EXISTING_ENCRYPTION", ErrEncryptorBusy.Error())
}

func TestIDDigestDoesNotLeakInput(t *testing.T) {
	d := IDDigest("user@example.com")
	assert.NotContains(t, d, "@")
	assert.NotEqual(t, "user@example.com", d)
	assert.Equal(t, d, IDDigest("user@example.com"))
}
