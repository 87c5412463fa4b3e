package common

import "errors"

// CodedError is an error with a stable machine-readable code. Codes are part
// of the external surface: operators alert on them and job failure records
// carry them verbatim.
type CodedError struct {
	Code      string
	Transient bool
}

func (e *CodedError) Error() string {
	return e.Code
}

// Retryable returns true if err (or any error it wraps) is a transient
// condition that permits retrying the same call once the condition clears.
func Retryable(err error) bool {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Transient
	}
	return false
}

var (
	// CSV row construction and access.
	ErrCSVRowUnexpectedNumberOfColumns = &CodedError{Code: "CSV_ROW_UNEXPECTED_NUMBER_OF_COLUMNS"}
	ErrCSVColIndexOutOfBounds          = &CodedError{Code: "CSV_COL_INDEX_OUT_OF_BOUNDS"}

	// CSV stream parser. BufferAtCapacity is the backpressure signal: the
	// producer retries the same chunk after the consumer drains rows.
	ErrCSVStreamParserBufferAtCapacity = &CodedError{Code: "CSV_STREAM_PARSER_BUFFER_AT_CAPACITY", Transient: true}
	ErrCSVStreamParserNoRowAvailable   = &CodedError{Code: "CSV_STREAM_PARSER_NO_ROW_AVAILABLE"}

	// Match table.
	ErrMatchTableElementAlreadyExists = &CodedError{Code: "MATCH_TABLE_ELEMENT_ALREADY_EXISTS"}
	ErrMatchTableElementDoesNotExist  = &CodedError{Code: "MATCH_TABLE_ELEMENT_DOES_NOT_EXIST"}

	// Surrogate assignment.
	ErrEncryptorBusy = &CodedError{Code: "ID_ENCRYPTOR_NOT_DONE_WITH_EXISTING_ENCRYPTION"}

	// Publisher list fetching.
	ErrPublisherListOpeningFile = &CodedError{Code: "PUBLISHER_LIST_FETCHER_ERROR_OPENING_FILE"}
	ErrPublisherListParsingData = &CodedError{Code: "PUBLISHER_LIST_FETCHER_ERROR_PARSING_DATA"}

	// Stream lifecycle.
	ErrStreamCancelled = &CodedError{Code: "STREAM_CANCELLED"}
	ErrQueueFull       = &CodedError{Code: "QUEUE_FULL"}
)
