package rpc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	tooManyResultsRe = regexp.MustCompile(`Query returned more than \d+ results`)
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// IsTooManyResultsError reports whether err is the eth_getLogs result-limit
// DataError, and returns its error data.
func IsTooManyResultsError(err error) (bool, string) {
	var dataErr rpc.DataError
	if err == nil || !errors.As(err, &dataErr) {
		return false, ""
	}

	data := fmt.Sprintf("%v", dataErr.ErrorData())
	return tooManyResultsRe.MatchString(data), data
}

// SuggestedRange extracts the block range a provider proposes in a
// result-limit error, e.g. "Try with this block range [0x7dfd25, 0x7e0fcc]".
func SuggestedRange(err error) (fromBlock, toBlock uint64, ok bool) {
	match, data := IsTooManyResultsError(err)
	if !match {
		return 0, 0, false
	}
	return ParseSuggestedBlockRange(data)
}

// ParseSuggestedBlockRange parses the first "[0x.., 0x..]" pair in msg.
func ParseSuggestedBlockRange(msg string) (fromBlock, toBlock uint64, ok bool) {
	matches := suggestedRangeRe.FindStringSubmatch(msg)
	if len(matches) != 3 { //nolint:mnd
		return 0, 0, false
	}

	from, err1 := strconv.ParseUint(matches[1][2:], 16, 64)
	to, err2 := strconv.ParseUint(matches[2][2:], 16, 64)
	if err1 != nil || err2 != nil || from > to {
		return 0, 0, false
	}
	return from, to, true
}

// errorType labels err for the error metric.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, errRetriesExhausted):
		return "retries_exhausted"
	}
	if match, _ := IsTooManyResultsError(err); match {
		return "too_many_results"
	}
	return "non_retryable"
}
