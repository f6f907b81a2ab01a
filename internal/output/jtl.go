package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/torosent/crankloop/internal/sample"
)

var jtlHeader = []string{
	"timeStamp", "elapsed", "Latency", "label", "responseCode",
	"responseMessage", "success", "allThreads", "bytes",
}

type jtlEncoder struct {
	w *csv.Writer
}

func newJTLEncoder(out io.Writer) *jtlEncoder {
	return &jtlEncoder{w: csv.NewWriter(out)}
}

func (e *jtlEncoder) header() error {
	return e.w.Write(jtlHeader)
}

// encode writes one row per leaf of the tree. Wrapper nodes only produce a
// row when they have no children of their own.
func (e *jtlEncoder) encode(s *sample.Sample, lanes int64) (int, error) {
	leaves := s.Leaves()
	for _, leaf := range leaves {
		if err := e.w.Write(jtlRow(leaf, lanes)); err != nil {
			return 0, err
		}
	}
	return len(leaves), nil
}

func (e *jtlEncoder) flush() error {
	e.w.Flush()
	return e.w.Error()
}

func jtlRow(s *sample.Sample, lanes int64) []string {
	var ts int64
	if !s.StartTime.IsZero() {
		ts = s.StartTime.UnixMilli()
	}
	code, message := responseOf(s)
	bytes := intExtra(s.Extras, "responseHeadersSize") + 2 + intExtra(s.Extras, "responseBodySize")

	success := "false"
	if s.Status == sample.StatusPassed {
		success = "true"
	}
	return []string{
		strconv.FormatInt(ts, 10),
		strconv.FormatInt(s.Duration.Milliseconds(), 10),
		"0",
		s.TestCase,
		code,
		message,
		success,
		strconv.FormatInt(lanes, 10),
		strconv.Itoa(bytes),
	}
}

// responseOf returns the response code and message of s, falling back to the
// last descendant that has one. The message falls back to the error message.
func responseOf(s *sample.Sample) (string, string) {
	source := lastWithResponse(s)
	if source == nil {
		return "", s.ErrorMessage
	}
	code := fmt.Sprint(source.Extras["responseCode"])
	message, ok := source.Extras["responseMessage"].(string)
	if !ok {
		message = s.ErrorMessage
	}
	return code, message
}

func lastWithResponse(s *sample.Sample) *sample.Sample {
	if v, ok := s.Extras["responseCode"]; ok && v != nil {
		return s
	}
	for i := len(s.Children) - 1; i >= 0; i-- {
		if found := lastWithResponse(s.Children[i]); found != nil {
			return found
		}
	}
	return nil
}

func intExtra(extras map[string]any, key string) int {
	switch v := extras[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
