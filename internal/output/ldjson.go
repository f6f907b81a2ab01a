package output

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/torosent/crankloop/internal/sample"
)

type ldjsonEncoder struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func newLDJSONEncoder(out io.Writer) *ldjsonEncoder {
	buf := bufio.NewWriter(out)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &ldjsonEncoder{buf: buf, enc: enc}
}

func (e *ldjsonEncoder) header() error { return nil }

// encode writes the whole tree as a single line.
func (e *ldjsonEncoder) encode(s *sample.Sample, _ int64) (int, error) {
	if err := e.enc.Encode(s); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *ldjsonEncoder) flush() error {
	return e.buf.Flush()
}
