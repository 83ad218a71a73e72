package pool

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/shmpub/errs"
)

var encodeBuffers = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// sizedWriter is implemented by fixed-capacity destinations such as shm buffers.
type sizedWriter interface {
	Len() int
	Written() int
}

// EncodeJSON marshals the value to JSON bytes without HTML escaping.
func EncodeJSON(v any) ([]byte, error) {
	buf := encodeBuffers.Get().(*bytes.Buffer)
	defer putEncodeBuffer(buf)
	data, err := encodeInto(buf, v)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

// WriteJSON encodes v and writes it to w in one call. When w has a fixed
// capacity the payload must fit the remaining space; nothing is written
// otherwise.
func WriteJSON(w io.Writer, v any) error {
	buf := encodeBuffers.Get().(*bytes.Buffer)
	defer putEncodeBuffer(buf)
	data, err := encodeInto(buf, v)
	if err != nil {
		return err
	}
	if sw, ok := w.(sizedWriter); ok {
		if room := sw.Len() - sw.Written(); len(data) > room {
			return errs.New("pool/json", errs.CodeInvalid,
				errs.WithMessage("payload does not fit buffer"),
				errs.WithDetail("payload", strconv.Itoa(len(data))),
				errs.WithDetail("room", strconv.Itoa(room)),
				errs.WithRemediation("increase shm.elementSize"))
		}
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write encoded json: %w", err)
	}
	return nil
}

func encodeInto(buf *bytes.Buffer, v any) ([]byte, error) {
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func putEncodeBuffer(buf *bytes.Buffer) {
	buf.Reset()
	encodeBuffers.Put(buf)
}
