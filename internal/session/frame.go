package session

import (
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	kindHello  = "hello"
	kindSample = "sample"
)

// frame is the message exchanged over a link. The first frame on every link
// is a hello carrying the sender's zid; every later frame is a sample.
type frame struct {
	Kind    string `json:"kind"`
	ZID     string `json:"zid"`
	Mode    string `json:"mode,omitempty"`
	Key     string `json:"key,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// scoutHello is the multicast discovery datagram.
type scoutHello struct {
	ZID      string   `json:"zid"`
	Mode     string   `json:"mode"`
	Locators []string `json:"locators"`
}

func encodeFrame(f frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.ZID == "" {
		return frame{}, fmt.Errorf("decode frame: missing zid")
	}
	switch f.Kind {
	case kindHello, kindSample:
	default:
		return frame{}, fmt.Errorf("decode frame: unknown kind %q", f.Kind)
	}
	return f, nil
}
