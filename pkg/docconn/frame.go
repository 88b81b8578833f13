package docconn

import "fmt"

// Frame tags distinguish sync messages (state-vector exchange, update
// propagation) from awareness messages (spec.md §4.4). One leading tag
// byte, then the payload: a minimal hand-framed envelope rather than a
// generated wire schema, since this is the only framing the protocol
// needs (see SPEC_FULL.md's note on dropping grpc/protobuf).
const (
	frameSync      byte = 0
	frameAwareness byte = 1
)

func encodeFrame(tag byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = tag
	copy(out[1:], payload)
	return out
}

func decodeFrame(raw []byte) (tag byte, payload []byte, err error) {
	if len(raw) < 1 {
		return 0, nil, fmt.Errorf("docconn: empty frame")
	}
	return raw[0], raw[1:], nil
}
