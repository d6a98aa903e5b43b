package collective

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Wire format: a single version byte followed by a canonical CBOR body.
//
// Canonical encoding matters: the negotiation engine must produce a
// byte-identical ResponseList regardless of the order ranks reported in, so
// the codec cannot introduce nondeterminism of its own (e.g., map key
// ordering).

// WireVersion is the current version tag prefixed to every encoded message.
// Decoders reject buffers carrying any other version.
const WireVersion byte = 1

// ErrMalformedMessage is wrapped by every decode failure: truncated or
// corrupt buffers, trailing garbage, or an unknown wire version. Test with
// errors.Is.
var ErrMalformedMessage = errors.New("malformed collective message")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("collective: failed to create CBOR encoding mode: %v", err))
	}
	cborEncMode = em
}

func encode(m any, what string) ([]byte, error) {
	body, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", what)
	}
	buf := make([]byte, 0, 1+len(body))
	buf = append(buf, WireVersion)
	return append(buf, body...), nil
}

func decode(data []byte, m any, what string) error {
	if len(data) == 0 {
		return errors.Wrapf(ErrMalformedMessage, "empty buffer while decoding %s", what)
	}
	if data[0] != WireVersion {
		return errors.Wrapf(ErrMalformedMessage, "unknown wire version %d while decoding %s", data[0], what)
	}
	// cbor.Unmarshal rejects both truncated buffers and trailing garbage.
	if err := cbor.Unmarshal(data[1:], m); err != nil {
		return errors.Wrapf(ErrMalformedMessage, "decoding %s: %v", what, err)
	}
	return nil
}

// Encode serializes the request to its canonical wire representation.
func (r *Request) Encode() ([]byte, error) {
	return encode(r, "Request")
}

// DecodeRequest deserializes a Request from its wire representation.
func DecodeRequest(data []byte) (*Request, error) {
	r := &Request{}
	if err := decode(data, r, "Request"); err != nil {
		return nil, err
	}
	return r, nil
}

// Encode serializes the request list to its canonical wire representation.
func (l *RequestList) Encode() ([]byte, error) {
	return encode(l, "RequestList")
}

// DecodeRequestList deserializes a RequestList from its wire representation.
func DecodeRequestList(data []byte) (*RequestList, error) {
	l := &RequestList{}
	if err := decode(data, l, "RequestList"); err != nil {
		return nil, err
	}
	return l, nil
}

// Encode serializes the response to its canonical wire representation.
func (r *Response) Encode() ([]byte, error) {
	return encode(r, "Response")
}

// DecodeResponse deserializes a Response from its wire representation.
func DecodeResponse(data []byte) (*Response, error) {
	r := &Response{}
	if err := decode(data, r, "Response"); err != nil {
		return nil, err
	}
	return r, nil
}

// Encode serializes the response list to its canonical wire representation.
func (l *ResponseList) Encode() ([]byte, error) {
	return encode(l, "ResponseList")
}

// DecodeResponseList deserializes a ResponseList from its wire
// representation.
func DecodeResponseList(data []byte) (*ResponseList, error) {
	l := &ResponseList{}
	if err := decode(data, l, "ResponseList"); err != nil {
		return nil, err
	}
	return l, nil
}
