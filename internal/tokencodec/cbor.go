package tokencodec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Payloads are encoded with Core Deterministic Encoding so the same
// payload always produces the same plaintext bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tokencodec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// A sealed payload is tiny; anything large is not ours
		MaxArrayElements: 256,
		MaxMapPairs:      256,
	}.DecMode()
	if err != nil {
		panic("tokencodec: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalPayload(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalPayload(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
