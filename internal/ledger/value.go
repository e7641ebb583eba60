package ledger

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the log value record:
//
//	message LogValue { string input = 1; string result = 2; }
const (
	fieldInput  protowire.Number = 1
	fieldResult protowire.Number = 2
)

var errBadValue = errors.New("malformed log value")

func encodeLogValue(input, result string) []byte {
	b := make([]byte, 0, len(input)+len(result)+8)
	b = protowire.AppendTag(b, fieldInput, protowire.BytesType)
	b = protowire.AppendString(b, input)
	b = protowire.AppendTag(b, fieldResult, protowire.BytesType)
	b = protowire.AppendString(b, result)
	return b
}

// decodeLogValue parses a log value. Unknown fields are skipped.
func decodeLogValue(b []byte) (input, result string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: %v", errBadValue, protowire.ParseError(n))
		}
		b = b[n:]

		if (num == fieldInput || num == fieldResult) && typ == protowire.BytesType {
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return "", "", fmt.Errorf("%w: field %d: %v", errBadValue, num, protowire.ParseError(m))
			}
			if num == fieldInput {
				input = s
			} else {
				result = s
			}
			b = b[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return "", "", fmt.Errorf("%w: field %d: %v", errBadValue, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return input, result, nil
}
