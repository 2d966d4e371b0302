package lattice

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the envelope wire format. The layout is protobuf
// compatible so other clients of the store can decode it with a schema:
//
//	message LWW { uint64 timestamp = 1; bytes value = 2; }
//	message Set { repeated string members = 1; }
const (
	fieldLWWTimestamp protowire.Number = 1
	fieldLWWValue     protowire.Number = 2
	fieldSetMembers   protowire.Number = 1
)

// Encode serializes an envelope into its payload bytes.
func Encode(e Envelope) ([]byte, error) {
	switch v := e.(type) {
	case LWW:
		b := protowire.AppendTag(nil, fieldLWWTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, v.Timestamp)
		b = protowire.AppendTag(b, fieldLWWValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Value)
		return b, nil
	case Set:
		var b []byte
		for _, m := range NewSet(v.Members).Members {
			b = protowire.AppendTag(b, fieldSetMembers, protowire.BytesType)
			b = protowire.AppendString(b, m)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, e)
	}
}

// Decode parses a payload according to its type tag.
func Decode(t Type, payload []byte) (Envelope, error) {
	switch t {
	case TypeLWW:
		return decodeLWW(payload)
	case TypeSet:
		return decodeSet(payload)
	case TypeNone:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

func decodeLWW(b []byte) (LWW, error) {
	out := LWW{Value: []byte{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return LWW{}, malformed(n)
		}
		b = b[n:]

		switch {
		case num == fieldLWWTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return LWW{}, malformed(n)
			}
			out.Timestamp = v
			b = b[n:]
		case num == fieldLWWValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return LWW{}, malformed(n)
			}
			out.Value = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return LWW{}, malformed(n)
			}
			b = b[n:]
		}
	}
	return out, nil
}

func decodeSet(b []byte) (Set, error) {
	var members []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Set{}, malformed(n)
		}
		b = b[n:]

		if num == fieldSetMembers && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Set{}, malformed(n)
			}
			members = append(members, string(v))
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return Set{}, malformed(n)
		}
		b = b[n:]
	}
	return NewSet(members), nil
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
