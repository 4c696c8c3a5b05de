package wire

import "fmt"

func bytes32(b [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, b[:])
	return out
}

func parse32(b []byte, field string) ([32]byte, error) {
	var out [32]byte
	if len(b) != 32 {
		return out, fmt.Errorf("invalid %s length: got %d, want 32", field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func bytes12(b [12]byte) []byte {
	out := make([]byte, 12)
	copy(out, b[:])
	return out
}

func parse12(b []byte, field string) ([12]byte, error) {
	var out [12]byte
	if len(b) != 12 {
		return out, fmt.Errorf("invalid %s length: got %d, want 12", field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func hashList(hs []Hash) [][]byte {
	out := make([][]byte, len(hs))
	for i, h := range hs {
		out[i] = bytes32(h)
	}
	return out
}

func parseHashList(bs [][]byte, field string) ([]Hash, error) {
	out := make([]Hash, len(bs))
	for i, b := range bs {
		h, err := parse32(b, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}
