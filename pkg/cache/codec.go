package cache

import (
	"github.com/goccy/go-json"
)

// Token is the canonical, comparable form of a key or value. Tokens index
// the store, so two keys whose encodings are byte-equal address the same
// entry. Equality is structural, not based on identity.
type Token string

// Codec canonicalizes values of type T. Implementations must be
// deterministic: Encode(a) == Encode(b) exactly when a and b are
// structurally equal, and Decode(Encode(x)) must reproduce x for every
// supported shape of T.
type Codec[T any] interface {
	Encode(T) (Token, error)
	Decode(Token) (T, error)
}

// JSONCodec canonicalizes through JSON. Map keys are emitted in sorted
// order, so structurally equal maps built in different insertion orders
// collide on the same token. Values JSON cannot represent (channels, funcs,
// cyclic structures) fail with the encoder's error.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (Token, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Token(raw), nil
}

func (JSONCodec[T]) Decode(tok Token) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(tok), &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// StringCodec is an identity codec for plain string keys. It skips the JSON
// round trip, so tokens stay readable in logs and metrics labels.
type StringCodec struct{}

func (StringCodec) Encode(s string) (Token, error) { return Token(s), nil }

func (StringCodec) Decode(tok Token) (string, error) { return string(tok), nil }

var (
	_ Codec[string] = StringCodec{}
	_ Codec[int]    = JSONCodec[int]{}
)
