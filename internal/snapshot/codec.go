package snapshot

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"kvorm/pkg/kv"
)

// Codec encodes a store snapshot for archiving.
type Codec interface {
	// Name is also the file extension of archived snapshots.
	Name() string
	ContentType() string
	Marshal(kv.Snapshot) ([]byte, error)
	Unmarshal([]byte, *kv.Snapshot) error
}

// JSON and BSON are the available codecs.
var (
	JSON Codec = jsonCodec{}
	BSON Codec = bsonCodec{}
)

var codecs = map[string]Codec{
	JSON.Name(): JSON,
	BSON.Name(): BSON,
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// codecForKey picks the codec from the key's extension.
func codecForKey(key string) (Codec, error) {
	return CodecByName(strings.TrimPrefix(path.Ext(key), "."))
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(s kv.Snapshot) ([]byte, error) { return json.Marshal(s) }

func (jsonCodec) Unmarshal(b []byte, s *kv.Snapshot) error { return json.Unmarshal(b, s) }

type bsonCodec struct{}

func (bsonCodec) Name() string        { return "bson" }
func (bsonCodec) ContentType() string { return "application/bson" }

func (bsonCodec) Marshal(s kv.Snapshot) ([]byte, error) { return bson.Marshal(s) }

func (bsonCodec) Unmarshal(b []byte, s *kv.Snapshot) error { return bson.Unmarshal(b, s) }
