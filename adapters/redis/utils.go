package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

const payloadField = "data"

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found or invalid type")
)

// DefaultParseToMessage 以 msgpack + base64 將資料編碼為 stream 消息的 data 欄位
func DefaultParseToMessage[T any](data T) (map[string]any, error) {
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}

	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{
		payloadField: base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// DefaultParseFromMessage 解碼 DefaultParseToMessage 產生的消息
func DefaultParseFromMessage[T any](message map[string]any) (T, error) {
	var result T
	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}
	if len(message) == 0 {
		return result, nil
	}

	var encoded string
	switch v := message[payloadField].(type) {
	case string:
		encoded = v
	case []byte:
		encoded = string(v)
	default:
		return result, ErrMissingPayload
	}

	bytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(bytes, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
