// Package serializer 提供缓存条目和状态广播的编码方式。
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnsupportedSerializer 不支持的序列化器类型
var ErrUnsupportedSerializer = fmt.Errorf("serializer: unsupported type")

// Serializer 序列化接口
type Serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
	// Name 返回序列化器名称，可用作 Content-Type 提示
	Name() string
}

// JSONSerializer JSON 序列化器
type JSONSerializer struct{}

func (JSONSerializer) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONSerializer) Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}

func (JSONSerializer) Name() string { return "json" }

// MessagePackSerializer MessagePack 序列化器，体积更小，适合 Redis 存储
type MessagePackSerializer struct{}

func (MessagePackSerializer) Marshal(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (MessagePackSerializer) Unmarshal(data []byte, dest any) error {
	return msgpack.Unmarshal(data, dest)
}

func (MessagePackSerializer) Name() string { return "msgpack" }

// New 创建序列化器
//
//   - "json" 或空: JSON
//   - "msgpack": MessagePack
func New(serializerType string) (Serializer, error) {
	switch serializerType {
	case "json", "":
		return JSONSerializer{}, nil
	case "msgpack":
		return MessagePackSerializer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSerializer, serializerType)
	}
}
