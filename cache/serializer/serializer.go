// Package serializer 定义缓存条目与索引在 L2/L3 中的编码方式。
package serializer

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/modelgate/xerrors"
)

// ErrUnsupported 未知的编码名称
var ErrUnsupported = xerrors.Wrap(xerrors.ErrInvalidInput, "serializer: unsupported type")

const (
	JSON    = "json"
	MsgPack = "msgpack"
)

// Serializer 编解码接口
type Serializer interface {
	Name() string
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string                          { return JSON }
func (jsonSerializer) Marshal(v any) ([]byte, error)         { return json.Marshal(v) }
func (jsonSerializer) Unmarshal(data []byte, dest any) error { return json.Unmarshal(data, dest) }

// msgpackSerializer 二进制编码，体积小于 JSON，是磁盘层的默认选择
type msgpackSerializer struct{}

func (msgpackSerializer) Name() string                          { return MsgPack }
func (msgpackSerializer) Marshal(v any) ([]byte, error)         { return msgpack.Marshal(v) }
func (msgpackSerializer) Unmarshal(data []byte, dest any) error { return msgpack.Unmarshal(data, dest) }

// New 按名称创建编码器，空名称为 msgpack
func New(name string) (Serializer, error) {
	switch name {
	case MsgPack, "":
		return msgpackSerializer{}, nil
	case JSON:
		return jsonSerializer{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupported, "%q", name)
	}
}
