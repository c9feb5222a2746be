package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ceyewan/modelgate/cache"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// normalize 合并连续空白并去掉首尾空白
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalKey 语义相同的请求得到相同的键：空白差异忽略，温度保留两位小数
func canonicalKey(req *Request, format string) string {
	image := ""
	if req.Image != nil {
		sum := sha256.Sum256(req.Image.Data)
		image = req.Image.MIMEType + ":" + hex.EncodeToString(sum[:])
	}
	return cache.HashKey(
		normalize(req.Prompt),
		normalize(req.System),
		strconv.FormatFloat(req.Params.Temperature, 'f', 2, 64),
		strconv.FormatFloat(req.Params.TopP, 'f', 2, 64),
		strconv.Itoa(req.Params.MaxOutputTokens),
		req.Model,
		format,
		image,
	)
}
