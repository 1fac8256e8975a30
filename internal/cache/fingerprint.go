package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
)

// Fingerprint derives a deterministic cache key for a chat request. The key
// covers the fields that change the completion: model, message roles and
// content, temperature, max_tokens, and the tool-name set. Message content
// is canonicalized so JSON object key order does not affect the key.
func Fingerprint(req *gateway.ChatRequest) string {
	var b strings.Builder
	b.WriteString("model=")
	b.WriteString(req.Model)

	for _, m := range req.Messages {
		b.WriteString("|m=")
		b.WriteString(m.Role)
		b.WriteByte(':')
		b.Write(canonicalJSON(m.Content))
	}

	if req.Temperature != nil {
		b.WriteString("|temp=")
		b.WriteString(strconv.FormatFloat(*req.Temperature, 'g', -1, 64))
	}
	if req.MaxTokens != nil {
		b.WriteString("|max=")
		b.WriteString(strconv.Itoa(*req.MaxTokens))
	}

	if names := toolNames(req.Tools); len(names) > 0 {
		b.WriteString("|tools=")
		b.WriteString(strings.Join(names, ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON re-marshals a JSON value with object keys sorted at every
// level. Invalid JSON is returned as-is.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v) // map keys marshal in sorted order
	if err != nil {
		return raw
	}
	return out
}

// toolNames extracts the sorted set of function names from the OpenAI tools
// array.
func toolNames(tools json.RawMessage) []string {
	if len(tools) == 0 {
		return nil
	}
	var names []string
	gjson.ParseBytes(tools).ForEach(func(_, t gjson.Result) bool {
		if n := t.Get("function.name").String(); n != "" {
			names = append(names, n)
		}
		return true
	})
	sort.Strings(names)
	return names
}
