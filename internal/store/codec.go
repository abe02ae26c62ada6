package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TokenSink is the write half of a token holder; both groups and users
// satisfy it.
type TokenSink interface {
	AddPermission(token string) bool
	AddTimedPermission(token string, expires int64) bool
}

// EncodeToken renders a token with its expiry as "token|expiry". Permanent
// tokens keep their plain form.
func EncodeToken(token string, expires int64) string {
	if expires == 0 {
		return token
	}
	return token + "|" + strconv.FormatInt(expires, 10)
}

// DecodeToken splits a stored entry into its token and expiry. An entry
// without a separator is a permanent token.
func DecodeToken(entry string) (string, int64, error) {
	i := strings.LastIndex(entry, "|")
	if i < 0 {
		return entry, 0, nil
	}
	token := entry[:i]
	expires, err := strconv.ParseInt(entry[i+1:], 10, 64)
	if err != nil || token == "" {
		return "", 0, fmt.Errorf("%w: timed entry %q", ErrCorrupt, entry)
	}
	return token, expires, nil
}

// EncodeTokens renders the full token state of a unit: static tokens in
// their stored order, then timed tokens sorted by name.
func EncodeTokens(static []string, timed map[string]int64) []string {
	out := make([]string, 0, len(static)+len(timed))
	out = append(out, static...)
	names := make([]string, 0, len(timed))
	for token := range timed {
		names = append(names, token)
	}
	sort.Strings(names)
	for _, token := range names {
		out = append(out, EncodeToken(token, timed[token]))
	}
	return out
}

// ApplyToken decodes a stored entry and applies it to the sink.
func ApplyToken(sink TokenSink, entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	token, expires, err := DecodeToken(entry)
	if err != nil {
		return err
	}
	if expires == 0 {
		sink.AddPermission(token)
	} else {
		sink.AddTimedPermission(token, expires)
	}
	return nil
}

// JoinTokens renders token entries as one comma-joined blob, the relational
// storage form.
func JoinTokens(entries []string) string {
	return strings.Join(entries, ",")
}

// SplitTokens splits a comma-joined blob back into entries, dropping
// empties.
func SplitTokens(blob string) []string {
	if strings.TrimSpace(blob) == "" {
		return nil
	}
	parts := strings.Split(blob, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
