package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// base carries what every provider variant shares.
type base struct {
	id     string
	webURL string
	get    Getter
}

func (b *base) ID() string     { return b.id }
func (b *base) WebURL() string { return b.webURL }

func (b *base) getJSON(ctx context.Context, url string, headers map[string]string) (any, error) {
	body, err := b.get.Get(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

func decodeJSON(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(b), &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// pathGet walks a dotted path of object keys ("data.items"). An empty path
// returns v itself.
func pathGet(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func defaultStr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// intOrNil parses a scraped number for storage; unparseable text is stored
// as null so the raw payload stays faithful to what the provider showed.
func intOrNil(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return n
}
