package binance

import (
	"net/url"
	"strings"
)

// params is an insertion-ordered query string builder. The exchange signs
// the exact bytes sent, so ordering must be stable between signing and
// sending.
type params struct {
	keys []string
	vals []string
}

func (p *params) add(key, value string) *params {
	p.keys = append(p.keys, key)
	p.vals = append(p.vals, value)
	return p
}

func (p *params) encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.vals[i]))
	}
	return b.String()
}
