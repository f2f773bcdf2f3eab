package main

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
)

// countTokens estimates the token count of text for the audit log. The
// encoding is loaded lazily; if it cannot be loaded (offline host, unknown
// model) the count is 0 rather than failing the exchange.
func countTokens(text string) int {
	tokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("[Tokens] Encoding unavailable, token counts disabled: %v", err)
			return
		}
		tokenEnc = enc
	})
	if tokenEnc == nil || text == "" {
		return 0
	}
	return len(tokenEnc.Encode(text, nil, nil))
}
