package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"quantra/internal/market"
)

const maxQuoteBody = 1 << 20

// NewHTTPQuote adapts a JSON quote endpoint into a QuoteFunc. The
// literal {symbol} in url is replaced per request; the response is
// read with the gjson paths "price", "volume", "bid", "ask" and
// "timestamp" (unix milliseconds, optional).
func NewHTTPQuote(client *http.Client, url string) QuoteFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, symbol string) (market.Message, error) {
		endpoint := strings.ReplaceAll(url, "{symbol}", symbol)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return market.Message{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return market.Message{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return market.Message{}, fmt.Errorf("quote %s: status %d", symbol, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteBody))
		if err != nil {
			return market.Message{}, err
		}

		root := gjson.ParseBytes(body)
		msg := market.Message{
			Symbol: market.NormalizeSymbol(symbol),
			Price:  root.Get("price").Float(),
			Volume: root.Get("volume").Float(),
			Bid:    root.Get("bid").Float(),
			Ask:    root.Get("ask").Float(),
		}
		if ms := root.Get("timestamp").Int(); ms > 0 {
			msg.Timestamp = time.UnixMilli(ms).UTC()
		} else {
			msg.Timestamp = time.Now().UTC()
		}
		if !msg.Valid() {
			return market.Message{}, fmt.Errorf("quote %s: invalid payload", symbol)
		}
		return msg, nil
	}
}
