// Command client is a manual smoke-testing CLI against the HTTP API: flags
// select an action (register, place, cancel, book, history, balance) and
// the command dispatches a single request and prints the result.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
)

func main() {
	serverAddr := flag.String("server", "http://127.0.0.1:9001", "Base URL of the exchange server")
	apiKey := flag.String("api-key", "", "API key for authenticated actions")
	action := flag.String("action", "place", "Action to perform: ['register', 'register-admin', 'place', 'cancel', 'book', 'history', 'balance']")

	name := flag.String("name", "", "Name to register (for 'register'/'register-admin')")
	ticker := flag.String("ticker", "AAPL", "Ticker symbol")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.String("price", "", "Limit price; omit for a MARKET order")
	qty := flag.String("qty", "10", "Order quantity")
	orderID := flag.String("order-id", "", "Order id to cancel (for 'cancel')")
	limit := flag.Int("limit", 10, "Depth/row limit for 'book'/'history'")

	flag.Parse()

	c := &client{base: strings.TrimRight(*serverAddr, "/"), apiKey: *apiKey}

	switch strings.ToLower(*action) {
	case "register":
		must(c.post("/api/v1/public/register", map[string]string{"name": *name}, nil))
	case "register-admin":
		must(c.post("/api/v1/public/register-admin", map[string]string{"name": *name}, nil))
	case "place":
		q, err := strconv.ParseInt(*qty, 10, 64)
		if err != nil {
			log.Fatalf("Error: invalid -qty %q", *qty)
		}
		body := map[string]any{"direction": strings.ToUpper(*sideStr), "ticker": *ticker, "qty": q}
		if *price != "" {
			p, err := strconv.ParseInt(*price, 10, 64)
			if err != nil {
				log.Fatalf("Error: invalid -price %q", *price)
			}
			body["price"] = p
		}
		must(c.postAuth("/api/v1/order", body, nil))
	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -order-id is required for cancel")
		}
		must(c.deleteAuth(fmt.Sprintf("/api/v1/order/%s", *orderID)))
	case "book":
		must(c.get(fmt.Sprintf("/api/v1/public/orderbook/%s?limit=%d", *ticker, *limit)))
	case "history":
		must(c.get(fmt.Sprintf("/api/v1/public/transactions/%s?limit=%d", *ticker, *limit)))
	case "balance":
		must(c.getAuth("/api/v1/balance"))
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// client is a minimal JSON-over-HTTP wrapper; it is not meant to be a
// general-purpose SDK, only enough to drive a manual smoke test.
type client struct {
	base   string
	apiKey string
	http   http.Client
}

func (c *client) do(method, path string, body any, authed bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "TOKEN "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, resp.Body); err != nil {
		return err
	}
	fmt.Printf("%d %s\n%s\n", resp.StatusCode, path, out.String())
	return nil
}

func (c *client) get(path string) error                      { return c.do(http.MethodGet, path, nil, false) }
func (c *client) getAuth(path string) error                   { return c.do(http.MethodGet, path, nil, true) }
func (c *client) post(path string, body any, _ any) error     { return c.do(http.MethodPost, path, body, false) }
func (c *client) postAuth(path string, body any, _ any) error { return c.do(http.MethodPost, path, body, true) }
func (c *client) deleteAuth(path string) error                { return c.do(http.MethodDelete, path, nil, true) }
