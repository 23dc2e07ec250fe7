// Command bbbo prints the engine's best bid and best offer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"localtrader/domain/wire"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket gateway URL")
	timeout := flag.Duration("timeout", 5*time.Second, "how long to wait for the reply")
	flag.Parse()

	q, err := fetch(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to query exchange: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Best bid  : %s\n", side(q.Bid, q.HasBid))
	fmt.Printf("Best offer: %s\n", side(q.Offer, q.HasOffer))
}

func fetch(addr string, timeout time.Duration) (wire.Quote, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		return wire.Quote{}, err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(wire.TagBBBO)); err != nil {
		return wire.Quote{}, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return wire.Quote{}, err
		}
		// trades may arrive before the reply
		if strings.HasPrefix(string(msg), wire.TagBBBO+"|") {
			return wire.DecodeBBBO(string(msg))
		}
	}
}

func side(p decimal.Decimal, ok bool) string {
	if !ok {
		return "none"
	}
	return p.StringFixed(4)
}
