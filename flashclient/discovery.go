package flashclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BertoldVdb/spinor/flashserver"
	"github.com/grandcat/zeroconf"
)

// Endpoint is a flash server found on the network.
type Endpoint struct {
	Instance string
	Chip     string
	Size     uint32
	Addr     string
}

// URL returns the base URL to pass to New.
func (e Endpoint) URL() string {
	return "http://" + e.Addr
}

func parseEntry(m *zeroconf.ServiceEntry) (Endpoint, bool) {
	var chip, size string
	for _, m := range m.Text {
		kv := strings.SplitN(m, "=", 2)
		if len(kv) == 2 {
			key := strings.ToLower(kv[0])
			value := kv[1]

			switch key {
			case "chip":
				chip = value
			case "size":
				size = value
			}
		}
	}

	if chip == "" || size == "" {
		return Endpoint{}, false
	}

	sizeInt, err := strconv.ParseUint(size, 10, 32)
	if err != nil {
		return Endpoint{}, false
	}

	var addr string
	if len(m.AddrIPv4) > 0 {
		addr = m.AddrIPv4[0].String()
	} else if len(m.AddrIPv6) > 0 {
		addr = "[" + m.AddrIPv6[0].String() + "]"
	} else {
		return Endpoint{}, false
	}

	return Endpoint{
		Instance: m.Instance,
		Chip:     chip,
		Size:     uint32(sizeInt),
		Addr:     addr + fmt.Sprintf(":%d", m.Port),
	}, true
}

// Discover browses for flash servers until ctx is done. When filterChip is
// set only servers with that chip are returned.
func Discover(ctx context.Context, filterChip string) ([]Endpoint, error) {
	// The resolver is not reused as the host may switch networks between calls.
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	results := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, flashserver.ServiceType, "local", results); err != nil {
		return nil, err
	}

	var found []Endpoint
	seen := make(map[string]bool)
	for m := range results {
		e, ok := parseEntry(m)
		if !ok || seen[e.Addr] {
			continue
		}
		if filterChip != "" && !strings.EqualFold(e.Chip, filterChip) {
			continue
		}

		seen[e.Addr] = true
		found = append(found, e)
	}

	return found, nil
}
