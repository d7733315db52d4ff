package network

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	amerr "convertnet/core/errors"
	"convertnet/native/converter"
)

// ValidatePath checks the shape of a conversion path: an odd number of
// addresses, at least one hop and at most maxHops hops.
func ValidatePath(path []common.Address, maxHops int) error {
	if len(path) < 3 || len(path)%2 == 0 {
		return fmt.Errorf("network: path of length %d: %w", len(path), amerr.ErrInvalidPath)
	}
	if maxHops > 0 && len(path) > 2*maxHops+1 {
		return fmt.Errorf("network: path of %d hops exceeds %d: %w", len(path)/2, maxHops, amerr.ErrInvalidPath)
	}
	for i, addr := range path {
		if addr == (common.Address{}) {
			return fmt.Errorf("network: empty address at %d: %w", i, amerr.ErrInvalidPath)
		}
	}
	return nil
}

// hop is one step of a resolved path.
type hop struct {
	pool   *converter.Converter
	source common.Address
	target common.Address
}

// resolve maps every anchor of path onto its converter.
func (n *Network) resolve(path []common.Address) ([]hop, error) {
	hops := make([]hop, 0, len(path)/2)
	for i := 1; i < len(path); i += 2 {
		pool, err := n.Converter(path[i])
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop{pool: pool, source: path[i-1], target: path[i+1]})
	}
	return hops, nil
}

type edge struct {
	from   common.Address
	anchor common.Address
}

// ConversionPath finds the shortest path from source to target through the
// registered converters. Ties are broken by registration order.
func (n *Network) ConversionPath(source, target common.Address) ([]common.Address, error) {
	if source == target {
		return nil, amerr.ErrSameSourceTarget
	}
	var path []common.Address
	err := n.state.View(func() error {
		var err error
		path, err = n.search(source, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ValidatePath(path, n.maxHops); err != nil {
		return nil, err
	}
	return path, nil
}

func (n *Network) search(source, target common.Address) ([]common.Address, error) {
	prev := map[common.Address]edge{source: {}}
	queue := []common.Address{source}
	for len(queue) > 0 {
		token := queue[0]
		queue = queue[1:]
		next, err := n.neighbours(token)
		if err != nil {
			return nil, err
		}
		for _, nb := range next {
			if _, seen := prev[nb.to]; seen {
				continue
			}
			prev[nb.to] = edge{from: token, anchor: nb.anchor}
			if nb.to == target {
				return unwind(prev, source, target), nil
			}
			queue = append(queue, nb.to)
		}
	}
	return nil, fmt.Errorf("network: no path from %s to %s: %w", source.Hex(), target.Hex(), amerr.ErrInvalidPath)
}

type neighbour struct {
	to     common.Address
	anchor common.Address
}

// neighbours lists the assets reachable from token in one conversion. A
// reserve reaches the other reserves of every converter holding it; a
// weighted pool also converts between its reserves and its own anchor.
func (n *Network) neighbours(token common.Address) ([]neighbour, error) {
	var out []neighbour
	anchors, err := n.registry.AnchorsFor(token)
	if err != nil {
		return nil, err
	}
	for _, anchor := range anchors {
		entry, err := n.registry.Entry(anchor)
		if err != nil {
			return nil, err
		}
		for _, r := range entry.Reserves {
			if r != token {
				out = append(out, neighbour{to: r, anchor: anchor})
			}
		}
		if converter.Type(entry.ConverterType) == converter.TypeWeighted {
			out = append(out, neighbour{to: anchor, anchor: anchor})
		}
	}
	isAnchor, err := n.registry.IsAnchor(token)
	if err != nil {
		return nil, err
	}
	if isAnchor {
		entry, err := n.registry.Entry(token)
		if err != nil {
			return nil, err
		}
		if converter.Type(entry.ConverterType) == converter.TypeWeighted {
			for _, r := range entry.Reserves {
				out = append(out, neighbour{to: r, anchor: token})
			}
		}
	}
	return out, nil
}

func unwind(prev map[common.Address]edge, source, target common.Address) []common.Address {
	path := []common.Address{target}
	for at := target; at != source; {
		e := prev[at]
		path = append(path, e.anchor, e.from)
		at = e.from
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
