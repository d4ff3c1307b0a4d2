package runtime

import "strings"

// price is USD per million tokens.
type price struct {
	input, output float64
}

// prices are matched in order against the model name; the first hit wins.
var prices = []struct {
	match string
	price price
}{
	{"opus-4-5", price{input: 5, output: 25}},
	{"opus", price{input: 15, output: 75}},
	{"haiku-4-5", price{input: 1, output: 5}},
	{"haiku", price{input: 0.8, output: 4}},
	{"sonnet", price{input: 3, output: 15}},
}

// Cache writes bill at 1.25x input, cache reads at 0.1x input.
const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

func priceFor(model string) price {
	model = strings.ToLower(model)
	for _, p := range prices {
		if strings.Contains(model, p.match) {
			return p.price
		}
	}
	return price{input: 3, output: 15}
}

// tokenUsage is the usage block of one assistant message.
type tokenUsage struct {
	input, output, cacheWrite, cacheRead int64
}

// estimateCost prices one message's usage. It is replaced by the runtime's
// own figure once the result line arrives.
func estimateCost(model string, u tokenUsage) float64 {
	p := priceFor(model)
	in := float64(u.input) + float64(u.cacheWrite)*cacheWriteFactor + float64(u.cacheRead)*cacheReadFactor
	return (in*p.input + float64(u.output)*p.output) / 1e6
}
