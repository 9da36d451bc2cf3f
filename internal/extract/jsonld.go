package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// ldNode is the tolerant shape for embedded JSON-LD blocks. Pages wrap
// products in @graph arrays, bare objects, or top-level arrays.
type ldNode struct {
	Context     json.RawMessage   `json:"@context"`
	Type        json.RawMessage   `json:"@type"`
	Graph       []json.RawMessage `json:"@graph"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Offers      json.RawMessage   `json:"offers"`
}

type ldOffer struct {
	Type          json.RawMessage `json:"@type"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	SKU           string          `json:"sku"`
	Price         json.RawMessage `json:"price"`
	LowPrice      json.RawMessage `json:"lowPrice"`
	PriceCurrency string          `json:"priceCurrency"`
}

// structuredOffer is one machine-readable price candidate with the
// descriptive text used for variant matching and blacklist gating.
type structuredOffer struct {
	Price    float64
	Currency string
	Label    string
}

func typeContains(raw json.RawMessage, want string) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.EqualFold(single, want)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// structuredOffers collects every Product offer embedded in the page's
// JSON-LD blocks, plus price meta tags unless the rule forbids them.
func structuredOffers(doc *goquery.Document, avoidMetaTags bool) []structuredOffer {
	var offers []structuredOffer

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		for _, node := range decodeNodes([]byte(raw)) {
			offers = append(offers, offersFromNode(node)...)
		}
	})

	if !avoidMetaTags {
		doc.Find(`meta[itemprop="price"], meta[property="product:price:amount"], meta[property="og:price:amount"]`).
			Each(func(_ int, s *goquery.Selection) {
				content, ok := s.Attr("content")
				if !ok {
					return
				}
				value, currency, err := ParsePrice(content)
				if err != nil {
					return
				}
				offers = append(offers, structuredOffer{Price: value, Currency: currency, Label: "meta price"})
			})
	}

	return offers
}

// decodeNodes flattens a JSON-LD payload (object, array, or @graph) into
// candidate nodes, ignoring anything that fails to decode.
func decodeNodes(raw []byte) []ldNode {
	var nodes []ldNode

	var one ldNode
	if err := json.Unmarshal(raw, &one); err == nil {
		if len(one.Graph) > 0 {
			for _, g := range one.Graph {
				var n ldNode
				if json.Unmarshal(g, &n) == nil {
					nodes = append(nodes, n)
				}
			}
			return nodes
		}
		return []ldNode{one}
	}

	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, m := range many {
			var n ldNode
			if json.Unmarshal(m, &n) == nil {
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}

func offersFromNode(node ldNode) []structuredOffer {
	if !typeContains(node.Type, "Product") || len(node.Offers) == 0 {
		return nil
	}

	raws := []json.RawMessage{node.Offers}
	var asArray []json.RawMessage
	if err := json.Unmarshal(node.Offers, &asArray); err == nil {
		raws = asArray
	}

	var out []structuredOffer
	for _, r := range raws {
		var offer ldOffer
		if json.Unmarshal(r, &offer) != nil {
			continue
		}
		price, ok := rawNumber(offer.Price)
		if !ok {
			// AggregateOffer exposes lowPrice instead.
			price, ok = rawNumber(offer.LowPrice)
		}
		if !ok || price <= 0 {
			continue
		}
		label := strings.TrimSpace(strings.Join([]string{node.Name, offer.Name, offer.SKU, offer.Description}, " "))
		out = append(out, structuredOffer{
			Price:    price,
			Currency: strings.ToUpper(offer.PriceCurrency),
			Label:    label,
		})
	}
	return out
}

// pickOffer chooses among surviving offers: the offer matching the most
// declared variant attributes wins; remaining ties break to the offer
// closest to the previous recorded price, or the lowest price when no
// previous price exists. The tie-break is deliberately confined to this
// tier.
func pickOffer(offers []structuredOffer, attrs []models.VariantAttribute, previousPrice float64) structuredOffer {
	best := offers[0]
	bestScore := variantScore(best.Label, attrs)
	for _, o := range offers[1:] {
		score := variantScore(o.Label, attrs)
		switch {
		case score > bestScore:
			best, bestScore = o, score
		case score == bestScore && closer(o.Price, best.Price, previousPrice):
			best = o
		}
	}
	return best
}

func variantScore(label string, attrs []models.VariantAttribute) int {
	score := 0
	for _, a := range attrs {
		if util.TokenMatch(label, a.Value) {
			score++
		}
	}
	return score
}

// closer reports whether a beats b under the tie-break rule.
func closer(a, b, previous float64) bool {
	if previous > 0 {
		return math.Abs(a-previous) < math.Abs(b-previous)
	}
	return a < b
}
