package tools

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// webSearchTimeout bounds each free-upstream lookup.
const webSearchTimeout = 15 * time.Second

// searchIntent is one routable query kind.
type searchIntent int

const (
	intentGeneral searchIntent = iota
	intentWeather
	intentCrypto
	intentGold
	intentSilver
	intentOil
	intentGas
	intentServiceStatus
)

var (
	weatherRe = regexp.MustCompile(`(?i)\b(weather|forecast|temperature|raining|snowing|umbrella|humidity)\b`)
	cryptoRe  = regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|dogecoin|doge|solana|sol|crypto)\b`)
	goldRe    = regexp.MustCompile(`(?i)\bgold\b`)
	silverRe  = regexp.MustCompile(`(?i)\bsilver\b`)
	oilRe     = regexp.MustCompile(`(?i)\b(crude|oil|brent|wti)\b`)
	gasRe     = regexp.MustCompile(`(?i)\bnatural gas\b`)
	statusRe  = regexp.MustCompile(`(?i)\b(down|outage|offline|status)\b`)

	// "weather in Paris", "is it raining in New York today"
	locationRe = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+([A-Za-zÀ-ÿ][\w\s.'-]{1,40}?)(?:\s+(?:today|tomorrow|tonight|right now|now))?\s*\??$`)
	// "is github down"
	serviceRe = regexp.MustCompile(`(?i)\bis\s+([\w.-]+)\s+(?:down|up|offline|working)\b`)

	cryptoIDs = map[string]string{
		"btc": "bitcoin", "bitcoin": "bitcoin",
		"eth": "ethereum", "ethereum": "ethereum",
		"doge": "dogecoin", "dogecoin": "dogecoin",
		"sol": "solana", "solana": "solana",
	}
)

func classifyIntent(query string) searchIntent {
	switch {
	case weatherRe.MatchString(query):
		return intentWeather
	case cryptoRe.MatchString(query):
		return intentCrypto
	case gasRe.MatchString(query):
		return intentGas
	case goldRe.MatchString(query):
		return intentGold
	case silverRe.MatchString(query):
		return intentSilver
	case oilRe.MatchString(query):
		return intentOil
	case statusRe.MatchString(query):
		return intentServiceStatus
	}
	return intentGeneral
}

// newWebSearchTool builds the built-in web_search tool. The description
// deliberately calls out weather, news and prices so smaller models know
// when to reach for it.
func newWebSearchTool() *Tool {
	client := &http.Client{Timeout: webSearchTimeout}
	return &Tool{
		Name:        "web_search",
		Description: "Search the web for current information: weather, news, crypto and commodity prices, service status. Use for any question that needs up-to-the-minute data.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("web_search requires a query string")
			}
			return runWebSearch(ctx, client, query), nil
		},
	}
}

// runWebSearch routes the query to a free upstream per intent.
// Failures degrade to a textual error result.
func runWebSearch(ctx context.Context, client *http.Client, query string) string {
	switch classifyIntent(query) {
	case intentWeather:
		return fetchWeather(ctx, client, query)
	case intentCrypto:
		return fetchCrypto(ctx, client, query)
	case intentGold:
		return fetchMetal(ctx, client, "gold")
	case intentSilver:
		return fetchMetal(ctx, client, "silver")
	case intentServiceStatus:
		return fetchServiceStatus(ctx, client, query)
	case intentOil:
		return "No free real-time source is configured for oil prices. Suggest the user check a financial data site such as marketwatch.com or tradingeconomics.com."
	case intentGas:
		return "No free real-time source is configured for natural gas prices. Suggest the user check a financial data site such as tradingeconomics.com."
	}
	return fmt.Sprintf("No free search upstream is configured for general queries. Answer from your own knowledge and say the information may be outdated. Query was: %s", query)
}

func extractLocation(query string) string {
	if m := locationRe.FindStringSubmatch(query); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func fetchWeather(ctx context.Context, client *http.Client, query string) string {
	// An empty location lets wttr.in resolve the caller's own.
	location := extractLocation(query)
	u := "https://wttr.in/" + url.PathEscape(location) + "?format=j1"
	body, err := httpGet(ctx, client, u)
	if err != nil {
		log.Printf("⚠️ web_search: wttr.in failed: %v", err)
		return fmt.Sprintf("Weather lookup failed: %v", err)
	}
	current := gjson.GetBytes(body, "current_condition.0")
	if !current.Exists() {
		return "Weather lookup returned no current conditions."
	}
	area := gjson.GetBytes(body, "nearest_area.0.areaName.0.value").String()
	if area == "" {
		area = location
	}
	return fmt.Sprintf(
		"Weather for %s:\n- conditions: %s\n- temperature: %s°C (feels like %s°C)\n- humidity: %s%%\n- wind: %s km/h\n- precipitation: %s mm\n- observation_time: %s",
		area,
		current.Get("weatherDesc.0.value").String(),
		current.Get("temp_C").String(),
		current.Get("FeelsLikeC").String(),
		current.Get("humidity").String(),
		current.Get("windspeedKmph").String(),
		current.Get("precipMM").String(),
		current.Get("observation_time").String(),
	)
}

func fetchCrypto(ctx context.Context, client *http.Client, query string) string {
	id := "bitcoin"
	lower := strings.ToLower(query)
	for token, coinID := range cryptoIDs {
		if strings.Contains(lower, token) {
			id = coinID
			break
		}
	}
	u := "https://api.coingecko.com/api/v3/simple/price?ids=" + id + "&vs_currencies=usd&include_24hr_change=true"
	body, err := httpGet(ctx, client, u)
	if err != nil {
		log.Printf("⚠️ web_search: coingecko failed: %v", err)
		return fmt.Sprintf("Crypto price lookup failed: %v", err)
	}
	price := gjson.GetBytes(body, id+".usd")
	if !price.Exists() {
		return fmt.Sprintf("Crypto price lookup returned no data for %s.", id)
	}
	return fmt.Sprintf(
		"Crypto price:\n- asset: %s\n- price_usd: %s\n- change_24h: %.2f%%\n- timestamp: %s",
		id, price.String(),
		gjson.GetBytes(body, id+".usd_24h_change").Float(),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func fetchMetal(ctx context.Context, client *http.Client, metal string) string {
	body, err := httpGet(ctx, client, "https://api.metals.live/v1/spot/"+metal)
	if err != nil {
		log.Printf("⚠️ web_search: metals.live failed: %v", err)
		return fmt.Sprintf("%s price lookup failed: %v", metal, err)
	}
	price := gjson.GetBytes(body, "0.price")
	if !price.Exists() {
		price = gjson.GetBytes(body, "price")
	}
	if !price.Exists() {
		return fmt.Sprintf("%s price lookup returned no data.", metal)
	}
	return fmt.Sprintf(
		"Commodity price:\n- metal: %s\n- price_usd_oz: %s\n- timestamp: %s",
		metal, price.String(), time.Now().UTC().Format(time.RFC3339),
	)
}

func fetchServiceStatus(ctx context.Context, client *http.Client, query string) string {
	service := ""
	if m := serviceRe.FindStringSubmatch(query); m != nil {
		service = strings.ToLower(m[1])
	}
	if service == "" {
		return "Could not tell which service to check. Ask the user to name it."
	}
	domain := service
	if !strings.Contains(domain, ".") {
		domain += ".com"
	}
	body, err := httpGet(ctx, client, "https://www.isitdownrightnow.com/check.php?domain="+url.QueryEscape(domain))
	if err != nil {
		log.Printf("⚠️ web_search: isitdownrightnow failed: %v", err)
		return fmt.Sprintf("Status check for %s failed: %v", service, err)
	}
	page := strings.ToLower(string(body))
	state := "unknown"
	switch {
	case strings.Contains(page, "is up"):
		state = "up"
	case strings.Contains(page, "is down"):
		state = "down"
	}
	return fmt.Sprintf(
		"Service status:\n- service: %s\n- state: %s\n- checked_via: isitdownrightnow.com\n- timestamp: %s",
		domain, state, time.Now().UTC().Format(time.RFC3339),
	)
}

func httpGet(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "llm-proxy/0.2")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
