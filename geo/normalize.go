package geo

import (
	"strconv"

	"visitrack/api/models"
)

// Normalize maps the heterogeneous payloads of ipify, ipapi.co, ip-api.com and
// ipwho.is onto a Result. Any field may be missing.
func Normalize(data map[string]any) Result {
	res := Result{IP: firstString(data, "ip", "query")}
	if res.IP == "" {
		res.IP = "Unknown"
	}

	country := stringValue(data["country"])
	if country == "" {
		return res
	}

	res.Location = &models.IPLocation{
		Country:     country,
		CountryCode: firstString(data, "country_code", "countryCode"),
		Region:      firstString(data, "region", "regionName"),
		City:        stringValue(data["city"]),
		Postal:      firstString(data, "postal", "zip"),
		Lat:         firstNumber(data, "latitude", "lat"),
		Lon:         firstNumber(data, "longitude", "lon"),
		ISP:         firstString(data, "org", "isp"),
		Timezone:    timezoneValue(data["timezone"]),
	}
	if res.Location.ISP == "" {
		// ipwho.is nests network details
		if conn, ok := data["connection"].(map[string]any); ok {
			res.Location.ISP = firstString(conn, "org", "isp")
		}
	}
	return res
}

// rejected reports the in-band failure markers providers use with a 200 status.
func rejected(data map[string]any) bool {
	if s, ok := data["status"].(string); ok && s == "fail" {
		return true
	}
	if b, ok := data["success"].(bool); ok && !b {
		return true
	}
	if b, ok := data["error"].(bool); ok && b {
		return true
	}
	return false
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(data[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// firstNumber skips zero values, the way the providers' "missing" coordinates
// are usually encoded.
func firstNumber(data map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		var f float64
		switch t := data[k].(type) {
		case float64:
			f = t
		case string:
			parsed, err := strconv.ParseFloat(t, 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if f != 0 {
			return &f
		}
	}
	return nil
}

func timezoneValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return stringValue(t["id"])
	default:
		return ""
	}
}
