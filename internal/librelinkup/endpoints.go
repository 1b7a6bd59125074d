package librelinkup

import (
	"fmt"
	"sort"
	"strings"
)

// Regional API hosts. The vendor shards accounts by region and rejects logins
// sent to the wrong shard.
var regionHosts = map[string]string{
	"AE":  "api-ae.libreview.io",
	"AP":  "api-ap.libreview.io",
	"AU":  "api-au.libreview.io",
	"CA":  "api-ca.libreview.io",
	"DE":  "api-de.libreview.io",
	"EU":  "api-eu.libreview.io",
	"EU2": "api-eu2.libreview.io",
	"FR":  "api-fr.libreview.io",
	"JP":  "api-jp.libreview.io",
	"US":  "api-us.libreview.io",
	"LA":  "api-la.libreview.io",
	"RU":  "api.libreview.ru",
	"CN":  "api-cn.myfreestyle.cn",
}

// BaseURL resolves a region code to the vendor API base URL.
func BaseURL(region string) (string, error) {
	host, ok := regionHosts[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		return "", fmt.Errorf("librelinkup: unknown region %q (valid: %s)", region, strings.Join(Regions(), ", "))
	}
	return "https://" + host, nil
}

// Regions returns the known region codes in stable order.
func Regions() []string {
	out := make([]string, 0, len(regionHosts))
	for r := range regionHosts {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
