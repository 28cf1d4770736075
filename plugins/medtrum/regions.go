package medtrum

import "strings"

const DefaultRegion = "Global"

var regionBaseURLs = map[string]string{
	"Global": "https://easyview.medtrum.eu",
	"Europe": "https://easyview.medtrum.eu",
	"France": "https://easyview.medtrum.fr",
}

// BaseURLForRegion resolves a region key, falling back to Global.
func BaseURLForRegion(region string) string {
	if baseURL, ok := regionBaseURLs[strings.TrimSpace(region)]; ok {
		return baseURL
	}
	return regionBaseURLs[DefaultRegion]
}

// KnownRegion reports whether the key is in the registry.
func KnownRegion(region string) bool {
	_, ok := regionBaseURLs[strings.TrimSpace(region)]
	return ok
}
