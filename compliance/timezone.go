package compliance

import "strings"

var timezoneRegions = map[string]Region{
	// Norway
	"Europe/Oslo":         RegionNO,
	"Arctic/Longyearbyen": RegionNO,
	"Atlantic/Jan_Mayen":  RegionNO,

	// European Union
	"Europe/Amsterdam":  RegionEU,
	"Europe/Athens":     RegionEU,
	"Europe/Berlin":     RegionEU,
	"Europe/Bratislava": RegionEU,
	"Europe/Brussels":   RegionEU,
	"Europe/Bucharest":  RegionEU,
	"Europe/Budapest":   RegionEU,
	"Europe/Busingen":   RegionEU,
	"Europe/Copenhagen": RegionEU,
	"Europe/Dublin":     RegionEU,
	"Europe/Helsinki":   RegionEU,
	"Europe/Lisbon":     RegionEU,
	"Europe/Ljubljana":  RegionEU,
	"Europe/Luxembourg": RegionEU,
	"Europe/Madrid":     RegionEU,
	"Europe/Malta":      RegionEU,
	"Europe/Mariehamn":  RegionEU,
	"Europe/Nicosia":    RegionEU,
	"Asia/Nicosia":      RegionEU,
	"Asia/Famagusta":    RegionEU,
	"Europe/Paris":      RegionEU,
	"Europe/Prague":     RegionEU,
	"Europe/Riga":       RegionEU,
	"Europe/Rome":       RegionEU,
	"Europe/Sofia":      RegionEU,
	"Europe/Stockholm":  RegionEU,
	"Europe/Tallinn":    RegionEU,
	"Europe/Vienna":     RegionEU,
	"Europe/Vilnius":    RegionEU,
	"Europe/Warsaw":     RegionEU,
	"Europe/Zagreb":     RegionEU,
	"Atlantic/Azores":   RegionEU,
	"Atlantic/Canary":   RegionEU,
	"Atlantic/Madeira":  RegionEU,
	"Africa/Ceuta":      RegionEU,

	// United States
	"America/New_York":               RegionUS,
	"America/Detroit":                RegionUS,
	"America/Kentucky/Louisville":    RegionUS,
	"America/Kentucky/Monticello":    RegionUS,
	"America/Indiana/Indianapolis":   RegionUS,
	"America/Indiana/Vincennes":      RegionUS,
	"America/Indiana/Winamac":        RegionUS,
	"America/Indiana/Marengo":        RegionUS,
	"America/Indiana/Petersburg":     RegionUS,
	"America/Indiana/Vevay":          RegionUS,
	"America/Indiana/Tell_City":      RegionUS,
	"America/Indiana/Knox":           RegionUS,
	"America/Chicago":                RegionUS,
	"America/Menominee":              RegionUS,
	"America/North_Dakota/Center":    RegionUS,
	"America/North_Dakota/New_Salem": RegionUS,
	"America/North_Dakota/Beulah":    RegionUS,
	"America/Denver":                 RegionUS,
	"America/Boise":                  RegionUS,
	"America/Phoenix":                RegionUS,
	"America/Los_Angeles":            RegionUS,
	"America/Anchorage":              RegionUS,
	"America/Juneau":                 RegionUS,
	"America/Sitka":                  RegionUS,
	"America/Metlakatla":             RegionUS,
	"America/Yakutat":                RegionUS,
	"America/Nome":                   RegionUS,
	"America/Adak":                   RegionUS,
	"Pacific/Honolulu":               RegionUS,
	"US/Eastern":                     RegionUS,
	"US/Central":                     RegionUS,
	"US/Mountain":                    RegionUS,
	"US/Pacific":                     RegionUS,
	"US/Alaska":                      RegionUS,
	"US/Hawaii":                      RegionUS,
	"US/Arizona":                     RegionUS,
}

// RegionForTimezone maps an IANA timezone to a Region. Unknown or empty input yields DEFAULT.
func RegionForTimezone(timezone string) Region {
	if region, ok := timezoneRegions[strings.TrimSpace(timezone)]; ok {
		return region
	}
	return RegionDefault
}
