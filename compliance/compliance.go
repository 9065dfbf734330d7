package compliance

import "fmt"

// Region is one of the closed set of regions the payment matrix distinguishes
type Region string

// Supported regions. DEFAULT covers every timezone not listed in the table
const (
	RegionNO      Region = "NO"
	RegionEU      Region = "EU"
	RegionUS      Region = "US"
	RegionDefault Region = "DEFAULT"
)

// Regions lists every Region the matrix must cover
var Regions = []Region{RegionNO, RegionEU, RegionUS, RegionDefault}

// Platform is the client surface asking for a rule
type Platform string

// Supported platforms
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Platforms lists every Platform the matrix must cover
var Platforms = []Platform{PlatformIOS, PlatformAndroid, PlatformWeb}

// ParsePlatform validates a client supplied platform string
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// PaymentModel selects which canned rule set applies
type PaymentModel string

const (
	// ModelFull shows upgrade UI, pricing and payment links
	ModelFull PaymentModel = "full"
	// ModelCompanion hides every payment surface and shows gate text instead
	ModelCompanion PaymentModel = "companion"
)

// PaymentRule tells UI code which payment surfaces may be rendered
type PaymentRule struct {
	CanShowUpgradeUI bool         `json:"canShowUpgradeUI"`
	CanShowPricing   bool         `json:"canShowPricing"`
	CanLinkToPayment bool         `json:"canLinkToPayment"`
	PaymentModel     PaymentModel `json:"paymentModel"`
	PremiumGateText  string       `json:"premiumGateText"`
}

// CompanionGateText is shown wherever a companion-mode client would otherwise show pricing
const CompanionGateText = "Premium features are managed with your coach. Sign in on the web to see your plan."

var fullRule = PaymentRule{
	CanShowUpgradeUI: true,
	CanShowPricing:   true,
	CanLinkToPayment: true,
	PaymentModel:     ModelFull,
}

var companionRule = PaymentRule{
	PaymentModel:    ModelCompanion,
	PremiumGateText: CompanionGateText,
}

// matrix maps every (region, platform) pair to a payment model.
// Web is never store-gated.
var matrix = map[Region]map[Platform]PaymentModel{
	RegionNO: {
		PlatformIOS:     ModelCompanion,
		PlatformAndroid: ModelCompanion,
		PlatformWeb:     ModelFull,
	},
	RegionEU: {
		PlatformIOS:     ModelFull,
		PlatformAndroid: ModelFull,
		PlatformWeb:     ModelFull,
	},
	RegionUS: {
		PlatformIOS:     ModelFull,
		PlatformAndroid: ModelFull,
		PlatformWeb:     ModelFull,
	},
	RegionDefault: {
		PlatformIOS:     ModelCompanion,
		PlatformAndroid: ModelCompanion,
		PlatformWeb:     ModelFull,
	},
}

func init() {
	if err := validateMatrix(); err != nil {
		panic(err)
	}
}

func validateMatrix() error {
	for _, region := range Regions {
		row, ok := matrix[region]
		if !ok {
			return fmt.Errorf("payment matrix is missing region %s", region)
		}
		for _, platform := range Platforms {
			if _, ok := row[platform]; !ok {
				return fmt.Errorf("payment matrix is missing %s/%s", region, platform)
			}
		}
	}
	return nil
}

func ruleFor(model PaymentModel) PaymentRule {
	switch model {
	case ModelFull:
		return fullRule
	case ModelCompanion:
		return companionRule
	default:
		panic(fmt.Sprintf("unhandled payment model %q", model))
	}
}

// Rule returns the PaymentRule for a region and platform. Unknown regions fall back to DEFAULT;
// unknown platforms are treated as the most restrictive mobile surface.
func Rule(region Region, platform Platform) PaymentRule {
	row, ok := matrix[region]
	if !ok {
		row = matrix[RegionDefault]
	}
	model, ok := row[platform]
	if !ok {
		model = ModelCompanion
	}
	return ruleFor(model)
}

// RuleForTimezone resolves the region from an IANA timezone and returns its rule
func RuleForTimezone(timezone string, platform Platform) (Region, PaymentRule) {
	region := RegionForTimezone(timezone)
	return region, Rule(region, platform)
}
