package compliance

import "strings"

// jurisdictionRules lists the statutory checks applied per state. States not
// listed get an empty rule set and are classified on general lease law alone.
var jurisdictionRules = map[string][]string{
	"CA": {
		"Security deposit may not exceed two months' rent for unfurnished units (Civ. Code 1950.5)",
		"Deposit must be returned with itemized deductions within 21 days",
		"Lead-based paint disclosure for buildings constructed before 1978",
		"Mold disclosure and bed bug notice required",
		"Rent increases above 10% require 90 days' notice",
		"Tenant Protection Act just-cause eviction terms for qualifying units",
	},
	"NY": {
		"Security deposit limited to one month's rent",
		"Deposit must be returned within 14 days of move-out",
		"Late fees capped at $50 or 5% of monthly rent, whichever is less",
		"Lead-based paint disclosure for buildings constructed before 1978",
		"Window guard and sprinkler disclosure required in New York City",
	},
	"TX": {
		"Security deposit returned within 30 days of surrender",
		"Landlord must disclose ownership and management contact details",
		"Late fees only after rent remains unpaid two full days past due",
		"Tenant's right to repair and deduct notice must be included",
	},
	"FL": {
		"Disclose where the security deposit is held and whether it bears interest",
		"Deposit return or claim notice within 15 to 30 days",
		"Radon gas disclosure required",
		"Lead-based paint disclosure for buildings constructed before 1978",
	},
	"WA": {
		"Written checklist of premises condition required when collecting a deposit",
		"Deposit returned within 21 days with full statement",
		"Mold information disclosure required",
		"Rent increases require at least 60 days' written notice",
	},
	"IL": {
		"Security deposit returned within 45 days",
		"Chicago RLTO summary must be attached for units in Chicago",
		"Radon disclosure required",
	},
	"MA": {
		"Security deposit limited to first month's rent",
		"Deposit held in a separate interest-bearing account in Massachusetts",
		"Statement of condition required within 10 days of tenancy start",
	},
	"OR": {
		"Annual rent increases limited by statewide cap",
		"90 days' written notice for rent increases",
		"Flood zone disclosure required",
	},
}

// RulesFor returns the rules for a two-letter state code. Unknown codes yield
// an empty set.
func RulesFor(jurisdiction string) []string {
	rules := jurisdictionRules[strings.ToUpper(strings.TrimSpace(jurisdiction))]
	out := make([]string, len(rules))
	copy(out, rules)
	return out
}
