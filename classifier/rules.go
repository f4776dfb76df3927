package classifier

import "regexp"

// Labels produced by the classifier.
const (
	Unknown = "Unknown"

	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"

	OSWindows10 = "Windows 10/11"
	OSWindows81 = "Windows 8.1"
	OSWindows8  = "Windows 8"
	OSWindows7  = "Windows 7"
	OSMacOS     = "macOS"
	OSLinux     = "Linux"
	OSAndroid   = "Android"
	OSiOS       = "iOS"

	BrowserEdge    = "Edge"
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserOpera   = "Opera"
)

// Rule maps a user agent to Label when Pattern matches and Exclude, if set,
// does not.
type Rule struct {
	Label   string
	Pattern *regexp.Regexp
	Exclude *regexp.Regexp
}

func (r Rule) Match(ua string) bool {
	if !r.Pattern.MatchString(ua) {
		return false
	}
	return r.Exclude == nil || !r.Exclude.MatchString(ua)
}

// RuleSet is evaluated top to bottom; the first matching rule wins.
type RuleSet []Rule

func (rs RuleSet) First(ua string) string {
	for _, r := range rs {
		if r.Match(ua) {
			return r.Label
		}
	}
	return Unknown
}

// DeviceTypeRules: tablets are checked before phones because most tablet
// user agents also contain a phone keyword (android, mobile).
var DeviceTypeRules = RuleSet{
	{Label: DeviceTablet, Pattern: regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)},
	{Label: DeviceMobile, Pattern: regexp.MustCompile(`(?i)mobile|iphone|ipod|android|blackberry|opera|mini|windows\sce|palm|smartphone|iemobile`)},
}

// OSRules are case-sensitive. Order matters: "Mac OS X" shadows iOS user
// agents ("like Mac OS X") and "Linux" shadows Android ones.
var OSRules = RuleSet{
	{Label: OSWindows10, Pattern: regexp.MustCompile(`Windows NT 10\.0`)},
	{Label: OSWindows81, Pattern: regexp.MustCompile(`Windows NT 6\.3`)},
	{Label: OSWindows8, Pattern: regexp.MustCompile(`Windows NT 6\.2`)},
	{Label: OSWindows7, Pattern: regexp.MustCompile(`Windows NT 6\.1`)},
	{Label: OSMacOS, Pattern: regexp.MustCompile(`Mac OS X`)},
	{Label: OSLinux, Pattern: regexp.MustCompile(`Linux`)},
	{Label: OSAndroid, Pattern: regexp.MustCompile(`Android`)},
	{Label: OSiOS, Pattern: regexp.MustCompile(`iPhone|iPad|iPod`)},
}

// BrowserRules: Edge and Opera carry a Chrome token, Chrome carries a Safari
// token, so exclusions and order together decide the label.
var BrowserRules = RuleSet{
	{Label: BrowserEdge, Pattern: regexp.MustCompile(`Edg/`)},
	{Label: BrowserChrome, Pattern: regexp.MustCompile(`Chrome/`), Exclude: regexp.MustCompile(`Edg/`)},
	{Label: BrowserFirefox, Pattern: regexp.MustCompile(`Firefox/`)},
	{Label: BrowserSafari, Pattern: regexp.MustCompile(`Safari/`), Exclude: regexp.MustCompile(`Chrome/`)},
	{Label: BrowserOpera, Pattern: regexp.MustCompile(`Opera/|OPR/`)},
}

var (
	osVersionPattern      = regexp.MustCompile(`(?i)(?:Windows|Mac OS X|Android|iPhone OS|iPad OS)[\s/]?([\d._]+)`)
	browserVersionPattern = regexp.MustCompile(`(?i)(?:Chrome|Firefox|Safari|Edge|Opera|OPR)/([\d.]+)`)

	// Form-factor flags use their own keyword lists, independent of
	// DeviceTypeRules. Analytics reports both, so the two are kept apart.
	mobileFlagPattern    = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)
	tabletFlagPattern    = regexp.MustCompile(`(?i)iPad|Android`)
	tabletExcludePattern = regexp.MustCompile(`(?i)Mobile`)

	botPattern = regexp.MustCompile(`(?i)bot|crawler|spider|slurp|headless`)
)
