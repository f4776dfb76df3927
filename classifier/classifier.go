// Package classifier derives categorical device, OS and browser facts from a
// User-Agent string.
//
// Every function is pure and total: unmatched input yields Unknown for the
// affected field only, and nothing here returns an error.
package classifier

// Flags are the form-factor booleans. They come from a different keyword list
// than DeviceType and may disagree with it (an Android tablet is Tablet by
// DeviceType but also IsMobile).
type Flags struct {
	IsMobile  bool
	IsTablet  bool
	IsDesktop bool
}

// Classification bundles every field the classifier produces.
type Classification struct {
	DeviceType     string
	OS             string
	OSVersion      string
	Browser        string
	BrowserVersion string
	Flags          Flags
	IsBot          bool
}

// DeviceType returns Tablet, Mobile or Desktop. It never returns Unknown.
func DeviceType(ua string) string {
	if label := DeviceTypeRules.First(ua); label != Unknown {
		return label
	}
	return DeviceDesktop
}

func OS(ua string) string { return OSRules.First(ua) }

func OSVersion(ua string) string { return firstCapture(osVersionPattern.FindStringSubmatch(ua)) }

func Browser(ua string) string { return BrowserRules.First(ua) }

func BrowserVersion(ua string) string {
	return firstCapture(browserVersionPattern.FindStringSubmatch(ua))
}

func FormFactor(ua string) Flags {
	mobile := mobileFlagPattern.MatchString(ua)
	return Flags{
		IsMobile:  mobile,
		IsTablet:  tabletFlagPattern.MatchString(ua) && !tabletExcludePattern.MatchString(ua),
		IsDesktop: !mobile,
	}
}

// IsBot reports crawler and headless user agents.
func IsBot(ua string) bool { return botPattern.MatchString(ua) }

func Classify(ua string) Classification {
	return Classification{
		DeviceType:     DeviceType(ua),
		OS:             OS(ua),
		OSVersion:      OSVersion(ua),
		Browser:        Browser(ua),
		BrowserVersion: BrowserVersion(ua),
		Flags:          FormFactor(ua),
		IsBot:          IsBot(ua),
	}
}

func firstCapture(m []string) string {
	if len(m) < 2 || m[1] == "" {
		return Unknown
	}
	return m[1]
}
