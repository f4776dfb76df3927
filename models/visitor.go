package models

// Connection mirrors the browser's Network Information hints.
type Connection struct {
	EffectiveType string  `json:"effectiveType"`
	Downlink      float64 `json:"downlink"`
	RTT           int     `json:"rtt"`
}

// DeviceDescriptor is computed once per snapshot and never mutated afterwards.
type DeviceDescriptor struct {
	DeviceType     string `json:"deviceType"`
	OS             string `json:"os"`
	OSVersion      string `json:"osVersion"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion"`

	ScreenWidth      int    `json:"screenWidth"`
	ScreenHeight     int    `json:"screenHeight"`
	ScreenResolution string `json:"screenResolution"`
	ColorDepth       int    `json:"colorDepth"`
	ViewportWidth    int    `json:"viewportWidth"`
	ViewportHeight   int    `json:"viewportHeight"`

	Language       string   `json:"language"`
	Languages      []string `json:"languages"`
	Timezone       string   `json:"timezone"`
	TimezoneOffset int      `json:"timezoneOffset"`
	Platform       string   `json:"platform"`
	UserAgent      string   `json:"userAgent"`

	IsMobile     bool        `json:"isMobile"`
	IsTablet     bool        `json:"isTablet"`
	IsDesktop    bool        `json:"isDesktop"`
	IsBot        bool        `json:"isBot"`
	TouchSupport bool        `json:"touchSupport"`
	Connection   *Connection `json:"connection"`
}

// IPLocation is only present when the resolving provider returned a country.
type IPLocation struct {
	Country          string   `json:"country"`
	CountryCode      string   `json:"countryCode,omitempty"`
	Region           string   `json:"region,omitempty"`
	City             string   `json:"city,omitempty"`
	Postal           string   `json:"postal,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lon              *float64 `json:"lon,omitempty"`
	ISP              string   `json:"isp,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	TimezoneMismatch bool     `json:"timezoneMismatch"`
}

type FormData struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// VisitorRecord is the per-page-load aggregate. IP, IPLocation and Email stay
// nil until enrichment or capture fills them.
type VisitorRecord struct {
	Timestamp string           `json:"timestamp"`
	PageURL   string           `json:"pageUrl"`
	PageTitle string           `json:"pageTitle"`
	Referrer  string           `json:"referrer"`
	Device    DeviceDescriptor `json:"device"`
	IP        *string          `json:"ip"`
	Location  *IPLocation      `json:"ipLocation"`
	SessionID string           `json:"sessionId"`
	Email     *string          `json:"email"`

	Name               string    `json:"name,omitempty"`
	SubscriptionSource string    `json:"subscriptionSource,omitempty"`
	FormSubmitted      bool      `json:"formSubmitted,omitempty"`
	FormData           *FormData `json:"formData,omitempty"`
}

// Clone returns a deep copy safe to hand out of the tracker.
func (r VisitorRecord) Clone() VisitorRecord {
	out := r
	if r.Device.Languages != nil {
		out.Device.Languages = append([]string(nil), r.Device.Languages...)
	}
	if r.Device.Connection != nil {
		c := *r.Device.Connection
		out.Device.Connection = &c
	}
	if r.IP != nil {
		ip := *r.IP
		out.IP = &ip
	}
	if r.Location != nil {
		loc := *r.Location
		if r.Location.Lat != nil {
			lat := *r.Location.Lat
			loc.Lat = &lat
		}
		if r.Location.Lon != nil {
			lon := *r.Location.Lon
			loc.Lon = &lon
		}
		out.Location = &loc
	}
	if r.Email != nil {
		email := *r.Email
		out.Email = &email
	}
	if r.FormData != nil {
		fd := *r.FormData
		out.FormData = &fd
	}
	return out
}

// Subscriber is an email captured through the prompt or the contact form.
type Subscriber struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Source    string `json:"source"`
	SessionID string `json:"sessionId"`
	PageURL   string `json:"pageUrl"`
	Timestamp string `json:"timestamp"`
}
