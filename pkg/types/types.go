package types

import (
	"fmt"
	"time"
)

// Appearance selects the emulated prefers-color-scheme for a capture.
type Appearance string

const (
	AppearanceLight Appearance = "light"
	AppearanceDark  Appearance = "dark"
)

// Device names a device emulation profile (viewport, user agent, pixel
// density, touch capability).
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceTablet  Device = "tablet"
	DeviceMobile  Device = "mobile"
)

// WaitStrategy names the page-readiness condition awaited before capture.
type WaitStrategy string

const (
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitLoad             WaitStrategy = "load"
	WaitNetworkIdle      WaitStrategy = "networkidle"
)

// Timeout bounds for a single capture request.
const (
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 60 * time.Second
	DefaultTimeout = 30 * time.Second
)

// CaptureRequest describes one screenshot request. Construct it, call
// ApplyDefaults and Validate, and treat it as immutable afterwards.
type CaptureRequest struct {
	RequestID string `json:"request_id,omitempty"`

	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`  // 0 = device profile default
	Height   int    `json:"height,omitempty"` // 0 = device profile default
	FullPage bool   `json:"full_page,omitempty"`

	Appearance Appearance   `json:"appearance,omitempty"`
	AdBlock    *bool        `json:"ad_block,omitempty"` // nil = enabled
	Device     Device       `json:"device,omitempty"`
	WaitFor    WaitStrategy `json:"wait_for,omitempty"`

	Timeout Duration `json:"timeout,omitempty"`
}

// ApplyDefaults fills unset optional fields with their documented defaults:
// appearance=light, ad_block=on, device=desktop, wait_for=networkidle,
// timeout=30s. Width/height stay zero so the device profile can decide.
func (r *CaptureRequest) ApplyDefaults() {
	if r.Appearance == "" {
		r.Appearance = AppearanceLight
	}
	if r.AdBlock == nil {
		enabled := true
		r.AdBlock = &enabled
	}
	if r.Device == "" {
		r.Device = DeviceDesktop
	}
	if r.WaitFor == "" {
		r.WaitFor = WaitNetworkIdle
	}
	if r.Timeout == 0 {
		r.Timeout = Duration(DefaultTimeout)
	}
}

// AdBlockEnabled reports whether ad blocking applies to this request.
func (r *CaptureRequest) AdBlockEnabled() bool {
	return r.AdBlock == nil || *r.AdBlock
}

// Validate checks field values after defaults have been applied. URL syntax
// and SSRF checks live in urlutil; this only covers enum and range checks.
func (r *CaptureRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if r.Width > 7680 || r.Height > 7680 {
		return fmt.Errorf("width and height must not exceed 7680")
	}
	switch r.Appearance {
	case AppearanceLight, AppearanceDark:
	default:
		return fmt.Errorf("invalid appearance %q", r.Appearance)
	}
	switch r.Device {
	case DeviceDesktop, DeviceTablet, DeviceMobile:
	default:
		return fmt.Errorf("invalid device %q", r.Device)
	}
	switch r.WaitFor {
	case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
	default:
		return fmt.Errorf("invalid wait_for %q", r.WaitFor)
	}
	timeout := r.Timeout.ToDuration()
	if timeout < MinTimeout || timeout > MaxTimeout {
		return fmt.Errorf("timeout must be between %s and %s", MinTimeout, MaxTimeout)
	}
	return nil
}

// ClampTimeout forces the timeout into the allowed range instead of
// rejecting out-of-range values. The HTTP layer calls this before Validate.
func (r *CaptureRequest) ClampTimeout() {
	timeout := r.Timeout.ToDuration()
	if timeout < MinTimeout {
		r.Timeout = Duration(MinTimeout)
	}
	if timeout > MaxTimeout {
		r.Timeout = Duration(MaxTimeout)
	}
}

// Artifact is a completed rendered image plus its metadata. The binary
// payload lives in the artifact store, addressed by ID.
type Artifact struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FullPage  bool      `json:"full_page"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"` // xxhash64 of the payload, hex
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileName returns the storage file name for the artifact payload.
func (a *Artifact) FileName() string {
	return a.ID + ".png"
}

// IsExpired reports whether the artifact's cache lifetime has passed.
func (a *Artifact) IsExpired() bool {
	return time.Now().UTC().After(a.ExpiresAt)
}

// RateStatus is the admission controller decision surfaced with every
// response, allowed or not.
type RateStatus struct {
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	ResetMs    int64 `json:"reset_ms"`
	RetryAfter int   `json:"retry_after,omitempty"` // seconds, rounded up
}

// Cache status values surfaced in capture responses.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// CaptureResult is what the capture service returns for a served request.
type CaptureResult struct {
	RequestID   string     `json:"request_id"`
	CacheStatus string     `json:"cache_status"`
	Artifact    *Artifact  `json:"artifact"`
	ArtifactURL string     `json:"artifact_url"`
	Rate        RateStatus `json:"rate"`
}
